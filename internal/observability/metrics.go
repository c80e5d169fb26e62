package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	requestsTotal         *prometheus.CounterVec
	latencySeconds        *prometheus.HistogramVec
	errorsTotal           *prometheus.CounterVec
	submissionsStarted    prometheus.Counter
	submissionsFinalized  *prometheus.CounterVec
	answersSaved          prometheus.Counter
	fraudEvents           prometheus.Counter
	evaluationsRequested  *prometheus.CounterVec
	sessionsActive        prometheus.Gauge
)

// RegisterMetrics initialises the Prometheus collectors used by the evaluation API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		latencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eval_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		submissionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eval_submissions_started_total",
			Help: "Submissions created by the bootstrap operation.",
		})

		submissionsFinalized = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_submissions_finalized_total",
			Help: "Finalization requests by outcome.",
		}, []string{"result"})

		answersSaved = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eval_answers_saved_total",
			Help: "Answer autosave writes.",
		})

		fraudEvents = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "eval_fraud_events_total",
			Help: "Times a student left the evaluation tab.",
		})

		evaluationsRequested = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eval_ai_evaluations_total",
			Help: "AI evaluation requests by outcome.",
		}, []string{"result"})

		sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eval_sessions_active",
			Help: "Exam sessions currently connected over websocket.",
		})

		prometheus.MustRegister(
			requestsTotal,
			latencySeconds,
			errorsTotal,
			submissionsStarted,
			submissionsFinalized,
			answersSaved,
			fraudEvents,
			evaluationsRequested,
			sessionsActive,
		)
	})
}

// Requests exposes the counter for API requests.
func Requests() *prometheus.CounterVec {
	RegisterMetrics()
	return requestsTotal
}

// Latency exposes the latency histogram for API requests.
func Latency() *prometheus.HistogramVec {
	RegisterMetrics()
	return latencySeconds
}

// Errors exposes the counter for API error responses.
func Errors() *prometheus.CounterVec {
	RegisterMetrics()
	return errorsTotal
}

// SubmissionsStarted counts newly created submissions.
func SubmissionsStarted() prometheus.Counter {
	RegisterMetrics()
	return submissionsStarted
}

// SubmissionsFinalized counts finalization outcomes ("finalized", "already_submitted").
func SubmissionsFinalized() *prometheus.CounterVec {
	RegisterMetrics()
	return submissionsFinalized
}

// AnswersSaved counts autosave writes.
func AnswersSaved() prometheus.Counter {
	RegisterMetrics()
	return answersSaved
}

// FraudEvents counts fraud counter increments.
func FraudEvents() prometheus.Counter {
	RegisterMetrics()
	return fraudEvents
}

// EvaluationsRequested counts AI evaluation outcomes.
func EvaluationsRequested() *prometheus.CounterVec {
	RegisterMetrics()
	return evaluationsRequested
}

// SessionsActive tracks connected exam sessions.
func SessionsActive() prometheus.Gauge {
	RegisterMetrics()
	return sessionsActive
}
