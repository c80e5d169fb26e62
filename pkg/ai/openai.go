package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	aiDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eval",
		Subsystem: "ai",
		Name:      "request_duration_seconds",
		Help:      "Duration of AI grading and narration requests",
	}, []string{"model", "operation"})

	aiFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eval",
		Subsystem: "ai",
		Name:      "request_failures_total",
		Help:      "Number of failed AI grading and narration requests",
	}, []string{"model", "operation"})
)

// OpenAIConfig defines configuration options for the OpenAI grader.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIGrader implements Grader and Narrator against the OpenAI chat completion API.
type OpenAIGrader struct {
	client *openai.Client
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIGrader builds a new grader using the provided configuration.
func NewOpenAIGrader(cfg OpenAIConfig) (*OpenAIGrader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIGrader{
		client: openai.NewClientWithConfig(config),
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-eval-api/pkg/ai/openai"),
		logger: cfg.Logger.With().Str("component", "openai_grader").Logger(),
	}, nil
}

// Grade asks the model for a verdict on one answer and parses its JSON reply.
func (g *OpenAIGrader) Grade(parent context.Context, input GradingInput) (GradingResult, error) {
	ctx, span := g.tracer.Start(parent, "openai.grade", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.String("question.type", input.QuestionType),
	))
	defer span.End()

	system := textGraderPrompt
	if input.Language != "" {
		system = codeGraderPrompt
	}

	content, err := g.complete(ctx, span, "grade", system, buildGradingPrompt(input), true)
	if err != nil {
		return GradingResult{}, err
	}

	result, err := parseGradingResponse(content)
	if err != nil {
		g.fail(span, "grade", err)
		return GradingResult{}, err
	}

	span.SetAttributes(attribute.Float64("grade", result.Grade))
	return result, nil
}

// Narrate produces a short paragraph summarising a finished submission.
func (g *OpenAIGrader) Narrate(parent context.Context, input NarrationInput) (string, error) {
	ctx, span := g.tracer.Start(parent, "openai.narrate", trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
		attribute.Int("answers", len(input.Answers)),
	))
	defer span.End()

	content, err := g.complete(ctx, span, "narrate", narratorPrompt, buildNarrationPrompt(input), false)
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(content), nil
}

func (g *OpenAIGrader) complete(ctx context.Context, span trace.Span, operation, system, user string, jsonMode bool) (string, error) {
	request := openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		request.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}

	start := time.Now()
	resp, err := g.client.CreateChatCompletion(ctx, request)
	aiDuration.WithLabelValues(g.cfg.Model, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		g.fail(span, operation, err)
		return "", fmt.Errorf("openai %s: %w", operation, err)
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		g.fail(span, operation, err)
		return "", err
	}

	g.logger.Debug().
		Str("operation", operation).
		Int("total_tokens", resp.Usage.TotalTokens).
		Msg("openai completion finished")

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func (g *OpenAIGrader) fail(span trace.Span, operation string, err error) {
	aiFailures.WithLabelValues(g.cfg.Model, operation).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

const textGraderPrompt = "You grade short written answers from students. Respond with a JSON object with the fields " +
	"is_correct (boolean), grade (number from 0 to 5) and feedback (a short paragraph addressed to the student). " +
	"Judge accuracy and completeness; do not reveal the full solution."

const codeGraderPrompt = "You review source code written by students. Respond with a JSON object with the fields " +
	"is_correct (boolean), grade (number from 0 to 5) and feedback (a short paragraph addressed to the student). " +
	"Judge correctness, edge cases and readability; do not rewrite the program for them."

const narratorPrompt = "You write a brief, encouraging summary of a student's evaluation results for their teacher. " +
	"Mention strengths and the topics to review. Answer in at most four sentences of plain text."

func buildGradingPrompt(input GradingInput) string {
	builder := strings.Builder{}
	builder.WriteString("# Question\n")
	builder.WriteString(input.QuestionText)
	if input.Language != "" {
		builder.WriteString("\n\n## Language\n")
		builder.WriteString(input.Language)
		builder.WriteString("\n\n## Student Code\n```")
		builder.WriteString(input.Language)
		builder.WriteString("\n")
		builder.WriteString(input.Answer)
		builder.WriteString("\n```")
	} else {
		builder.WriteString("\n\n## Student Answer\n")
		builder.WriteString(input.Answer)
	}
	builder.WriteString("\nReturn JSON.")
	return builder.String()
}

func buildNarrationPrompt(input NarrationInput) string {
	builder := strings.Builder{}
	fmt.Fprintf(&builder, "Student: %s\nEvaluation: %s\nAverage score: %.2f / %.0f\nTimes the student left the exam: %d\n",
		input.StudentName, input.EvaluationTitle, input.AverageScore, MaxGrade, input.FraudAttempts)
	for i, answer := range input.Answers {
		fmt.Fprintf(&builder, "\n## Question %d (score %.1f)\n%s\n### Answer\n%s\n", i+1, answer.Score, answer.QuestionText, answer.Answer)
	}
	return builder.String()
}

func parseGradingResponse(content string) (GradingResult, error) {
	var data GradingResult
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return GradingResult{}, fmt.Errorf("parse grading json: %w", err)
	}

	data.Grade = ClampGrade(data.Grade)
	data.Feedback = strings.TrimSpace(data.Feedback)

	return data, nil
}
