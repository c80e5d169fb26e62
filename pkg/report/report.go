// Package report builds the end-of-evaluation report handed back to the student after finalization.
package report

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/gema-eval-api/pkg/ai"
)

// Performance bands derived from the average score.
const (
	BandExcellent    = "excellent"
	BandGood         = "good"
	BandSufficient   = "sufficient"
	BandInsufficient = "insufficient"
)

// DefaultTitle is used when the evaluation carries no title.
const DefaultTitle = "Evaluation"

// Input is everything a report is computed from.
type Input struct {
	StudentName     string
	EvaluationTitle string
	Answers         []AnswerInput
	AverageScore    float64
	FraudAttempts   int
}

// AnswerInput is a single graded answer.
type AnswerInput struct {
	QuestionText  string
	QuestionType  string
	StudentAnswer string
	Score         float64
	Language      string
}

// Report is the finished document. It is serialized to JSON and Base64 encoded for transport.
type Report struct {
	StudentName     string           `json:"student_name"`
	EvaluationTitle string           `json:"evaluation_title"`
	AverageScore    float64          `json:"average_score"`
	MaxScore        float64          `json:"max_score"`
	Band            string           `json:"band"`
	Answered        int              `json:"answered"`
	Total           int              `json:"total"`
	FraudAttempts   int              `json:"fraud_attempts"`
	Questions       []QuestionResult `json:"questions"`
	Summary         string           `json:"summary"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// QuestionResult is the per-question section of a report.
type QuestionResult struct {
	QuestionText  string  `json:"question_text"`
	QuestionType  string  `json:"question_type"`
	StudentAnswer string  `json:"student_answer"`
	Score         float64 `json:"score"`
	Language      string  `json:"language,omitempty"`
}

// Generator produces a report from a finalized submission.
type Generator interface {
	Generate(ctx context.Context, input Input) (Report, error)
}

// Builder is the default Generator. A Narrator, when set, writes the summary paragraph.
type Builder struct {
	narrator ai.Narrator
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBuilder constructs a report builder. narrator may be nil.
func NewBuilder(narrator ai.Narrator, logger zerolog.Logger) *Builder {
	return &Builder{
		narrator: narrator,
		logger:   logger.With().Str("component", "report_builder").Logger(),
		now:      time.Now,
	}
}

// Generate assembles the report. Narration failures fall back to the computed summary.
func (b *Builder) Generate(ctx context.Context, input Input) (Report, error) {
	ctx, span := otel.Tracer("github.com/noah-isme/gema-eval-api/pkg/report").Start(ctx, "report.generate")
	defer span.End()

	title := strings.TrimSpace(input.EvaluationTitle)
	if title == "" {
		title = DefaultTitle
	}

	average := ai.ClampGrade(round2(input.AverageScore))
	report := Report{
		StudentName:     strings.TrimSpace(input.StudentName),
		EvaluationTitle: title,
		AverageScore:    average,
		MaxScore:        ai.MaxGrade,
		Band:            Band(average),
		Total:           len(input.Answers),
		FraudAttempts:   input.FraudAttempts,
		Questions:       make([]QuestionResult, 0, len(input.Answers)),
		GeneratedAt:     b.now().UTC(),
	}

	for _, answer := range input.Answers {
		if strings.TrimSpace(answer.StudentAnswer) != "" {
			report.Answered++
		}
		report.Questions = append(report.Questions, QuestionResult{
			QuestionText:  answer.QuestionText,
			QuestionType:  answer.QuestionType,
			StudentAnswer: answer.StudentAnswer,
			Score:         answer.Score,
			Language:      answer.Language,
		})
	}

	report.Summary = defaultSummary(report)
	if b.narrator != nil {
		narration, err := b.narrator.Narrate(ctx, narrationInput(report))
		switch {
		case err != nil:
			span.RecordError(err)
			b.logger.Warn().Err(err).Msg("report narration failed, using computed summary")
		case narration != "":
			report.Summary = narration
		}
	}

	span.SetAttributes(
		attribute.Int("report.total", report.Total),
		attribute.String("report.band", report.Band),
	)

	return report, nil
}

// Band maps an average score on the 0-5 scale to a performance band.
func Band(average float64) string {
	switch {
	case average >= 4.5:
		return BandExcellent
	case average >= 3.5:
		return BandGood
	case average >= 3:
		return BandSufficient
	default:
		return BandInsufficient
	}
}

// Encode serializes the report to JSON and returns it Base64 encoded.
func Encode(report Report) (string, error) {
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// Decode reverses Encode.
func Decode(encoded string) (Report, error) {
	payload, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	var report Report
	if err := json.Unmarshal(payload, &report); err != nil {
		return Report{}, fmt.Errorf("decode report: %w", err)
	}
	return report, nil
}

func defaultSummary(report Report) string {
	name := report.StudentName
	if name == "" {
		name = "The student"
	}
	summary := fmt.Sprintf("%s answered %d of %d questions in %q with an average of %.2f/%.0f (%s).",
		name, report.Answered, report.Total, report.EvaluationTitle, report.AverageScore, report.MaxScore, report.Band)
	if report.FraudAttempts > 0 {
		summary += fmt.Sprintf(" The evaluation tab was left %d time(s).", report.FraudAttempts)
	}
	return summary
}

func narrationInput(report Report) ai.NarrationInput {
	answers := make([]ai.NarrationAnswer, 0, len(report.Questions))
	for _, question := range report.Questions {
		answers = append(answers, ai.NarrationAnswer{
			QuestionText: question.QuestionText,
			Answer:       question.StudentAnswer,
			Score:        question.Score,
		})
	}
	return ai.NarrationInput{
		StudentName:     report.StudentName,
		EvaluationTitle: report.EvaluationTitle,
		AverageScore:    report.AverageScore,
		FraudAttempts:   report.FraudAttempts,
		Answers:         answers,
	}
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
