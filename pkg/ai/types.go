package ai

import (
	"context"
	"errors"
)

// MaxGrade is the top of the grading scale used for every answer.
const MaxGrade = 5.0

// ErrUnavailable is returned by graders that are not configured.
var ErrUnavailable = errors.New("ai grader unavailable")

// GradingInput contains what the grader needs to score one answer.
type GradingInput struct {
	QuestionText string
	QuestionType string
	Answer       string
	// Language is set for code questions only.
	Language string
}

// GradingResult is the structured verdict returned by a grader.
type GradingResult struct {
	IsCorrect bool    `json:"is_correct"`
	Grade     float64 `json:"grade"`
	Feedback  string  `json:"feedback"`
}

// NarrationInput summarises a finished submission for a narrative report.
type NarrationInput struct {
	StudentName     string
	EvaluationTitle string
	AverageScore    float64
	FraudAttempts   int
	Answers         []NarrationAnswer
}

// NarrationAnswer is one answered question inside a NarrationInput.
type NarrationAnswer struct {
	QuestionText string
	Answer       string
	Score        float64
}

// Grader scores a single answer on the 0 to MaxGrade scale.
type Grader interface {
	Grade(ctx context.Context, input GradingInput) (GradingResult, error)
}

// Narrator writes a short human readable summary of a finished submission.
type Narrator interface {
	Narrate(ctx context.Context, input NarrationInput) (string, error)
}

// Unavailable is the grader used when no AI provider is configured.
type Unavailable struct{}

// Grade always fails with ErrUnavailable.
func (Unavailable) Grade(context.Context, GradingInput) (GradingResult, error) {
	return GradingResult{}, ErrUnavailable
}

// ClampGrade bounds a grade to [0, MaxGrade].
func ClampGrade(grade float64) float64 {
	if grade < 0 {
		return 0
	}
	if grade > MaxGrade {
		return MaxGrade
	}
	return grade
}
