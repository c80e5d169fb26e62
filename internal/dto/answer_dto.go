package dto

import (
	"time"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// AnswerSaveRequest autosaves one answer. Counters are absolute values, not deltas.
type AnswerSaveRequest struct {
	Answer          string   `json:"answer"`
	Score           *float64 `json:"score" validate:"omitempty,gte=0,lte=5"`
	FraudAttempts   *int     `json:"fraud_attempts" validate:"omitempty,gte=0"`
	TimeOutsideEval *int     `json:"time_outside_eval" validate:"omitempty,gte=0"`
	Revision        *uint    `json:"revision"`
}

// AnswerBatchItem is a single entry of a batch save.
type AnswerBatchItem struct {
	QuestionID uint     `json:"question_id" validate:"required,gt=0"`
	Answer     string   `json:"answer"`
	Score      *float64 `json:"score" validate:"omitempty,gte=0,lte=5"`
	Revision   *uint    `json:"revision"`
}

// AnswerBatchRequest saves several answers at once and writes the counters once.
type AnswerBatchRequest struct {
	Answers         []AnswerBatchItem `json:"answers" validate:"required,min=1,dive"`
	FraudAttempts   *int              `json:"fraud_attempts" validate:"omitempty,gte=0"`
	TimeOutsideEval *int              `json:"time_outside_eval" validate:"omitempty,gte=0"`
}

// AnswerResponse represents a stored answer.
type AnswerResponse struct {
	ID           uint              `json:"id"`
	SubmissionID uint              `json:"submission_id"`
	QuestionID   uint              `json:"question_id"`
	Answer       string            `json:"answer"`
	Score        *float64          `json:"score"`
	Revision     uint              `json:"revision"`
	Evaluated    bool              `json:"evaluated"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Question     *QuestionResponse `json:"question,omitempty"`
}

// AnswerSaveResponse returns the stored answer together with the recomputed submission score.
type AnswerSaveResponse struct {
	Answer          AnswerResponse `json:"answer"`
	SubmissionScore float64        `json:"submission_score"`
}

// AnswerBatchResponse returns all answers touched by a batch save.
type AnswerBatchResponse struct {
	Answers         []AnswerResponse `json:"answers"`
	SubmissionScore float64          `json:"submission_score"`
}

// EvaluateResponse is the outcome of an AI grading round.
type EvaluateResponse struct {
	QuestionID      uint           `json:"question_id"`
	IsCorrect       bool           `json:"is_correct"`
	Grade           float64        `json:"grade"`
	Feedback        string         `json:"feedback"`
	Answer          AnswerResponse `json:"answer"`
	SubmissionScore float64        `json:"submission_score"`
}

// NewAnswerResponse converts an Answer model into a DTO. The question is included when preloaded.
func NewAnswerResponse(model models.Answer) AnswerResponse {
	response := AnswerResponse{
		ID:           model.ID,
		SubmissionID: model.SubmissionID,
		QuestionID:   model.QuestionID,
		Answer:       model.Text,
		Score:        model.Score,
		Revision:     model.Revision,
		Evaluated:    model.IsGraded(),
		UpdatedAt:    model.UpdatedAt,
	}
	if model.Question.ID != 0 {
		question := NewQuestionResponse(model.Question)
		response.Question = &question
	}
	return response
}

// NewAnswerResponses converts a slice of answers.
func NewAnswerResponses(items []models.Answer) []AnswerResponse {
	responses := make([]AnswerResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, NewAnswerResponse(item))
	}
	return responses
}
