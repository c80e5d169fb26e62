package dto

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// AttemptResponse is the payload returned when a student resolves an attempt code.
type AttemptResponse struct {
	ID         uint               `json:"id"`
	UniqueCode string             `json:"unique_code"`
	StartTime  time.Time          `json:"start_time"`
	EndTime    time.Time          `json:"end_time"`
	Evaluation EvaluationResponse `json:"evaluation"`
}

// EvaluationResponse describes an evaluation and its ordered questions.
type EvaluationResponse struct {
	ID          uint               `json:"id"`
	Title       string             `json:"title"`
	Description *string            `json:"description"`
	HelpURL     *string            `json:"help_url"`
	Questions   []QuestionResponse `json:"questions"`
}

// QuestionResponse is a single question as rendered to students.
type QuestionResponse struct {
	ID       uint            `json:"id"`
	Position int             `json:"position"`
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	HelpURL  *string         `json:"help_url"`
	Language string          `json:"language,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// NewAttemptResponse converts an attempt with its preloaded evaluation into a DTO.
func NewAttemptResponse(model models.Attempt) AttemptResponse {
	return AttemptResponse{
		ID:         model.ID,
		UniqueCode: model.UniqueCode,
		StartTime:  model.StartTime,
		EndTime:    model.EndTime,
		Evaluation: NewEvaluationResponse(model.Evaluation),
	}
}

// NewEvaluationResponse converts an evaluation model into a DTO.
func NewEvaluationResponse(model models.Evaluation) EvaluationResponse {
	questions := make([]QuestionResponse, 0, len(model.Questions))
	for _, question := range model.Questions {
		questions = append(questions, NewQuestionResponse(question))
	}

	return EvaluationResponse{
		ID:          model.ID,
		Title:       model.Title,
		Description: model.Description,
		HelpURL:     normalizeURL(model.HelpURL),
		Questions:   questions,
	}
}

// NewQuestionResponse converts a question model into a DTO.
func NewQuestionResponse(model models.Question) QuestionResponse {
	response := QuestionResponse{
		ID:       model.ID,
		Position: model.Position,
		Type:     string(model.Type),
		Text:     model.Text,
		HelpURL:  normalizeURL(model.HelpURL),
		Language: model.Language(),
	}
	if len(model.Metadata) > 0 && json.Valid(model.Metadata) {
		response.Metadata = json.RawMessage(model.Metadata)
	}
	return response
}

// normalizeURL turns absent or blank links into an explicit null.
func normalizeURL(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
