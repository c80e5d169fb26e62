package dto

import (
	"time"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// SubmissionStartRequest bootstraps (or resumes) a submission for a student.
type SubmissionStartRequest struct {
	AttemptID uint   `json:"attempt_id" validate:"required,gt=0"`
	Email     string `json:"email" validate:"required,email,max=255"`
	FirstName string `json:"first_name" validate:"required,max=255"`
	LastName  string `json:"last_name" validate:"omitempty,max=255"`
}

// SubmissionResponse is returned to API clients when viewing submissions.
type SubmissionResponse struct {
	ID              uint       `json:"id"`
	AttemptID       uint       `json:"attempt_id"`
	Email           string     `json:"email"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	SubmittedAt     *time.Time `json:"submitted_at"`
	Score           *float64   `json:"score"`
	FraudAttempts   int        `json:"fraud_attempts"`
	TimeOutsideEval int        `json:"time_outside_eval"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SubmissionStartResponse carries the submission and the token that authorizes writes to it.
type SubmissionStartResponse struct {
	Submission SubmissionResponse `json:"submission"`
	Token      string             `json:"token"`
	ExpiresAt  time.Time          `json:"expires_at"`
}

// SubmitResponse is returned by finalization. Report is the Base64 encoded JSON report.
type SubmitResponse struct {
	Submission       SubmissionResponse `json:"submission"`
	Report           string             `json:"report"`
	AlreadySubmitted bool               `json:"already_submitted"`
}

// ScoreResponse is returned after a score recomputation.
type ScoreResponse struct {
	SubmissionID uint    `json:"submission_id"`
	Score        float64 `json:"score"`
}

// NewSubmissionResponse converts a Submission model into a DTO.
func NewSubmissionResponse(model models.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:              model.ID,
		AttemptID:       model.AttemptID,
		Email:           model.Email,
		FirstName:       model.FirstName,
		LastName:        model.LastName,
		SubmittedAt:     model.SubmittedAt,
		Score:           model.Score,
		FraudAttempts:   model.FraudAttempts,
		TimeOutsideEval: model.TimeOutsideEval,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}
