package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Submission is one student's response set for an attempt.
type Submission struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	AttemptID       uint           `gorm:"not null;index:idx_submission_attempt_email" json:"attempt_id"`
	Email           string         `gorm:"size:255;not null;index:idx_submission_attempt_email" json:"email"`
	FirstName       string         `gorm:"size:255" json:"first_name"`
	LastName        string         `gorm:"size:255" json:"last_name"`
	SubmittedAt     *time.Time     `json:"submitted_at"`
	Score           *float64       `json:"score"`
	FraudAttempts   int            `gorm:"not null;default:0" json:"fraud_attempts"`
	TimeOutsideEval int            `gorm:"not null;default:0" json:"time_outside_eval"`
	Report          datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	Attempt         Attempt        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"attempt"`
	Answers         []Answer       `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"answers"`
}

// IsSubmitted reports whether the submission has been finalized.
func (s Submission) IsSubmitted() bool {
	return s.SubmittedAt != nil
}

// FullName joins first and last name.
func (s Submission) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(s.FirstName) + " " + strings.TrimSpace(s.LastName))
}
