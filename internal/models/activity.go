package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog captures auditable events raised while a submission is being taken.
type ActivityLog struct {
	ID           uint              `gorm:"primaryKey" json:"id"`
	SubmissionID uint              `gorm:"not null;index" json:"submission_id"`
	Action       string            `gorm:"size:64;not null" json:"action"`
	Metadata     datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time         `json:"created_at"`
}

const (
	// ActivitySubmissionStarted is recorded when a submission row is created.
	ActivitySubmissionStarted = "submission.started"
	// ActivitySubmissionFraud is recorded each time the fraud counter grows.
	ActivitySubmissionFraud = "submission.fraud"
	// ActivitySubmissionFinalized is recorded once per submission.
	ActivitySubmissionFinalized = "submission.finalized"
	// ActivityAnswerEvaluated is recorded after an AI grading round.
	ActivityAnswerEvaluated = "answer.evaluated"
)
