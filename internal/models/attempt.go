package models

import "time"

// Attempt is a scheduled, code-identified window during which an evaluation may be taken.
type Attempt struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	EvaluationID uint         `gorm:"not null;index" json:"evaluation_id"`
	UniqueCode   string       `gorm:"size:64;uniqueIndex;not null" json:"unique_code"`
	StartTime    time.Time    `gorm:"not null" json:"start_time"`
	EndTime      time.Time    `gorm:"not null" json:"end_time"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Evaluation   Evaluation   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"evaluation"`
	Submissions  []Submission `json:"-"`
}

// IsOpen reports whether the reference time lies inside [StartTime, EndTime].
func (a Attempt) IsOpen(reference time.Time) bool {
	return !reference.Before(a.StartTime) && !reference.After(a.EndTime)
}

// Remaining returns the time left before the attempt closes, never negative.
func (a Attempt) Remaining(reference time.Time) time.Duration {
	if !reference.Before(a.EndTime) {
		return 0
	}
	return a.EndTime.Sub(reference)
}

// Duration is the full length of the attempt window.
func (a Attempt) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}
