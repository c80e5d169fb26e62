package models

import "time"

// Answer stores a student's response to one question of a submission.
type Answer struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	SubmissionID uint       `gorm:"not null;uniqueIndex:idx_answer_submission_question" json:"submission_id"`
	QuestionID   uint       `gorm:"not null;uniqueIndex:idx_answer_submission_question" json:"question_id"`
	Text         string     `gorm:"column:answer;type:text" json:"answer"`
	Score        *float64   `json:"score"`
	Revision     uint       `gorm:"not null;default:0" json:"revision"`
	GradedAt     *time.Time `json:"graded_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	Question     Question   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"question"`
}

// IsGraded reports whether a grade was recorded. Zero-filled scores do not count.
func (a Answer) IsGraded() bool {
	return a.GradedAt != nil
}
