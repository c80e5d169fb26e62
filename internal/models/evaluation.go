package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// QuestionType enumerates the supported question formats.
type QuestionType string

const (
	// QuestionTypeText expects a free-text answer.
	QuestionTypeText QuestionType = "TEXT"
	// QuestionTypeCode expects source code in the language named by the question metadata.
	QuestionTypeCode QuestionType = "CODE"
)

// DefaultCodeLanguage is used when a code question does not declare a language.
const DefaultCodeLanguage = "javascript"

// Evaluation is an exam definition made of ordered questions.
type Evaluation struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Description *string    `gorm:"type:text" json:"description"`
	HelpURL     *string    `gorm:"size:512" json:"help_url"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Questions   []Question `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"questions"`
}

// Question belongs to a single evaluation.
type Question struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	EvaluationID uint           `gorm:"not null;index" json:"evaluation_id"`
	Position     int            `gorm:"not null;default:0" json:"position"`
	Type         QuestionType   `gorm:"size:16;not null" json:"type"`
	Text         string         `gorm:"type:text;not null" json:"text"`
	HelpURL      *string        `gorm:"size:512" json:"help_url"`
	Metadata     datatypes.JSON `gorm:"type:json" json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// IsCode reports whether the question expects a code answer.
func (q Question) IsCode() bool {
	return q.Type == QuestionTypeCode
}

// Language returns the editor language for code questions and an empty string otherwise.
// Missing or malformed metadata falls back to DefaultCodeLanguage.
func (q Question) Language() string {
	if !q.IsCode() {
		return ""
	}

	var meta struct {
		Language string `json:"language"`
	}
	if len(q.Metadata) == 0 {
		return DefaultCodeLanguage
	}
	if err := json.Unmarshal(q.Metadata, &meta); err != nil {
		return DefaultCodeLanguage
	}

	language := strings.ToLower(strings.TrimSpace(meta.Language))
	if language == "" {
		return DefaultCodeLanguage
	}
	return language
}
