package dto

import (
	"time"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// ActivityListRequest describes query filters for a submission's audit trail.
type ActivityListRequest struct {
	Page     int    `query:"page" validate:"omitempty,gte=1"`
	PageSize int    `query:"page_size" validate:"omitempty,gte=1,lte=100"`
	Action   string `query:"action" validate:"omitempty,max=64"`
}

// ActivityResponse represents an audit entry.
type ActivityResponse struct {
	ID           uint                   `json:"id"`
	SubmissionID uint                   `json:"submission_id"`
	Action       string                 `json:"action"`
	Metadata     map[string]interface{} `json:"metadata"`
	CreatedAt    time.Time              `json:"created_at"`
}

// ActivityListResponse wraps paginated audit entries.
type ActivityListResponse struct {
	Items      []ActivityResponse `json:"items"`
	Pagination PaginationMeta     `json:"pagination"`
}

// NewActivityResponse converts an activity log model into a DTO.
func NewActivityResponse(entry models.ActivityLog) ActivityResponse {
	metadata := map[string]interface{}{}
	for key, value := range entry.Metadata {
		metadata[key] = value
	}

	return ActivityResponse{
		ID:           entry.ID,
		SubmissionID: entry.SubmissionID,
		Action:       entry.Action,
		Metadata:     metadata,
		CreatedAt:    entry.CreatedAt,
	}
}
