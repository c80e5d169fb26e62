package service

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
)

type memoryActivityRepo struct {
	entries []models.ActivityLog
}

func (m *memoryActivityRepo) Create(ctx context.Context, entry *models.ActivityLog) error {
	entry.ID = uint(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryActivityRepo) List(ctx context.Context, filter repository.ActivityLogFilter) ([]models.ActivityLog, int64, error) {
	return append([]models.ActivityLog(nil), m.entries...), int64(len(m.entries)), nil
}

func TestActivityServiceRecordMasksSensitiveKeys(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, validator.New(validator.WithRequiredStructEnabled()), testLogger())

	entry, err := svc.Record(context.Background(), ActivityEntry{
		SubmissionID: 4,
		Action:       " Submission.Fraud ",
		Metadata: map[string]interface{}{
			"email":          "student@example.com",
			"access_token":   "abc",
			"fraud_attempts": 2,
		},
	})
	require.NoError(t, err)
	require.Equal(t, models.ActivitySubmissionFraud, entry.Action)
	require.Equal(t, "***", entry.Metadata["email"])
	require.Equal(t, "***", entry.Metadata["access_token"])
	require.Equal(t, 2, entry.Metadata["fraud_attempts"])
}

func TestActivityServiceRecordValidation(t *testing.T) {
	svc := NewActivityService(&memoryActivityRepo{}, validator.New(), testLogger())

	_, err := svc.Record(context.Background(), ActivityEntry{Action: "x"})
	require.Error(t, err)

	_, err = svc.Record(context.Background(), ActivityEntry{SubmissionID: 1})
	require.Error(t, err)
}

func TestActivityServiceListPagination(t *testing.T) {
	repo := &memoryActivityRepo{}
	svc := NewActivityService(repo, validator.New(validator.WithRequiredStructEnabled()), testLogger())
	for i := 0; i < 3; i++ {
		_, err := svc.Record(context.Background(), ActivityEntry{SubmissionID: 1, Action: models.ActivitySubmissionFraud})
		require.NoError(t, err)
	}

	list, err := svc.List(context.Background(), 1, dto.ActivityListRequest{Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, list.Items, 3)
	require.Equal(t, 2, list.Pagination.TotalPages)

	_, err = svc.List(context.Background(), 1, dto.ActivityListRequest{PageSize: 500})
	require.Error(t, err)
}
