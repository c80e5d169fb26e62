package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// CounterUpdate carries absolute values for the anti-fraud counters. Nil fields are left untouched.
type CounterUpdate struct {
	FraudAttempts   *int
	TimeOutsideEval *int
}

// IsEmpty reports whether the update carries no values.
func (u CounterUpdate) IsEmpty() bool {
	return u.FraudAttempts == nil && u.TimeOutsideEval == nil
}

// SubmissionRepository defines data operations for submissions.
type SubmissionRepository interface {
	FindLatest(ctx context.Context, attemptID uint, email string) (models.Submission, error)
	HasSubmitted(ctx context.Context, attemptID uint, email string) (bool, error)
	GetByID(ctx context.Context, id uint) (models.Submission, error)
	GetWithEvaluation(ctx context.Context, id uint) (models.Submission, error)
	Create(ctx context.Context, submission *models.Submission) error
	UpdateCounters(ctx context.Context, id uint, update CounterUpdate) error
	UpdateScore(ctx context.Context, id uint, score float64) error
	MarkSubmitted(ctx context.Context, id uint, at time.Time) (models.Submission, bool, error)
	SaveReport(ctx context.Context, id uint, report datatypes.JSON) (bool, error)
}

type submissionRepository struct {
	db *gorm.DB
}

// NewSubmissionRepository instantiates the repository.
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository {
	return &submissionRepository{db: db}
}

func (r *submissionRepository) FindLatest(ctx context.Context, attemptID uint, email string) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Where("attempt_id = ?", attemptID).
		Where("email = ?", email).
		Order("created_at DESC").
		Order("id DESC").
		First(&submission).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) HasSubmitted(ctx context.Context, attemptID uint, email string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("attempt_id = ?", attemptID).
		Where("email = ?", email).
		Where("submitted_at IS NOT NULL").
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *submissionRepository) GetByID(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) GetWithEvaluation(ctx context.Context, id uint) (models.Submission, error) {
	var submission models.Submission
	if err := r.db.WithContext(ctx).
		Preload("Attempt").
		Preload("Attempt.Evaluation").
		Preload("Attempt.Evaluation.Questions", orderedQuestions).
		First(&submission, id).Error; err != nil {
		return models.Submission{}, err
	}

	return submission, nil
}

func (r *submissionRepository) Create(ctx context.Context, submission *models.Submission) error {
	return r.db.WithContext(ctx).Create(submission).Error
}

func (r *submissionRepository) UpdateCounters(ctx context.Context, id uint, update CounterUpdate) error {
	if update.IsEmpty() {
		return nil
	}

	values := map[string]interface{}{}
	if update.FraudAttempts != nil {
		values["fraud_attempts"] = *update.FraudAttempts
	}
	if update.TimeOutsideEval != nil {
		values["time_outside_eval"] = *update.TimeOutsideEval
	}

	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).
		Updates(values).Error
}

func (r *submissionRepository) UpdateScore(ctx context.Context, id uint, score float64) error {
	return r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).
		Update("score", score).Error
}

// MarkSubmitted sets submitted_at inside a transaction only when it is still null.
// The returned flag is false when another caller finalized the submission first; the stored row is returned untouched.
func (r *submissionRepository) MarkSubmitted(ctx context.Context, id uint, at time.Time) (models.Submission, bool, error) {
	var (
		result  models.Submission
		swapped bool
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Submission
		if err := tx.First(&current, id).Error; err != nil {
			return err
		}
		if current.SubmittedAt != nil {
			result = current
			return nil
		}

		update := tx.Model(&models.Submission{}).
			Where("id = ?", id).
			Where("submitted_at IS NULL").
			Update("submitted_at", at)
		if update.Error != nil {
			return update.Error
		}
		swapped = update.RowsAffected == 1

		return tx.First(&result, id).Error
	})
	if err != nil {
		return models.Submission{}, false, err
	}

	return result, swapped, nil
}

// SaveReport stores the report unless one is already present. The flag is false when another writer stored it first.
func (r *submissionRepository) SaveReport(ctx context.Context, id uint, report datatypes.JSON) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Submission{}).
		Where("id = ?", id).
		Where("report IS NULL").
		Update("report", report)
	return result.RowsAffected == 1, result.Error
}
