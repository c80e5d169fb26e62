package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// EvaluationRepository writes evaluation reference data. It is only used by the seeding tooling.
type EvaluationRepository interface {
	CreateWithAttempts(ctx context.Context, evaluation *models.Evaluation, attempts []models.Attempt) error
	AttemptCodeExists(ctx context.Context, code string) (bool, error)
}

type evaluationRepository struct {
	db *gorm.DB
}

// NewEvaluationRepository instantiates the repository.
func NewEvaluationRepository(db *gorm.DB) EvaluationRepository {
	return &evaluationRepository{db: db}
}

// CreateWithAttempts stores an evaluation, its questions and attempts atomically.
func (r *evaluationRepository) CreateWithAttempts(ctx context.Context, evaluation *models.Evaluation, attempts []models.Attempt) error {
	if evaluation == nil {
		return errors.New("evaluation is required")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(evaluation).Error; err != nil {
			return err
		}
		for i := range attempts {
			attempts[i].EvaluationID = evaluation.ID
			if err := tx.Omit("Evaluation").Create(&attempts[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *evaluationRepository) AttemptCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Attempt{}).
		Where("unique_code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}
