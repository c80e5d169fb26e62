package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// AttemptRepository reads attempts together with their evaluation definition.
type AttemptRepository interface {
	GetByCode(ctx context.Context, code string) (models.Attempt, error)
	GetByID(ctx context.Context, id uint) (models.Attempt, error)
}

type attemptRepository struct {
	db *gorm.DB
}

// NewAttemptRepository instantiates the repository.
func NewAttemptRepository(db *gorm.DB) AttemptRepository {
	return &attemptRepository{db: db}
}

func (r *attemptRepository) baseQuery(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.Attempt{}).
		Preload("Evaluation").
		Preload("Evaluation.Questions", orderedQuestions)
}

func (r *attemptRepository) GetByCode(ctx context.Context, code string) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.baseQuery(ctx).Where("unique_code = ?", code).First(&attempt).Error; err != nil {
		return models.Attempt{}, err
	}

	return attempt, nil
}

func (r *attemptRepository) GetByID(ctx context.Context, id uint) (models.Attempt, error) {
	var attempt models.Attempt
	if err := r.baseQuery(ctx).First(&attempt, id).Error; err != nil {
		return models.Attempt{}, err
	}

	return attempt, nil
}

func orderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC").Order("id ASC")
}
