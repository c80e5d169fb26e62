package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-eval-api/internal/models"
)

// ErrStaleRevision is returned when a write carries a revision that is not newer than the stored one.
var ErrStaleRevision = errors.New("stale answer revision")

// AnswerWrite is one autosave of a (submission, question) answer.
// A nil Score keeps the stored score; a nil Revision skips sequencing.
type AnswerWrite struct {
	SubmissionID uint
	QuestionID   uint
	Text         string
	Score        *float64
	Revision     *uint
}

// AnswerRepository persists per-question answers of a submission.
type AnswerRepository interface {
	Find(ctx context.Context, submissionID, questionID uint) (models.Answer, error)
	ListBySubmission(ctx context.Context, submissionID uint) ([]models.Answer, error)
	SaveAll(ctx context.Context, writes []AnswerWrite) ([]models.Answer, error)
	GradeIfUnchanged(ctx context.Context, submissionID, questionID uint, gradedText string, score float64) (bool, error)
	CreateBatch(ctx context.Context, answers []models.Answer) error
	ZeroNullScores(ctx context.Context, submissionID uint) (int64, error)
	ScoresBySubmission(ctx context.Context, submissionID uint) ([]float64, error)
}

type answerRepository struct {
	db *gorm.DB
}

// NewAnswerRepository instantiates the repository.
func NewAnswerRepository(db *gorm.DB) AnswerRepository {
	return &answerRepository{db: db}
}

func (r *answerRepository) Find(ctx context.Context, submissionID, questionID uint) (models.Answer, error) {
	var answer models.Answer
	if err := r.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Where("question_id = ?", questionID).
		First(&answer).Error; err != nil {
		return models.Answer{}, err
	}

	return answer, nil
}

func (r *answerRepository) ListBySubmission(ctx context.Context, submissionID uint) ([]models.Answer, error) {
	var answers []models.Answer
	if err := r.db.WithContext(ctx).
		Preload("Question").
		Where("submission_id = ?", submissionID).
		Order("question_id ASC").
		Find(&answers).Error; err != nil {
		return nil, err
	}

	return answers, nil
}

// SaveAll upserts every write inside one transaction. A stale revision or any other failure rolls back all of them.
func (r *answerRepository) SaveAll(ctx context.Context, writes []AnswerWrite) ([]models.Answer, error) {
	saved := make([]models.Answer, 0, len(writes))
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, write := range writes {
			answer, err := upsertAnswer(tx, write)
			if err != nil {
				return err
			}
			saved = append(saved, answer)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return saved, nil
}

// upsertAnswer inserts the answer or updates the existing row in a single statement.
// With a revision the update only applies while the stored revision is older.
func upsertAnswer(tx *gorm.DB, write AnswerWrite) (models.Answer, error) {
	now := time.Now()
	row := models.Answer{
		SubmissionID: write.SubmissionID,
		QuestionID:   write.QuestionID,
		Text:         write.Text,
		Score:        write.Score,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	columns := []string{"answer", "updated_at"}
	if write.Score != nil {
		row.GradedAt = &now
		columns = append(columns, "score", "graded_at")
	}

	conflict := clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_id"}, {Name: "question_id"}},
	}
	if write.Revision != nil {
		row.Revision = *write.Revision
		columns = append(columns, "revision")
		conflict.Where = clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "answers.revision < excluded.revision"},
		}}
	}
	conflict.DoUpdates = clause.AssignmentColumns(columns)

	result := tx.Clauses(conflict).Omit("Question").Create(&row)
	if result.Error != nil {
		return models.Answer{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.Answer{}, ErrStaleRevision
	}

	var stored models.Answer
	if err := tx.
		Where("submission_id = ?", write.SubmissionID).
		Where("question_id = ?", write.QuestionID).
		First(&stored).Error; err != nil {
		return models.Answer{}, err
	}
	return stored, nil
}

// GradeIfUnchanged stores a grade only while the answer text still equals the text that was graded.
func (r *answerRepository) GradeIfUnchanged(ctx context.Context, submissionID, questionID uint, gradedText string, score float64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&models.Answer{}).
		Where("submission_id = ?", submissionID).
		Where("question_id = ?", questionID).
		Where("answer = ?", gradedText).
		Updates(map[string]interface{}{
			"score":     score,
			"graded_at": time.Now(),
		})
	return result.RowsAffected == 1, result.Error
}

// CreateBatch inserts answers, skipping rows that already exist for the same (submission, question).
func (r *answerRepository) CreateBatch(ctx context.Context, answers []models.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Omit("Question").
		Create(&answers).Error
}

func (r *answerRepository) ZeroNullScores(ctx context.Context, submissionID uint) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.Answer{}).
		Where("submission_id = ?", submissionID).
		Where("score IS NULL").
		Update("score", 0)
	return result.RowsAffected, result.Error
}

func (r *answerRepository) ScoresBySubmission(ctx context.Context, submissionID uint) ([]float64, error) {
	var scores []float64
	if err := r.db.WithContext(ctx).Model(&models.Answer{}).
		Where("submission_id = ?", submissionID).
		Order("question_id ASC").
		Pluck("COALESCE(score, 0)", &scores).Error; err != nil {
		return nil, err
	}

	return scores, nil
}
