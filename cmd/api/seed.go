package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	"github.com/noah-isme/gema-eval-api/internal/database"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
)

type seedFile struct {
	Evaluations []seedEvaluation `json:"evaluations" validate:"required,min=1,dive"`
}

type seedEvaluation struct {
	Title       string         `json:"title" validate:"required,max=255"`
	Description *string        `json:"description"`
	HelpURL     *string        `json:"help_url" validate:"omitempty,url"`
	Questions   []seedQuestion `json:"questions" validate:"required,min=1,dive"`
	Attempts    []seedAttempt  `json:"attempts" validate:"required,min=1,dive"`
}

type seedQuestion struct {
	Position int             `json:"position"`
	Type     string          `json:"type" validate:"required,oneof=TEXT CODE"`
	Text     string          `json:"text" validate:"required"`
	HelpURL  *string         `json:"help_url" validate:"omitempty,url"`
	Metadata json.RawMessage `json:"metadata"`
}

type seedAttempt struct {
	UniqueCode string    `json:"unique_code" validate:"required,min=6,max=64"`
	StartTime  time.Time `json:"start_time" validate:"required"`
	EndTime    time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed <file.json>",
		Short: "Load evaluations, questions and attempts from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}

			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer file.Close()

			db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}

			created, err := seed(cmd.Context(), file, repository.NewEvaluationRepository(db), logger)
			if err != nil {
				return err
			}
			logger.Info().Int("evaluations", created).Msg("seed completed")
			return nil
		},
	}
	return cmd
}

// seed stores every evaluation of the document. Evaluations whose attempt codes already exist are skipped.
func seed(ctx context.Context, r io.Reader, repo repository.EvaluationRepository, logger zerolog.Logger) (int, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var document seedFile
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&document); err != nil {
		return 0, fmt.Errorf("decode seed file: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(document); err != nil {
		return 0, fmt.Errorf("invalid seed file: %w", err)
	}

	created := 0
	for _, entry := range document.Evaluations {
		exists, err := anyAttemptExists(ctx, repo, entry.Attempts)
		if err != nil {
			return created, err
		}
		if exists {
			logger.Info().Str("title", entry.Title).Msg("evaluation already seeded, skipping")
			continue
		}

		evaluation, attempts := entry.toModels()
		if err := repo.CreateWithAttempts(ctx, &evaluation, attempts); err != nil {
			return created, fmt.Errorf("seed %q: %w", entry.Title, err)
		}
		created++
		logger.Info().Str("title", entry.Title).Uint("evaluation_id", evaluation.ID).Int("attempts", len(attempts)).Msg("evaluation seeded")
	}
	return created, nil
}

func anyAttemptExists(ctx context.Context, repo repository.EvaluationRepository, attempts []seedAttempt) (bool, error) {
	for _, attempt := range attempts {
		exists, err := repo.AttemptCodeExists(ctx, strings.TrimSpace(attempt.UniqueCode))
		if err != nil {
			return false, fmt.Errorf("check attempt code: %w", err)
		}
		if exists {
			return true, nil
		}
	}
	return false, nil
}

func (e seedEvaluation) toModels() (models.Evaluation, []models.Attempt) {
	evaluation := models.Evaluation{
		Title:       strings.TrimSpace(e.Title),
		Description: e.Description,
		HelpURL:     e.HelpURL,
	}
	for i, q := range e.Questions {
		position := q.Position
		if position == 0 {
			position = i + 1
		}
		question := models.Question{
			Position: position,
			Type:     models.QuestionType(q.Type),
			Text:     q.Text,
			HelpURL:  q.HelpURL,
		}
		if len(q.Metadata) > 0 {
			question.Metadata = datatypes.JSON(q.Metadata)
		}
		evaluation.Questions = append(evaluation.Questions, question)
	}

	attempts := make([]models.Attempt, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		attempts = append(attempts, models.Attempt{
			UniqueCode: strings.TrimSpace(a.UniqueCode),
			StartTime:  a.StartTime.UTC(),
			EndTime:    a.EndTime.UTC(),
		})
	}
	return evaluation, attempts
}
