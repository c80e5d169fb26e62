package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/observability"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
)

// DefaultEvaluationCooldown is the minimum gap between two AI evaluations of the same answer.
const DefaultEvaluationCooldown = 10 * time.Second

// GradeRecorder stores grades against the answer text that was graded. SubmissionService satisfies it.
type GradeRecorder interface {
	RecordGrade(ctx context.Context, submissionID, questionID uint, gradedText string, grade float64) (dto.AnswerSaveResponse, error)
}

// GradingService asks the AI grader to score a stored answer.
type GradingService interface {
	Evaluate(ctx context.Context, submissionID, questionID uint) (dto.EvaluateResponse, error)
}

type gradingService struct {
	submissions repository.SubmissionRepository
	answers     repository.AnswerRepository
	grades      GradeRecorder
	grader      ai.Grader
	cooldown    Cooldown
	window      time.Duration
	activity    ActivityRecorder
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
}

// NewGradingService constructs the grading service. A nil grader makes every evaluation fail with ErrEvaluatorUnavailable.
func NewGradingService(submissions repository.SubmissionRepository, answers repository.AnswerRepository, grades GradeRecorder, grader ai.Grader, cooldown Cooldown, window time.Duration, activity ActivityRecorder, logger zerolog.Logger) GradingService {
	if window <= 0 {
		window = DefaultEvaluationCooldown
	}
	if cooldown == nil {
		cooldown = NewMemoryCooldown()
	}
	return &gradingService{
		submissions: submissions,
		answers:     answers,
		grades:      grades,
		grader:      grader,
		cooldown:    cooldown,
		window:      window,
		activity:    activity,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      logger.With().Str("component", "grading_service").Logger(),
	}
}

func (s *gradingService) Evaluate(ctx context.Context, submissionID, questionID uint) (dto.EvaluateResponse, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-eval-api/internal/service/grading")
	ctx, span := tracer.Start(ctx, "grading.evaluate")
	span.SetAttributes(
		attribute.Int64("grading.submission_id", int64(submissionID)),
		attribute.Int64("grading.question_id", int64(questionID)),
	)
	defer span.End()

	submission, err := s.submissions.GetWithEvaluation(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Error, "submission_not_found")
			return dto.EvaluateResponse{}, ErrSubmissionNotFound
		}
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.EvaluateResponse{}, fmt.Errorf("load submission: %w", err)
	}
	if submission.IsSubmitted() {
		return dto.EvaluateResponse{}, ErrAlreadySubmitted
	}

	question, ok := findQuestion(submission.Attempt.Evaluation.Questions, questionID)
	if !ok {
		return dto.EvaluateResponse{}, ErrQuestionNotFound
	}

	answer, err := s.answers.Find(ctx, submission.ID, question.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.EvaluateResponse{}, ErrEmptyAnswer
		}
		return dto.EvaluateResponse{}, fmt.Errorf("load answer: %w", err)
	}
	if strings.TrimSpace(answer.Text) == "" {
		return dto.EvaluateResponse{}, ErrEmptyAnswer
	}

	if s.grader == nil {
		observability.EvaluationsRequested().WithLabelValues("unavailable").Inc()
		return dto.EvaluateResponse{}, ErrEvaluatorUnavailable
	}

	key := fmt.Sprintf("%d:%d", submission.ID, question.ID)
	acquired, err := s.cooldown.Acquire(ctx, key, s.window)
	if err != nil {
		return dto.EvaluateResponse{}, fmt.Errorf("acquire evaluation cooldown: %w", err)
	}
	if !acquired {
		observability.EvaluationsRequested().WithLabelValues("cooldown").Inc()
		return dto.EvaluateResponse{}, ErrEvaluationCooldown
	}

	result, err := s.grader.Grade(ctx, ai.GradingInput{
		QuestionText: question.Text,
		QuestionType: string(question.Type),
		Answer:       answer.Text,
		Language:     question.Language(),
	})
	if err != nil {
		if releaseErr := s.cooldown.Release(ctx, key); releaseErr != nil {
			s.logger.Warn().Err(releaseErr).Msg("failed to release evaluation cooldown")
		}
		observability.EvaluationsRequested().WithLabelValues("failed").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "grader_failed")
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Uint("question_id", question.ID).Msg("ai grading failed")
		if errors.Is(err, ai.ErrUnavailable) {
			return dto.EvaluateResponse{}, ErrEvaluatorUnavailable
		}
		return dto.EvaluateResponse{}, fmt.Errorf("grade answer: %w", err)
	}

	grade := ai.ClampGrade(result.Grade)
	saved, err := s.grades.RecordGrade(ctx, submission.ID, question.ID, answer.Text, grade)
	if err != nil {
		if errors.Is(err, ErrStaleRevision) {
			if releaseErr := s.cooldown.Release(ctx, key); releaseErr != nil {
				s.logger.Warn().Err(releaseErr).Msg("failed to release evaluation cooldown")
			}
			observability.EvaluationsRequested().WithLabelValues("stale").Inc()
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "save_failed")
		return dto.EvaluateResponse{}, err
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		SubmissionID: submission.ID,
		Action:       models.ActivityAnswerEvaluated,
		Metadata: map[string]interface{}{
			"question_id": question.ID,
			"grade":       grade,
			"is_correct":  result.IsCorrect,
		},
	})
	observability.EvaluationsRequested().WithLabelValues("graded").Inc()
	span.SetAttributes(attribute.Float64("grading.grade", grade))

	return dto.EvaluateResponse{
		QuestionID:      question.ID,
		IsCorrect:       result.IsCorrect,
		Grade:           grade,
		Feedback:        strings.TrimSpace(s.sanitizer.Sanitize(result.Feedback)),
		Answer:          saved.Answer,
		SubmissionScore: saved.SubmissionScore,
	}, nil
}
