package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/observability"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/pkg/report"
)

// SubmissionService drives a submission from bootstrap to finalization.
type SubmissionService interface {
	Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionStartResponse, error)
	Get(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error)
	SaveAnswer(ctx context.Context, submissionID, questionID uint, req dto.AnswerSaveRequest) (dto.AnswerSaveResponse, error)
	SaveAnswers(ctx context.Context, submissionID uint, req dto.AnswerBatchRequest) (dto.AnswerBatchResponse, error)
	ListAnswers(ctx context.Context, submissionID uint) ([]dto.AnswerResponse, error)
	RecalculateScore(ctx context.Context, submissionID uint) (float64, error)
	RecordGrade(ctx context.Context, submissionID, questionID uint, gradedText string, grade float64) (dto.AnswerSaveResponse, error)
	Submit(ctx context.Context, submissionID uint) (dto.SubmitResponse, error)
}

// SubmissionDeps groups the collaborators of the submission service.
type SubmissionDeps struct {
	Attempts    repository.AttemptRepository
	Submissions repository.SubmissionRepository
	Answers     repository.AnswerRepository
	Reports     report.Generator
	Tokens      *TokenIssuer
	Events      EventPublisher
	Activity    ActivityRecorder
	Validator   *validator.Validate
	Logger      zerolog.Logger
}

type submissionService struct {
	attempts    repository.AttemptRepository
	submissions repository.SubmissionRepository
	answers     repository.AnswerRepository
	reports     report.Generator
	tokens      *TokenIssuer
	events      EventPublisher
	activity    ActivityRecorder
	validator   *validator.Validate
	sanitizer   *bluemonday.Policy
	logger      zerolog.Logger
	tracer      trace.Tracer
	finalizing  *keyedMutex
	now         func() time.Time
}

// NewSubmissionService constructs the submission service.
func NewSubmissionService(deps SubmissionDeps) SubmissionService {
	return &submissionService{
		attempts:    deps.Attempts,
		submissions: deps.Submissions,
		answers:     deps.Answers,
		reports:     deps.Reports,
		tokens:      deps.Tokens,
		events:      deps.Events,
		activity:    deps.Activity,
		validator:   deps.Validator,
		sanitizer:   bluemonday.StrictPolicy(),
		logger:      deps.Logger.With().Str("component", "submission_service").Logger(),
		tracer:      otel.Tracer("github.com/noah-isme/gema-eval-api/internal/service/submission"),
		finalizing:  newKeyedMutex(),
		now:         time.Now,
	}
}

// Start returns the open submission for (attempt, email), creating it when absent.
func (s *submissionService) Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionStartResponse, error) {
	req.Email = normalizeEmail(req.Email)
	req.FirstName = strings.TrimSpace(s.sanitizer.Sanitize(req.FirstName))
	req.LastName = strings.TrimSpace(s.sanitizer.Sanitize(req.LastName))
	if err := s.validator.Struct(req); err != nil {
		return dto.SubmissionStartResponse{}, err
	}

	attempt, err := s.attempts.GetByID(ctx, req.AttemptID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.SubmissionStartResponse{}, ErrAttemptNotFound
		}
		return dto.SubmissionStartResponse{}, fmt.Errorf("load attempt: %w", err)
	}
	if err := checkComplete(attempt); err != nil {
		return dto.SubmissionStartResponse{}, err
	}

	submission, err := s.submissions.FindLatest(ctx, attempt.ID, req.Email)
	switch {
	case err == nil:
		if submission.IsSubmitted() {
			return dto.SubmissionStartResponse{}, ErrAlreadySubmitted
		}
		if !attempt.IsOpen(s.now()) {
			return dto.SubmissionStartResponse{}, ErrExpiredOrNotStarted
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		if !attempt.IsOpen(s.now()) {
			return dto.SubmissionStartResponse{}, ErrExpiredOrNotStarted
		}
		submission = models.Submission{
			AttemptID: attempt.ID,
			Email:     req.Email,
			FirstName: req.FirstName,
			LastName:  req.LastName,
		}
		if err := s.submissions.Create(ctx, &submission); err != nil {
			return dto.SubmissionStartResponse{}, fmt.Errorf("create submission: %w", err)
		}
		observability.SubmissionsStarted().Inc()
		recordActivity(ctx, s.activity, s.logger, ActivityEntry{
			SubmissionID: submission.ID,
			Action:       models.ActivitySubmissionStarted,
			Metadata:     map[string]interface{}{"attempt_id": attempt.ID, "email": req.Email},
		})
		s.logger.Info().Uint("submission_id", submission.ID).Uint("attempt_id", attempt.ID).Msg("submission started")
	default:
		return dto.SubmissionStartResponse{}, fmt.Errorf("find submission: %w", err)
	}

	token, expiresAt, err := s.tokens.Issue(submission)
	if err != nil {
		return dto.SubmissionStartResponse{}, err
	}

	return dto.SubmissionStartResponse{
		Submission: dto.NewSubmissionResponse(submission),
		Token:      token,
		ExpiresAt:  expiresAt,
	}, nil
}

func (s *submissionService) Get(ctx context.Context, submissionID uint) (dto.SubmissionResponse, error) {
	submission, err := s.loadSubmission(ctx, submissionID)
	if err != nil {
		return dto.SubmissionResponse{}, err
	}
	return dto.NewSubmissionResponse(submission), nil
}

// SaveAnswer upserts one answer, recomputes the running score and writes the counters.
func (s *submissionService) SaveAnswer(ctx context.Context, submissionID, questionID uint, req dto.AnswerSaveRequest) (dto.AnswerSaveResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AnswerSaveResponse{}, err
	}

	submission, err := s.loadOpenSubmission(ctx, submissionID)
	if err != nil {
		return dto.AnswerSaveResponse{}, err
	}

	saved, err := s.writeAnswers(ctx, submission, []dto.AnswerBatchItem{{
		QuestionID: questionID,
		Answer:     req.Answer,
		Score:      req.Score,
		Revision:   req.Revision,
	}})
	if err != nil {
		return dto.AnswerSaveResponse{}, err
	}

	score, err := s.recalculate(ctx, submission)
	if err != nil {
		return dto.AnswerSaveResponse{}, err
	}

	if err := s.writeCounters(ctx, submission, req.FraudAttempts, req.TimeOutsideEval); err != nil {
		return dto.AnswerSaveResponse{}, err
	}

	return dto.AnswerSaveResponse{Answer: dto.NewAnswerResponse(saved[0]), SubmissionScore: score}, nil
}

// SaveAnswers applies a batch of autosaves atomically followed by a single recomputation.
func (s *submissionService) SaveAnswers(ctx context.Context, submissionID uint, req dto.AnswerBatchRequest) (dto.AnswerBatchResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.AnswerBatchResponse{}, err
	}

	submission, err := s.loadOpenSubmission(ctx, submissionID)
	if err != nil {
		return dto.AnswerBatchResponse{}, err
	}

	saved, err := s.writeAnswers(ctx, submission, req.Answers)
	if err != nil {
		return dto.AnswerBatchResponse{}, err
	}

	score, err := s.recalculate(ctx, submission)
	if err != nil {
		return dto.AnswerBatchResponse{}, err
	}

	if err := s.writeCounters(ctx, submission, req.FraudAttempts, req.TimeOutsideEval); err != nil {
		return dto.AnswerBatchResponse{}, err
	}

	return dto.AnswerBatchResponse{Answers: dto.NewAnswerResponses(saved), SubmissionScore: score}, nil
}

func (s *submissionService) ListAnswers(ctx context.Context, submissionID uint) ([]dto.AnswerResponse, error) {
	if _, err := s.loadSubmission(ctx, submissionID); err != nil {
		return nil, err
	}

	answers, err := s.answers.ListBySubmission(ctx, submissionID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	return dto.NewAnswerResponses(answers), nil
}

// RecalculateScore zero-fills missing answers and stores the average over all questions.
func (s *submissionService) RecalculateScore(ctx context.Context, submissionID uint) (float64, error) {
	submission, err := s.loadSubmissionWithEvaluation(ctx, submissionID)
	if err != nil {
		return 0, err
	}
	return s.recalculate(ctx, submission)
}

// RecordGrade stores an AI grade and recomputes the running score. The grade is dropped with
// ErrStaleRevision when the answer text changed after it was sent to the grader.
func (s *submissionService) RecordGrade(ctx context.Context, submissionID, questionID uint, gradedText string, grade float64) (dto.AnswerSaveResponse, error) {
	submission, err := s.loadOpenSubmission(ctx, submissionID)
	if err != nil {
		return dto.AnswerSaveResponse{}, err
	}
	question, ok := findQuestion(submission.Attempt.Evaluation.Questions, questionID)
	if !ok {
		return dto.AnswerSaveResponse{}, ErrQuestionNotFound
	}

	stored, err := s.answers.GradeIfUnchanged(ctx, submission.ID, question.ID, gradedText, grade)
	if err != nil {
		return dto.AnswerSaveResponse{}, fmt.Errorf("store grade: %w", err)
	}
	if !stored {
		return dto.AnswerSaveResponse{}, fmt.Errorf("answer changed while grading: %w", ErrStaleRevision)
	}

	score, err := s.recalculate(ctx, submission)
	if err != nil {
		return dto.AnswerSaveResponse{}, err
	}

	answer, err := s.answers.Find(ctx, submission.ID, question.ID)
	if err != nil {
		return dto.AnswerSaveResponse{}, fmt.Errorf("load answer: %w", err)
	}
	answer.Question = question

	return dto.AnswerSaveResponse{Answer: dto.NewAnswerResponse(answer), SubmissionScore: score}, nil
}

// Submit finalizes the submission exactly once and returns the Base64 encoded report.
// A submission that is already final is returned with AlreadySubmitted set and its stored report.
// Calls for the same submission are serialized within the process; the database swap decides across processes.
func (s *submissionService) Submit(ctx context.Context, submissionID uint) (dto.SubmitResponse, error) {
	ctx, span := s.tracer.Start(ctx, "submission.finalize")
	span.SetAttributes(attribute.Int64("submission.id", int64(submissionID)))
	defer span.End()

	unlock := s.finalizing.Lock(submissionID)
	defer unlock()

	submission, err := s.loadSubmissionWithEvaluation(ctx, submissionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return dto.SubmitResponse{}, err
	}

	if submission.IsSubmitted() {
		span.SetAttributes(attribute.Bool("submission.already_submitted", true))
		return s.alreadySubmitted(ctx, submission)
	}

	if submission.Attempt.Evaluation.ID == 0 {
		span.SetStatus(codes.Error, "incomplete_data")
		return dto.SubmitResponse{}, ErrIncompleteData
	}

	finalized, swapped, err := s.submissions.MarkSubmitted(ctx, submission.ID, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "finalize_failed")
		return dto.SubmitResponse{}, fmt.Errorf("finalize submission: %w", err)
	}
	if !swapped {
		span.SetAttributes(attribute.Bool("submission.already_submitted", true))
		submission.SubmittedAt = finalized.SubmittedAt
		submission.Score = finalized.Score
		submission.Report = finalized.Report
		return s.alreadySubmitted(ctx, submission)
	}

	payload, average, err := s.storeReport(ctx, submission)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "report_failed")
		s.logger.Error().Err(err).Uint("submission_id", submission.ID).Msg("submission finalized without report")
		return dto.SubmitResponse{}, err
	}

	finalized.Score = &average
	submittedAt := s.now()
	if finalized.SubmittedAt != nil {
		submittedAt = *finalized.SubmittedAt
	}

	if s.events != nil {
		event := SubmissionEvent{
			Type:            EventSubmissionFinalized,
			SubmissionID:    finalized.ID,
			AttemptID:       finalized.AttemptID,
			Score:           average,
			FraudAttempts:   finalized.FraudAttempts,
			TimeOutsideEval: finalized.TimeOutsideEval,
			SubmittedAt:     submittedAt,
		}
		if err := s.events.Publish(ctx, event); err != nil {
			s.logger.Warn().Err(err).Msg("failed to publish finalized event")
		}
	}

	recordActivity(ctx, s.activity, s.logger, ActivityEntry{
		SubmissionID: finalized.ID,
		Action:       models.ActivitySubmissionFinalized,
		Metadata: map[string]interface{}{
			"score":             average,
			"fraud_attempts":    finalized.FraudAttempts,
			"time_outside_eval": finalized.TimeOutsideEval,
		},
	})
	observability.SubmissionsFinalized().WithLabelValues("finalized").Inc()
	span.SetAttributes(attribute.Float64("submission.score", average))
	s.logger.Info().Uint("submission_id", finalized.ID).Float64("score", average).Msg("submission finalized")

	return dto.SubmitResponse{
		Submission: dto.NewSubmissionResponse(finalized),
		Report:     base64.StdEncoding.EncodeToString(payload),
	}, nil
}

// storeReport recomputes the final score, generates the report and stores it.
// When another writer stored a report first, that report is returned instead.
func (s *submissionService) storeReport(ctx context.Context, submission models.Submission) (datatypes.JSON, float64, error) {
	average, err := s.recalculate(ctx, submission)
	if err != nil {
		return nil, 0, err
	}

	answers, err := s.answers.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("list answers: %w", err)
	}

	generated, err := s.reports.Generate(ctx, reportInput(submission, answers, average))
	if err != nil {
		return nil, 0, fmt.Errorf("generate report: %w", err)
	}

	payload, err := json.Marshal(generated)
	if err != nil {
		return nil, 0, fmt.Errorf("encode report: %w", err)
	}

	stored, err := s.submissions.SaveReport(ctx, submission.ID, datatypes.JSON(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("save report: %w", err)
	}
	if !stored {
		current, err := s.submissions.GetByID(ctx, submission.ID)
		if err != nil {
			return nil, 0, fmt.Errorf("load stored report: %w", err)
		}
		return current.Report, average, nil
	}
	return datatypes.JSON(payload), average, nil
}

// alreadySubmitted answers a finalize call on a final submission. A report missing because an
// earlier finalization failed part way is generated once here.
func (s *submissionService) alreadySubmitted(ctx context.Context, submission models.Submission) (dto.SubmitResponse, error) {
	observability.SubmissionsFinalized().WithLabelValues("already_submitted").Inc()

	if len(submission.Report) == 0 {
		payload, average, err := s.storeReport(ctx, submission)
		if err != nil {
			return dto.SubmitResponse{}, err
		}
		submission.Report = payload
		submission.Score = &average
		s.logger.Warn().Uint("submission_id", submission.ID).Msg("report generated for finalized submission")
	}

	return dto.SubmitResponse{
		Submission:       dto.NewSubmissionResponse(submission),
		Report:           base64.StdEncoding.EncodeToString(submission.Report),
		AlreadySubmitted: true,
	}, nil
}

// writeAnswers validates every question first and then saves all answers in one transaction.
func (s *submissionService) writeAnswers(ctx context.Context, submission models.Submission, items []dto.AnswerBatchItem) ([]models.Answer, error) {
	questions := make([]models.Question, 0, len(items))
	writes := make([]repository.AnswerWrite, 0, len(items))
	for _, item := range items {
		question, ok := findQuestion(submission.Attempt.Evaluation.Questions, item.QuestionID)
		if !ok {
			return nil, fmt.Errorf("question %d: %w", item.QuestionID, ErrQuestionNotFound)
		}
		questions = append(questions, question)
		writes = append(writes, repository.AnswerWrite{
			SubmissionID: submission.ID,
			QuestionID:   question.ID,
			Text:         item.Answer,
			Score:        item.Score,
			Revision:     item.Revision,
		})
	}

	saved, err := s.answers.SaveAll(ctx, writes)
	if err != nil {
		if errors.Is(err, repository.ErrStaleRevision) {
			return nil, ErrStaleRevision
		}
		return nil, fmt.Errorf("save answers: %w", err)
	}

	for i := range saved {
		saved[i].Question = questions[i]
	}
	observability.AnswersSaved().Add(float64(len(saved)))
	return saved, nil
}

func (s *submissionService) writeCounters(ctx context.Context, submission models.Submission, fraud, away *int) error {
	update := repository.CounterUpdate{FraudAttempts: fraud, TimeOutsideEval: away}
	if update.IsEmpty() {
		return nil
	}

	if err := s.submissions.UpdateCounters(ctx, submission.ID, update); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}

	if fraud != nil && *fraud > submission.FraudAttempts {
		observability.FraudEvents().Add(float64(*fraud - submission.FraudAttempts))
		recordActivity(ctx, s.activity, s.logger, ActivityEntry{
			SubmissionID: submission.ID,
			Action:       models.ActivitySubmissionFraud,
			Metadata: map[string]interface{}{
				"fraud_attempts":    *fraud,
				"previous_attempts": submission.FraudAttempts,
			},
		})
	}
	return nil
}

func (s *submissionService) recalculate(ctx context.Context, submission models.Submission) (float64, error) {
	questions := submission.Attempt.Evaluation.Questions

	existing, err := s.answers.ListBySubmission(ctx, submission.ID)
	if err != nil {
		return 0, fmt.Errorf("list answers: %w", err)
	}
	answered := make(map[uint]struct{}, len(existing))
	for _, answer := range existing {
		answered[answer.QuestionID] = struct{}{}
	}

	zero := 0.0
	missing := make([]models.Answer, 0)
	for _, question := range questions {
		if _, ok := answered[question.ID]; ok {
			continue
		}
		missing = append(missing, models.Answer{SubmissionID: submission.ID, QuestionID: question.ID, Score: &zero})
	}
	if err := s.answers.CreateBatch(ctx, missing); err != nil {
		return 0, fmt.Errorf("zero-fill answers: %w", err)
	}

	if _, err := s.answers.ZeroNullScores(ctx, submission.ID); err != nil {
		return 0, fmt.Errorf("zero null scores: %w", err)
	}

	scores, err := s.answers.ScoresBySubmission(ctx, submission.ID)
	if err != nil {
		return 0, fmt.Errorf("load scores: %w", err)
	}

	average := averageScore(scores)
	if err := s.submissions.UpdateScore(ctx, submission.ID, average); err != nil {
		return 0, fmt.Errorf("update score: %w", err)
	}
	return average, nil
}

func (s *submissionService) loadSubmission(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.GetByID(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, fmt.Errorf("load submission: %w", err)
	}
	return submission, nil
}

func (s *submissionService) loadSubmissionWithEvaluation(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.submissions.GetWithEvaluation(ctx, submissionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Submission{}, ErrSubmissionNotFound
		}
		return models.Submission{}, fmt.Errorf("load submission: %w", err)
	}
	return submission, nil
}

func (s *submissionService) loadOpenSubmission(ctx context.Context, submissionID uint) (models.Submission, error) {
	submission, err := s.loadSubmissionWithEvaluation(ctx, submissionID)
	if err != nil {
		return models.Submission{}, err
	}
	if submission.IsSubmitted() {
		return models.Submission{}, ErrAlreadySubmitted
	}
	return submission, nil
}

func findQuestion(questions []models.Question, id uint) (models.Question, bool) {
	for _, question := range questions {
		if question.ID == id {
			return question, true
		}
	}
	return models.Question{}, false
}

func averageScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	total := 0.0
	for _, score := range scores {
		total += score
	}
	return total / float64(len(scores))
}

func reportInput(submission models.Submission, answers []models.Answer, average float64) report.Input {
	byQuestion := make(map[uint]models.Answer, len(answers))
	for _, answer := range answers {
		byQuestion[answer.QuestionID] = answer
	}

	items := make([]report.AnswerInput, 0, len(submission.Attempt.Evaluation.Questions))
	for _, question := range submission.Attempt.Evaluation.Questions {
		answer := byQuestion[question.ID]
		score := 0.0
		if answer.Score != nil {
			score = *answer.Score
		}
		items = append(items, report.AnswerInput{
			QuestionText:  question.Text,
			QuestionType:  string(question.Type),
			StudentAnswer: answer.Text,
			Score:         score,
			Language:      question.Language(),
		})
	}

	return report.Input{
		StudentName:     submission.FullName(),
		EvaluationTitle: submission.Attempt.Evaluation.Title,
		Answers:         items,
		AverageScore:    average,
		FraudAttempts:   submission.FraudAttempts,
	}
}
