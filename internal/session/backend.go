package session

import (
	"context"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/service"
)

// Backend is everything a session needs from the application services.
type Backend interface {
	ResolveAttempt(ctx context.Context, code, email string) (dto.AttemptResponse, error)
	Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionStartResponse, error)
	ListAnswers(ctx context.Context, submissionID uint) ([]dto.AnswerResponse, error)
	SaveAnswer(ctx context.Context, submissionID, questionID uint, req dto.AnswerSaveRequest) (dto.AnswerSaveResponse, error)
	Evaluate(ctx context.Context, submissionID, questionID uint) (dto.EvaluateResponse, error)
	Submit(ctx context.Context, submissionID uint) (dto.SubmitResponse, error)
}

type serviceBackend struct {
	attempts    service.AttemptService
	submissions service.SubmissionService
	grading     service.GradingService
}

// NewServiceBackend adapts the application services to a session Backend.
func NewServiceBackend(attempts service.AttemptService, submissions service.SubmissionService, grading service.GradingService) Backend {
	return &serviceBackend{attempts: attempts, submissions: submissions, grading: grading}
}

func (b *serviceBackend) ResolveAttempt(ctx context.Context, code, email string) (dto.AttemptResponse, error) {
	return b.attempts.Resolve(ctx, code, email)
}

func (b *serviceBackend) Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionStartResponse, error) {
	return b.submissions.Start(ctx, req)
}

func (b *serviceBackend) ListAnswers(ctx context.Context, submissionID uint) ([]dto.AnswerResponse, error) {
	return b.submissions.ListAnswers(ctx, submissionID)
}

func (b *serviceBackend) SaveAnswer(ctx context.Context, submissionID, questionID uint, req dto.AnswerSaveRequest) (dto.AnswerSaveResponse, error) {
	return b.submissions.SaveAnswer(ctx, submissionID, questionID, req)
}

func (b *serviceBackend) Evaluate(ctx context.Context, submissionID, questionID uint) (dto.EvaluateResponse, error) {
	return b.grading.Evaluate(ctx, submissionID, questionID)
}

func (b *serviceBackend) Submit(ctx context.Context, submissionID uint) (dto.SubmitResponse, error) {
	return b.submissions.Submit(ctx, submissionID)
}
