package service

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// MinCodeLength is the shortest attempt code accepted after trimming.
const MinCodeLength = 6

var (
	// ErrInvalidCode indicates a malformed attempt code.
	ErrInvalidCode = errors.New("invalid attempt code")
	// ErrAttemptNotFound indicates no attempt matches the code or id.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrSubmissionNotFound indicates the submission does not exist.
	ErrSubmissionNotFound = errors.New("submission not found")
	// ErrQuestionNotFound indicates the question is not part of the submission's evaluation.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAlreadySubmitted indicates the submission is finalized and can no longer change.
	ErrAlreadySubmitted = errors.New("submission already submitted")
	// ErrExpiredOrNotStarted indicates the attempt window does not contain the current time.
	ErrExpiredOrNotStarted = errors.New("attempt is expired or has not started")
	// ErrIncompleteData indicates the attempt or its evaluation lacks required fields.
	ErrIncompleteData = errors.New("attempt data is incomplete")
	// ErrEvaluationCooldown indicates an AI evaluation was requested too soon.
	ErrEvaluationCooldown = errors.New("evaluation cooldown active")
	// ErrEmptyAnswer indicates an evaluation was requested for a blank answer.
	ErrEmptyAnswer = errors.New("answer is empty")
	// ErrStaleRevision indicates an autosave carried an outdated revision.
	ErrStaleRevision = errors.New("stale answer revision")
	// ErrEvaluatorUnavailable indicates no AI grader is configured or reachable.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")
)

// Machine readable error codes shared by the HTTP and websocket surfaces.
const (
	CodeInvalidCode          = "INVALID_CODE"
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeNotFound             = "NOT_FOUND"
	CodeAlreadySubmitted     = "ALREADY_SUBMITTED"
	CodeExpiredOrNotStarted  = "EXPIRED_OR_NOT_STARTED"
	CodeIncompleteData       = "INCOMPLETE_DATA"
	CodeEvaluationCooldown   = "EVALUATION_COOLDOWN"
	CodeEmptyAnswer          = "EMPTY_ANSWER"
	CodeStaleRevision        = "STALE_REVISION"
	CodeEvaluatorUnavailable = "EVALUATOR_UNAVAILABLE"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrorCode classifies an error returned by the services. Unknown errors map to CodeInternal.
func ErrorCode(err error) string {
	var validationErrs validator.ValidationErrors
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCode):
		return CodeInvalidCode
	case errors.As(err, &validationErrs):
		return CodeValidationFailed
	case errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrSubmissionNotFound), errors.Is(err, ErrQuestionNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadySubmitted):
		return CodeAlreadySubmitted
	case errors.Is(err, ErrExpiredOrNotStarted):
		return CodeExpiredOrNotStarted
	case errors.Is(err, ErrIncompleteData):
		return CodeIncompleteData
	case errors.Is(err, ErrEvaluationCooldown):
		return CodeEvaluationCooldown
	case errors.Is(err, ErrEmptyAnswer):
		return CodeEmptyAnswer
	case errors.Is(err, ErrStaleRevision):
		return CodeStaleRevision
	case errors.Is(err, ErrEvaluatorUnavailable):
		return CodeEvaluatorUnavailable
	default:
		return CodeInternal
	}
}
