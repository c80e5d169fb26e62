package session

import (
	"errors"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/service"
)

// EventType identifies a client action.
type EventType string

const (
	EventAnswer     EventType = "answer"
	EventNavigate   EventType = "navigate"
	EventVisibility EventType = "visibility"
	EventEvaluate   EventType = "evaluate"
	EventSubmit     EventType = "submit"
)

// Event is a message from the exam page.
type Event struct {
	Type       EventType `json:"type"`
	QuestionID uint      `json:"question_id,omitempty"`
	Index      int       `json:"index,omitempty"`
	Answer     string    `json:"answer,omitempty"`
	Hidden     bool      `json:"hidden,omitempty"`
}

// UpdateType identifies a server message.
type UpdateType string

const (
	UpdateSnapshot  UpdateType = "snapshot"
	UpdateTick      UpdateType = "tick"
	UpdateState     UpdateType = "state"
	UpdateSaved     UpdateType = "saved"
	UpdateEvaluated UpdateType = "evaluated"
	UpdateSubmitted UpdateType = "submitted"
	UpdateError     UpdateType = "error"
)

// AnswerView is the client copy of one answer.
type AnswerView struct {
	QuestionID uint     `json:"question_id"`
	Answer     string   `json:"answer"`
	Score      *float64 `json:"score"`
	Evaluated  bool     `json:"evaluated"`
}

// ErrorDetail carries a stable code and a human message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Update is a message to the exam page.
type Update struct {
	Type             UpdateType            `json:"type"`
	State            State                 `json:"state"`
	Event            EventType             `json:"event,omitempty"`
	SubmissionID     uint                  `json:"submission_id,omitempty"`
	RemainingSeconds int                   `json:"remaining_seconds"`
	QuestionIndex    int                   `json:"question_index"`
	QuestionID       uint                  `json:"question_id,omitempty"`
	FraudAttempts    int                   `json:"fraud_attempts"`
	TimeOutsideEval  int                   `json:"time_outside_eval"`
	Score            *float64              `json:"score,omitempty"`
	CooldownSeconds  int                   `json:"cooldown_seconds,omitempty"`
	AlreadySubmitted bool                  `json:"already_submitted,omitempty"`
	Attempt          *dto.AttemptResponse  `json:"attempt,omitempty"`
	Answers          []AnswerView          `json:"answers,omitempty"`
	Evaluation       *dto.EvaluateResponse `json:"evaluation,omitempty"`
	Report           string                `json:"report,omitempty"`
	Error            *ErrorDetail          `json:"error,omitempty"`
}

var (
	errInactive     = errors.New("session is not active")
	errUnknownEvent = errors.New("unknown event type")
)

const (
	codeSessionInactive = "SESSION_INACTIVE"
	codeUnknownEvent    = "UNKNOWN_EVENT"
)

var messages = map[string]string{
	service.CodeInvalidCode:          "Exam code must be at least 6 characters",
	service.CodeNotFound:             "No exam matches this code",
	service.CodeAlreadySubmitted:     "This exam has already been submitted",
	service.CodeExpiredOrNotStarted:  "The exam is not available at this time",
	service.CodeIncompleteData:       "The exam is not configured correctly",
	service.CodeEvaluationCooldown:   "Please wait before evaluating this answer again",
	service.CodeEmptyAnswer:          "Write an answer before asking for an evaluation",
	service.CodeStaleRevision:        "A newer version of this answer was already saved",
	service.CodeEvaluatorUnavailable: "Evaluation is temporarily unavailable",
	service.CodeValidationFailed:     "The request is invalid",
}

func newUpdateError(err error) *ErrorDetail {
	switch {
	case errors.Is(err, errInactive):
		return &ErrorDetail{Code: codeSessionInactive, Message: err.Error()}
	case errors.Is(err, errUnknownEvent):
		return &ErrorDetail{Code: codeUnknownEvent, Message: err.Error()}
	}

	code := service.ErrorCode(err)
	message, ok := messages[code]
	if !ok {
		message = "Something went wrong, please try again"
	}
	return &ErrorDetail{Code: code, Message: message}
}
