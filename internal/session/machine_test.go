package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/service"
)

var windowStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type saveCall struct {
	questionID uint
	req        dto.AnswerSaveRequest
}

type fakeBackend struct {
	mu          sync.Mutex
	attempt     dto.AttemptResponse
	resolveErr  error
	startErr    error
	submitErr   error
	evaluateErr error
	stored      []dto.AnswerResponse
	saves       []saveCall
	starts      int
	evaluations int
	submits     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		attempt: dto.AttemptResponse{
			ID:         7,
			UniqueCode: "ABC123",
			StartTime:  windowStart,
			EndTime:    windowStart.Add(time.Hour),
			Evaluation: dto.EvaluationResponse{
				ID:    3,
				Title: "Midterm",
				Questions: []dto.QuestionResponse{
					{ID: 11, Position: 1, Type: string(models.QuestionTypeText), Text: "Explain closures"},
					{ID: 12, Position: 2, Type: string(models.QuestionTypeCode), Text: "Reverse a list"},
				},
			},
		},
	}
}

func (b *fakeBackend) ResolveAttempt(ctx context.Context, code, email string) (dto.AttemptResponse, error) {
	if b.resolveErr != nil {
		return dto.AttemptResponse{}, b.resolveErr
	}
	return b.attempt, nil
}

func (b *fakeBackend) Start(ctx context.Context, req dto.SubmissionStartRequest) (dto.SubmissionStartResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	if b.startErr != nil {
		return dto.SubmissionStartResponse{}, b.startErr
	}
	return dto.SubmissionStartResponse{
		Submission: dto.SubmissionResponse{ID: 42, AttemptID: req.AttemptID, Email: req.Email, FraudAttempts: 2, TimeOutsideEval: 30},
		Token:      "token",
	}, nil
}

func (b *fakeBackend) ListAnswers(ctx context.Context, submissionID uint) ([]dto.AnswerResponse, error) {
	return b.stored, nil
}

func (b *fakeBackend) SaveAnswer(ctx context.Context, submissionID, questionID uint, req dto.AnswerSaveRequest) (dto.AnswerSaveResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves = append(b.saves, saveCall{questionID: questionID, req: req})
	return dto.AnswerSaveResponse{
		Answer: dto.AnswerResponse{SubmissionID: submissionID, QuestionID: questionID, Answer: req.Answer, Score: req.Score},
	}, nil
}

func (b *fakeBackend) Evaluate(ctx context.Context, submissionID, questionID uint) (dto.EvaluateResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluations++
	if b.evaluateErr != nil {
		return dto.EvaluateResponse{}, b.evaluateErr
	}
	return dto.EvaluateResponse{QuestionID: questionID, IsCorrect: true, Grade: 4, Feedback: "good", SubmissionScore: 2}, nil
}

func (b *fakeBackend) Submit(ctx context.Context, submissionID uint) (dto.SubmitResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	if b.submitErr != nil {
		return dto.SubmitResponse{}, b.submitErr
	}
	score := 2.0
	return dto.SubmitResponse{
		Submission: dto.SubmissionResponse{ID: submissionID, Score: &score},
		Report:     "eyJzdHVkZW50X25hbWUiOiJBZGEifQ==",
	}, nil
}

func (b *fakeBackend) lastSave() saveCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.saves[len(b.saves)-1]
}

type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) emit(update Update) {
	r.mu.Lock()
	r.updates = append(r.updates, update)
	r.mu.Unlock()
}

func (r *recorder) last() Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updates[len(r.updates)-1]
}

func (r *recorder) ofType(kind UpdateType) []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Update
	for _, update := range r.updates {
		if update.Type == kind {
			out = append(out, update)
		}
	}
	return out
}

func newTestMachine(t *testing.T, backend Backend, clock *fakeClock) (*Machine, *recorder) {
	t.Helper()
	rec := &recorder{}
	machine := NewMachine(backend, Identity{Code: "ABC123", Email: "ada@example.com", FirstName: "Ada"}, Options{
		Clock:  clock.Now,
		Logger: zerolog.Nop(),
		Emit:   rec.emit,
	})
	return machine, rec
}

func loadedMachine(t *testing.T) (*Machine, *fakeBackend, *fakeClock, *recorder) {
	t.Helper()
	backend := newFakeBackend()
	clock := &fakeClock{now: windowStart.Add(10 * time.Minute)}
	machine, rec := newTestMachine(t, backend, clock)
	require.NoError(t, machine.Load(context.Background()))
	require.Equal(t, StateActive, machine.State())
	return machine, backend, clock, rec
}

func TestLoadRestoresSubmission(t *testing.T) {
	backend := newFakeBackend()
	saved, zeroFilled := 3.5, 0.0
	backend.stored = []dto.AnswerResponse{
		{QuestionID: 11, Answer: "a draft", Score: &zeroFilled},
		{QuestionID: 12, Answer: "return xs[::-1]", Score: &saved, Evaluated: true},
	}
	clock := &fakeClock{now: windowStart.Add(10 * time.Minute)}
	machine, rec := newTestMachine(t, backend, clock)

	require.NoError(t, machine.Load(context.Background()))

	require.Equal(t, StateActive, machine.State())
	require.Equal(t, uint(42), machine.SubmissionID())
	fraud, away := machine.Counters()
	require.Equal(t, 2, fraud)
	require.Equal(t, 30, away)

	snapshot := rec.last()
	require.Equal(t, UpdateSnapshot, snapshot.Type)
	require.Equal(t, 50*60, snapshot.RemainingSeconds)
	require.NotNil(t, snapshot.Attempt)
	require.Len(t, snapshot.Answers, 2)
	require.Equal(t, "a draft", snapshot.Answers[0].Answer)
	require.False(t, snapshot.Answers[0].Evaluated, "a zero-filled score is not an evaluation")
	require.Equal(t, "return xs[::-1]", snapshot.Answers[1].Answer)
	require.True(t, snapshot.Answers[1].Evaluated)
}

func TestLoadAfterWindowClosed(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{now: windowStart.Add(3601 * time.Second)}
	machine, rec := newTestMachine(t, backend, clock)

	err := machine.Load(context.Background())
	require.ErrorIs(t, err, service.ErrExpiredOrNotStarted)
	require.Equal(t, StateExpired, machine.State())
	require.Zero(t, backend.starts)

	update := rec.last()
	require.Equal(t, UpdateError, update.Type)
	require.Equal(t, service.CodeExpiredOrNotStarted, update.Error.Code)
}

func TestLoadBeforeWindowOpens(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{now: windowStart.Add(-time.Minute)}
	machine, _ := newTestMachine(t, backend, clock)

	require.ErrorIs(t, machine.Load(context.Background()), service.ErrExpiredOrNotStarted)
	require.Equal(t, StateExpired, machine.State())
}

func TestLoadAlreadySubmitted(t *testing.T) {
	backend := newFakeBackend()
	backend.resolveErr = service.ErrAlreadySubmitted
	clock := &fakeClock{now: windowStart.Add(time.Minute)}
	machine, rec := newTestMachine(t, backend, clock)

	require.ErrorIs(t, machine.Load(context.Background()), service.ErrAlreadySubmitted)
	require.Equal(t, StateSubmitted, machine.State())
	require.True(t, rec.last().AlreadySubmitted)
}

func TestLoadInvalidCodeStaysLoading(t *testing.T) {
	backend := newFakeBackend()
	backend.resolveErr = service.ErrInvalidCode
	clock := &fakeClock{now: windowStart.Add(time.Minute)}
	machine, rec := newTestMachine(t, backend, clock)

	require.ErrorIs(t, machine.Load(context.Background()), service.ErrInvalidCode)
	require.Equal(t, StateLoading, machine.State())
	require.Equal(t, service.CodeInvalidCode, rec.last().Error.Code)
}

func TestAnswerAutosavesWithCounters(t *testing.T) {
	machine, backend, _, rec := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventAnswer, QuestionID: 12, Answer: "def rev(xs): return xs[::-1]"})

	call := backend.lastSave()
	require.Equal(t, uint(12), call.questionID)
	require.Equal(t, "def rev(xs): return xs[::-1]", call.req.Answer)
	require.Equal(t, 2, *call.req.FraudAttempts)
	require.Equal(t, 30, *call.req.TimeOutsideEval)
	require.Equal(t, UpdateSaved, rec.last().Type)
}

func TestAnswerUnknownQuestion(t *testing.T) {
	machine, backend, _, rec := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventAnswer, QuestionID: 99, Answer: "x"})

	require.Empty(t, backend.saves)
	require.Equal(t, service.CodeNotFound, rec.last().Error.Code)
}

func TestVisibilityTracksTimeOutside(t *testing.T) {
	machine, backend, clock, _ := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventVisibility, Hidden: true})
	clock.Advance(12*time.Second + 400*time.Millisecond)
	machine.Handle(context.Background(), Event{Type: EventVisibility, Hidden: false})

	fraud, away := machine.Counters()
	require.Equal(t, 3, fraud)
	require.Equal(t, 42, away)

	call := backend.lastSave()
	require.Equal(t, uint(11), call.questionID)
	require.Equal(t, 3, *call.req.FraudAttempts)
	require.Equal(t, 42, *call.req.TimeOutsideEval)
}

func TestVisibilityIgnoresRepeatedHidden(t *testing.T) {
	machine, backend, clock, _ := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventVisibility, Hidden: true})
	clock.Advance(2 * time.Second)
	machine.Handle(context.Background(), Event{Type: EventVisibility, Hidden: true})
	machine.Handle(context.Background(), Event{Type: EventVisibility, Hidden: false})
	machine.Handle(context.Background(), Event{Type: EventVisibility, Hidden: false})

	fraud, away := machine.Counters()
	require.Equal(t, 3, fraud)
	require.Equal(t, 32, away)
	require.Len(t, backend.saves, 2)
}

func TestVisibilityPersistsOnDisplayedQuestion(t *testing.T) {
	machine, backend, _, _ := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventAnswer, QuestionID: 12, Answer: "print(1)"})
	machine.Handle(context.Background(), Event{Type: EventNavigate, Index: 1})
	machine.Handle(context.Background(), Event{Type: EventVisibility, Hidden: true})

	call := backend.lastSave()
	require.Equal(t, uint(12), call.questionID)
	require.Equal(t, "print(1)", call.req.Answer)
}

func TestNavigateOutOfRange(t *testing.T) {
	machine, _, _, rec := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventNavigate, Index: 5})

	require.Equal(t, UpdateError, rec.last().Type)
	require.Equal(t, 0, rec.last().QuestionIndex)
}

func TestEvaluateCooldownPerQuestion(t *testing.T) {
	machine, backend, clock, rec := loadedMachine(t)
	ctx := context.Background()

	machine.Handle(ctx, Event{Type: EventAnswer, QuestionID: 11, Answer: "A closure captures variables"})
	machine.Handle(ctx, Event{Type: EventEvaluate, QuestionID: 11})
	require.Equal(t, 1, backend.evaluations)
	evaluated := rec.last()
	require.Equal(t, UpdateEvaluated, evaluated.Type)
	require.Equal(t, 4.0, evaluated.Evaluation.Grade)

	clock.Advance(5 * time.Second)
	machine.Handle(ctx, Event{Type: EventEvaluate, QuestionID: 11})
	require.Equal(t, 1, backend.evaluations)
	rejected := rec.last()
	require.Equal(t, service.CodeEvaluationCooldown, rejected.Error.Code)
	require.Equal(t, 5, rejected.CooldownSeconds)

	machine.Handle(ctx, Event{Type: EventAnswer, QuestionID: 12, Answer: "xs[::-1]"})
	machine.Handle(ctx, Event{Type: EventEvaluate, QuestionID: 12})
	require.Equal(t, 2, backend.evaluations)

	clock.Advance(5 * time.Second)
	machine.Handle(ctx, Event{Type: EventEvaluate, QuestionID: 11})
	require.Equal(t, 3, backend.evaluations)
}

func TestEvaluateEmptyAnswerSkipsBackend(t *testing.T) {
	machine, backend, _, rec := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventAnswer, QuestionID: 11, Answer: "   "})
	machine.Handle(context.Background(), Event{Type: EventEvaluate, QuestionID: 11})

	require.Zero(t, backend.evaluations)
	require.Equal(t, service.CodeEmptyAnswer, rec.last().Error.Code)
}

func TestEvaluateFailureDoesNotStartCooldown(t *testing.T) {
	machine, backend, _, rec := loadedMachine(t)
	backend.evaluateErr = service.ErrEvaluatorUnavailable

	machine.Handle(context.Background(), Event{Type: EventAnswer, QuestionID: 11, Answer: "answer"})
	machine.Handle(context.Background(), Event{Type: EventEvaluate, QuestionID: 11})
	require.Equal(t, service.CodeEvaluatorUnavailable, rec.last().Error.Code)

	backend.evaluateErr = nil
	machine.Handle(context.Background(), Event{Type: EventEvaluate, QuestionID: 11})
	require.Equal(t, 2, backend.evaluations)
	require.Equal(t, UpdateEvaluated, rec.last().Type)
}

func TestSubmitFinalizes(t *testing.T) {
	machine, backend, _, rec := loadedMachine(t)

	machine.Handle(context.Background(), Event{Type: EventSubmit})

	require.Equal(t, StateSubmitted, machine.State())
	require.Equal(t, 1, backend.submits)
	require.NotEmpty(t, machine.Report())
	require.Len(t, rec.ofType(UpdateSubmitted), 1)

	machine.Handle(context.Background(), Event{Type: EventAnswer, QuestionID: 11, Answer: "late"})
	require.Equal(t, "SESSION_INACTIVE", rec.last().Error.Code)
	require.Equal(t, 1, backend.submits)
}

func TestSubmitFailureReturnsToActive(t *testing.T) {
	machine, backend, _, rec := loadedMachine(t)
	backend.submitErr = errors.New("database unavailable")

	machine.Handle(context.Background(), Event{Type: EventSubmit})

	require.Equal(t, StateActive, machine.State())
	require.Equal(t, service.CodeInternal, rec.last().Error.Code)
}

func TestTickCountsDown(t *testing.T) {
	machine, _, clock, rec := loadedMachine(t)

	clock.Advance(1500 * time.Millisecond)
	machine.Tick(context.Background())

	tick := rec.last()
	require.Equal(t, UpdateTick, tick.Type)
	require.Equal(t, 50*60-1, tick.RemainingSeconds)
}

func TestTickAutoSubmitsOnce(t *testing.T) {
	machine, backend, clock, rec := loadedMachine(t)

	clock.Advance(50 * time.Minute)
	machine.Tick(context.Background())
	machine.Tick(context.Background())

	require.Equal(t, StateSubmitted, machine.State())
	require.Equal(t, 1, backend.submits)
	require.Len(t, rec.ofType(UpdateSubmitted), 1)
}

func TestTickAutoSubmitFailureExpires(t *testing.T) {
	machine, backend, clock, _ := loadedMachine(t)
	backend.submitErr = service.ErrExpiredOrNotStarted

	clock.Advance(time.Hour)
	machine.Tick(context.Background())
	machine.Tick(context.Background())

	require.Equal(t, StateExpired, machine.State())
	require.Equal(t, 1, backend.submits)
}

func TestRunStopsAfterSubmit(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{now: windowStart.Add(time.Minute)}
	rec := &recorder{}
	machine := NewMachine(backend, Identity{Code: "ABC123", Email: "ada@example.com", FirstName: "Ada"}, Options{
		Tick:   time.Hour,
		Clock:  clock.Now,
		Logger: zerolog.Nop(),
		Emit:   rec.emit,
	})

	events := make(chan Event, 2)
	events <- Event{Type: EventAnswer, QuestionID: 11, Answer: "closures capture scope"}
	events <- Event{Type: EventSubmit}

	require.NoError(t, machine.Run(context.Background(), events))
	require.Equal(t, StateSubmitted, machine.State())
	require.Len(t, backend.saves, 1)
}

func TestRunReturnsNilForTerminalLoad(t *testing.T) {
	backend := newFakeBackend()
	clock := &fakeClock{now: windowStart.Add(2 * time.Hour)}
	machine, _ := newTestMachine(t, backend, clock)

	require.NoError(t, machine.Run(context.Background(), make(chan Event)))
	require.Equal(t, StateExpired, machine.State())
}
