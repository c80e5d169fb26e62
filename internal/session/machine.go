// Package session runs the exam-taking state machine for one connected student.
//
// A Machine owns every piece of session state (current question, counters, cooldowns, timer) and is
// driven by a single goroutine: Run multiplexes client events and the timer tick. Load, Handle and
// Tick are exported so the machine can be stepped synchronously with an injected clock.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/service"
)

// State is the lifecycle position of a session.
type State string

const (
	StateLoading    State = "loading"
	StateActive     State = "active"
	StateExpired    State = "expired"
	StateSubmitting State = "submitting"
	StateSubmitted  State = "submitted"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateExpired || s == StateSubmitted
}

const (
	defaultTick     = time.Second
	defaultCooldown = 10 * time.Second
)

// Identity is what the student types on the landing form.
type Identity struct {
	Code      string
	Email     string
	FirstName string
	LastName  string
}

// Options configures a Machine.
type Options struct {
	Tick     time.Duration
	Cooldown time.Duration
	Clock    func() time.Time
	Logger   zerolog.Logger
	// Emit receives every Update. It is called from the goroutine driving the machine.
	Emit func(Update)
}

type answerState struct {
	text      string
	score     *float64
	evaluated bool
}

// Machine is the per-connection exam session.
type Machine struct {
	backend  Backend
	identity Identity
	tick     time.Duration
	cooldown time.Duration
	clock    func() time.Time
	emit     func(Update)
	logger   zerolog.Logger

	state            State
	attempt          dto.AttemptResponse
	submissionID     uint
	answers          map[uint]*answerState
	current          int
	fraudAttempts    int
	timeOutside      int
	hiddenAt         *time.Time
	lastEvaluation   map[uint]time.Time
	autoSubmitted    bool
	alreadySubmitted bool
	report           string
}

// NewMachine builds a machine in the Loading state.
func NewMachine(backend Backend, identity Identity, opts Options) *Machine {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.Cooldown <= 0 {
		opts.Cooldown = defaultCooldown
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Emit == nil {
		opts.Emit = func(Update) {}
	}

	return &Machine{
		backend:        backend,
		identity:       identity,
		tick:           opts.Tick,
		cooldown:       opts.Cooldown,
		clock:          opts.Clock,
		emit:           opts.Emit,
		logger:         opts.Logger.With().Str("component", "exam_session").Logger(),
		state:          StateLoading,
		answers:        make(map[uint]*answerState),
		lastEvaluation: make(map[uint]time.Time),
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return m.state
}

// SubmissionID returns the bootstrapped submission, zero before Load succeeds.
func (m *Machine) SubmissionID() uint {
	return m.submissionID
}

// Counters returns the fraud counter and the whole seconds spent outside the exam.
func (m *Machine) Counters() (fraudAttempts, timeOutside int) {
	return m.fraudAttempts, m.timeOutside
}

// Report returns the Base64 report received on finalization.
func (m *Machine) Report() string {
	return m.report
}

// Run loads the session and then processes events and ticks until a terminal state,
// the events channel closes or ctx is cancelled.
func (m *Machine) Run(ctx context.Context, events <-chan Event) error {
	if err := m.Load(ctx); err != nil {
		if m.state.Terminal() {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for !m.state.Terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return nil
			}
			m.Handle(ctx, event)
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
	return nil
}

// Load resolves the attempt, bootstraps the submission and restores saved answers.
// Terminal outcomes (already submitted, outside the window) move the machine to its terminal state
// and are returned as errors as well.
func (m *Machine) Load(ctx context.Context) error {
	if m.state != StateLoading {
		return nil
	}

	attempt, err := m.backend.ResolveAttempt(ctx, m.identity.Code, m.identity.Email)
	if err != nil {
		return m.loadFailed(err)
	}
	m.attempt = attempt

	now := m.clock()
	if now.Before(attempt.StartTime) || now.After(attempt.EndTime) {
		return m.loadFailed(service.ErrExpiredOrNotStarted)
	}

	started, err := m.backend.Start(ctx, dto.SubmissionStartRequest{
		AttemptID: attempt.ID,
		Email:     m.identity.Email,
		FirstName: m.identity.FirstName,
		LastName:  m.identity.LastName,
	})
	if err != nil {
		return m.loadFailed(err)
	}
	m.submissionID = started.Submission.ID
	m.fraudAttempts = started.Submission.FraudAttempts
	m.timeOutside = started.Submission.TimeOutsideEval

	for _, question := range attempt.Evaluation.Questions {
		m.answers[question.ID] = &answerState{}
	}

	saved, err := m.backend.ListAnswers(ctx, m.submissionID)
	if err != nil {
		return m.loadFailed(err)
	}
	for _, answer := range saved {
		if state, ok := m.answers[answer.QuestionID]; ok {
			state.text = answer.Answer
			state.score = answer.Score
			state.evaluated = answer.Evaluated
		}
	}

	m.state = StateActive
	m.logger.Info().Uint("submission_id", m.submissionID).Uint("attempt_id", attempt.ID).Msg("exam session active")
	m.emit(m.snapshot(UpdateSnapshot))
	return nil
}

func (m *Machine) loadFailed(err error) error {
	switch {
	case errors.Is(err, service.ErrAlreadySubmitted):
		m.state = StateSubmitted
		m.alreadySubmitted = true
	case errors.Is(err, service.ErrExpiredOrNotStarted):
		m.state = StateExpired
	}
	update := m.snapshot(UpdateError)
	update.Error = newUpdateError(err)
	m.emit(update)
	return err
}

// Handle applies one client event. Errors are reported through Emit, never returned.
func (m *Machine) Handle(ctx context.Context, event Event) {
	if m.state != StateActive {
		m.reject(event, errInactive)
		return
	}

	switch event.Type {
	case EventAnswer:
		m.handleAnswer(ctx, event)
	case EventNavigate:
		m.handleNavigate(event)
	case EventVisibility:
		m.handleVisibility(ctx, event)
	case EventEvaluate:
		m.handleEvaluate(ctx, event)
	case EventSubmit:
		m.submit(ctx)
	default:
		m.reject(event, errUnknownEvent)
	}
}

// Tick advances the countdown. At zero the session is submitted exactly once.
func (m *Machine) Tick(ctx context.Context) {
	if m.state != StateActive {
		return
	}

	remaining := m.remaining()
	if remaining > 0 {
		update := m.base(UpdateTick)
		m.emit(update)
		return
	}

	if m.autoSubmitted {
		return
	}
	m.autoSubmitted = true
	m.logger.Info().Uint("submission_id", m.submissionID).Msg("time is up, submitting")
	if !m.submit(ctx) {
		m.state = StateExpired
		m.emit(m.base(UpdateState))
	}
}

func (m *Machine) handleAnswer(ctx context.Context, event Event) {
	questionID, ok := m.resolveQuestion(event)
	if !ok {
		m.reject(event, service.ErrQuestionNotFound)
		return
	}

	state := m.answers[questionID]
	if state.text != event.Answer {
		state.evaluated = false
	}
	state.text = event.Answer

	m.persist(ctx, event, questionID)
}

func (m *Machine) handleNavigate(event Event) {
	if event.Index < 0 || event.Index >= len(m.attempt.Evaluation.Questions) {
		m.reject(event, service.ErrQuestionNotFound)
		return
	}
	m.current = event.Index
	m.emit(m.base(UpdateState))
}

func (m *Machine) handleVisibility(ctx context.Context, event Event) {
	now := m.clock()
	if event.Hidden {
		if m.hiddenAt != nil {
			return
		}
		m.hiddenAt = &now
		m.fraudAttempts++
	} else {
		if m.hiddenAt == nil {
			return
		}
		away := int(now.Sub(*m.hiddenAt) / time.Second)
		if away > 0 {
			m.timeOutside += away
		}
		m.hiddenAt = nil
	}

	if len(m.attempt.Evaluation.Questions) == 0 {
		return
	}
	m.persist(ctx, event, m.attempt.Evaluation.Questions[m.current].ID)
}

func (m *Machine) handleEvaluate(ctx context.Context, event Event) {
	questionID, ok := m.resolveQuestion(event)
	if !ok {
		m.reject(event, service.ErrQuestionNotFound)
		return
	}

	state := m.answers[questionID]
	if strings.TrimSpace(state.text) == "" {
		m.reject(event, service.ErrEmptyAnswer)
		return
	}

	now := m.clock()
	if last, ok := m.lastEvaluation[questionID]; ok {
		if wait := m.cooldown - now.Sub(last); wait > 0 {
			update := m.base(UpdateError)
			update.QuestionID = questionID
			update.Error = newUpdateError(service.ErrEvaluationCooldown)
			update.CooldownSeconds = ceilSeconds(wait)
			m.emit(update)
			return
		}
	}

	if !m.persist(ctx, event, questionID) {
		return
	}

	result, err := m.backend.Evaluate(ctx, m.submissionID, questionID)
	if err != nil {
		m.fail(event, questionID, err)
		return
	}

	m.lastEvaluation[questionID] = m.clock()
	grade := result.Grade
	state.score = &grade
	state.evaluated = true

	update := m.base(UpdateEvaluated)
	update.QuestionID = questionID
	update.Evaluation = &result
	update.Score = &result.SubmissionScore
	update.CooldownSeconds = ceilSeconds(m.cooldown)
	m.emit(update)
}

// persist autosaves the given question with the current counters. It reports success.
func (m *Machine) persist(ctx context.Context, event Event, questionID uint) bool {
	fraud := m.fraudAttempts
	away := m.timeOutside
	saved, err := m.backend.SaveAnswer(ctx, m.submissionID, questionID, dto.AnswerSaveRequest{
		Answer:          m.answers[questionID].text,
		FraudAttempts:   &fraud,
		TimeOutsideEval: &away,
	})
	if err != nil {
		m.fail(event, questionID, err)
		return false
	}

	if saved.Answer.Score != nil {
		m.answers[questionID].score = saved.Answer.Score
	}

	update := m.base(UpdateSaved)
	update.QuestionID = questionID
	update.Score = &saved.SubmissionScore
	m.emit(update)
	return true
}

// submit finalizes through the backend. It reports whether the submission reached Submitted.
func (m *Machine) submit(ctx context.Context) bool {
	m.state = StateSubmitting
	m.emit(m.base(UpdateState))

	result, err := m.backend.Submit(ctx, m.submissionID)
	if err != nil {
		m.logger.Error().Err(err).Uint("submission_id", m.submissionID).Msg("submission failed")
		m.state = StateActive
		update := m.base(UpdateError)
		update.Error = newUpdateError(err)
		m.emit(update)
		return false
	}

	m.state = StateSubmitted
	m.report = result.Report
	m.alreadySubmitted = result.AlreadySubmitted
	update := m.base(UpdateSubmitted)
	update.Report = result.Report
	update.Score = result.Submission.Score
	m.emit(update)
	return true
}

func (m *Machine) fail(event Event, questionID uint, err error) {
	if errors.Is(err, service.ErrAlreadySubmitted) {
		m.state = StateSubmitted
		m.alreadySubmitted = true
	}
	update := m.base(UpdateError)
	update.Event = event.Type
	update.QuestionID = questionID
	update.Error = newUpdateError(err)
	m.emit(update)
}

func (m *Machine) reject(event Event, err error) {
	update := m.base(UpdateError)
	update.Event = event.Type
	update.QuestionID = event.QuestionID
	update.Error = newUpdateError(err)
	m.emit(update)
}

// resolveQuestion picks the event's question, falling back to the one on screen.
func (m *Machine) resolveQuestion(event Event) (uint, bool) {
	questionID := event.QuestionID
	if questionID == 0 {
		if len(m.attempt.Evaluation.Questions) == 0 {
			return 0, false
		}
		questionID = m.attempt.Evaluation.Questions[m.current].ID
	}
	_, ok := m.answers[questionID]
	return questionID, ok
}

func (m *Machine) remaining() time.Duration {
	remaining := m.attempt.EndTime.Sub(m.clock())
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (m *Machine) base(kind UpdateType) Update {
	update := Update{
		Type:             kind,
		State:            m.state,
		SubmissionID:     m.submissionID,
		RemainingSeconds: ceilSeconds(m.remaining()),
		QuestionIndex:    m.current,
		FraudAttempts:    m.fraudAttempts,
		TimeOutsideEval:  m.timeOutside,
		AlreadySubmitted: m.alreadySubmitted,
	}
	if m.attempt.EndTime.IsZero() {
		update.RemainingSeconds = 0
	}
	return update
}

func (m *Machine) snapshot(kind UpdateType) Update {
	update := m.base(kind)
	if m.attempt.ID == 0 {
		return update
	}

	attempt := m.attempt
	update.Attempt = &attempt
	update.Answers = make([]AnswerView, 0, len(m.attempt.Evaluation.Questions))
	for _, question := range m.attempt.Evaluation.Questions {
		state := m.answers[question.ID]
		if state == nil {
			state = &answerState{}
		}
		update.Answers = append(update.Answers, AnswerView{
			QuestionID: question.ID,
			Answer:     state.text,
			Score:      state.score,
			Evaluated:  state.evaluated,
		})
	}
	return update
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
