package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/pkg/report"
)

const testSecret = "test-secret"

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func floatPointer(v float64) *float64 {
	return &v
}

func intPointer(v int) *int {
	return &v
}

func uintPointer(v uint) *uint {
	return &v
}

func setupServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.All()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

type fixture struct {
	attempt   models.Attempt
	textQ     models.Question
	codeQ     models.Question
	windowEnd time.Time
}

// seedEvaluation stores an evaluation with one TEXT and one python CODE question
// and an attempt whose window is [start, start+1h].
func seedEvaluation(t *testing.T, db *gorm.DB, code string, start time.Time) fixture {
	t.Helper()
	evaluation := models.Evaluation{
		Title: "Python fundamentals",
		Questions: []models.Question{
			{Position: 1, Type: models.QuestionTypeText, Text: "What does a list comprehension return?"},
			{Position: 2, Type: models.QuestionTypeCode, Text: "Write fizzbuzz", Metadata: datatypes.JSON(`{"language":"python"}`)},
		},
	}
	attempts := []models.Attempt{{UniqueCode: code, StartTime: start, EndTime: start.Add(time.Hour)}}
	require.NoError(t, repository.NewEvaluationRepository(db).CreateWithAttempts(context.Background(), &evaluation, attempts))

	attempt, err := repository.NewAttemptRepository(db).GetByCode(context.Background(), code)
	require.NoError(t, err)

	return fixture{
		attempt:   attempt,
		textQ:     attempt.Evaluation.Questions[0],
		codeQ:     attempt.Evaluation.Questions[1],
		windowEnd: attempt.EndTime,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []SubmissionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event SubmissionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

type countingGenerator struct {
	mu    sync.Mutex
	inner report.Generator
	calls int
	fail  error
}

func (g *countingGenerator) Generate(ctx context.Context, input report.Input) (report.Report, error) {
	g.mu.Lock()
	g.calls++
	fail := g.fail
	g.mu.Unlock()
	if fail != nil {
		return report.Report{}, fail
	}
	return g.inner.Generate(ctx, input)
}

func (g *countingGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *countingGenerator) failWith(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

type serviceHarness struct {
	db          *gorm.DB
	submissions SubmissionService
	activity    ActivityService
	events      *recordingPublisher
	reports     *countingGenerator
	impl        *submissionService
}

func newServiceHarness(t *testing.T, db *gorm.DB) serviceHarness {
	t.Helper()
	validate := validator.New(validator.WithRequiredStructEnabled())
	activity := NewActivityService(repository.NewActivityLogRepository(db), validate, testLogger())
	events := &recordingPublisher{}
	reports := &countingGenerator{inner: report.NewBuilder(nil, testLogger())}

	svc := NewSubmissionService(SubmissionDeps{
		Attempts:    repository.NewAttemptRepository(db),
		Submissions: repository.NewSubmissionRepository(db),
		Answers:     repository.NewAnswerRepository(db),
		Reports:     reports,
		Tokens:      NewTokenIssuer(testSecret, time.Hour),
		Events:      events,
		Activity:    activity,
		Validator:   validate,
		Logger:      testLogger(),
	})

	return serviceHarness{
		db:          db,
		submissions: svc,
		activity:    activity,
		events:      events,
		reports:     reports,
		impl:        svc.(*submissionService),
	}
}
