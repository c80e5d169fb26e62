package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/config"
	"github.com/noah-isme/gema-eval-api/internal/handler"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/internal/router"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/session"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
	"github.com/noah-isme/gema-eval-api/pkg/report"
)

const (
	testSecret  = "handler-secret"
	attemptCode = "EVAL-2026-A"
)

type stubGrader struct {
	mu    sync.Mutex
	calls int
	grade float64
}

func (g *stubGrader) Grade(_ context.Context, input ai.GradingInput) (ai.GradingResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return ai.GradingResult{IsCorrect: g.grade >= 3, Grade: g.grade, Feedback: "<b>Solid</b> answer"}, nil
}

type testApp struct {
	app    *fiber.App
	db     *gorm.DB
	grader *stubGrader
	textQ  models.Question
	codeQ  models.Question
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

func setupApp(t *testing.T) testApp {
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

	start := time.Now().Add(-time.Minute)
	evaluation := models.Evaluation{
		Title: "Go basics",
		Questions: []models.Question{
			{Position: 1, Type: models.QuestionTypeText, Text: "What is a goroutine?"},
			{Position: 2, Type: models.QuestionTypeCode, Text: "Sum a slice", Metadata: datatypes.JSON(`{"language":"go"}`)},
		},
	}
	attempts := []models.Attempt{{UniqueCode: attemptCode, StartTime: start, EndTime: start.Add(time.Hour)}}
	require.NoError(t, repository.NewEvaluationRepository(db).CreateWithAttempts(context.Background(), &evaluation, attempts))

	logger := zerolog.Nop()
	validate := validator.New(validator.WithRequiredStructEnabled())
	grader := &stubGrader{grade: 4}

	attemptRepo := repository.NewAttemptRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	answerRepo := repository.NewAnswerRepository(db)

	activityService := service.NewActivityService(repository.NewActivityLogRepository(db), validate, logger)
	attemptService := service.NewAttemptService(attemptRepo, submissionRepo, nil, time.Minute, logger)
	submissionService := service.NewSubmissionService(service.SubmissionDeps{
		Attempts:    attemptRepo,
		Submissions: submissionRepo,
		Answers:     answerRepo,
		Reports:     report.NewBuilder(nil, logger),
		Tokens:      service.NewTokenIssuer(testSecret, time.Hour),
		Events:      service.NewEventPublisher(nil, nil, "test", logger),
		Activity:    activityService,
		Validator:   validate,
		Logger:      logger,
	})
	gradingService := service.NewGradingService(submissionRepo, answerRepo, submissionService, grader, service.NewMemoryCooldown(), 10*time.Second, activityService, logger)
	backend := session.NewServiceBackend(attemptService, submissionService, gradingService)

	cfg := config.Config{AppName: "GEMA Eval Test", AppEnv: "test", JWTSecret: testSecret}
	app := fiber.New()
	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		AttemptHandler:    handler.NewAttemptHandler(attemptService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		GradingHandler:    handler.NewGradingHandler(gradingService, logger),
		ActivityHandler:   handler.NewActivityHandler(activityService, logger),
		SessionHandler:    handler.NewSessionHandler(session.NewServer(backend, time.Second, 10*time.Second, logger), logger),
		DB:                db,
	})

	stored, err := attemptRepo.GetByCode(context.Background(), attemptCode)
	require.NoError(t, err)

	return testApp{
		app:    app,
		db:     db,
		grader: grader,
		textQ:  stored.Evaluation.Questions[0],
		codeQ:  stored.Evaluation.Questions[1],
	}
}

func (a testApp) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload envelope
	require.NoError(t, json.Unmarshal(raw, &payload), string(raw))
	resp.Body = io.NopCloser(bytes.NewReader(raw))
	return resp, payload
}

type startedSubmission struct {
	Submission struct {
		ID uint `json:"id"`
	} `json:"submission"`
	Token string `json:"token"`
}

func (a testApp) start(t *testing.T, email string) startedSubmission {
	t.Helper()

	attempt, err := repository.NewAttemptRepository(a.db).GetByCode(context.Background(), attemptCode)
	require.NoError(t, err)

	resp, payload := a.do(t, http.MethodPost, "/api/v1/submissions", "", map[string]interface{}{
		"attempt_id": attempt.ID,
		"email":      email,
		"first_name": "Grace",
		"last_name":  "Hopper",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, payload.Message)

	var started startedSubmission
	require.NoError(t, json.Unmarshal(payload.Data, &started))
	require.NotZero(t, started.Submission.ID)
	require.NotEmpty(t, started.Token)
	return started
}

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	path, err := filepath.Abs(filepath.Join("testdata", name))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + filepath.ToSlash(path))
	require.NoError(t, err)
	return schema
}

func validateBody(t *testing.T, schema *jsonschema.Schema, resp *http.Response) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var document interface{}
	require.NoError(t, json.Unmarshal(raw, &document))
	require.NoError(t, schema.Validate(document), string(raw))
}

func startFiberServer(t *testing.T, app *fiber.App) (string, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		if err := app.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Logf("fiber listener stopped: %v", err)
		}
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)

	shutdown := func() {
		_ = app.Shutdown()
		_ = listener.Close()
		select {
		case <-done:
		case <-time.After(100 * time.Millisecond):
		}
	}

	return listener.Addr().String(), shutdown
}
