package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/config"
	"github.com/noah-isme/gema-eval-api/internal/database"
	"github.com/noah-isme/gema-eval-api/internal/handler"
	"github.com/noah-isme/gema-eval-api/internal/middleware"
	"github.com/noah-isme/gema-eval-api/internal/repository"
	"github.com/noah-isme/gema-eval-api/internal/router"
	"github.com/noah-isme/gema-eval-api/internal/service"
	"github.com/noah-isme/gema-eval-api/internal/session"
	"github.com/noah-isme/gema-eval-api/pkg/ai"
	"github.com/noah-isme/gema-eval-api/pkg/report"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gema-eval",
		Short:         "Online evaluation API: attempts, submissions, AI grading and reports",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serve := serveCmd()
	root.AddCommand(serve, migrateCmd(), seedCmd())
	root.RunE = serve.RunE

	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE:  runServe,
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := bootstrap()
			if err != nil {
				return err
			}
			db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			logger.Info().Str("driver", cfg.DatabaseDriver).Msg("database migrated")
			return nil
		},
	}
}

func bootstrap() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Logger{}, fmt.Errorf("load configuration: %w", err)
	}

	level := zerolog.InfoLevel
	if cfg.AppEnv == "development" {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", cfg.AppName).Logger()
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}

	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis not configured, attempt cache and shared cooldowns disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer natsConn.Close()
	}

	grader, narrator, err := buildAI(cfg, logger)
	if err != nil {
		return err
	}

	app := buildApp(cfg, logger, db, redisClient, natsConn, grader, narrator)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Msg("server listening")
		errCh <- app.Listen(cfg.HTTPAddress())
	}()

	return waitForShutdown(cmd.Context(), app, logger, errCh)
}

func buildAI(cfg config.Config, logger zerolog.Logger) (ai.Grader, ai.Narrator, error) {
	if cfg.AIProvider != "openai" || cfg.OpenAIAPIKey == "" {
		logger.Warn().Str("provider", cfg.AIProvider).Msg("ai grading disabled")
		return ai.Unavailable{}, nil, nil
	}

	client, err := ai.NewOpenAIGrader(ai.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("configure openai: %w", err)
	}

	var narrator ai.Narrator
	if cfg.ReportNarrate {
		narrator = client
	}
	return client, narrator, nil
}

func buildApp(cfg config.Config, logger zerolog.Logger, db *gorm.DB, redisClient *redis.Client, natsConn *nats.Conn, grader ai.Grader, narrator ai.Narrator) *fiber.App {
	validate := validator.New(validator.WithRequiredStructEnabled())

	attemptRepo := repository.NewAttemptRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	answerRepo := repository.NewAnswerRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	var cooldown service.Cooldown = service.NewMemoryCooldown()
	if redisClient != nil {
		cooldown = service.NewRedisCooldown(redisClient, cfg.EventsChannel+":cooldown")
	}

	activityService := service.NewActivityService(activityRepo, validate, logger)
	attemptService := service.NewAttemptService(attemptRepo, submissionRepo, redisClient, cfg.AttemptCacheTTL, logger)
	submissionService := service.NewSubmissionService(service.SubmissionDeps{
		Attempts:    attemptRepo,
		Submissions: submissionRepo,
		Answers:     answerRepo,
		Reports:     report.NewBuilder(narrator, logger),
		Tokens:      service.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Events:      service.NewEventPublisher(redisClient, natsConn, cfg.EventsChannel, logger),
		Activity:    activityService,
		Validator:   validate,
		Logger:      logger,
	})
	gradingService := service.NewGradingService(submissionRepo, answerRepo, submissionService, grader, cooldown, cfg.EvaluationCooldown, activityService, logger)

	sessionServer := session.NewServer(
		session.NewServiceBackend(attemptService, submissionService, gradingService),
		cfg.SessionTick,
		cfg.EvaluationCooldown,
		logger,
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{
		Logger:    &logger,
		AccessLog: cfg.AppEnv == "development",
	})
	router.Register(app, cfg, router.Dependencies{
		AttemptHandler:    handler.NewAttemptHandler(attemptService, logger),
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		GradingHandler:    handler.NewGradingHandler(gradingService, logger),
		ActivityHandler:   handler.NewActivityHandler(activityService, logger),
		SessionHandler:    handler.NewSessionHandler(sessionServer, logger),
		AuthMiddleware:    middleware.SubmissionToken(cfg.JWTSecret),
		DB:                db,
		Redis:             redisClient,
	})

	return app
}

func waitForShutdown(parent context.Context, app *fiber.App, logger zerolog.Logger, errCh <-chan error) error {
	if parent == nil {
		parent = context.Background()
	}
	shutdownCtx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		return nil
	case <-shutdownCtx.Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
