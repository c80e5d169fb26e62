package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the evaluation API.
type Config struct {
	AppName            string
	AppEnv             string
	AppPort            string
	DatabaseDriver     string
	DatabaseURL        string
	RedisURL           string
	NATSURL            string
	EventsChannel      string
	JWTSecret          string
	JWTTTL             time.Duration
	AttemptCacheTTL    time.Duration
	EvaluationCooldown time.Duration
	SessionTick        time.Duration
	AIProvider         string
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIBaseURL      string
	ReportNarrate      bool
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EVAL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Eval API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("events.channel", "gema:eval")
	v.SetDefault("jwt.ttl", "6h")
	v.SetDefault("attempt.cache_ttl", "1m")
	v.SetDefault("evaluation.cooldown", "10s")
	v.SetDefault("session.tick", "1s")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("report.narrate", false)

	durations := map[string]*time.Duration{}
	cfg := Config{
		AppName:        v.GetString("app.name"),
		AppEnv:         v.GetString("app.env"),
		AppPort:        v.GetString("app.port"),
		DatabaseDriver: strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:    v.GetString("database.url"),
		RedisURL:       v.GetString("redis.url"),
		NATSURL:        v.GetString("nats.url"),
		EventsChannel:  v.GetString("events.channel"),
		JWTSecret:      v.GetString("jwt.secret"),
		AIProvider:     strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:   v.GetString("openai.api_key"),
		OpenAIModel:    v.GetString("openai.model"),
		OpenAIBaseURL:  v.GetString("openai.base_url"),
		ReportNarrate:  v.GetBool("report.narrate"),
	}
	durations["jwt.ttl"] = &cfg.JWTTTL
	durations["attempt.cache_ttl"] = &cfg.AttemptCacheTTL
	durations["evaluation.cooldown"] = &cfg.EvaluationCooldown
	durations["session.tick"] = &cfg.SessionTick

	for key, target := range durations {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		if parsed <= 0 {
			return Config{}, fmt.Errorf("invalid %s: must be positive", key)
		}
		*target = parsed
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("database url must be provided")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	return cfg, nil
}
