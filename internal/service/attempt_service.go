package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-eval-api/internal/dto"
	"github.com/noah-isme/gema-eval-api/internal/models"
	"github.com/noah-isme/gema-eval-api/internal/repository"
)

// AttemptService resolves attempt codes into a renderable evaluation.
type AttemptService interface {
	Resolve(ctx context.Context, code, email string) (dto.AttemptResponse, error)
}

type attemptService struct {
	attempts    repository.AttemptRepository
	submissions repository.SubmissionRepository
	cache       *redis.Client
	cacheTTL    time.Duration
	logger      zerolog.Logger
}

// NewAttemptService constructs the attempt resolution service. cache may be nil.
func NewAttemptService(attempts repository.AttemptRepository, submissions repository.SubmissionRepository, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) AttemptService {
	return &attemptService{
		attempts:    attempts,
		submissions: submissions,
		cache:       cache,
		cacheTTL:    ttl,
		logger:      logger.With().Str("component", "attempt_service").Logger(),
	}
}

// Resolve looks an attempt up by code. Whitespace is ignored for the length check only; the lookup
// matches the code exactly as given. The time window is not checked here.
func (s *attemptService) Resolve(ctx context.Context, code, email string) (dto.AttemptResponse, error) {
	if len(strings.TrimSpace(code)) < MinCodeLength {
		return dto.AttemptResponse{}, ErrInvalidCode
	}

	response, err := s.load(ctx, code)
	if err != nil {
		return dto.AttemptResponse{}, err
	}

	email = normalizeEmail(email)
	if email != "" {
		submitted, err := s.submissions.HasSubmitted(ctx, response.ID, email)
		if err != nil {
			return dto.AttemptResponse{}, fmt.Errorf("check submission state: %w", err)
		}
		if submitted {
			return dto.AttemptResponse{}, ErrAlreadySubmitted
		}
	}

	return response, nil
}

func (s *attemptService) load(ctx context.Context, code string) (dto.AttemptResponse, error) {
	cacheKey := fmt.Sprintf("attempt:code:%s", code)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var response dto.AttemptResponse
			if unmarshalErr := json.Unmarshal([]byte(cached), &response); unmarshalErr == nil {
				s.logger.Debug().Str("code", code).Msg("attempt cache hit")
				return response, nil
			}
		} else if err != redis.Nil {
			s.logger.Warn().Err(err).Msg("failed to read attempt cache")
		}
	}

	attempt, err := s.attempts.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.AttemptResponse{}, ErrAttemptNotFound
		}
		return dto.AttemptResponse{}, fmt.Errorf("load attempt: %w", err)
	}

	if err := checkComplete(attempt); err != nil {
		return dto.AttemptResponse{}, err
	}

	response := dto.NewAttemptResponse(attempt)

	if s.cache != nil {
		if payload, err := json.Marshal(response); err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store attempt cache")
			}
		}
	}

	return response, nil
}

// checkComplete rejects attempts whose evaluation or window is missing.
func checkComplete(attempt models.Attempt) error {
	if attempt.Evaluation.ID == 0 || len(attempt.Evaluation.Questions) == 0 {
		return ErrIncompleteData
	}
	if attempt.StartTime.IsZero() || attempt.EndTime.IsZero() || !attempt.EndTime.After(attempt.StartTime) {
		return ErrIncompleteData
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
