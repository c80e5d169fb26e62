package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// EventSubmissionFinalized is the type of the event published after a successful finalization.
const EventSubmissionFinalized = "submission.finalized"

// SubmissionEvent is broadcast to other services when a submission changes state.
type SubmissionEvent struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"`
	Source          string    `json:"source"`
	SubmissionID    uint      `json:"submission_id"`
	AttemptID       uint      `json:"attempt_id"`
	Score           float64   `json:"score"`
	FraudAttempts   int       `json:"fraud_attempts"`
	TimeOutsideEval int       `json:"time_outside_eval"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// EventPublisher delivers submission events to the configured brokers.
type EventPublisher interface {
	Publish(ctx context.Context, event SubmissionEvent) error
}

type brokerPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	nodeID       string
	logger       zerolog.Logger
}

// NewEventPublisher publishes to Redis pub/sub and NATS. Either client may be nil.
func NewEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) EventPublisher {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":submissions"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".submissions"
	}

	return &brokerPublisher{
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		nodeID:       uuid.NewString(),
		logger:       logger.With().Str("component", "event_publisher").Logger(),
	}
}

// RedisChannel returns the pub/sub channel used for events of the given type.
func RedisChannel(channelBase, eventType string) string {
	return channelBase + ":submissions:" + strings.TrimPrefix(eventType, "submission.")
}

func (p *brokerPublisher) Publish(ctx context.Context, event SubmissionEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Source = p.nodeID

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	suffix := strings.TrimPrefix(event.Type, "submission.")
	var errs []error
	if p.redis != nil && p.redisChannel != "" {
		if err := p.redis.Publish(ctx, p.redisChannel+":"+suffix, payload).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis publish: %w", err))
		}
	}
	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject+"."+suffix, payload); err != nil {
			errs = append(errs, fmt.Errorf("nats publish: %w", err))
		}
	}

	if len(errs) == 0 {
		p.logger.Debug().Str("type", event.Type).Uint("submission_id", event.SubmissionID).Msg("event published")
	}
	return errors.Join(errs...)
}
