package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-question-engine/internal/engine"
	"github.com/noah-isme/gema-question-engine/internal/middleware"
	"github.com/noah-isme/gema-question-engine/internal/observability"
)

// Attempt event kinds.
const (
	EventActions  = "actions"
	EventFinished = "finished"
	EventGraded   = "graded"
	EventRegraded = "regraded"
	EventFlagged  = "flagged"
	EventDeleted  = "deleted"
)

// AttemptSlotEvent is the state of one slot after a change.
type AttemptSlotEvent struct {
	Slot       int      `json:"slot"`
	QuestionID int64    `json:"question_id"`
	Behaviour  string   `json:"behaviour"`
	State      string   `json:"state"`
	Fraction   *float64 `json:"fraction,omitempty"`
	MaxMark    float64  `json:"max_mark"`
	Flagged    bool     `json:"flagged"`
}

// AttemptEvent tells downstream consumers that a usage changed.
type AttemptEvent struct {
	Source        string             `json:"source"`
	Kind          string             `json:"kind"`
	UsageID       int64              `json:"usage_id"`
	Component     string             `json:"component,omitempty"`
	ContextID     int64              `json:"context_id,omitempty"`
	Actor         string             `json:"actor,omitempty"`
	CorrelationID string             `json:"correlation_id,omitempty"`
	Slots         []AttemptSlotEvent `json:"slots,omitempty"`
	SentAt        time.Time          `json:"sent_at"`
}

// AttemptEventPublisher fans attempt events out to the configured brokers.
type AttemptEventPublisher interface {
	Publish(ctx context.Context, event AttemptEvent)
}

type attemptEventPublisher struct {
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	logger      zerolog.Logger
	nodeID      string
	now         func() time.Time
}

// NewAttemptEventPublisher builds a publisher. Either transport may be nil.
func NewAttemptEventPublisher(redisClient *redis.Client, channel string, natsConn *nats.Conn, subject string, logger zerolog.Logger) AttemptEventPublisher {
	return &attemptEventPublisher{
		redis:       redisClient,
		redisStream: channel,
		nats:        natsConn,
		natsSubject: subject,
		logger:      logger.With().Str("component", "attempt_events").Logger(),
		nodeID:      uuid.NewString(),
		now:         time.Now,
	}
}

// Publish never fails the caller; broker errors are logged and counted.
func (p *attemptEventPublisher) Publish(ctx context.Context, event AttemptEvent) {
	event.Source = p.nodeID
	event.SentAt = p.now().UTC()
	if event.CorrelationID == "" {
		event.CorrelationID = middleware.CorrelationIDFromContext(ctx)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn().Err(err).Msg("failed to encode attempt event")
		return
	}

	if p.redis != nil && p.redisStream != "" {
		if err := p.redis.Publish(ctx, p.redisStream, payload).Err(); err != nil {
			observability.AttemptEventFailures().WithLabelValues("redis").Inc()
			p.logger.Warn().Err(err).Int64("usage_id", event.UsageID).Msg("failed to publish attempt event to redis")
		}
	}

	if p.nats != nil && p.natsSubject != "" {
		if err := p.nats.Publish(p.natsSubject, payload); err != nil {
			observability.AttemptEventFailures().WithLabelValues("nats").Inc()
			p.logger.Warn().Err(err).Int64("usage_id", event.UsageID).Msg("failed to publish attempt event to nats")
		}
	}
}

func slotEvent(a *engine.Attempt) AttemptSlotEvent {
	return AttemptSlotEvent{
		Slot:       a.Slot(),
		QuestionID: a.Question().ID(),
		Behaviour:  a.BehaviourName(),
		State:      a.State().String(),
		Fraction:   a.Fraction(),
		MaxMark:    a.MaxMark(),
		Flagged:    a.IsFlagged(),
	}
}
