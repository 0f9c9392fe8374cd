// Package events publishes and consumes account lifecycle events over the
// broker-agnostic mq layer.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/accountkit/authserver/internal/metrics"
	"github.com/accountkit/authserver/internal/mq"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Type names an account event.
type Type string

const (
	UserRegistered Type = "user.registered"
	UserLoggedIn   Type = "user.logged_in"
	UserLoggedOut  Type = "user.logged_out"
	TokenRefreshed Type = "token.refreshed"
	ProfileUpdated Type = "profile.updated"
	RoleChanged    Type = "role.changed"
	AvatarUpdated  Type = "avatar.updated"
)

// Event is the JSON payload put on the account events channel.
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	UserID     int64             `json:"user_id"`
	Username   string            `json:"username"`
	OccurredAt time.Time         `json:"occurred_at"`
	Data       map[string]string `json:"data,omitempty"`
}

// New stamps an event with a random id and the current time.
func New(eventType Type, userID int64, username string, data map[string]string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		Username:   username,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
}

// Publisher sends events to a channel. Publishing is best effort: failures
// are logged and counted, never returned.
type Publisher struct {
	queue   *mq.MQ
	channel string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPublisher(queue *mq.MQ, channel string, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{queue: queue, channel: channel, logger: logger, metrics: m}
}

func (p *Publisher) Publish(ctx context.Context, event Event) {
	if p == nil || p.queue == nil {
		return
	}

	log := p.logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.Int64("user_id", event.UserID),
	)

	data, err := json.Marshal(event)
	if err != nil {
		log.Error("encode event", zap.Error(err))
		p.metrics.ObserveEvent(string(event.Type), metrics.ResultError)
		return
	}

	attrs := map[string]string{
		"type":                  string(event.Type),
		mq.ContentTypeAttribute: "application/json",
		mq.MessageIDAttribute:   event.ID,
		mq.OrderingKeyAttribute: strconv.FormatInt(event.UserID, 10),
	}
	messageID, err := p.queue.Publish(ctx, p.channel, data, attrs)
	if err != nil {
		log.Warn("publish event", zap.Error(err))
		p.metrics.ObserveEvent(string(event.Type), metrics.ResultError)
		return
	}
	log.Debug("event published", zap.String("message_id", messageID))
	p.metrics.ObserveEvent(string(event.Type), metrics.ResultSuccess)
}

// Handler processes one decoded event.
type Handler func(ctx context.Context, event Event) error

// Consume subscribes to channel and decodes each message into an Event.
// Undecodable messages are dropped with a log line instead of being retried.
func Consume(ctx context.Context, queue *mq.MQ, channel string, logger *zap.Logger, handler Handler) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	return queue.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			logger.Warn("drop undecodable event", zap.String("message_id", msg.ID), zap.Error(err))
			return nil
		}
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("handle event %s: %w", event.ID, err)
		}
		return nil
	})
}

// AuditLog returns a Handler that writes each event as a structured log line.
func AuditLog(logger *zap.Logger) Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(_ context.Context, event Event) error {
		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)),
			zap.Int64("user_id", event.UserID),
			zap.String("username", event.Username),
			zap.Time("occurred_at", event.OccurredAt),
		}
		for key, value := range event.Data {
			fields = append(fields, zap.String("data."+key, value))
		}
		logger.Info("account event", fields...)
		return nil
	}
}
