package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/config"
	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/metrics"
)

const (
	resultCreated  = "created"
	resultSkipped  = "skipped"
	resultRetrying = "retrying"

	maxRetryDelay = 30 * time.Second
)

// DomainEvent is a notification request published by another service
type DomainEvent struct {
	RecipientID uuid.UUID               `json:"recipientId"`
	SenderID    *uuid.UUID              `json:"senderId,omitempty"`
	Type        domain.NotificationType `json:"type"`
	Content     string                  `json:"content"`
	Data        domain.NotificationData `json:"data"`
	Priority    domain.Priority         `json:"priority,omitempty"`
	Channels    []domain.Channel        `json:"channels,omitempty"`
	ExpiresAt   *time.Time              `json:"expiresAt,omitempty"`
}

// Params converts the event into NotificationService.Create input
func (e DomainEvent) Params() domain.CreateNotificationParams {
	return domain.CreateNotificationParams{
		RecipientID: e.RecipientID,
		SenderID:    e.SenderID,
		Type:        e.Type,
		Content:     e.Content,
		Data:        e.Data,
		Priority:    e.Priority,
		Channels:    e.Channels,
		ExpiresAt:   e.ExpiresAt,
	}
}

// Decode parses one message value. Malformed payloads return a validation error.
func Decode(value []byte) (*DomainEvent, error) {
	var ev DomainEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return nil, domain.NewValidationError("event", "malformed payload: %v", err)
	}
	if ev.RecipientID == uuid.Nil {
		return nil, domain.NewValidationError("recipientId", "is required")
	}
	return &ev, nil
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type NotificationCreator interface {
	Create(ctx context.Context, params domain.CreateNotificationParams) (*domain.Notification, error)
}

// Consumer turns domain events into notifications
type Consumer struct {
	reader    MessageReader
	creator   NotificationCreator
	logger    *zap.Logger
	baseDelay time.Duration
}

// NewReader builds a consumer-group reader for the configured topic
func NewReader(cfg config.KafkaConfig, logger *zap.Logger) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: 0,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	})
}

func NewConsumer(reader MessageReader, creator NotificationCreator, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:    reader,
		creator:   creator,
		logger:    logger,
		baseDelay: time.Second,
	}
}

// Run consumes until ctx is cancelled and closes the reader on exit.
// Fetch errors are retried with backoff so ingestion survives broker outages.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	fetchDelay := c.baseDelay
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to fetch event, backing off", zap.Duration("delay", fetchDelay), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(fetchDelay):
			}
			fetchDelay *= 2
			if fetchDelay > maxRetryDelay {
				fetchDelay = maxRetryDelay
			}
			continue
		}
		fetchDelay = c.baseDelay

		if err := c.handle(ctx, msg); err != nil {
			// only cancellation gets here
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("failed to commit event", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

// handle retries transient failures until ctx ends. Invalid events are skipped.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	ev, err := Decode(msg.Value)
	if err != nil {
		c.skip(msg, err)
		return nil
	}

	delay := c.baseDelay
	for {
		n, err := c.creator.Create(ctx, ev.Params())
		if err == nil {
			metrics.DomainEvents.WithLabelValues(resultCreated).Inc()
			c.logger.Debug("notification created from event",
				zap.String("notification_id", n.ID.String()),
				zap.String("type", string(n.Type)),
			)
			return nil
		}
		if domain.IsValidation(err) || errors.Is(err, domain.ErrNotFound) {
			c.skip(msg, err)
			return nil
		}

		metrics.DomainEvents.WithLabelValues(resultRetrying).Inc()
		c.logger.Warn("failed to create notification from event, retrying",
			zap.Int64("offset", msg.Offset),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

func (c *Consumer) skip(msg kafka.Message, err error) {
	metrics.DomainEvents.WithLabelValues(resultSkipped).Inc()
	c.logger.Warn("skipping invalid domain event",
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Error(err),
	)
}
