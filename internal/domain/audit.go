package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type AttemptOutcome string

const (
	OutcomeDelivered AttemptOutcome = "delivered"
	OutcomeRetrying  AttemptOutcome = "retrying"
	OutcomeFailed    AttemptOutcome = "failed"
)

// DeliveryAttempt is one execution of a queued job, kept for auditing
type DeliveryAttempt struct {
	JobID          uuid.UUID      `json:"job_id"`
	NotificationID *uuid.UUID     `json:"notification_id,omitempty"`
	UserID         *uuid.UUID     `json:"user_id,omitempty"`
	TrackingID     string         `json:"tracking_id"`
	Channel        Channel        `json:"channel"`
	Type           JobType        `json:"type"`
	Attempt        int            `json:"attempt"`
	Outcome        AttemptOutcome `json:"outcome"`
	Error          string         `json:"error,omitempty"`
	DurationMS     int64          `json:"duration_ms"`
	CreatedAt      time.Time      `json:"created_at"`
}

// AttemptLog stores delivery attempts
type AttemptLog interface {
	RecordAttempt(ctx context.Context, attempt *DeliveryAttempt) error
	ListAttempts(ctx context.Context, notificationID uuid.UUID, limit int) ([]*DeliveryAttempt, error)
}
