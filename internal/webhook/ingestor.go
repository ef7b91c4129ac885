package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/metrics"
)

const (
	EventDelivered  = "delivered"
	EventOpened     = "opened"
	EventClicked    = "clicked"
	EventBounced    = "bounced"
	EventComplained = "complained"
)

type Tracker interface {
	TrackDelivered(ctx context.Context, id string, at time.Time) error
	TrackOpened(ctx context.Context, id string, at time.Time) error
	TrackClicked(ctx context.Context, id, link string, at time.Time) error
	TrackBounced(ctx context.Context, id, reason string, at time.Time) error
	TrackComplained(ctx context.Context, id string, at time.Time) error
	GetStatus(ctx context.Context, id string) (*domain.TrackingRecord, error)
}

// MarketingOptOut turns off marketing email for a user
type MarketingOptOut interface {
	DisableMarketing(ctx context.Context, userID uuid.UUID) error
}

// Event is a provider callback. EmailID is the tracking id sent with the email.
type Event struct {
	Event   string    `json:"event"`
	EmailID string    `json:"emailId"`
	Data    EventData `json:"data"`
}

type EventData struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Link      string     `json:"link,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Ingestor authenticates provider callbacks and feeds them to the tracker
type Ingestor struct {
	secret  []byte
	tracker Tracker
	optOut  MarketingOptOut
	users   domain.UserDirectory
	logger  *zap.Logger
	now     func() time.Time
}

func NewIngestor(secret string, tracker Tracker, optOut MarketingOptOut, users domain.UserDirectory, logger *zap.Logger) *Ingestor {
	if secret == "" {
		logger.Warn("WEBHOOK_SECRET is empty, every webhook will be rejected")
	}
	return &Ingestor{
		secret:  []byte(secret),
		tracker: tracker,
		optOut:  optOut,
		users:   users,
		logger:  logger,
		now:     time.Now,
	}
}

// Verify checks the hex HMAC-SHA256 of body. A "sha256=" prefix is accepted.
func (i *Ingestor) Verify(body []byte, signature string) error {
	if len(i.secret) == 0 || signature == "" {
		return domain.ErrInvalidSignature
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, i.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign returns the signature a provider would send for body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Process verifies and applies one callback
func (i *Ingestor) Process(ctx context.Context, body []byte, signature string) (*Event, error) {
	if err := i.Verify(body, signature); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		i.logger.Warn("webhook signature mismatch")
		return nil, err
	}

	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "malformed").Inc()
		return nil, domain.NewValidationError("body", "malformed webhook payload")
	}
	if ev.EmailID == "" {
		metrics.WebhookEvents.WithLabelValues(ev.Event, "malformed").Inc()
		return nil, domain.NewValidationError("emailId", "is required")
	}

	at := i.now()
	if ev.Data.Timestamp != nil && !ev.Data.Timestamp.IsZero() {
		at = *ev.Data.Timestamp
	}

	var err error
	switch ev.Event {
	case EventDelivered:
		err = i.tracker.TrackDelivered(ctx, ev.EmailID, at)
	case EventOpened:
		err = i.tracker.TrackOpened(ctx, ev.EmailID, at)
	case EventClicked:
		err = i.tracker.TrackClicked(ctx, ev.EmailID, ev.Data.Link, at)
	case EventBounced:
		err = i.tracker.TrackBounced(ctx, ev.EmailID, ev.Data.Reason, at)
	case EventComplained:
		if err = i.tracker.TrackComplained(ctx, ev.EmailID, at); err == nil {
			err = i.handleComplaint(ctx, ev.EmailID)
		}
	default:
		metrics.WebhookEvents.WithLabelValues("unknown", "unsupported").Inc()
		i.logger.Warn("unsupported webhook event", zap.String("event", ev.Event), zap.String("email_id", ev.EmailID))
		return nil, domain.NewValidationError("event", "unsupported event %q", ev.Event)
	}
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Event, "error").Inc()
		return nil, fmt.Errorf("failed to apply %s event: %w", ev.Event, err)
	}

	metrics.WebhookEvents.WithLabelValues(ev.Event, "applied").Inc()
	i.logger.Debug("webhook applied", zap.String("event", ev.Event), zap.String("email_id", ev.EmailID))
	return &ev, nil
}

// handleComplaint opts the user out of marketing when the complaint was about a marketing email
func (i *Ingestor) handleComplaint(ctx context.Context, emailID string) error {
	rec, err := i.tracker.GetStatus(ctx, emailID)
	if err != nil {
		return err
	}
	if rec.Type != string(domain.JobMarketing) {
		return nil
	}

	userID := rec.UserID
	if userID == nil && rec.Recipient != "" && i.users != nil {
		user, err := i.users.GetUserByEmail(ctx, rec.Recipient)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if user != nil {
			userID = &user.ID
		}
	}
	if userID == nil {
		i.logger.Warn("marketing complaint for unknown user", zap.String("email_id", emailID))
		return nil
	}

	if err := i.optOut.DisableMarketing(ctx, *userID); err != nil {
		return err
	}
	i.logger.Info("disabled marketing email after complaint", zap.String("user_id", userID.String()))
	return nil
}
