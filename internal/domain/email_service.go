package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultMarketingTopic is used when a marketing send names no topic
const DefaultMarketingTopic = "newsletter"

// PreferenceSource returns a user's preferences, creating defaults when missing
type PreferenceSource interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*EmailPreference, error)
}

// SendEmailParams describes one transactional or marketing email
type SendEmailParams struct {
	Type     JobType
	Template string
	To       string
	UserID   *uuid.UUID
	// Topic is the marketing preference leaf the send belongs to
	Topic string
	Data  map[string]interface{}
}

// EmailService enqueues emails that do not originate from a notification or digest
type EmailService struct {
	prefs  PreferenceSource
	users  UserDirectory
	queue  Enqueuer
	appURL string
	logger *zap.Logger
}

func NewEmailService(prefs PreferenceSource, users UserDirectory, queue Enqueuer, appURL string, logger *zap.Logger) *EmailService {
	return &EmailService{
		prefs:  prefs,
		users:  users,
		queue:  queue,
		appURL: appURL,
		logger: logger,
	}
}

// Send enqueues the email and returns the queued job. A marketing email the
// user opted out of returns a nil job and no error.
func (s *EmailService) Send(ctx context.Context, p SendEmailParams) (*Job, error) {
	switch p.Type {
	case JobPasswordReset, JobVerification, JobMarketing:
	default:
		return nil, NewValidationError("type", "must be password_reset, verification or marketing")
	}

	var user *User
	if p.UserID != nil {
		u, err := s.users.GetUserByID(ctx, *p.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		user = u
	}

	to := p.To
	if to == "" {
		to = user.EmailAddress()
	}
	if to == "" {
		return nil, ErrNoRecipient
	}

	payload := make(map[string]interface{}, len(p.Data)+2)
	for k, v := range p.Data {
		payload[k] = v
	}
	if _, ok := payload["name"]; !ok && user != nil {
		payload["name"] = user.Name
	}

	if p.Type == JobMarketing {
		if user == nil {
			return nil, NewValidationError("userId", "is required for marketing email")
		}
		topic := p.Topic
		if topic == "" {
			topic = DefaultMarketingTopic
		}
		if _, ok := PreferenceLeaves[CategoryMarketing][topic]; !ok {
			return nil, NewValidationError("topic", "unknown marketing topic %q", topic)
		}

		pref, err := s.prefs.GetOrCreate(ctx, user.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load preferences: %w", err)
		}
		if !ShouldDeliver(pref, topic, CategoryMarketing) {
			s.logger.Debug("marketing email suppressed by preference",
				zap.String("user_id", user.ID.String()),
				zap.String("topic", topic),
			)
			return nil, nil
		}
		payload["unsubscribeUrl"] = s.appURL + "/settings/email"
	}

	template := p.Template
	if template == "" {
		template = string(p.Type)
	}

	job := &Job{
		Channel:    ChannelEmail,
		Recipient:  to,
		TemplateID: template,
		Type:       p.Type,
		Payload:    payload,
		UserID:     p.UserID,
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to enqueue email: %w", err)
	}
	return job, nil
}
