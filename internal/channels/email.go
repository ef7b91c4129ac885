package channels

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/templates"
	"github.com/bondsphere/backend/pkg/validator"
)

// Email is a rendered message ready for a transport
type Email struct {
	ID      string
	From    string
	To      string
	Subject string
	HTML    string
	Text    string
	Type    string
}

// Transport hands a rendered email to a mail provider
type Transport interface {
	Deliver(ctx context.Context, msg *Email) error
}

type Renderer interface {
	Render(ctx context.Context, name string, data map[string]interface{}) (*templates.Rendered, error)
}

// EmailSender renders a job's template and delivers it
type EmailSender struct {
	renderer  Renderer
	transport Transport
	from      string
	logger    *zap.Logger
}

func NewEmailSender(renderer Renderer, transport Transport, from string, logger *zap.Logger) *EmailSender {
	return &EmailSender{
		renderer:  renderer,
		transport: transport,
		from:      from,
		logger:    logger,
	}
}

func (s *EmailSender) Send(ctx context.Context, job *domain.Job) error {
	if !validator.ValidateEmail(job.Recipient) {
		return domain.Permanent(fmt.Errorf("invalid email address %q", job.Recipient))
	}

	rendered, err := s.renderer.Render(ctx, job.TemplateID, job.Payload)
	if err != nil {
		if errors.Is(err, domain.ErrTemplateNotFound) {
			return domain.Permanent(err)
		}
		return domain.Transient(err)
	}

	msg := &Email{
		ID:      job.TrackingID,
		From:    s.from,
		To:      job.Recipient,
		Subject: rendered.Subject,
		HTML:    rendered.HTML,
		Text:    rendered.Text,
		Type:    string(job.Type),
	}
	if err := s.transport.Deliver(ctx, msg); err != nil {
		return err
	}

	s.logger.Debug("email delivered to transport",
		zap.String("tracking_id", job.TrackingID),
		zap.String("template", job.TemplateID),
	)
	return nil
}
