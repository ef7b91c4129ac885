package channels

import (
	"context"

	"github.com/google/uuid"

	"github.com/bondsphere/backend/internal/domain"
)

// EventNotificationNew is the realtime event carrying a fresh notification
const EventNotificationNew = "notification:new"

// Pusher writes an event to a user's live connections, wherever they are
type Pusher interface {
	SendToUser(ctx context.Context, userID uuid.UUID, event string, data interface{}) error
}

// InAppSender relays the stored notification to connected clients.
// A recipient without connections is not an error.
type InAppSender struct {
	pusher Pusher
}

func NewInAppSender(pusher Pusher) *InAppSender {
	return &InAppSender{pusher: pusher}
}

func (s *InAppSender) Send(ctx context.Context, job *domain.Job) error {
	userID, err := recipientUser(job)
	if err != nil {
		return err
	}
	if err := s.pusher.SendToUser(ctx, userID, EventNotificationNew, job.Payload["notification"]); err != nil {
		return domain.Transient(err)
	}
	return nil
}
