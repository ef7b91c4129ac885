package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Message is a direct message relayed through the realtime gateway
type Message struct {
	ID          uuid.UUID  `json:"id"`
	SenderID    uuid.UUID  `json:"sender_id"`
	RecipientID uuid.UUID  `json:"recipient_id"`
	Content     string     `json:"content"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type MessageRepository interface {
	CreateMessage(ctx context.Context, senderID, recipientID uuid.UUID, content string) (*Message, error)
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)
	MarkMessageRead(ctx context.Context, id uuid.UUID) (*Message, error)
	ListConversation(ctx context.Context, userID, otherID uuid.UUID, limit, offset int) ([]*Message, error)
}
