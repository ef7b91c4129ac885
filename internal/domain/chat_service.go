package domain

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxMessageLength = 5000

type ChatService struct {
	repo         MessageRepository
	notifService *NotificationService
	logger       *zap.Logger
}

func NewChatService(repo MessageRepository, notifService *NotificationService, logger *zap.Logger) *ChatService {
	return &ChatService{
		repo:         repo,
		notifService: notifService,
		logger:       logger,
	}
}

// SendMessage persists a direct message. An offline recipient gets a message notification instead of a live relay.
func (s *ChatService) SendMessage(ctx context.Context, senderID, recipientID uuid.UUID, content string, recipientOnline bool) (*Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, NewValidationError("content", "is required")
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		return nil, NewValidationError("content", "must be at most %d characters", maxMessageLength)
	}
	if recipientID == uuid.Nil || recipientID == senderID {
		return nil, NewValidationError("recipient_id", "is invalid")
	}

	msg, err := s.repo.CreateMessage(ctx, senderID, recipientID, content)
	if err != nil {
		return nil, err
	}

	if !recipientOnline && s.notifService != nil {
		_, err := s.notifService.Create(ctx, CreateNotificationParams{
			RecipientID: recipientID,
			SenderID:    &senderID,
			Type:        TypeMessage,
			Content:     preview(content, 140),
			Data:        NotificationData{MessageID: &msg.ID},
			Channels:    []Channel{ChannelInApp, ChannelPush},
		})
		if err != nil {
			s.logger.Warn("failed to notify offline recipient",
				zap.String("message_id", msg.ID.String()),
				zap.Error(err),
			)
		}
	}
	return msg, nil
}

// MarkRead marks a message read. Only its recipient may do so.
func (s *ChatService) MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*Message, error) {
	msg, err := s.repo.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.RecipientID != readerID {
		return nil, ErrForbidden
	}
	return s.repo.MarkMessageRead(ctx, messageID)
}

func (s *ChatService) GetConversation(ctx context.Context, userID, otherID uuid.UUID, limit, offset int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListConversation(ctx, userID, otherID, limit, offset)
}

func preview(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
