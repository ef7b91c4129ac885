package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/pkg/response"
)

type ChatService interface {
	SendMessage(ctx context.Context, senderID, recipientID uuid.UUID, content string, recipientOnline bool) (*domain.Message, error)
	GetConversation(ctx context.Context, userID, otherID uuid.UUID, limit, offset int) ([]*domain.Message, error)
}

// Relay pushes events to connected users
type Relay interface {
	IsOnline(ctx context.Context, userID uuid.UUID) bool
	SendToUser(ctx context.Context, userID uuid.UUID, event string, data interface{}) error
}

type ChatHandler struct {
	chatService ChatService
	relay       Relay
	logger      *zap.Logger
}

func NewChatHandler(chatService ChatService, relay Relay, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		relay:       relay,
		logger:      logger,
	}
}

// GetConversation returns the messages exchanged with another user, newest first
func (h *ChatHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	otherID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}

	limit, offset := pagination(r)
	messages, err := h.chatService.GetConversation(r.Context(), userID, otherID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err, "failed to get messages")
		return
	}
	response.Page(w, messages, limit, offset, len(messages))
}

type sendMessageRequest struct {
	Content string `json:"content" validate:"required,max=5000"`
}

// SendMessage is the HTTP fallback of the message:send socket event
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	recipientID, ok := pathUUID(w, r, "userId")
	if !ok {
		return
	}

	var req sendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "invalid request")
		return
	}

	online := h.relay.IsOnline(r.Context(), recipientID)
	msg, err := h.chatService.SendMessage(r.Context(), userID, recipientID, req.Content, online)
	if err != nil {
		writeError(w, h.logger, err, "failed to send message")
		return
	}

	if online {
		if err := h.relay.SendToUser(r.Context(), recipientID, "message:receive", msg); err != nil {
			h.logger.Warn("failed to relay message", zap.String("message_id", msg.ID.String()), zap.Error(err))
		}
	}
	response.Created(w, msg)
}
