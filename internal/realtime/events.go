package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
)

const (
	EventMessageSend    = "message:send"
	EventMessageReceive = "message:receive"
	EventMessageSent    = "message:sent"
	EventMessageRead    = "message:read"
	EventTypingStart    = "typing:start"
	EventTypingStop     = "typing:stop"
	EventPostLike       = "post:like"
	EventPostLiked      = "post:liked"
	EventPostComment    = "post:comment"
	EventPostCommented  = "post:commented"
	EventError          = "error"
)

type sendMessagePayload struct {
	RecipientID uuid.UUID `json:"recipientId"`
	Content     string    `json:"content"`
}

type readMessagePayload struct {
	MessageID uuid.UUID `json:"messageId"`
}

type typingPayload struct {
	RecipientID uuid.UUID `json:"recipientId"`
}

type postPayload struct {
	PostID    uuid.UUID  `json:"postId"`
	AuthorID  uuid.UUID  `json:"authorId"`
	CommentID *uuid.UUID `json:"commentId,omitempty"`
	Content   string     `json:"content,omitempty"`
}

type errorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

// handle dispatches one inbound frame from a connected client
func (h *Hub) handle(ctx context.Context, c *Client, frame Frame) {
	var err error
	switch frame.Event {
	case EventMessageSend:
		err = h.onMessageSend(ctx, c, frame.Data)
	case EventMessageRead:
		err = h.onMessageRead(ctx, c, frame.Data)
	case EventTypingStart, EventTypingStop:
		err = h.onTyping(ctx, c, frame.Event, frame.Data)
	case EventPostLike:
		err = h.onPost(ctx, c, EventPostLiked, frame.Data)
	case EventPostComment:
		err = h.onPost(ctx, c, EventPostCommented, frame.Data)
	default:
		err = domain.NewValidationError("event", "unknown event %q", frame.Event)
	}

	if err != nil {
		h.logger.Debug("realtime event rejected",
			zap.String("user_id", c.UserID.String()),
			zap.String("event", frame.Event),
			zap.Error(err),
		)
		h.reply(c, EventError, errorPayload{Event: frame.Event, Message: clientMessage(err)})
	}
}

func (h *Hub) onMessageSend(ctx context.Context, c *Client, data json.RawMessage) error {
	var p sendMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if h.chat == nil {
		return errors.New("messaging is unavailable")
	}

	online := h.IsOnline(ctx, p.RecipientID)
	msg, err := h.chat.SendMessage(ctx, c.UserID, p.RecipientID, p.Content, online)
	if err != nil {
		return err
	}

	if online {
		if err := h.SendToUser(ctx, p.RecipientID, EventMessageReceive, msg); err != nil {
			h.logger.Warn("failed to relay message", zap.String("message_id", msg.ID.String()), zap.Error(err))
		}
	}
	h.reply(c, EventMessageSent, msg)
	return nil
}

func (h *Hub) onMessageRead(ctx context.Context, c *Client, data json.RawMessage) error {
	var p readMessagePayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if h.chat == nil {
		return errors.New("messaging is unavailable")
	}

	msg, err := h.chat.MarkRead(ctx, p.MessageID, c.UserID)
	if err != nil {
		return err
	}
	return h.SendToUser(ctx, msg.SenderID, EventMessageRead, map[string]interface{}{
		"messageId": msg.ID,
		"readerId":  c.UserID,
		"readAt":    msg.ReadAt,
	})
}

// onTyping relays only. Nothing is sent when the recipient is offline.
func (h *Hub) onTyping(ctx context.Context, c *Client, event string, data json.RawMessage) error {
	var p typingPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.RecipientID == uuid.Nil {
		return domain.NewValidationError("recipientId", "is required")
	}
	if !h.IsOnline(ctx, p.RecipientID) {
		return nil
	}
	return h.SendToUser(ctx, p.RecipientID, event, map[string]string{"userId": c.UserID.String()})
}

func (h *Hub) onPost(ctx context.Context, c *Client, event string, data json.RawMessage) error {
	var p postPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.PostID == uuid.Nil || p.AuthorID == uuid.Nil {
		return domain.NewValidationError("postId", "postId and authorId are required")
	}
	if p.AuthorID == c.UserID {
		return nil
	}

	out := map[string]interface{}{
		"postId": p.PostID,
		"userId": c.UserID,
	}
	if p.CommentID != nil {
		out["commentId"] = *p.CommentID
	}
	if p.Content != "" {
		out["content"] = p.Content
	}
	return h.SendToUser(ctx, p.AuthorID, event, out)
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return domain.NewValidationError("data", "is required")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.NewValidationError("data", "is malformed")
	}
	return nil
}

// clientMessage hides internal failures from the socket
func clientMessage(err error) string {
	switch {
	case domain.IsValidation(err):
		return err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not found"
	default:
		return "internal error"
	}
}
