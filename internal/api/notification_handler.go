package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/pkg/response"
)

type NotificationService interface {
	Create(ctx context.Context, params domain.CreateNotificationParams) (*domain.Notification, error)
	List(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*domain.Notification, error)
	GetUnread(ctx context.Context, recipientID uuid.UUID, limit int) ([]*domain.Notification, error)
	GetByType(ctx context.Context, recipientID uuid.UUID, typ domain.NotificationType, limit int) ([]*domain.Notification, error)
	UnreadCount(ctx context.Context, recipientID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, id, callerID uuid.UUID) (*domain.Notification, error)
	MarkAllRead(ctx context.Context, recipientID uuid.UUID) (int64, error)
	MarkActionTaken(ctx context.Context, id, callerID uuid.UUID) (*domain.Notification, error)
	Delete(ctx context.Context, id, callerID uuid.UUID) error
	DeleteAll(ctx context.Context, recipientID uuid.UUID) (int64, error)
	RegisterDevice(ctx context.Context, userID uuid.UUID, token, platform string) error
}

type NotificationHandler struct {
	service  NotificationService
	attempts domain.AttemptLog
	logger   *zap.Logger
}

func NewNotificationHandler(service NotificationService, attempts domain.AttemptLog, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		service:  service,
		attempts: attempts,
		logger:   logger,
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, offset := pagination(r)
	notifs, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		writeError(w, h.logger, err, "failed to fetch notifications")
		return
	}
	response.Page(w, notifs, limit, offset, len(notifs))
}

func (h *NotificationHandler) Unread(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, _ := pagination(r)
	notifs, err := h.service.GetUnread(r.Context(), userID, limit)
	if err != nil {
		writeError(w, h.logger, err, "failed to fetch unread notifications")
		return
	}
	response.OK(w, notifs)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	count, err := h.service.UnreadCount(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to count unread notifications")
		return
	}
	response.OK(w, map[string]int{"count": count})
}

func (h *NotificationHandler) ByType(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	limit, _ := pagination(r)
	typ := domain.NotificationType(chi.URLParam(r, "type"))
	notifs, err := h.service.GetByType(r.Context(), userID, typ, limit)
	if err != nil {
		writeError(w, h.logger, err, "failed to fetch notifications")
		return
	}
	response.OK(w, notifs)
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	n, err := h.service.MarkRead(r.Context(), id, userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to update notification")
		return
	}
	response.OK(w, n)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	n, err := h.service.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to update notifications")
		return
	}
	response.OK(w, map[string]int64{"updated": n})
}

func (h *NotificationHandler) MarkActionTaken(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	n, err := h.service.MarkActionTaken(r.Context(), id, userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to update notification")
		return
	}
	response.OK(w, n)
}

func (h *NotificationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), id, userID); err != nil {
		writeError(w, h.logger, err, "failed to delete notification")
		return
	}
	response.NoContent(w)
}

func (h *NotificationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	n, err := h.service.DeleteAll(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to delete notifications")
		return
	}
	response.OK(w, map[string]int64{"deleted": n})
}

type registerDeviceRequest struct {
	Token    string `json:"token" validate:"required,max=4096"`
	Platform string `json:"platform" validate:"omitempty,oneof=ios android web"`
}

func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req registerDeviceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "invalid request")
		return
	}

	if err := h.service.RegisterDevice(r.Context(), userID, req.Token, req.Platform); err != nil {
		writeError(w, h.logger, err, "failed to register device")
		return
	}
	response.Created(w, map[string]string{"status": "registered"})
}

type createNotificationRequest struct {
	RecipientID uuid.UUID               `json:"recipient_id" validate:"required"`
	SenderID    *uuid.UUID              `json:"sender_id,omitempty"`
	Type        domain.NotificationType `json:"type" validate:"required"`
	Content     string                  `json:"content" validate:"required,max=2000"`
	Data        domain.NotificationData `json:"data"`
	Priority    domain.Priority         `json:"priority,omitempty" validate:"omitempty,oneof=low medium high"`
	Channels    []domain.Channel        `json:"channels,omitempty" validate:"omitempty,dive,oneof=in_app push email"`
	ExpiresAt   *time.Time              `json:"expires_at,omitempty"`
}

// Create lets operators and internal services raise a notification directly
func (h *NotificationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "invalid request")
		return
	}

	n, err := h.service.Create(r.Context(), domain.CreateNotificationParams{
		RecipientID: req.RecipientID,
		SenderID:    req.SenderID,
		Type:        req.Type,
		Content:     req.Content,
		Data:        req.Data,
		Priority:    req.Priority,
		Channels:    req.Channels,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		writeError(w, h.logger, err, "failed to create notification")
		return
	}
	response.Created(w, n)
}

// Attempts lists the audited delivery attempts of one notification
func (h *NotificationHandler) Attempts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	limit, _ := pagination(r)
	attempts, err := h.attempts.ListAttempts(r.Context(), id, limit)
	if err != nil {
		writeError(w, h.logger, err, "failed to list delivery attempts")
		return
	}
	response.OK(w, attempts)
}
