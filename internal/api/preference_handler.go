package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/pkg/response"
)

type PreferenceService interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID) (*domain.EmailPreference, error)
	Update(ctx context.Context, userID uuid.UUID, update domain.PreferenceUpdate) (*domain.EmailPreference, error)
	UnsubscribeAll(ctx context.Context, userID uuid.UUID) (*domain.EmailPreference, error)
	ResubscribeAll(ctx context.Context, userID uuid.UUID) (*domain.EmailPreference, error)
}

type PreferenceHandler struct {
	service PreferenceService
	logger  *zap.Logger
}

func NewPreferenceHandler(service PreferenceService, logger *zap.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		service: service,
		logger:  logger,
	}
}

func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	pref, err := h.service.GetOrCreate(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to load preferences")
		return
	}
	response.OK(w, pref)
}

// Update applies a partial update. Unknown categories and leaves are ignored.
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req domain.PreferenceUpdate
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "invalid request")
		return
	}

	pref, err := h.service.Update(r.Context(), userID, req)
	if err != nil {
		writeError(w, h.logger, err, "failed to update preferences")
		return
	}
	response.OK(w, pref)
}

func (h *PreferenceHandler) UnsubscribeAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	pref, err := h.service.UnsubscribeAll(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to unsubscribe")
		return
	}
	response.OK(w, pref)
}

func (h *PreferenceHandler) ResubscribeAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	pref, err := h.service.ResubscribeAll(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err, "failed to resubscribe")
		return
	}
	response.OK(w, pref)
}
