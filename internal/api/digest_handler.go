package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/pkg/response"
)

type DigestService interface {
	GenerateDigest(ctx context.Context, userID uuid.UUID, period domain.Frequency) (*domain.Digest, error)
	SendAllDigests(ctx context.Context, period domain.Frequency) (int, error)
}

type DigestHandler struct {
	service DigestService
	logger  *zap.Logger
}

func NewDigestHandler(service DigestService, logger *zap.Logger) *DigestHandler {
	return &DigestHandler{
		service: service,
		logger:  logger,
	}
}

// Preview renders the caller's digest data without sending anything
func (h *DigestHandler) Preview(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	raw := r.URL.Query().Get("period")
	if raw == "" {
		raw = string(domain.FrequencyWeekly)
	}
	period, err := domain.ParseDigestPeriod(raw)
	if err != nil {
		writeError(w, h.logger, err, "invalid period")
		return
	}

	digest, err := h.service.GenerateDigest(r.Context(), userID, period)
	if err != nil {
		writeError(w, h.logger, err, "failed to generate digest")
		return
	}
	if digest == nil {
		response.NotFound(w, "no email preferences for this user")
		return
	}
	response.OK(w, digest)
}

// Send enqueues the digest for every eligible user now
func (h *DigestHandler) Send(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParseDigestPeriod(chi.URLParam(r, "period"))
	if err != nil {
		writeError(w, h.logger, err, "invalid period")
		return
	}

	sent, err := h.service.SendAllDigests(r.Context(), period)
	if err != nil {
		writeError(w, h.logger, err, "failed to send digests")
		return
	}
	h.logger.Info("digests triggered manually", zap.String("period", string(period)), zap.Int("enqueued", sent))
	response.OK(w, map[string]interface{}{"period": period, "enqueued": sent})
}
