package api

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/bondsphere/backend/pkg/response"
)

// Checker is a dependency probed by the readiness endpoint
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type HealthHandler struct {
	version  string
	checkers map[string]Checker
	logger   *zap.Logger
}

func NewHealthHandler(version string, checkers map[string]Checker, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		version:  version,
		checkers: checkers,
		logger:   logger,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   h.version,
	})
}

// Ready pings every dependency and answers 503 if any is down
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]string, len(h.checkers)),
	}
	status := http.StatusOK
	for name, c := range h.checkers {
		if err := c.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
			resp.Checks[name] = "down"
			resp.Status = "not_ready"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "up"
	}
	response.JSON(w, status, resp)
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	response.OK(w, HealthResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
