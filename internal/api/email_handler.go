package api

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/webhook"
	"github.com/bondsphere/backend/pkg/response"
)

const signatureHeader = "X-Webhook-Signature"

type WebhookProcessor interface {
	Process(ctx context.Context, body []byte, signature string) (*webhook.Event, error)
}

type MetricsReader interface {
	GetMetrics(ctx context.Context, emailType string, period domain.MetricsPeriod) (*domain.EmailMetrics, error)
}

type QueueAdmin interface {
	Status(ctx context.Context) (*domain.QueueStatus, error)
	Cleanup(ctx context.Context, days int) (int64, error)
}

type EmailSender interface {
	Send(ctx context.Context, p domain.SendEmailParams) (*domain.Job, error)
}

type EmailHandler struct {
	webhooks WebhookProcessor
	metrics  MetricsReader
	queue    QueueAdmin
	sender   EmailSender
	logger   *zap.Logger
}

func NewEmailHandler(webhooks WebhookProcessor, metrics MetricsReader, queue QueueAdmin, sender EmailSender, logger *zap.Logger) *EmailHandler {
	return &EmailHandler{
		webhooks: webhooks,
		metrics:  metrics,
		queue:    queue,
		sender:   sender,
		logger:   logger,
	}
}

// Webhook ingests a signed provider event. The signature covers the raw body.
func (h *EmailHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		response.BadRequest(w, "failed to read body")
		return
	}

	ev, err := h.webhooks.Process(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSignature) {
			h.logger.Warn("rejected webhook with bad signature", zap.String("ip", r.RemoteAddr))
		}
		writeError(w, h.logger, err, "failed to process webhook")
		return
	}
	response.OK(w, map[string]string{"event": ev.Event, "emailId": ev.EmailID})
}

// Metrics returns counters and rates for one email type. 404 when nothing was recorded.
func (h *EmailHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	period := domain.MetricsPeriod(q.Get("period"))
	if period == "" {
		period = domain.PeriodWeek
	}

	m, err := h.metrics.GetMetrics(r.Context(), q.Get("type"), period)
	if err != nil {
		writeError(w, h.logger, err, "failed to load email metrics")
		return
	}
	if m.Empty() {
		response.NotFound(w, "no email activity recorded for this period")
		return
	}
	response.OK(w, m)
}

func (h *EmailHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.queue.Status(r.Context())
	if err != nil {
		writeError(w, h.logger, err, "failed to load queue status")
		return
	}
	response.OK(w, status)
}

type cleanupRequest struct {
	Days int `json:"days" validate:"required,gte=1,lte=365"`
}

func (h *EmailHandler) QueueCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "invalid request")
		return
	}

	removed, err := h.queue.Cleanup(r.Context(), req.Days)
	if err != nil {
		writeError(w, h.logger, err, "failed to clean up queue")
		return
	}
	h.logger.Info("queue cleaned up", zap.Int("days", req.Days), zap.Int64("removed", removed))
	response.OK(w, map[string]int64{"removed": removed})
}

type sendEmailRequest struct {
	Type     domain.JobType         `json:"type" validate:"required,oneof=password_reset verification marketing"`
	Template string                 `json:"template,omitempty" validate:"omitempty,max=100"`
	To       string                 `json:"to,omitempty" validate:"omitempty,email"`
	UserID   *uuid.UUID             `json:"user_id,omitempty"`
	Topic    string                 `json:"topic,omitempty" validate:"omitempty,oneof=newsletter product_updates promotions"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// Send enqueues a transactional or marketing email. Marketing sends the user
// opted out of answer 200 with queued false.
func (h *EmailHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendEmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err, "invalid request")
		return
	}

	job, err := h.sender.Send(r.Context(), domain.SendEmailParams{
		Type:     req.Type,
		Template: req.Template,
		To:       req.To,
		UserID:   req.UserID,
		Topic:    req.Topic,
		Data:     req.Data,
	})
	if err != nil {
		writeError(w, h.logger, err, "failed to send email")
		return
	}
	if job == nil {
		response.OK(w, map[string]interface{}{"queued": false})
		return
	}
	response.Created(w, map[string]interface{}{
		"queued":     true,
		"jobId":      job.ID,
		"trackingId": job.TrackingID,
	})
}
