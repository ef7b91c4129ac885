package channels

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/bondsphere/backend/internal/domain"
)

type providerRequest struct {
	ID      string            `json:"id"`
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

type providerError struct {
	Message string `json:"message"`
}

// HTTPTransport posts emails to a provider REST API
type HTTPTransport struct {
	client *resty.Client
}

func NewHTTPTransport(baseURL, apiKey string, timeout time.Duration) *HTTPTransport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &HTTPTransport{client: client}
}

// Deliver classifies 5xx, 429 and network failures as transient and other 4xx as permanent
func (t *HTTPTransport) Deliver(ctx context.Context, msg *Email) error {
	body := providerRequest{
		ID:      msg.ID,
		From:    msg.From,
		To:      []string{msg.To},
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
		Tags:    map[string]string{"type": msg.Type},
	}

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeader("Idempotency-Key", msg.ID).
		SetBody(body).
		SetError(&providerError{}).
		Post("/emails")
	if err != nil {
		return domain.Transient(fmt.Errorf("email provider unreachable: %w", err))
	}

	status := resp.StatusCode()
	if status < 300 {
		return nil
	}

	reason := resp.Status()
	if perr, ok := resp.Error().(*providerError); ok && perr.Message != "" {
		reason = perr.Message
	}
	err = fmt.Errorf("email provider returned %d: %s", status, reason)

	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return domain.Transient(err)
	}
	return domain.Permanent(err)
}
