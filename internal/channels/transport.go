package channels

import (
	"fmt"

	"github.com/bondsphere/backend/internal/config"
)

// NewTransport builds the transport selected by EMAIL_TRANSPORT
func NewTransport(cfg config.EmailConfig) (Transport, error) {
	switch cfg.Transport {
	case "", "http":
		if cfg.APIURL == "" {
			return nil, fmt.Errorf("EMAIL_API_URL is required for the http transport")
		}
		return NewHTTPTransport(cfg.APIURL, cfg.APIKey, cfg.Timeout), nil
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("SMTP_HOST is required for the smtp transport")
		}
		return NewSMTPTransport(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
}
