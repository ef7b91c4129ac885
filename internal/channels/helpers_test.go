package channels

import (
	"time"

	"github.com/bondsphere/backend/internal/config"
)

func emailConfig(transport string) config.EmailConfig {
	return config.EmailConfig{
		Transport: transport,
		From:      "no-reply@bondsphere.app",
		APIURL:    "https://api.mail.example/v1",
		SMTPHost:  "smtp.example.com",
		SMTPPort:  "587",
		Timeout:   5 * time.Second,
	}
}
