package domain

import (
	"time"

	"github.com/google/uuid"
)

type TrackingStatus string

const (
	StatusSent       TrackingStatus = "sent"
	StatusDelivered  TrackingStatus = "delivered"
	StatusOpened     TrackingStatus = "opened"
	StatusClicked    TrackingStatus = "clicked"
	StatusBounced    TrackingStatus = "bounced"
	StatusComplained TrackingStatus = "complained"
)

// TrackingRecord is the delivery history of one outbound email
type TrackingRecord struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Recipient    string         `json:"recipient"`
	UserID       *uuid.UUID     `json:"user_id,omitempty"`
	Status       TrackingStatus `json:"status"`
	EventAt      time.Time      `json:"event_at"`
	CreatedAt    time.Time      `json:"created_at"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time     `json:"delivered_at,omitempty"`
	OpenedAt     *time.Time     `json:"opened_at,omitempty"`
	ClickedAt    *time.Time     `json:"clicked_at,omitempty"`
	BouncedAt    *time.Time     `json:"bounced_at,omitempty"`
	ComplainedAt *time.Time     `json:"complained_at,omitempty"`
	BounceReason string         `json:"bounce_reason,omitempty"`
	ClickedLink  string         `json:"clicked_link,omitempty"`
}

type MetricsPeriod string

const (
	PeriodDay   MetricsPeriod = "day"
	PeriodWeek  MetricsPeriod = "week"
	PeriodMonth MetricsPeriod = "month"
)

// Days returns how many daily buckets the period spans
func (p MetricsPeriod) Days() (int, bool) {
	switch p {
	case PeriodDay:
		return 1, true
	case PeriodWeek:
		return 7, true
	case PeriodMonth:
		return 30, true
	}
	return 0, false
}

type EmailMetrics struct {
	Type       string        `json:"type"`
	Period     MetricsPeriod `json:"period"`
	Sent       int64         `json:"sent"`
	Delivered  int64         `json:"delivered"`
	Opened     int64         `json:"opened"`
	Clicked    int64         `json:"clicked"`
	Bounced    int64         `json:"bounced"`
	Complained int64         `json:"complained"`
	OpenRate   float64       `json:"open_rate"`
	ClickRate  float64       `json:"click_rate"`
	BounceRate float64       `json:"bounce_rate"`
}

// ComputeRates fills the percentage fields. All rates use sent as the denominator.
func (m *EmailMetrics) ComputeRates() {
	m.OpenRate = rate(m.Opened, m.Sent)
	m.ClickRate = rate(m.Clicked, m.Sent)
	m.BounceRate = rate(m.Bounced, m.Sent)
}

// Empty reports whether nothing was recorded
func (m *EmailMetrics) Empty() bool {
	return m.Sent+m.Delivered+m.Opened+m.Clicked+m.Bounced+m.Complained == 0
}

func rate(n, sent int64) float64 {
	if sent == 0 {
		return 0
	}
	return 100 * float64(n) / float64(sent)
}
