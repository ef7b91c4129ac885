package audit

import (
	"context"

	"github.com/google/uuid"

	"github.com/bondsphere/backend/internal/domain"
)

// NopLog is used when no audit store is configured
type NopLog struct{}

func (NopLog) RecordAttempt(context.Context, *domain.DeliveryAttempt) error {
	return nil
}

func (NopLog) ListAttempts(context.Context, uuid.UUID, int) ([]*domain.DeliveryAttempt, error) {
	return []*domain.DeliveryAttempt{}, nil
}
