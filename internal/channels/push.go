package channels

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/fcm"
)

type PushClient interface {
	SendMulticast(ctx context.Context, tokens []string, msg fcm.PushMessage) (*fcm.Result, error)
}

// PushSender fans a job out to every active device of the recipient
type PushSender struct {
	tokens domain.DeviceTokenRepository
	client PushClient
	logger *zap.Logger
}

func NewPushSender(tokens domain.DeviceTokenRepository, client PushClient, logger *zap.Logger) *PushSender {
	return &PushSender{
		tokens: tokens,
		client: client,
		logger: logger,
	}
}

func (s *PushSender) Send(ctx context.Context, job *domain.Job) error {
	userID, err := recipientUser(job)
	if err != nil {
		return err
	}

	tokens, err := s.tokens.GetActiveDeviceTokens(ctx, userID)
	if err != nil {
		return domain.Transient(fmt.Errorf("failed to load device tokens: %w", err))
	}
	if len(tokens) == 0 {
		s.logger.Debug("no device tokens, skipping push", zap.String("user_id", userID.String()))
		return nil
	}

	res, err := s.client.SendMulticast(ctx, tokens, fcm.PushMessage{
		Title: payloadString(job.Payload, "title"),
		Body:  payloadString(job.Payload, "body"),
		Data:  payloadStringMap(job.Payload, "data"),
	})
	if err != nil {
		return domain.Transient(err)
	}

	if len(res.Unregistered) > 0 {
		if err := s.tokens.DeactivateDeviceTokens(ctx, res.Unregistered); err != nil {
			s.logger.Error("failed to deactivate device tokens", zap.Error(err))
		} else {
			s.logger.Info("deactivated unregistered device tokens",
				zap.String("user_id", userID.String()),
				zap.Int("count", len(res.Unregistered)),
			)
		}
	}

	if res.Sent == 0 && res.Failed > 0 {
		return domain.Transient(fmt.Errorf("push failed on all devices: %w", res.LastErr))
	}
	return nil
}
