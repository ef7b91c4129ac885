package realtime

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	nodeChannelPrefix = "realtime:node:"
	broadcastChannel  = "realtime:broadcast"
)

// busMessage carries an encoded frame between nodes. A nil User means every local client.
// Except names a connection that must not receive the frame.
type busMessage struct {
	User   *uuid.UUID      `json:"user,omitempty"`
	Except *uuid.UUID      `json:"except,omitempty"`
	Frame  json.RawMessage `json:"frame"`
}

// Bus fans frames out to other nodes over Redis pub/sub
type Bus struct {
	rdb    *redis.Client
	nodeID string
	logger *zap.Logger
}

func NewBus(rdb *redis.Client, nodeID string, logger *zap.Logger) *Bus {
	return &Bus{
		rdb:    rdb,
		nodeID: nodeID,
		logger: logger,
	}
}

func (b *Bus) SendToNode(ctx context.Context, node string, userID uuid.UUID, frame []byte) error {
	payload, err := json.Marshal(busMessage{User: &userID, Frame: frame})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, nodeChannelPrefix+node, payload).Err()
}

func (b *Bus) Broadcast(ctx context.Context, frame []byte, except *uuid.UUID) error {
	payload, err := json.Marshal(busMessage{Except: except, Frame: frame})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, broadcastChannel, payload).Err()
}

// Subscribe listens for this node's frames and broadcasts until ctx is cancelled.
// It returns once the subscription is confirmed.
func (b *Bus) Subscribe(ctx context.Context, deliver func(msg busMessage)) error {
	pubsub := b.rdb.Subscribe(ctx, nodeChannelPrefix+b.nodeID, broadcastChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg busMessage
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					b.logger.Warn("dropping malformed bus message", zap.Error(err))
					continue
				}
				deliver(msg)
			}
		}
	}()
	return nil
}
