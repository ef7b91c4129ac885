package realtime

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const presencePrefix = "presence:"

// Presence tracks which node holds each live connection.
// Entries are "node|heartbeat-unix" and go stale after ttl without a heartbeat.
type Presence struct {
	rdb    *redis.Client
	nodeID string
	ttl    time.Duration
	now    func() time.Time
}

func NewPresence(rdb *redis.Client, nodeID string, ttl time.Duration) *Presence {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &Presence{
		rdb:    rdb,
		nodeID: nodeID,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (p *Presence) key(userID uuid.UUID) string {
	return presencePrefix + userID.String()
}

func (p *Presence) entry() string {
	return p.nodeID + "|" + strconv.FormatInt(p.now().Unix(), 10)
}

// Add registers a connection and reports whether it is the user's first one anywhere
func (p *Presence) Add(ctx context.Context, userID, connID uuid.UUID) (bool, error) {
	key := p.key(userID)
	if _, err := p.prune(ctx, userID); err != nil {
		return false, err
	}

	var count *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, connID.String(), p.entry())
		pipe.Expire(ctx, key, p.ttl)
		count = pipe.HLen(ctx, key)
		return nil
	})
	if err != nil {
		return false, err
	}
	return count.Val() == 1, nil
}

// Remove drops a connection and reports whether the user has none left
func (p *Presence) Remove(ctx context.Context, userID, connID uuid.UUID) (bool, error) {
	key := p.key(userID)

	var removed, count *redis.IntCmd
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.HDel(ctx, key, connID.String())
		count = pipe.HLen(ctx, key)
		return nil
	})
	if err != nil {
		return false, err
	}
	if removed.Val() == 0 {
		return false, nil
	}
	if count.Val() == 0 {
		return true, nil
	}

	// remaining entries may belong to a crashed node
	nodes, err := p.prune(ctx, userID)
	if err != nil {
		return false, err
	}
	return len(nodes) == 0, nil
}

// Refresh records a heartbeat for a live connection
func (p *Presence) Refresh(ctx context.Context, userID, connID uuid.UUID) error {
	key := p.key(userID)
	_, err := p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, connID.String(), p.entry())
		pipe.Expire(ctx, key, p.ttl)
		return nil
	})
	return err
}

// Nodes lists the distinct nodes holding a live connection of the user
func (p *Presence) Nodes(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return p.prune(ctx, userID)
}

// Online reports whether the user has any live connection
func (p *Presence) Online(ctx context.Context, userID uuid.UUID) (bool, error) {
	nodes, err := p.prune(ctx, userID)
	return len(nodes) > 0, err
}

// prune removes stale entries and returns the live nodes
func (p *Presence) prune(ctx context.Context, userID uuid.UUID) ([]string, error) {
	key := p.key(userID)
	entries, err := p.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, err
	}

	cutoff := p.now().Add(-p.ttl).Unix()
	seen := make(map[string]bool)
	var (
		nodes []string
		stale []string
	)
	for conn, value := range entries {
		node, beat, ok := strings.Cut(value, "|")
		ts, err := strconv.ParseInt(beat, 10, 64)
		if !ok || err != nil || ts < cutoff {
			stale = append(stale, conn)
			continue
		}
		if !seen[node] {
			seen[node] = true
			nodes = append(nodes, node)
		}
	}
	if len(stale) > 0 {
		if err := p.rdb.HDel(ctx, key, stale...).Err(); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}
