package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
)

const (
	recordPrefix  = "email:tracking:"
	metricsPrefix = "email:metrics:"
	dayLayout     = "20060102"
	counterTTL    = 35 * 24 * time.Hour
)

var events = []domain.TrackingStatus{
	domain.StatusSent,
	domain.StatusDelivered,
	domain.StatusOpened,
	domain.StatusClicked,
	domain.StatusBounced,
	domain.StatusComplained,
}

// trackScript records one event atomically.
// First-occurrence timestamps and counters are always written; the status only
// moves when the event is not older than the one that set the current status.
//
// KEYS[1] record key
// ARGV[1] event, ARGV[2] event time (unix ms), ARGV[3] record ttl (s),
// ARGV[4] metrics prefix, ARGV[5] day bucket, ARGV[6] counter ttl (s),
// ARGV[7..] field/value pairs set only when absent
var trackScript = redis.NewScript(`
local key = KEYS[1]
local event = ARGV[1]
local ts = tonumber(ARGV[2])

if redis.call('EXISTS', key) == 0 then
	redis.call('HSET', key, 'created_at', ARGV[2])
	redis.call('EXPIRE', key, tonumber(ARGV[3]))
end

for i = 7, #ARGV, 2 do
	redis.call('HSETNX', key, ARGV[i], ARGV[i + 1])
end

if redis.call('HSETNX', key, event .. '_at', ARGV[2]) == 1 then
	local typ = redis.call('HGET', key, 'type') or 'unknown'
	local counter = ARGV[4] .. typ .. ':' .. ARGV[5] .. ':' .. event
	redis.call('INCR', counter)
	redis.call('EXPIRE', counter, tonumber(ARGV[6]))
end

local current = tonumber(redis.call('HGET', key, 'event_at') or '-1')
if ts >= current then
	redis.call('HSET', key, 'status', event, 'event_at', ARGV[2])
	return 1
end
return 0
`)

// Tracker stores per-email delivery state and daily counters in Redis
type Tracker struct {
	rdb       *redis.Client
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewTracker(rdb *redis.Client, retention time.Duration, logger *zap.Logger) *Tracker {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &Tracker{
		rdb:       rdb,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// NewTrackingID returns a sortable unique id for an outbound email
func NewTrackingID() string {
	return ulid.Make().String()
}

func (t *Tracker) TrackSent(ctx context.Context, id, emailType, recipient string, userID *uuid.UUID) error {
	fields := []string{"type", emailType, "recipient", recipient}
	if userID != nil {
		fields = append(fields, "user_id", userID.String())
	}
	_, err := t.track(ctx, id, domain.StatusSent, t.now(), fields...)
	return err
}

func (t *Tracker) TrackDelivered(ctx context.Context, id string, at time.Time) error {
	_, err := t.track(ctx, id, domain.StatusDelivered, at)
	return err
}

func (t *Tracker) TrackOpened(ctx context.Context, id string, at time.Time) error {
	_, err := t.track(ctx, id, domain.StatusOpened, at)
	return err
}

func (t *Tracker) TrackClicked(ctx context.Context, id, link string, at time.Time) error {
	var fields []string
	if link != "" {
		fields = []string{"clicked_link", link}
	}
	_, err := t.track(ctx, id, domain.StatusClicked, at, fields...)
	return err
}

func (t *Tracker) TrackBounced(ctx context.Context, id, reason string, at time.Time) error {
	var fields []string
	if reason != "" {
		fields = []string{"bounce_reason", reason}
	}
	_, err := t.track(ctx, id, domain.StatusBounced, at, fields...)
	return err
}

// TrackFailed records a bounce raised by the queue itself. The job's identity
// fields are stored first so the failure is counted under its email type.
func (t *Tracker) TrackFailed(ctx context.Context, id, emailType, recipient string, userID *uuid.UUID, reason string, at time.Time) error {
	fields := []string{"type", emailType, "recipient", recipient}
	if userID != nil {
		fields = append(fields, "user_id", userID.String())
	}
	if reason != "" {
		fields = append(fields, "bounce_reason", reason)
	}
	_, err := t.track(ctx, id, domain.StatusBounced, at, fields...)
	return err
}

func (t *Tracker) TrackComplained(ctx context.Context, id string, at time.Time) error {
	_, err := t.track(ctx, id, domain.StatusComplained, at)
	return err
}

// track runs the script and reports whether the status was applied
func (t *Tracker) track(ctx context.Context, id string, event domain.TrackingStatus, at time.Time, fields ...string) (bool, error) {
	if id == "" {
		return false, domain.NewValidationError("emailId", "is required")
	}
	if at.IsZero() {
		at = t.now()
	}

	args := make([]interface{}, 0, 6+len(fields))
	args = append(args,
		string(event),
		at.UnixMilli(),
		int64(t.retention/time.Second),
		metricsPrefix,
		at.UTC().Format(dayLayout),
		int64(counterTTL/time.Second),
	)
	for _, f := range fields {
		args = append(args, f)
	}

	applied, err := trackScript.Run(ctx, t.rdb, []string{recordPrefix + id}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("failed to track %s: %w", event, err)
	}
	if applied == 0 {
		t.logger.Debug("stale tracking event kept out of status",
			zap.String("email_id", id),
			zap.String("event", string(event)),
			zap.Time("at", at),
		)
	}
	return applied == 1, nil
}

// GetStatus returns the tracking record or domain.ErrNotFound
func (t *Tracker) GetStatus(ctx context.Context, id string) (*domain.TrackingRecord, error) {
	values, err := t.rdb.HGetAll(ctx, recordPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, domain.ErrNotFound
	}

	rec := &domain.TrackingRecord{
		ID:           id,
		Type:         values["type"],
		Recipient:    values["recipient"],
		Status:       domain.TrackingStatus(values["status"]),
		BounceReason: values["bounce_reason"],
		ClickedLink:  values["clicked_link"],
	}
	if raw, ok := values["user_id"]; ok {
		if uid, err := uuid.Parse(raw); err == nil {
			rec.UserID = &uid
		}
	}
	if ts := parseMillis(values["event_at"]); ts != nil {
		rec.EventAt = *ts
	}
	if ts := parseMillis(values["created_at"]); ts != nil {
		rec.CreatedAt = *ts
	}
	rec.SentAt = parseMillis(values["sent_at"])
	rec.DeliveredAt = parseMillis(values["delivered_at"])
	rec.OpenedAt = parseMillis(values["opened_at"])
	rec.ClickedAt = parseMillis(values["clicked_at"])
	rec.BouncedAt = parseMillis(values["bounced_at"])
	rec.ComplainedAt = parseMillis(values["complained_at"])
	return rec, nil
}

// GetMetrics sums the daily counters of one email type over the period
func (t *Tracker) GetMetrics(ctx context.Context, emailType string, period domain.MetricsPeriod) (*domain.EmailMetrics, error) {
	days, ok := period.Days()
	if !ok {
		return nil, domain.NewValidationError("period", "must be day, week or month")
	}
	if emailType == "" {
		return nil, domain.NewValidationError("type", "is required")
	}

	today := t.now().UTC()
	keys := make([]string, 0, days*len(events))
	for i := 0; i < days; i++ {
		day := today.AddDate(0, 0, -i).Format(dayLayout)
		for _, ev := range events {
			keys = append(keys, metricsPrefix+emailType+":"+day+":"+string(ev))
		}
	}

	values, err := t.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	totals := make(map[domain.TrackingStatus]int64, len(events))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			continue
		}
		totals[events[i%len(events)]] += n
	}

	m := &domain.EmailMetrics{
		Type:       emailType,
		Period:     period,
		Sent:       totals[domain.StatusSent],
		Delivered:  totals[domain.StatusDelivered],
		Opened:     totals[domain.StatusOpened],
		Clicked:    totals[domain.StatusClicked],
		Bounced:    totals[domain.StatusBounced],
		Complained: totals[domain.StatusComplained],
	}
	m.ComputeRates()
	return m, nil
}

// Sweep deletes records that lost their TTL and are older than the retention window
func (t *Tracker) Sweep(ctx context.Context) (int, error) {
	cutoff := t.now().Add(-t.retention).UnixMilli()
	removed := 0

	iter := t.rdb.Scan(ctx, 0, recordPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := t.rdb.TTL(ctx, key).Result()
		if err != nil {
			return removed, err
		}
		if ttl != -1 {
			continue
		}

		created, err := t.rdb.HGet(ctx, key, "created_at").Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return removed, err
		}
		if created > cutoff {
			continue
		}
		if err := t.rdb.Del(ctx, key).Err(); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, iter.Err()
}

// StartSweeper runs Sweep on an interval until ctx is cancelled
func (t *Tracker) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := t.Sweep(ctx)
				if err != nil {
					t.logger.Error("tracking sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					t.logger.Info("swept tracking records", zap.Int("count", n))
				}
			}
		}
	}()
}

func parseMillis(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	ts := time.UnixMilli(ms).UTC()
	return &ts
}
