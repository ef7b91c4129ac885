package tracking

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
)

func newTestTracker(t *testing.T, now time.Time) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tr := NewTracker(rdb, 30*24*time.Hour, zap.NewNop())
	tr.now = func() time.Time { return now }
	return tr, mr
}

func TestTrackSentThenOpened(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	tr, mr := newTestTracker(t, now)
	ctx := context.Background()
	userID := uuid.New()

	require.NoError(t, tr.TrackSent(ctx, "e1", "digest", "ana@example.com", &userID))
	require.NoError(t, tr.TrackOpened(ctx, "e1", now.Add(time.Minute)))

	rec, err := tr.GetStatus(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpened, rec.Status)
	assert.Equal(t, "digest", rec.Type)
	assert.Equal(t, "ana@example.com", rec.Recipient)
	require.NotNil(t, rec.UserID)
	assert.Equal(t, userID, *rec.UserID)
	require.NotNil(t, rec.SentAt)
	require.NotNil(t, rec.OpenedAt)
	assert.True(t, rec.OpenedAt.After(*rec.SentAt))

	assert.True(t, mr.TTL(recordPrefix+"e1") > 0)

	m, err := tr.GetMetrics(ctx, "digest", domain.PeriodDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Sent)
	assert.Equal(t, int64(1), m.Opened)
	assert.Equal(t, 100.0, m.OpenRate)
}

func TestStaleEventDoesNotRegressStatus(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(t, now)
	ctx := context.Background()

	require.NoError(t, tr.TrackSent(ctx, "e2", "notification", "bo@example.com", nil))
	require.NoError(t, tr.TrackClicked(ctx, "e2", "https://bondsphere.app/p/1", now.Add(2*time.Minute)))
	// delivered webhook arrives late
	require.NoError(t, tr.TrackDelivered(ctx, "e2", now.Add(30*time.Second)))

	rec, err := tr.GetStatus(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClicked, rec.Status)
	assert.Equal(t, "https://bondsphere.app/p/1", rec.ClickedLink)
	require.NotNil(t, rec.DeliveredAt)
	assert.Equal(t, now.Add(30*time.Second).UnixMilli(), rec.DeliveredAt.UnixMilli())
}

func TestRepeatedEventCountsOnce(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(t, now)
	ctx := context.Background()

	require.NoError(t, tr.TrackSent(ctx, "e3", "marketing", "cy@example.com", nil))
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.TrackOpened(ctx, "e3", now.Add(time.Duration(i+1)*time.Minute)))
	}

	m, err := tr.GetMetrics(ctx, "marketing", domain.PeriodWeek)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.Opened)
}

func TestBounceReasonKeepsFirst(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(t, now)
	ctx := context.Background()

	require.NoError(t, tr.TrackBounced(ctx, "e4", "mailbox full", now))
	require.NoError(t, tr.TrackBounced(ctx, "e4", "unknown user", now.Add(time.Second)))

	rec, err := tr.GetStatus(ctx, "e4")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBounced, rec.Status)
	assert.Equal(t, "mailbox full", rec.BounceReason)
	assert.Equal(t, "", rec.Type)
}

func TestGetStatusNotFound(t *testing.T) {
	tr, _ := newTestTracker(t, time.Now())

	_, err := tr.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetMetricsAcrossDays(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	tr, _ := newTestTracker(t, now)
	ctx := context.Background()

	require.NoError(t, tr.TrackSent(ctx, "today", "digest", "a@example.com", nil))

	tr.now = func() time.Time { return now.AddDate(0, 0, -3) }
	require.NoError(t, tr.TrackSent(ctx, "earlier", "digest", "b@example.com", nil))
	require.NoError(t, tr.TrackBounced(ctx, "earlier", "rejected", now.AddDate(0, 0, -3)))
	tr.now = func() time.Time { return now }

	day, err := tr.GetMetrics(ctx, "digest", domain.PeriodDay)
	require.NoError(t, err)
	assert.Equal(t, int64(1), day.Sent)
	assert.Equal(t, int64(0), day.Bounced)

	week, err := tr.GetMetrics(ctx, "digest", domain.PeriodWeek)
	require.NoError(t, err)
	assert.Equal(t, int64(2), week.Sent)
	assert.Equal(t, int64(1), week.Bounced)
	assert.Equal(t, 50.0, week.BounceRate)
}

func TestGetMetricsEmpty(t *testing.T) {
	tr, _ := newTestTracker(t, time.Now())

	m, err := tr.GetMetrics(context.Background(), "digest", domain.PeriodMonth)
	require.NoError(t, err)
	assert.True(t, m.Empty())
	assert.Equal(t, 0.0, m.OpenRate)
}

func TestGetMetricsRejectsUnknownPeriod(t *testing.T) {
	tr, _ := newTestTracker(t, time.Now())

	_, err := tr.GetMetrics(context.Background(), "digest", domain.MetricsPeriod("year"))
	assert.True(t, domain.IsValidation(err))
}

func TestSweepRemovesOnlyExpiredRecordsWithoutTTL(t *testing.T) {
	now := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	tr, mr := newTestTracker(t, now)
	ctx := context.Background()

	old := strconv.FormatInt(now.AddDate(0, 0, -40).UnixMilli(), 10)
	fresh := strconv.FormatInt(now.AddDate(0, 0, -1).UnixMilli(), 10)
	mr.HSet(recordPrefix+"old", "created_at", old, "status", "sent")
	mr.HSet(recordPrefix+"fresh", "created_at", fresh, "status", "sent")
	require.NoError(t, tr.TrackSent(ctx, "live", "digest", "a@example.com", nil))

	n, err := tr.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(recordPrefix+"old"))
	assert.True(t, mr.Exists(recordPrefix+"fresh"))
	assert.True(t, mr.Exists(recordPrefix+"live"))
}

func TestNewTrackingIDIsUnique(t *testing.T) {
	a, b := NewTrackingID(), NewTrackingID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 26)
}
