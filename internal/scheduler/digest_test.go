package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRunner struct {
	mu    sync.Mutex
	times []time.Time
	sent  int
	err   error
}

func (f *fakeRunner) RunDue(_ context.Context, now time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.times = append(f.times, now)
	return f.sent, f.err
}

func (f *fakeRunner) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.times)
}

func TestRunOnceUsesUTC(t *testing.T) {
	runner := &fakeRunner{sent: 3}
	s := NewDigestScheduler(runner, time.Minute, zap.NewNop())
	local := time.Date(2026, 10, 19, 11, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	s.now = func() time.Time { return local }

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, runner.times, 1)
	assert.Equal(t, time.UTC, runner.times[0].Location())
	assert.Equal(t, 9, runner.times[0].Hour())
}

func TestRunOncePropagatesError(t *testing.T) {
	runner := &fakeRunner{err: errors.New("db down")}
	s := NewDigestScheduler(runner, time.Minute, zap.NewNop())

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestStartTicksUntilCancelled(t *testing.T) {
	runner := &fakeRunner{}
	s := NewDigestScheduler(runner, 5*time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	s.Start(ctx)
	require.Eventually(t, func() bool { return runner.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
}
