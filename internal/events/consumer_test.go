package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
)

type fakeReader struct {
	mu        sync.Mutex
	messages  []kafka.Message
	committed []int64
	closed    bool
	fetchErrs int
	fetches   int
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	r.fetches++
	if r.fetchErrs > 0 {
		r.fetchErrs--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(r.messages) > 0 {
		msg := r.messages[0]
		r.messages = r.messages[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type fakeCreator struct {
	mu       sync.Mutex
	failures int
	err      error
	created  []domain.CreateNotificationParams
}

func (f *fakeCreator) Create(_ context.Context, params domain.CreateNotificationParams) (*domain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	if !domain.ValidType(params.Type) {
		return nil, domain.NewValidationError("type", "is invalid")
	}
	f.created = append(f.created, params)
	return &domain.Notification{ID: uuid.New(), Type: params.Type}, nil
}

func (f *fakeCreator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func TestDecodeEvent(t *testing.T) {
	recipient, sender, post := uuid.New(), uuid.New(), uuid.New()
	raw := `{"recipientId":"` + recipient.String() + `","senderId":"` + sender.String() +
		`","type":"post_like","content":"liked your post","data":{"post_id":"` + post.String() +
		`"},"priority":"high","channels":["in_app","push"]}`

	ev, err := Decode([]byte(raw))
	require.NoError(t, err)

	params := ev.Params()
	assert.Equal(t, recipient, params.RecipientID)
	require.NotNil(t, params.SenderID)
	assert.Equal(t, sender, *params.SenderID)
	assert.Equal(t, domain.TypePostLike, params.Type)
	assert.Equal(t, domain.PriorityHigh, params.Priority)
	assert.Equal(t, []domain.Channel{domain.ChannelInApp, domain.ChannelPush}, params.Channels)
	require.NotNil(t, params.Data.PostID)
	assert.Equal(t, post, *params.Data.PostID)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.True(t, domain.IsValidation(err))

	_, err = Decode([]byte(`{"type":"system","content":"x"}`))
	assert.True(t, domain.IsValidation(err))
}

func event(offset int64, typ string) kafka.Message {
	return kafka.Message{
		Offset: offset,
		Value:  []byte(`{"recipientId":"` + uuid.NewString() + `","type":"` + typ + `","content":"hello"}`),
	}
}

func TestConsumerSkipsInvalidAndCommitsAll(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		event(1, "system"),
		{Offset: 2, Value: []byte(`garbage`)},
		event(3, "not_a_type"),
		event(4, "achievement"),
	}}
	creator := &fakeCreator{}
	c := NewConsumer(reader, creator, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.commits())
	assert.Equal(t, 2, creator.count())
	assert.True(t, reader.closed)
}

func TestConsumerRetriesTransientFailure(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{event(7, "system")}}
	creator := &fakeCreator{failures: 2, err: errors.New("connection reset")}
	c := NewConsumer(reader, creator, zap.NewNop())
	c.baseDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 1, creator.count())
}

func TestConsumerSurvivesFetchErrors(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{event(3, "system")}, fetchErrs: 3}
	creator := &fakeCreator{}
	c := NewConsumer(reader, creator, zap.NewNop())
	c.baseDelay = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{3}, reader.commits())
	assert.Equal(t, 1, creator.count())
	reader.mu.Lock()
	assert.GreaterOrEqual(t, reader.fetches, 4)
	reader.mu.Unlock()
}

func TestConsumerDoesNotCommitWhenCancelledMidRetry(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{event(9, "system")}}
	creator := &fakeCreator{failures: 1000, err: errors.New("db down")}
	c := NewConsumer(reader, creator, zap.NewNop())
	c.baseDelay = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, c.Run(ctx))
	assert.Empty(t, reader.commits())
}
