package domain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type notificationFixture struct {
	svc     *NotificationService
	repo    *memNotifications
	prefs   *PreferenceService
	users   memUsers
	queue   *recordingQueue
	devices *memDevices
}

func newNotificationFixture() *notificationFixture {
	repo := newMemNotifications()
	prefs := NewPreferenceService(newMemPreferences(), newMemSchedules(), DigestTiming{Hour: 9}, zap.NewNop())
	users := memUsers{}
	queue := &recordingQueue{}
	devices := &memDevices{}
	svc := NewNotificationService(repo, devices, prefs, users, queue, "https://bondsphere.test", zap.NewNop())
	return &notificationFixture{svc: svc, repo: repo, prefs: prefs, users: users, queue: queue, devices: devices}
}

func TestCreateThenGetUnread(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "ada@example.com")

	_, err := f.svc.Create(ctx, CreateNotificationParams{
		RecipientID: u1,
		Type:        TypeFriendRequest,
		Content:     "Grace sent you a friend request",
		Channels:    []Channel{ChannelInApp},
	})
	require.NoError(t, err)

	unread, err := f.svc.GetUnread(ctx, u1, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.False(t, unread[0].Read)
	assert.Equal(t, []Channel{ChannelInApp}, f.queue.channels())
}

func TestCreateDefaults(t *testing.T) {
	f := newNotificationFixture()
	u1 := f.users.add("Ada", "ada@example.com")
	before := time.Now()

	n, err := f.svc.Create(context.Background(), CreateNotificationParams{
		RecipientID: u1,
		Type:        TypeSystem,
		Content:     "Welcome",
	})
	require.NoError(t, err)

	assert.Equal(t, PriorityMedium, n.Priority)
	assert.Equal(t, []Channel{ChannelInApp}, n.Channels)
	assert.WithinDuration(t, before.Add(DefaultNotificationTTL), n.ExpiresAt, time.Minute)
	require.Len(t, n.Deliveries, 1)
	assert.Equal(t, DeliveryPending, n.Deliveries[0].Status)
}

func TestCreateValidation(t *testing.T) {
	f := newNotificationFixture()
	u1 := uuid.New()
	post := uuid.New()

	tests := []struct {
		name   string
		params CreateNotificationParams
	}{
		{"missing recipient", CreateNotificationParams{Type: TypeSystem, Content: "x"}},
		{"unknown type", CreateNotificationParams{RecipientID: u1, Type: "poke", Content: "x"}},
		{"empty content", CreateNotificationParams{RecipientID: u1, Type: TypeSystem}},
		{"bad priority", CreateNotificationParams{RecipientID: u1, Type: TypeSystem, Content: "x", Priority: "urgent"}},
		{"bad channel", CreateNotificationParams{RecipientID: u1, Type: TypeSystem, Content: "x", Channels: []Channel{"sms"}}},
		{"reference not valid for type", CreateNotificationParams{
			RecipientID: u1, Type: TypeFriendRequest, Content: "x", Data: NotificationData{PostID: &post},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(context.Background(), tt.params)
			require.Error(t, err)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestCreateRespectsPreferences(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "ada@example.com")

	_, err := f.prefs.Update(ctx, u1, PreferenceUpdate{
		Preferences: map[string]map[string]interface{}{
			CategoryNotifications: {"comments": false},
		},
	})
	require.NoError(t, err)

	n, err := f.svc.Create(ctx, CreateNotificationParams{
		RecipientID: u1,
		Type:        TypePostComment,
		Content:     "New comment",
		Channels:    []Channel{ChannelInApp, ChannelPush, ChannelEmail},
	})
	require.NoError(t, err)

	assert.Equal(t, []Channel{ChannelInApp}, f.queue.channels())
	_, hasEmail := n.Delivery(ChannelEmail)
	assert.False(t, hasEmail)

	_, err = f.svc.Create(ctx, CreateNotificationParams{
		RecipientID: u1,
		Type:        TypePostLike,
		Content:     "New like",
		Channels:    []Channel{ChannelPush, ChannelEmail},
	})
	require.NoError(t, err)
	assert.Equal(t, []Channel{ChannelInApp, ChannelPush, ChannelEmail}, f.queue.channels())
}

func TestCreateDefersEmailForDigestUsers(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "ada@example.com")

	daily := string(FrequencyDaily)
	_, err := f.prefs.Update(ctx, u1, PreferenceUpdate{Frequency: &daily})
	require.NoError(t, err)

	n, err := f.svc.Create(ctx, CreateNotificationParams{
		RecipientID: u1,
		Type:        TypeMention,
		Content:     "You were mentioned",
		Channels:    []Channel{ChannelEmail},
	})
	require.NoError(t, err)

	assert.Empty(t, f.queue.channels())
	rec, ok := n.Delivery(ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, DeliveryPending, rec.Status)

	_, err = f.svc.Create(ctx, CreateNotificationParams{
		RecipientID: u1,
		Type:        TypeSecurityAlert,
		Content:     "New login",
		Channels:    []Channel{ChannelEmail},
	})
	require.NoError(t, err)
	assert.Equal(t, []Channel{ChannelEmail}, f.queue.channels())
}

func TestDigestDeliverySettlesDeferredEmail(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "ada@example.com")
	start := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return start }

	weekly := string(FrequencyWeekly)
	_, err := f.prefs.Update(ctx, u1, PreferenceUpdate{Frequency: &weekly})
	require.NoError(t, err)

	create := func() *Notification {
		n, err := f.svc.Create(ctx, CreateNotificationParams{
			RecipientID: u1,
			Type:        TypePostComment,
			Content:     "New comment",
			Channels:    []Channel{ChannelInApp, ChannelEmail},
		})
		require.NoError(t, err)
		return n
	}
	covered := create()
	f.svc.now = func() time.Time { return start.Add(2 * time.Hour) }
	later := create()

	require.NoError(t, f.svc.RecordDigestDelivery(ctx, u1, start.Add(time.Hour), true, ""))

	stored, err := f.repo.GetNotification(ctx, covered.ID)
	require.NoError(t, err)
	rec, ok := stored.Delivery(ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, DeliverySent, rec.Status)
	assert.True(t, rec.Sent)
	inApp, _ := stored.Delivery(ChannelInApp)
	assert.Equal(t, DeliveryPending, inApp.Status)

	stored, err = f.repo.GetNotification(ctx, later.ID)
	require.NoError(t, err)
	rec, _ = stored.Delivery(ChannelEmail)
	assert.Equal(t, DeliveryPending, rec.Status)

	require.NoError(t, f.svc.RecordDigestDelivery(ctx, u1, start.Add(3*time.Hour), false, "mailbox full"))
	stored, err = f.repo.GetNotification(ctx, later.ID)
	require.NoError(t, err)
	rec, _ = stored.Delivery(ChannelEmail)
	assert.Equal(t, DeliveryFailed, rec.Status)
	require.NotNil(t, rec.Error)
	assert.Equal(t, "mailbox full", *rec.Error)
}

type brokenRecorder struct {
	*memNotifications
}

func (brokenRecorder) RecordDeliveryAttempt(context.Context, uuid.UUID, Channel, bool, string) error {
	return errors.New("db down")
}

func TestEnqueueFailureRecordErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	users := memUsers{}
	u1 := users.add("Ada", "ada@example.com")
	prefs := NewPreferenceService(newMemPreferences(), newMemSchedules(), DigestTiming{Hour: 9}, zap.NewNop())
	queue := &recordingQueue{err: errors.New("queue down")}
	svc := NewNotificationService(brokenRecorder{newMemNotifications()}, &memDevices{}, prefs, users, queue, "", zap.New(core))

	_, err := svc.Create(context.Background(), CreateNotificationParams{
		RecipientID: u1,
		Type:        TypeSystem,
		Content:     "Hello",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("failed to record enqueue failure").Len())
}

func TestCreateEmailWithoutAddress(t *testing.T) {
	f := newNotificationFixture()
	u1 := f.users.add("Ada", "")

	n, err := f.svc.Create(context.Background(), CreateNotificationParams{
		RecipientID: u1,
		Type:        TypeSystem,
		Content:     "Hello",
		Channels:    []Channel{ChannelEmail},
	})
	require.NoError(t, err)

	rec, ok := n.Delivery(ChannelEmail)
	require.True(t, ok)
	assert.Equal(t, DeliveryFailed, rec.Status)
	assert.Empty(t, f.queue.channels())
}

func TestCreateSurvivesEnqueueFailure(t *testing.T) {
	f := newNotificationFixture()
	f.queue.err = errors.New("queue down")
	u1 := f.users.add("Ada", "ada@example.com")

	n, err := f.svc.Create(context.Background(), CreateNotificationParams{
		RecipientID: u1,
		Type:        TypeSystem,
		Content:     "Hello",
	})
	require.NoError(t, err)

	stored, err := f.repo.GetNotification(context.Background(), n.ID)
	require.NoError(t, err)
	rec, ok := stored.Delivery(ChannelInApp)
	require.True(t, ok)
	assert.Equal(t, DeliveryFailed, rec.Status)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "")

	n, err := f.svc.Create(ctx, CreateNotificationParams{RecipientID: u1, Type: TypeSystem, Content: "Hello"})
	require.NoError(t, err)

	first, err := f.svc.MarkRead(ctx, n.ID, u1)
	require.NoError(t, err)
	require.NotNil(t, first.ReadAt)

	second, err := f.svc.MarkRead(ctx, n.ID, u1)
	require.NoError(t, err)
	assert.True(t, second.Read)
	assert.Equal(t, *first.ReadAt, *second.ReadAt)
}

func TestOwnershipChecks(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "")
	intruder := uuid.New()

	n, err := f.svc.Create(ctx, CreateNotificationParams{RecipientID: u1, Type: TypeSystem, Content: "Hello"})
	require.NoError(t, err)

	_, err = f.svc.MarkRead(ctx, n.ID, intruder)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.svc.MarkActionTaken(ctx, n.ID, intruder)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.ErrorIs(t, f.svc.Delete(ctx, n.ID, intruder), ErrForbidden)

	_, err = f.svc.MarkRead(ctx, uuid.New(), u1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestActionTakenIsOrthogonalToRead(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "")

	n, err := f.svc.Create(ctx, CreateNotificationParams{RecipientID: u1, Type: TypeFriendRequest, Content: "Hi"})
	require.NoError(t, err)

	acted, err := f.svc.MarkActionTaken(ctx, n.ID, u1)
	require.NoError(t, err)
	assert.True(t, acted.ActionTaken)
	assert.False(t, acted.Read)

	count, err := f.svc.UnreadCount(ctx, u1)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordDeliveryAttemptUpserts(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "")

	n, err := f.svc.Create(ctx, CreateNotificationParams{RecipientID: u1, Type: TypeSystem, Content: "Hi"})
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordDeliveryAttempt(ctx, n.ID, ChannelPush, false, "timeout"))
	require.NoError(t, f.svc.RecordDeliveryAttempt(ctx, n.ID, ChannelPush, true, ""))

	stored, err := f.repo.GetNotification(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.DeliveryAttempts)
	assert.NotNil(t, stored.LastDeliveryAttempt)

	pushRecords := 0
	for _, d := range stored.Deliveries {
		if d.Channel == ChannelPush {
			pushRecords++
			assert.Equal(t, DeliverySent, d.Status)
			assert.True(t, d.Sent)
		}
	}
	assert.Equal(t, 1, pushRecords)
}

func TestMarkAllReadAndDeleteAll(t *testing.T) {
	f := newNotificationFixture()
	ctx := context.Background()
	u1 := f.users.add("Ada", "")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Create(ctx, CreateNotificationParams{RecipientID: u1, Type: TypeSystem, Content: "Hi"})
		require.NoError(t, err)
	}

	updated, err := f.svc.MarkAllRead(ctx, u1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, updated)

	count, err := f.svc.UnreadCount(ctx, u1)
	require.NoError(t, err)
	assert.Zero(t, count)

	deleted, err := f.svc.DeleteAll(ctx, u1)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deleted)
}

func TestRegisterDevice(t *testing.T) {
	f := newNotificationFixture()
	u1 := uuid.New()

	err := f.svc.RegisterDevice(context.Background(), u1, "", "ios")
	assert.True(t, IsValidation(err))

	require.NoError(t, f.svc.RegisterDevice(context.Background(), u1, "tok-1", "ios"))
	assert.Equal(t, []string{"tok-1"}, f.devices.tokens[u1])
}
