package domain

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newChatFixture() (*ChatService, *notificationFixture) {
	nf := newNotificationFixture()
	return NewChatService(newMemMessages(), nf.svc, zap.NewNop()), nf
}

func TestSendMessageToOfflineRecipientCreatesNotification(t *testing.T) {
	chat, nf := newChatFixture()
	ctx := context.Background()
	sender := nf.users.add("Ada", "")
	recipient := nf.users.add("Grace", "")

	msg, err := chat.SendMessage(ctx, sender, recipient, "  hello there  ", false)
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Content)

	notifs, err := nf.svc.GetByType(ctx, recipient, TypeMessage, 10)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	require.NotNil(t, notifs[0].Data.MessageID)
	assert.Equal(t, msg.ID, *notifs[0].Data.MessageID)
	assert.Equal(t, sender, *notifs[0].SenderID)
}

func TestSendMessageToOnlineRecipientSkipsNotification(t *testing.T) {
	chat, nf := newChatFixture()
	ctx := context.Background()
	sender := nf.users.add("Ada", "")
	recipient := nf.users.add("Grace", "")

	_, err := chat.SendMessage(ctx, sender, recipient, "hi", true)
	require.NoError(t, err)

	count, err := nf.svc.UnreadCount(ctx, recipient)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSendMessageValidation(t *testing.T) {
	chat, _ := newChatFixture()
	ctx := context.Background()
	me := uuid.New()

	_, err := chat.SendMessage(ctx, me, uuid.New(), "   ", true)
	assert.True(t, IsValidation(err))

	_, err = chat.SendMessage(ctx, me, me, "hi", true)
	assert.True(t, IsValidation(err))

	_, err = chat.SendMessage(ctx, me, uuid.New(), strings.Repeat("a", maxMessageLength+1), true)
	assert.True(t, IsValidation(err))
}

func TestMarkMessageReadOnlyByRecipient(t *testing.T) {
	chat, _ := newChatFixture()
	ctx := context.Background()
	sender, recipient := uuid.New(), uuid.New()

	msg, err := chat.SendMessage(ctx, sender, recipient, "hi", true)
	require.NoError(t, err)

	_, err = chat.MarkRead(ctx, msg.ID, sender)
	assert.ErrorIs(t, err, ErrForbidden)

	read, err := chat.MarkRead(ctx, msg.ID, recipient)
	require.NoError(t, err)
	assert.NotNil(t, read.ReadAt)
}
