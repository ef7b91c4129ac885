package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
)

type fakeChat struct {
	mu       sync.Mutex
	sent     []*domain.Message
	online   []bool
	messages map[uuid.UUID]*domain.Message
}

func newFakeChat() *fakeChat {
	return &fakeChat{messages: make(map[uuid.UUID]*domain.Message)}
}

func (f *fakeChat) SendMessage(_ context.Context, senderID, recipientID uuid.UUID, content string, recipientOnline bool) (*domain.Message, error) {
	if content == "" {
		return nil, domain.NewValidationError("content", "is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &domain.Message{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
	}
	f.sent = append(f.sent, msg)
	f.online = append(f.online, recipientOnline)
	f.messages[msg.ID] = msg
	return msg, nil
}

func (f *fakeChat) MarkRead(_ context.Context, messageID, readerID uuid.UUID) (*domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if msg.RecipientID != readerID {
		return nil, domain.ErrForbidden
	}
	now := time.Now().UTC()
	msg.ReadAt = &now
	return msg, nil
}

func (f *fakeChat) lastOnline() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[len(f.online)-1]
}

type testNode struct {
	hub *Hub
	url string
}

func startNode(t *testing.T, mr *miniredis.Miniredis, nodeID string, chat ChatService) *testNode {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		_ = rdb.Close()
	})

	hub := NewHub(nodeID, NewPresence(rdb, nodeID, time.Minute), NewBus(rdb, nodeID, zap.NewNop()), chat, zap.NewNop())
	require.NoError(t, hub.Run(ctx))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, uuid.MustParse(r.URL.Query().Get("user")))
	}))
	t.Cleanup(srv.Close)

	return &testNode{hub: hub, url: "ws" + strings.TrimPrefix(srv.URL, "http")}
}

func (n *testNode) connect(t *testing.T, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(n.url+"?user="+userID.String(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return n.hub.IsOnline(context.Background(), userID)
	}, 2*time.Second, 10*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Frame{Event: event, Data: raw}))
}

// readUntil skips frames until one with the given event arrives
func readUntil(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f Frame
		require.NoError(t, conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f.Data
		}
	}
}

func TestMessageRelayAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	chat := newFakeChat()
	nodeA := startNode(t, mr, "node-a", chat)
	nodeB := startNode(t, mr, "node-b", chat)

	alice, bob := uuid.New(), uuid.New()
	aliceConn := nodeA.connect(t, alice)
	bobConn := nodeB.connect(t, bob)

	send(t, aliceConn, EventMessageSend, map[string]interface{}{"recipientId": bob, "content": "hey"})

	var received domain.Message
	require.NoError(t, json.Unmarshal(readUntil(t, bobConn, EventMessageReceive), &received))
	assert.Equal(t, "hey", received.Content)
	assert.Equal(t, alice, received.SenderID)

	var ack domain.Message
	require.NoError(t, json.Unmarshal(readUntil(t, aliceConn, EventMessageSent), &ack))
	assert.Equal(t, received.ID, ack.ID)
	assert.True(t, chat.lastOnline())

	send(t, bobConn, EventMessageRead, map[string]interface{}{"messageId": received.ID})
	var read struct {
		MessageID uuid.UUID `json:"messageId"`
		ReaderID  uuid.UUID `json:"readerId"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, aliceConn, EventMessageRead), &read))
	assert.Equal(t, received.ID, read.MessageID)
	assert.Equal(t, bob, read.ReaderID)
}

func TestMessageToOfflineRecipientIsPersistedOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	chat := newFakeChat()
	node := startNode(t, mr, "node-a", chat)

	alice := uuid.New()
	conn := node.connect(t, alice)

	send(t, conn, EventMessageSend, map[string]interface{}{"recipientId": uuid.New(), "content": "are you there"})
	readUntil(t, conn, EventMessageSent)
	assert.False(t, chat.lastOnline())
}

func TestTypingRelayedToRecipient(t *testing.T) {
	mr := miniredis.RunT(t)
	nodeA := startNode(t, mr, "node-a", newFakeChat())
	nodeB := startNode(t, mr, "node-b", newFakeChat())

	alice, bob := uuid.New(), uuid.New()
	aliceConn := nodeA.connect(t, alice)
	bobConn := nodeB.connect(t, bob)

	send(t, aliceConn, EventTypingStart, map[string]interface{}{"recipientId": bob})

	var p struct {
		UserID uuid.UUID `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, bobConn, EventTypingStart), &p))
	assert.Equal(t, alice, p.UserID)
}

func TestPostLikeNotifiesAuthor(t *testing.T) {
	mr := miniredis.RunT(t)
	node := startNode(t, mr, "node-a", newFakeChat())

	liker, author := uuid.New(), uuid.New()
	likerConn := node.connect(t, liker)
	authorConn := node.connect(t, author)
	postID := uuid.New()

	send(t, likerConn, EventPostLike, map[string]interface{}{"postId": postID, "authorId": author})

	var p struct {
		PostID uuid.UUID `json:"postId"`
		UserID uuid.UUID `json:"userId"`
	}
	require.NoError(t, json.Unmarshal(readUntil(t, authorConn, EventPostLiked), &p))
	assert.Equal(t, postID, p.PostID)
	assert.Equal(t, liker, p.UserID)
}

func TestUserOnlineBroadcast(t *testing.T) {
	mr := miniredis.RunT(t)
	nodeA := startNode(t, mr, "node-a", newFakeChat())
	nodeB := startNode(t, mr, "node-b", newFakeChat())

	alice, bob := uuid.New(), uuid.New()
	aliceConn := nodeA.connect(t, alice)
	nodeB.connect(t, bob)

	for {
		var p struct {
			UserID string `json:"userId"`
		}
		require.NoError(t, json.Unmarshal(readUntil(t, aliceConn, EventUserOnline), &p))
		// a client is never told about its own arrival
		require.NotEqual(t, alice.String(), p.UserID)
		if p.UserID == bob.String() {
			break
		}
	}
}

func TestOwnOnlineEventNotEchoedToSingleNode(t *testing.T) {
	mr := miniredis.RunT(t)
	node := startNode(t, mr, "node-a", newFakeChat())

	alice := uuid.New()
	conn := node.connect(t, alice)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var frame Frame
	err := conn.ReadJSON(&frame)
	require.Error(t, err, "unexpected frame %q", frame.Event)
}

func TestServerPushReachesAllDevices(t *testing.T) {
	mr := miniredis.RunT(t)
	nodeA := startNode(t, mr, "node-a", newFakeChat())
	nodeB := startNode(t, mr, "node-b", newFakeChat())

	user := uuid.New()
	phone := nodeA.connect(t, user)
	laptop := nodeB.connect(t, user)

	require.Eventually(t, func() bool {
		nodes, err := nodeA.hub.presence.Nodes(context.Background(), user)
		return err == nil && len(nodes) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, nodeA.hub.SendToUser(context.Background(), user, "notification:new", map[string]string{"title": "hi"}))

	readUntil(t, phone, "notification:new")
	readUntil(t, laptop, "notification:new")
}

func TestUnknownEventRepliesError(t *testing.T) {
	mr := miniredis.RunT(t)
	node := startNode(t, mr, "node-a", newFakeChat())
	conn := node.connect(t, uuid.New())

	send(t, conn, "dance", map[string]string{})

	var p errorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventError), &p))
	assert.Equal(t, "dance", p.Event)
	assert.Contains(t, p.Message, "unknown event")
}

func TestMarkReadByNonRecipientIsForbidden(t *testing.T) {
	mr := miniredis.RunT(t)
	chat := newFakeChat()
	node := startNode(t, mr, "node-a", chat)

	alice, bob, eve := uuid.New(), uuid.New(), uuid.New()
	msg, err := chat.SendMessage(context.Background(), alice, bob, "secret", false)
	require.NoError(t, err)

	conn := node.connect(t, eve)
	send(t, conn, EventMessageRead, map[string]interface{}{"messageId": msg.ID})

	var p errorPayload
	require.NoError(t, json.Unmarshal(readUntil(t, conn, EventError), &p))
	assert.Equal(t, "forbidden", p.Message)
}
