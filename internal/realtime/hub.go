package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/bondsphere/backend/internal/domain"
	"github.com/bondsphere/backend/internal/metrics"
)

const (
	EventUserOnline  = "user:online"
	EventUserOffline = "user:offline"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Frame is the wire shape of every event in both directions
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// ChatService persists direct messages
type ChatService interface {
	SendMessage(ctx context.Context, senderID, recipientID uuid.UUID, content string, recipientOnline bool) (*domain.Message, error)
	MarkRead(ctx context.Context, messageID, readerID uuid.UUID) (*domain.Message, error)
}

// Hub owns this node's WebSocket connections. Presence lives in Redis and
// frames for users connected to other nodes travel over the bus.
type Hub struct {
	nodeID   string
	presence *Presence
	bus      *Bus
	chat     ChatService
	logger   *zap.Logger

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// userID -> connections on this node, for multi-device support
	userClients map[uuid.UUID]map[*Client]bool
	mu          sync.RWMutex
}

func NewHub(nodeID string, presence *Presence, bus *Bus, chat ChatService, logger *zap.Logger) *Hub {
	return &Hub{
		nodeID:      nodeID,
		presence:    presence,
		bus:         bus,
		chat:        chat,
		logger:      logger,
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		done:        make(chan struct{}),
		userClients: make(map[uuid.UUID]map[*Client]bool),
	}
}

// Run processes connection lifecycle until ctx is cancelled. It subscribes to
// the bus first so no frame routed here is missed.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		if err := h.bus.Subscribe(ctx, h.deliverBus); err != nil {
			return err
		}
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return

			case client := <-h.register:
				h.mu.Lock()
				if _, ok := h.userClients[client.UserID]; !ok {
					h.userClients[client.UserID] = make(map[*Client]bool)
				}
				h.userClients[client.UserID][client] = true
				h.mu.Unlock()
				metrics.RealtimeConnections.Inc()
				h.connected(ctx, client)

			case client := <-h.unregister:
				h.mu.Lock()
				clients, ok := h.userClients[client.UserID]
				if ok && clients[client] {
					delete(clients, client)
					if len(clients) == 0 {
						delete(h.userClients, client.UserID)
					}
					close(client.send)
				} else {
					ok = false
				}
				h.mu.Unlock()
				if ok {
					metrics.RealtimeConnections.Dec()
					h.disconnected(ctx, client)
				}
			}
		}
	}()
	return nil
}

func (h *Hub) connected(ctx context.Context, c *Client) {
	first, err := h.presence.Add(ctx, c.UserID, c.ID)
	if err != nil {
		h.logger.Error("failed to record presence", zap.String("user_id", c.UserID.String()), zap.Error(err))
		return
	}
	h.logger.Debug("client registered", zap.String("user_id", c.UserID.String()), zap.Bool("first", first))
	if first {
		h.broadcast(ctx, EventUserOnline, map[string]string{"userId": c.UserID.String()}, &c.ID)
	}
}

func (h *Hub) disconnected(ctx context.Context, c *Client) {
	last, err := h.presence.Remove(ctx, c.UserID, c.ID)
	if err != nil {
		h.logger.Error("failed to clear presence", zap.String("user_id", c.UserID.String()), zap.Error(err))
		return
	}
	h.logger.Debug("client unregistered", zap.String("user_id", c.UserID.String()), zap.Bool("last", last))
	if last {
		h.Broadcast(ctx, EventUserOffline, map[string]string{"userId": c.UserID.String()})
	}
}

// closeAll drops every local connection on shutdown
func (h *Hub) closeAll() {
	close(h.done)

	h.mu.Lock()
	var all []*Client
	for _, clients := range h.userClients {
		for c := range clients {
			all = append(all, c)
		}
	}
	h.userClients = make(map[uuid.UUID]map[*Client]bool)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, c := range all {
		close(c.send)
		c.conn.Close()
		metrics.RealtimeConnections.Dec()
		if _, err := h.presence.Remove(ctx, c.UserID, c.ID); err != nil {
			h.logger.Warn("failed to clear presence on shutdown", zap.Error(err))
		}
	}
}

// Serve upgrades an authenticated request and starts the client pumps
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New(),
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h,
	}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// IsOnline reports whether the user has a live connection on any node
func (h *Hub) IsOnline(ctx context.Context, userID uuid.UUID) bool {
	online, err := h.presence.Online(ctx, userID)
	if err != nil {
		h.logger.Warn("presence lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		return h.localOnline(userID)
	}
	return online
}

func (h *Hub) localOnline(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.userClients[userID]) > 0
}

// SendToUser delivers an event to every connection of the user. Offline users are skipped.
func (h *Hub) SendToUser(ctx context.Context, userID uuid.UUID, event string, data interface{}) error {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		return err
	}

	if h.bus == nil {
		h.deliverLocal(userID, frame)
		return nil
	}

	nodes, err := h.presence.Nodes(ctx, userID)
	if err != nil {
		return err
	}
	for _, node := range nodes {
		if node == h.nodeID {
			h.deliverLocal(userID, frame)
			continue
		}
		if err := h.bus.SendToNode(ctx, node, userID, frame); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast delivers an event to every connected client on every node
func (h *Hub) Broadcast(ctx context.Context, event string, data interface{}) {
	h.broadcast(ctx, event, data, nil)
}

// broadcast skips the connection named by except, if any
func (h *Hub) broadcast(ctx context.Context, event string, data interface{}, except *uuid.UUID) {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal broadcast", zap.Error(err))
		return
	}
	if h.bus == nil {
		h.deliverAll(frame, except)
		return
	}
	if err := h.bus.Broadcast(ctx, frame, except); err != nil {
		h.logger.Error("failed to publish broadcast", zap.Error(err))
	}
}

func (h *Hub) deliverBus(msg busMessage) {
	if msg.User == nil {
		h.deliverAll(msg.Frame, msg.Except)
		return
	}
	h.deliverLocal(*msg.User, msg.Frame)
}

func (h *Hub) deliverLocal(userID uuid.UUID, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.userClients[userID] {
		client.enqueue(frame)
	}
}

func (h *Hub) deliverAll(frame []byte, except *uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, clients := range h.userClients {
		for client := range clients {
			if except != nil && client.ID == *except {
				continue
			}
			client.enqueue(frame)
		}
	}
}

// reply sends a frame to one connection only
func (h *Hub) reply(c *Client, event string, data interface{}) {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: data})
	if err != nil {
		h.logger.Error("failed to marshal reply", zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.userClients[c.UserID][c] {
		c.enqueue(frame)
	}
}
