package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/teamsync/agent/internal/logging"
	"github.com/kimhsiao/teamsync/agent/internal/uuid"
)

// DefaultAuthTokenTimeout bounds a get-auth-token round trip.
const DefaultAuthTokenTimeout = 5 * time.Second

const sendBufferSize = 256

// CommandHandler handles commands sent by windows. ok is false when the
// command produces no reply.
type CommandHandler interface {
	Handle(ctx context.Context, msg Message) (reply interface{}, ok bool)
}

// Hub maintains connected windows in connection order.
type Hub struct {
	mu      sync.RWMutex
	clients []*client
	closed  bool

	pendingMu sync.Mutex
	pending   map[string]chan Message

	handler     CommandHandler
	authTimeout time.Duration
	upgrader    websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub. A zero authTimeout uses DefaultAuthTokenTimeout.
func NewHub(authTimeout time.Duration) *Hub {
	if authTimeout <= 0 {
		authTimeout = DefaultAuthTokenTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		pending:     make(map[string]chan Message),
		authTimeout: authTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetCommandHandler sets the handler for inbound commands.
func (h *Hub) SetCommandHandler(handler CommandHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// checkOrigin only admits local windows.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return u.Host == r.Host
}

// ServeWS upgrades the request and registers the window.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &client{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
		hub:  h,
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients = append(h.clients, c)
	total := len(h.clients)
	h.mu.Unlock()

	connectedClients.Set(float64(total))
	logging.Info("Window connected", map[string]interface{}{"client_id": c.id, "total": total})
	return true
}

// unregister removes c and closes its send buffer. Safe to call repeatedly.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	found := false
	for i, existing := range h.clients {
		if existing == c {
			h.clients = append(h.clients[:i], h.clients[i+1:]...)
			found = true
			break
		}
	}
	total := len(h.clients)
	if found {
		close(c.send)
		close(c.done)
	}
	h.mu.Unlock()

	if found {
		connectedClients.Set(float64(total))
		logging.Info("Window disconnected", map[string]interface{}{"client_id": c.id, "total": total})
	}
}

// Clients returns the number of connected windows.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a message to every connected window. A window whose buffer
// is full is disconnected without affecting delivery to the others.
func (h *Hub) Broadcast(msgType string, data interface{}) {
	msg, err := newMessage(msgType, data)
	if err != nil {
		logging.Error("Failed to encode broadcast", err, map[string]interface{}{"type": msgType})
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Error("Failed to encode broadcast", err, map[string]interface{}{"type": msgType})
		return
	}

	var slow []*client
	h.mu.RLock()
	for _, c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		broadcastDropped.Inc()
		logging.Warn("Window send buffer full, disconnecting",
			map[string]interface{}{"client_id": c.id, "type": msgType})
		h.unregister(c)
	}
}

// RequestAuthToken asks the first connected window for its session token.
// It returns "Bearer <token>", or "" when no window answers with a token in
// time.
func (h *Hub) RequestAuthToken(ctx context.Context) string {
	h.mu.RLock()
	var target *client
	if len(h.clients) > 0 {
		target = h.clients[0]
	}
	h.mu.RUnlock()

	if target == nil {
		recordAuthToken(tokenNoClient)
		logging.Debug("No window connected for auth token", nil)
		return ""
	}

	ctx, cancel := context.WithTimeout(ctx, h.authTimeout)
	defer cancel()

	req, _ := newMessage(TypeGetAuthToken, nil)
	req.ID = uuid.New()

	replyCh := make(chan Message, 1)
	h.pendingMu.Lock()
	h.pending[req.ID] = replyCh
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, req.ID)
		h.pendingMu.Unlock()
	}()

	if !h.sendTo(target, req) {
		recordAuthToken(tokenSendFailed)
		return ""
	}

	select {
	case reply := <-replyCh:
		var data authTokenReply
		if len(reply.Data) > 0 {
			if err := json.Unmarshal(reply.Data, &data); err != nil {
				logging.Warn("Malformed auth token reply",
					map[string]interface{}{"client_id": target.id, "error": err.Error()})
			}
		}
		if data.Token == nil || *data.Token == "" {
			recordAuthToken(tokenEmpty)
			return ""
		}
		recordAuthToken(tokenOK)
		return "Bearer " + *data.Token
	case <-target.done:
		recordAuthToken(tokenDisconnected)
		return ""
	case <-ctx.Done():
		recordAuthToken(tokenTimeout)
		logging.Warn("Auth token request timed out",
			map[string]interface{}{"client_id": target.id, "timeout_ms": h.authTimeout.Milliseconds()})
		return ""
	}
}

// sendTo queues msg for one window without blocking.
func (h *Hub) sendTo(c *client, msg Message) bool {
	payload, err := json.Marshal(msg)
	if err != nil {
		logging.Error("Failed to encode message", err, map[string]interface{}{"type": msg.Type})
		return false
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, existing := range h.clients {
		if existing != c {
			continue
		}
		select {
		case c.send <- payload:
			return true
		default:
			return false
		}
	}
	return false
}

// deliverReply hands a reply to the waiting request, if any.
func (h *Hub) deliverReply(msg Message) {
	h.pendingMu.Lock()
	ch, ok := h.pending[msg.ReplyTo]
	h.pendingMu.Unlock()
	if !ok {
		logging.Debug("Dropping reply with no pending request", map[string]interface{}{"reply_to": msg.ReplyTo})
		return
	}
	select {
	case ch <- msg:
	default:
	}
}

// handleCommand runs an inbound command and replies when the sender asked
// for one by setting an id.
func (h *Hub) handleCommand(c *client, msg Message) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler == nil {
		logging.Warn("No command handler, ignoring message", map[string]interface{}{"type": msg.Type})
		return
	}

	reply, ok := handler.Handle(h.ctx, msg)
	if !ok || msg.ID == "" {
		return
	}

	out, err := newMessage(TypeReply, reply)
	if err != nil {
		logging.Error("Failed to encode reply", err, map[string]interface{}{"type": msg.Type})
		return
	}
	out.ReplyTo = msg.ID
	if !h.sendTo(c, out) {
		logging.Warn("Failed to queue reply", map[string]interface{}{"client_id": c.id, "type": msg.Type})
	}
}

// Close disconnects every window. Later connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := append([]*client(nil), h.clients...)
	h.mu.Unlock()

	h.cancel()
	for _, c := range clients {
		h.unregister(c)
	}
}
