package ws

import (
	"log/slog"
	"sync"
)

// Conn abstracts one live client channel. Enqueue must not block: a
// handle that cannot accept the payload reports an error and is evicted
// by the hub.
type Conn interface {
	Enqueue(payload []byte) error
	Close()
}

// Hub is the connection registry: it maps a user ID to the set of that
// user's live connections. A user may hold several at once
// (multi-device). All mutation and delivery goes through the Hub; no
// other component touches connection state.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Conn]struct{}
	log     *slog.Logger
}

// NewHub creates an initialized Hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[Conn]struct{}),
		log:     logger,
	}
}

// Register adds a connection under userID, creating the entry if absent.
func (h *Hub) Register(userID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID]; !ok {
		h.clients[userID] = make(map[Conn]struct{})
	}
	h.clients[userID][c] = struct{}{}
	h.log.Info("connection registered", "user_id", userID, "connections", len(h.clients[userID]))
}

// Unregister removes a connection from userID's entry, pruning the entry
// when it empties. Unregistering a connection that is already gone is a
// no-op: disconnect paths may race with explicit cleanup.
func (h *Hub) Unregister(userID string, c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
	h.log.Info("connection unregistered", "user_id", userID, "connections", len(set))
}

// SendToUser delivers payload to every live connection of userID. A user
// with no connections is a silent no-op; there is no offline mailbox.
func (h *Hub) SendToUser(userID string, payload []byte) {
	h.mu.RLock()
	conns := make([]Conn, 0, len(h.clients[userID]))
	for c := range h.clients[userID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.Enqueue(payload); err != nil {
			h.evict(userID, c, err)
		}
	}
}

// Broadcast delivers payload to every connection of every user present
// when the snapshot is taken. Connections registering afterwards may
// miss it; delivery is best effort. A connection that cannot keep up is
// evicted rather than allowed to stall the others.
func (h *Hub) Broadcast(payload []byte) {
	type target struct {
		userID string
		conn   Conn
	}
	h.mu.RLock()
	targets := make([]target, 0)
	for userID, set := range h.clients {
		for c := range set {
			targets = append(targets, target{userID: userID, conn: c})
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		if err := t.conn.Enqueue(payload); err != nil {
			h.evict(t.userID, t.conn, err)
		}
	}
}

// CountConnections reports the number of live connections across users.
func (h *Hub) CountConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, set := range h.clients {
		total += len(set)
	}
	return total
}

// Connections reports the number of live connections held by one user.
func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Shutdown closes every registered connection and empties the registry.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]map[Conn]struct{})
	h.mu.Unlock()

	for _, set := range clients {
		for c := range set {
			c.Close()
		}
	}
}

func (h *Hub) evict(userID string, c Conn, err error) {
	h.log.Warn("dropping unresponsive connection", "user_id", userID, "error", err)
	h.Unregister(userID, c)
	c.Close()
}
