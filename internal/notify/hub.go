package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds a single frame write so a client that stops reading
// cannot stall the dispatcher
const writeWait = 10 * time.Second

type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub pushes messages to every websocket a recipient has open
type Hub struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.RWMutex
	clients map[string]map[*wsClient]bool // by user id
}

// NewHub creates a hub; checkOrigin may be nil to allow all origins
func NewHub(logger *slog.Logger, checkOrigin func(r *http.Request) bool) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
		logger:   logger,
		clients:  make(map[string]map[*wsClient]bool),
	}
}

// Serve upgrades the request and keeps the connection registered for userID until it closes
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade connection", "error", err)
		return
	}
	client := &wsClient{conn: conn}
	h.add(userID, client)
	defer func() {
		h.remove(userID, client)
		conn.Close()
	}()

	// Inbound frames are ignored; reading detects disconnects
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Connected returns the number of open connections for userID
func (h *Hub) Connected(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Deliver writes msg to every connection of its recipient
func (h *Hub) Deliver(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	h.mu.RLock()
	targets := make([]*wsClient, 0, len(h.clients[msg.RecipientID]))
	for c := range h.clients[msg.RecipientID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	var firstErr error
	for _, c := range targets {
		c.mu.Lock()
		c.conn.SetWriteDeadline(writeDeadline(ctx, time.Now()))
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.mu.Unlock()
		if err != nil {
			h.remove(msg.RecipientID, c)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// writeDeadline is now+writeWait, or the context deadline when that is sooner
func writeDeadline(ctx context.Context, now time.Time) time.Time {
	deadline := now.Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func (h *Hub) add(userID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[userID]
	if !ok {
		set = make(map[*wsClient]bool)
		h.clients[userID] = set
	}
	set[c] = true
}

func (h *Hub) remove(userID string, c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.clients[userID]
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}
