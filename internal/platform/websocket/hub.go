// Package websocket pushes live views to browser clients. Each connection
// owns one Stream; the stream's states are written as JSON text frames and
// client messages are dispatched back to it.
package websocket

import (
	"sync"

	"github.com/google/uuid"
)

// ClientMessage is an inbound message from a WebSocket client.
type ClientMessage struct {
	Action string `json:"action"`
	Tab    string `json:"tab,omitempty"`
}

// Client is a single connected socket.
type Client struct {
	ID     string
	UserID string
}

func newClient(userID string) *Client {
	return &Client{ID: uuid.New().String(), UserID: userID}
}

// Hub tracks connected clients. All operations are safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	all    map[*Client]struct{}
	byUser map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		all:    make(map[*Client]struct{}),
		byUser: make(map[string]map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	if h.byUser[client.UserID] == nil {
		h.byUser[client.UserID] = make(map[*Client]struct{})
	}
	h.byUser[client.UserID][client] = struct{}{}
}

// Unregister removes a client. Unknown clients are ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	delete(h.all, client)
	if set, ok := h.byUser[client.UserID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byUser, client.UserID)
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// UserCount returns the number of sockets open for one identity.
func (h *Hub) UserCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
