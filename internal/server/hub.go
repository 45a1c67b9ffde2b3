package server

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Client is one connected push channel with its authenticated identity.
// Writes are serialized per connection.
type Client struct {
	UserID   string
	Username string

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(conn *websocket.Conn, userID, username string) *Client {
	return &Client{conn: conn, UserID: userID, Username: username}
}

func (c *Client) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub tracks which clients joined which rooms and fans push events out.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Client]struct{})}
}

// Join adds the client to a room. Joining twice is harmless; reference
// counting is the client's job.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][c] = struct{}{}
}

// Leave removes the client from a room.
func (h *Hub) Leave(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Drop removes the client from every room it joined.
func (h *Hub) Drop(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Broadcast sends the payload to every member of the room, optionally
// skipping one client (the typing sender never hears its own indicator).
// Failed connections are closed; cleanup happens when their read loop exits.
func (h *Hub) Broadcast(room string, v any, except *Client) {
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			members = append(members, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range members {
		if err := c.Send(v); err != nil {
			c.mu.Lock()
			c.conn.Close()
			c.mu.Unlock()
		}
	}
}
