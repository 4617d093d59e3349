package fakeapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// client is one connected stream subscriber. Writes are serialized per
// connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

type hub struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]*client
}

func newHub() *hub {
	return &hub{clients: make(map[int]*client)}
}

func (h *hub) add(c *client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.clients[id] = c
	return id
}

func (h *hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

func (h *hub) snapshot() []*client {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *hub) closeAll() {
	for _, c := range h.snapshot() {
		c.conn.Close()
	}
}

// Connections returns the number of connected stream clients.
func (s *Server) Connections() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return len(s.hub.clients)
}

// Broadcast sends a market_update carrying rows to every stream client.
func (s *Server) Broadcast(rows []map[string]any) error {
	return s.Send(map[string]any{"type": "market_update", "data": rows})
}

// Send writes one raw envelope to every stream client.
func (s *Server) Send(envelope any) error {
	msg, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	return s.SendRaw(msg)
}

// SendRaw writes msg verbatim, which lets tests push malformed frames.
func (s *Server) SendRaw(msg []byte) error {
	var firstErr error
	for _, c := range s.hub.snapshot() {
		if err := c.write(msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DropStreams closes every stream connection from the server side.
func (s *Server) DropStreams() {
	s.hub.closeAll()
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("stream upgrade failed", "error", err)
		return
	}
	c := &client{conn: conn}
	if err := c.write([]byte(`{"type":"welcome","message":"Connected to market stream"}`)); err != nil {
		conn.Close()
		return
	}
	id := s.hub.add(c)
	s.log.Info("stream client connected", "id", id, "remote", r.RemoteAddr)

	defer func() {
		s.hub.remove(id)
		conn.Close()
		s.log.Info("stream client disconnected", "id", id)
	}()

	// The client sends nothing; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
