package server

import (
	"context"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type directMessage struct {
	conn *websocket.Conn
	msg  Message
}

// Hub manages WebSocket clients. Every write to a connection happens on the
// hub goroutine.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	direct     chan directMessage
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	logger     zerolog.Logger
}

// NewHub creates a new Hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 16),
		direct:     make(chan directMessage, 16),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's event loop. It closes every client when ctx ends.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
			h.logger.Info().Int("clients", len(h.clients)).Msg("WebSocket client connected")
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.logger.Info().Int("clients", len(h.clients)).Msg("WebSocket client disconnected")
			}
		case d := <-h.direct:
			if !h.clients[d.conn] {
				continue
			}
			if err := d.conn.WriteJSON(d.msg); err != nil {
				h.drop(d.conn, err)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if err := client.WriteJSON(message); err != nil {
					h.drop(client, err)
				}
			}
		}
	}
}

func (h *Hub) drop(client *websocket.Conn, err error) {
	h.logger.Warn().Err(err).Msg("WebSocket write failed")
	client.Close()
	delete(h.clients, client)
}

// Broadcast sends a message to all connected clients.
func (h *Hub) Broadcast(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

// Send writes a message to one registered client.
func (h *Hub) Send(conn *websocket.Conn, msg Message) {
	select {
	case h.direct <- directMessage{conn: conn, msg: msg}:
	case <-h.done:
	}
}

func (h *Hub) add(conn *websocket.Conn) bool {
	select {
	case h.register <- conn:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(conn *websocket.Conn) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}
