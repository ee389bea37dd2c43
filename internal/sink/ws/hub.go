package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/wb-go/wbf/zlog"
)

const writeTimeout = 5 * time.Second

type frame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Title   string `json:"title,omitempty"`
	Status  string `json:"status,omitempty"`
}

// subscriber serializes writes to one connection: broadcasts and the greeting
// frame may race, and gorilla conns allow a single concurrent writer.
type subscriber struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *subscriber) send(msg frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(msg)
}

// Hub fans a message out to every connection currently attached to a named
// channel. There is no backlog: a subscriber that joins after a broadcast
// never sees it.
type Hub struct {
	mu       sync.Mutex
	channels map[string]map[*subscriber]bool
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*subscriber]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS upgrades the request and keeps the connection subscribed to the
// channel until the peer goes away.
func (h *Hub) HandleWS(channel string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			// The upgrader has already written the handshake error response.
			zlog.Logger.Warn().Err(err).Str("channel", channel).Msg("Websocket upgrade failed")
			return
		}

		sub := &subscriber{conn: conn}
		h.register(channel, sub)
		zlog.Logger.Info().Str("channel", channel).Msg("Subscriber connected")

		sub.send(frame{
			Type:    "system",
			Message: "Подключено к серверу",
		})

		defer func() {
			h.unregister(channel, sub)
			conn.Close()
			zlog.Logger.Info().Str("channel", channel).Msg("Subscriber disconnected")
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}
}

// Broadcast writes the message to all live subscribers of the channel.
// Zero subscribers is a successful no-op; a connection that fails the write
// is dropped. The registry lock is not held across the network writes, so a
// slow peer never stalls register/unregister or other channels.
func (h *Hub) Broadcast(ctx context.Context, channel, message string) error {
	h.mu.Lock()
	subs := make([]*subscriber, 0, len(h.channels[channel]))
	for sub := range h.channels[channel] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	if len(subs) == 0 {
		return nil
	}

	msg := frame{
		Type:    "notification",
		Message: message,
		Title:   "📨 Уведомление от сервера",
		Status:  "info",
	}

	var failed []*subscriber
	for _, sub := range subs {
		if err := sub.send(msg); err != nil {
			sub.conn.Close()
			failed = append(failed, sub)
		}
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, sub := range failed {
			delete(h.channels[channel], sub)
		}
		h.mu.Unlock()
	}
	return nil
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, subs := range h.channels {
		for sub := range subs {
			sub.conn.Close()
		}
	}
	h.channels = make(map[string]map[*subscriber]bool)
}

func (h *Hub) register(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*subscriber]bool)
	}
	h.channels[channel][sub] = true
}

func (h *Hub) unregister(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.channels[channel], sub)
}
