package http

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"live-quiz-service/internal/domain"
)

// outboundMessage is the wire envelope of every server-to-client frame.
type outboundMessage struct {
	Type    string          `json:"type"`
	Ref     json.RawMessage `json:"ref,omitempty"`
	Payload any             `json:"payload"`
}

// client is one registered connection. send is closed by the hub on
// unregister, which stops the connection's writer.
type client struct {
	id   string
	send chan []byte
}

// Hub routes room events to connections. It implements app.Broadcaster.
// Delivery never blocks: a connection whose buffer is full loses the frame.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	topics  map[string]map[string]struct{}
	buffer  int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		clients: make(map[string]*client),
		topics:  make(map[string]map[string]struct{}),
		buffer:  buffer,
	}
}

func (h *Hub) register(connID string) *client {
	c := &client{
		id:   connID,
		send: make(chan []byte, h.buffer),
	}
	h.mu.Lock()
	h.clients[connID] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	delete(h.clients, connID)
	for code, members := range h.topics {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.topics, code)
		}
	}
	close(c.send)
}

func (h *Hub) Subscribe(code, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[connID]; !ok {
		return
	}
	members, ok := h.topics[code]
	if !ok {
		members = make(map[string]struct{})
		h.topics[code] = members
	}
	members[connID] = struct{}{}
}

func (h *Hub) Unsubscribe(code, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.topics[code]
	if !ok {
		return
	}
	delete(members, connID)
	if len(members) == 0 {
		delete(h.topics, code)
	}
}

func (h *Hub) CloseTopic(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics, code)
}

func (h *Hub) Broadcast(code string, evt domain.Event) {
	data, ok := encodeEvent(evt)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for connID := range h.topics[code] {
		if c, ok := h.clients[connID]; ok {
			h.offer(c, data, evt.Type)
		}
	}
}

func (h *Hub) Send(connID string, evt domain.Event) {
	data, ok := encodeEvent(evt)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		h.offer(c, data, evt.Type)
	}
}

// Subscribers reports how many connections listen to a room.
func (h *Hub) Subscribers(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[code])
}

// offer must be called with at least the read lock held, so send is open.
func (h *Hub) offer(c *client, data []byte, eventType string) {
	select {
	case c.send <- data:
	default:
		log.Warn().Str("conn", c.id).Str("event", eventType).Msg("send buffer full, dropping event")
	}
}

// reply queues an ack, waiting for buffer space until stop is closed. Only
// the connection's own reader calls it, so it cannot race with unregister.
func (h *Hub) reply(c *client, msg outboundMessage, stop <-chan struct{}) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("conn", c.id).Msg("encode ack failed")
		return
	}
	select {
	case c.send <- data:
	case <-stop:
	}
}

func encodeEvent(evt domain.Event) ([]byte, bool) {
	data, err := json.Marshal(outboundMessage{Type: evt.Type, Payload: evt.Payload})
	if err != nil {
		log.Error().Err(err).Str("event", evt.Type).Msg("encode event failed")
		return nil, false
	}
	return data, true
}
