// Package hub fans gateway broadcasts out to dashboard clients over
// Server-Sent Events and WebSocket.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultBuffer is the per-client queue depth.
const DefaultBuffer = 256

// ErrClientBacklogged is set on a client dropped because its queue was full.
var ErrClientBacklogged = errors.New("hub: client backlogged")

// Frame is one encoded push message.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client is one subscribed dashboard.
type Client struct {
	ID string

	send chan Frame
	done chan struct{}
	once sync.Once
	err  error
}

func newClient(buffer int) *Client {
	return &Client{
		ID:   uuid.NewString(),
		send: make(chan Frame, buffer),
		done: make(chan struct{}),
	}
}

// Messages yields frames queued for the client.
func (c *Client) Messages() <-chan Frame { return c.send }

// Done is closed when the client is detached.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the client was dropped, if it was dropped by the hub.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Send queues a message for this client only. It returns ErrClientBacklogged
// when the queue is full.
func (c *Client) Send(event string, payload any) error {
	f, err := encode(event, payload)
	if err != nil {
		return err
	}
	return c.enqueue(f)
}

func (c *Client) enqueue(f Frame) error {
	select {
	case <-c.done:
		return nil
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return ErrClientBacklogged
	}
}

func (c *Client) close(err error) {
	c.once.Do(func() {
		c.err = err
		close(c.done)
	})
}

// Option configures a Hub.
type Option func(*Hub)

// WithBuffer sets the per-client queue depth.
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// Hub is the set of connected clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	buffer  int
}

// New creates an empty hub.
func New(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[string]*Client),
		buffer:  DefaultBuffer,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewClient creates and registers a client.
func (h *Hub) NewClient() *Client {
	c := newClient(h.buffer)
	h.mu.Lock()
	h.clients[c.ID] = c
	count := len(h.clients)
	h.mu.Unlock()

	log.Debug().Str("component", "hub").Str("clientId", c.ID).Int("totalClients", count).Msg("client connected")
	return c
}

// Detach removes a client. Detaching twice is harmless.
func (h *Hub) Detach(c *Client) {
	h.drop(c, nil)
}

func (h *Hub) drop(c *Client, err error) {
	h.mu.Lock()
	_, ok := h.clients[c.ID]
	delete(h.clients, c.ID)
	count := len(h.clients)
	h.mu.Unlock()

	c.close(err)
	if ok {
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("component", "hub").Str("clientId", c.ID).Int("totalClients", count).Msg("client disconnected")
	}
}

// Broadcast encodes payload once and queues it for every client. Clients
// whose queue is full are dropped.
func (h *Hub) Broadcast(event string, payload any) {
	f, err := encode(event, payload)
	if err != nil {
		log.Error().Str("component", "hub").Str("event", event).Err(err).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.enqueue(f); err != nil {
			h.drop(c, err)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func encode(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}
