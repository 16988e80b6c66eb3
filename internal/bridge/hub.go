// Package bridge pushes projection dirty keys to connected clients over
// SSE and WebSocket. Every client gets a bounded queue; a client that
// cannot keep up is disconnected instead of slowing the others down.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/telemetry"
)

// DefaultBuffer is the per-client queue size.
const DefaultBuffer = 16

// Errors
var (
	ErrSlowConsumer = errors.New("client queue full")
	ErrSendFailed   = errors.New("client send failed")
	ErrHubClosed    = errors.New("hub closed")
)

// Frame is one dirty-key notification.
type Frame struct {
	Keys []string `json:"keys"`
}

// Subscription is one client's view of the hub.
type Subscription struct {
	id     string
	frames chan Frame
	hub    *Hub
	err    error // set under hub.mu when the subscription ends
}

// ID identifies the client
func (s *Subscription) ID() string { return s.id }

// Frames delivers notifications. It is closed when the client is evicted,
// unsubscribes or the hub shuts down.
func (s *Subscription) Frames() <-chan Frame { return s.frames }

// Err reports why the subscription ended, nil if it ended by Close.
func (s *Subscription) Err() error {
	s.hub.mu.RLock()
	defer s.hub.mu.RUnlock()
	return s.err
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.drop(s.id, nil)
}

// Hub fans dirty keys out to subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Subscription
	buffer  int
	closed  bool
	metrics *telemetry.Metrics
	log     *logging.Logger
}

// Option configures a Hub
type Option func(*Hub)

// WithBuffer sets the per-client queue size
func WithBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithMetrics records queue and eviction metrics
func WithMetrics(m *telemetry.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// NewHub creates a hub
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[string]*Subscription),
		buffer:  DefaultBuffer,
		log:     logging.For("bridge"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe adds a client with its own bounded queue. Subscribing to a
// closed hub returns an already-ended subscription.
func (h *Hub) Subscribe() *Subscription {
	sub := &Subscription{
		id:     uuid.New().String(),
		frames: make(chan Frame, h.buffer),
		hub:    h,
	}

	h.mu.Lock()
	if h.closed {
		sub.err = ErrHubClosed
		close(sub.frames)
		h.mu.Unlock()
		return sub
	}
	h.clients[sub.id] = sub
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.ClientsChanged(context.Background(), 1)
	h.log.WithFields(map[string]interface{}{"client": sub.id, "clients": n}).Debug("Client connected")
	return sub
}

// Register subscribes a send callback and pumps frames to it from its own
// goroutine. A send that fails or panics disconnects only that client.
// The returned function unsubscribes.
func (h *Hub) Register(send func(Frame) error) func() {
	sub := h.Subscribe()
	go func() {
		for f := range sub.frames {
			if err := safeSend(send, f); err != nil {
				h.drop(sub.id, fmt.Errorf("%w: %v", ErrSendFailed, err))
				// drain until the channel is closed by drop
				for range sub.frames {
				}
				return
			}
		}
	}()
	return sub.Close
}

func safeSend(send func(Frame) error, f Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return send(f)
}

// Broadcast queues keys for every client without blocking. Clients whose
// queue is full are evicted.
func (h *Hub) Broadcast(keys []string) {
	if len(keys) == 0 {
		return
	}
	f := Frame{Keys: append([]string(nil), keys...)}

	h.mu.Lock()
	var slow []string
	queued := 0
	for id, sub := range h.clients {
		select {
		case sub.frames <- f:
			queued++
		default:
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		h.dropLocked(id, ErrSlowConsumer)
	}
	h.mu.Unlock()

	h.metrics.FramesQueued(context.Background(), queued)
	for _, id := range slow {
		h.metrics.ClientEvicted(context.Background(), "slow")
		h.log.WithField("client", id).Warn("Evicted slow client")
	}
}

// Notify is Broadcast; it lets the hub receive projection batches.
func (h *Hub) Notify(keys []string) { h.Broadcast(keys) }

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later subscriptions end immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	n := len(h.clients)
	for id := range h.clients {
		h.dropLocked(id, ErrHubClosed)
	}
	h.mu.Unlock()

	if n > 0 {
		h.log.WithField("clients", n).Info("Hub closed")
	}
}

func (h *Hub) drop(id string, reason error) {
	h.mu.Lock()
	ok := h.dropLocked(id, reason)
	h.mu.Unlock()
	if ok && reason != nil && !errors.Is(reason, ErrSlowConsumer) {
		h.metrics.ClientEvicted(context.Background(), "send")
		h.log.WithError(reason).WithField("client", id).Warn("Client disconnected")
	}
}

func (h *Hub) dropLocked(id string, reason error) bool {
	sub, ok := h.clients[id]
	if !ok {
		return false
	}
	delete(h.clients, id)
	sub.err = reason
	close(sub.frames)
	h.metrics.ClientsChanged(context.Background(), -1)
	return true
}
