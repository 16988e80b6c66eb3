// Package eventlog is the in-process append-only log of domain events with
// synchronous subscriber fan-out. An optional durable store (the ledger)
// receives every event before subscribers see it.
package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/ledger"
	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/telemetry"
)

// DefaultListLimit is how many events List returns when no limit is given.
const DefaultListLimit = 200

// Store is the durable side of the log
type Store interface {
	Append(ctx context.Context, rec core.EventRecord) (*ledger.Entry, error)
	Load(ctx context.Context) ([]core.EventRecord, error)
}

// Handler receives every appended event
type Handler func(core.EventRecord)

type subscriber struct {
	id int
	fn Handler
}

// Log is an append-only event log
type Log struct {
	mu      sync.RWMutex
	events  []core.EventRecord
	subs    []subscriber
	nextSub int

	store   Store
	metrics *telemetry.Metrics
	now     func() time.Time
	newID   func() string
	log     *logging.Logger
}

// Option configures a Log
type Option func(*Log)

// WithStore persists every event before it is published
func WithStore(s Store) Option {
	return func(l *Log) { l.store = s }
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithIDs overrides the id source
func WithIDs(newID func() string) Option {
	return func(l *Log) { l.newID = newID }
}

// WithMetrics counts appended events
func WithMetrics(m *telemetry.Metrics) Option {
	return func(l *Log) { l.metrics = m }
}

// New creates an empty log
func New(opts ...Option) *Log {
	l := &Log{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
		log:   logging.For("eventlog"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append completes and stores an event, then notifies subscribers in
// subscription order. Missing id and timestamp are assigned; explicit
// values are kept verbatim.
func (l *Log) Append(ctx context.Context, partial core.EventRecord) (core.EventRecord, error) {
	if partial.Type == "" {
		return core.EventRecord{}, fmt.Errorf("append: event type: %w", core.ErrMissingRequired)
	}

	rec := partial.Clone()
	if rec.ID == "" {
		rec.ID = l.newID()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = l.now()
	}
	if rec.Payload == nil {
		rec.Payload = map[string]interface{}{}
	}

	l.mu.Lock()
	if l.store != nil {
		if _, err := l.store.Append(ctx, rec); err != nil {
			l.mu.Unlock()
			return core.EventRecord{}, fmt.Errorf("persist event %s: %w", rec.ID, err)
		}
	}
	l.events = append(l.events, rec)
	subs := make([]subscriber, len(l.subs))
	copy(subs, l.subs)
	l.mu.Unlock()

	l.metrics.EventAppended(ctx, rec.Type)

	for _, s := range subs {
		l.deliver(s, rec.Clone())
	}

	return rec.Clone(), nil
}

// deliver isolates subscribers from each other: a panicking handler is
// logged and the remaining handlers still run.
func (l *Log) deliver(s subscriber, rec core.EventRecord) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithFields(map[string]interface{}{
				"subscriber": s.id,
				"event":      rec.ID,
			}).Error("subscriber panicked: %v", r)
		}
	}()
	s.fn(rec)
}

// List returns the most recent events, oldest first. limit <= 0 means
// DefaultListLimit.
func (l *Log) List(limit int) []core.EventRecord {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	start := 0
	if len(l.events) > limit {
		start = len(l.events) - limit
	}
	out := make([]core.EventRecord, 0, len(l.events)-start)
	for _, e := range l.events[start:] {
		out = append(out, e.Clone())
	}
	return out
}

// Len returns the number of events held in memory
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Subscribe registers fn for every future append. The returned function
// removes it; calling it twice is harmless.
func (l *Log) Subscribe(fn Handler) func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSub++
	id := l.nextSub
	l.subs = append(l.subs, subscriber{id: id, fn: fn})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, s := range l.subs {
			if s.id == id {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				return
			}
		}
	}
}

// Restore replaces the in-memory history with the durable one and returns
// it so projections can be rebuilt. Subscribers are not notified.
func (l *Log) Restore(ctx context.Context) ([]core.EventRecord, error) {
	if l.store == nil {
		return nil, nil
	}
	events, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore events: %w", err)
	}

	l.mu.Lock()
	l.events = make([]core.EventRecord, len(events))
	copy(l.events, events)
	l.mu.Unlock()

	l.log.WithField("count", len(events)).Info("restored event history")

	out := make([]core.EventRecord, len(events))
	for i, e := range events {
		out[i] = e.Clone()
	}
	return out, nil
}

// Reset drops the in-memory history. The durable store is untouched.
func (l *Log) Reset() {
	l.mu.Lock()
	l.events = nil
	l.mu.Unlock()
}
