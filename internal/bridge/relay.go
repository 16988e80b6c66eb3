package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/quantumlife/lifeops/internal/logging"
)

// DefaultChannel is the Redis pub/sub channel dirty keys travel on.
const DefaultChannel = "lifeops:bridge"

const publishTimeout = 2 * time.Second

// DefaultOutbox is how many batches may wait for Redis before new ones are
// dropped.
const DefaultOutbox = 256

type relayMessage struct {
	Origin string   `json:"origin"`
	Keys   []string `json:"keys"`
}

// Relay shares dirty keys between instances through Redis pub/sub. Local
// batches are broadcast on the local hub and queued for Pump to publish;
// batches from other instances are broadcast locally only.
type Relay struct {
	client   redis.UniversalClient
	channel  string
	instance string
	hub      *Hub
	outbox   chan []string
	dropped  atomic.Int64
	log      *logging.Logger
}

// RedisConfig holds the connection settings for NewRedisClient
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects to a single Redis node.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRelay creates a relay for hub on channel.
func NewRelay(client redis.UniversalClient, channel string, hub *Hub) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		client:   client,
		channel:  channel,
		instance: uuid.New().String(),
		hub:      hub,
		outbox:   make(chan []string, DefaultOutbox),
		log:      logging.For("relay"),
	}
}

// Instance is the id stamped on published messages.
func (r *Relay) Instance() string { return r.instance }

// Notify broadcasts locally and queues the batch for publishing. It never
// waits on Redis: when the outbox is full the batch is dropped for remote
// instances and counted.
func (r *Relay) Notify(keys []string) {
	if len(keys) == 0 {
		return
	}
	r.hub.Broadcast(keys)

	select {
	case r.outbox <- append([]string(nil), keys...):
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.WithField("dropped", n).Warn("Relay outbox full, dropping dirty keys")
		}
	}
}

// Dropped is the number of batches that never reached Redis because the
// outbox was full.
func (r *Relay) Dropped() int64 { return r.dropped.Load() }

// Pump publishes queued batches until ctx is cancelled. Publish failures are
// logged; local clients have already been told.
func (r *Relay) Pump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case keys := <-r.outbox:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := r.Publish(pctx, keys); err != nil {
				r.log.WithError(err).Warn("Failed to publish dirty keys")
			}
			cancel()
		}
	}
}

// Publish sends keys to the other instances.
func (r *Relay) Publish(ctx context.Context, keys []string) error {
	payload, err := json.Marshal(relayMessage{Origin: r.instance, Keys: keys})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", r.channel, err)
	}
	return nil
}

// Run subscribes to the channel and feeds remote batches to the hub until
// ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.WithFields(map[string]interface{}{
		"channel":  r.channel,
		"instance": r.instance,
	}).Info("Relay subscribed")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(msg.Payload)
		}
	}
}

// handle broadcasts a remote message. Returns false for echoes of our own
// messages and for garbage.
func (r *Relay) handle(payload string) bool {
	var m relayMessage
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		r.log.WithError(err).Warn("Dropping malformed relay message")
		return false
	}
	if m.Origin == r.instance || len(m.Keys) == 0 {
		return false
	}
	r.hub.Broadcast(m.Keys)
	return true
}
