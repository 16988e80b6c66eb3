// Package core defines the fundamental types for lifeops.
// Commands describe intent, events describe what happened.
package core

import (
	"time"
)

// -----------------------------------------------------------------------------
// EVENTS - Immutable facts folded into projections
// -----------------------------------------------------------------------------

// EventType names a kind of domain event
type EventType = string

// Event types produced by the reducer
const (
	EventBillPaid        EventType = "bill.paid"
	EventGoalAllocated   EventType = "goal.allocated"
	EventDoseTaken       EventType = "dose.taken"
	EventRefillRequested EventType = "refill.requested"
	EventDocLinked       EventType = "doc.linked"
	EventEventCreated    EventType = "event.created"
	EventPlayTracked     EventType = "play.tracked"
	EventCommandReceived EventType = "command.received"

	// EventBillDue is never appended; the rule sweep synthesizes it
	// from queue items that carry a due date.
	EventBillDue EventType = "bill.due"
)

// EventRecord is an immutable record of something that happened.
type EventRecord struct {
	ID            string                 `json:"id"`
	Type          EventType              `json:"type"`
	Payload       map[string]interface{} `json:"payload"`
	OccurredAt    time.Time              `json:"occurredAt"`
	CorrelationID string                 `json:"correlationId,omitempty"`
}

// Clone returns a deep copy so callers can never mutate a stored record.
func (e EventRecord) Clone() EventRecord {
	out := e
	out.Payload = CloneMap(e.Payload)
	return out
}

// Subject returns the entity family of the event ("bill" for "bill.paid").
func (e EventRecord) Subject() string {
	for i := 0; i < len(e.Type); i++ {
		if e.Type[i] == '.' {
			return e.Type[:i]
		}
	}
	return e.Type
}

// -----------------------------------------------------------------------------
// COMMANDS - User intent
// -----------------------------------------------------------------------------

// CommandType names a kind of user intent
type CommandType string

// Known command types
const (
	CommandBillMarkPaid  CommandType = "bill.markPaid"
	CommandGoalAllocate  CommandType = "goal.allocate"
	CommandDoseMarkTaken CommandType = "dose.markTaken"
	CommandRefillRequest CommandType = "refill.request"
	CommandDocLink       CommandType = "doc.link"
	CommandEventCreate   CommandType = "event.create"
	CommandPlayTrack     CommandType = "play.track"
)

// CommandTypes lists every command the reducer maps to a dedicated event.
var CommandTypes = []CommandType{
	CommandBillMarkPaid,
	CommandGoalAllocate,
	CommandDoseMarkTaken,
	CommandRefillRequest,
	CommandDocLink,
	CommandEventCreate,
	CommandPlayTrack,
}

// Known reports whether the command type has a dedicated mapping.
func (t CommandType) Known() bool {
	for _, k := range CommandTypes {
		if k == t {
			return true
		}
	}
	return false
}

// Command represents user intent submitted for processing.
type Command struct {
	Type             CommandType            `json:"type"`
	Payload          map[string]interface{} `json:"payload"`
	IdempotencyKey   string                 `json:"idempotencyKey"`
	SignedImpactPlan *SignedPlan            `json:"signedImpactPlan,omitempty"`
}

// -----------------------------------------------------------------------------
// IMPACT - Non-committing previews
// -----------------------------------------------------------------------------

// ImpactPlan previews what a command would cause. Never persisted.
type ImpactPlan struct {
	Intent                string             `json:"intent"`
	EntityID              string             `json:"entityId,omitempty"`
	Warnings              []string           `json:"warnings"`
	DerivedWrites         []string           `json:"derivedWrites"`
	Automations           []string           `json:"automations"`
	AggregatesToRecompute []string           `json:"aggregatesToRecompute"`
	KPIDelta              map[string]float64 `json:"kpiDelta,omitempty"`
}

// SignedPlan is an impact plan bound to a hybrid signature.
type SignedPlan struct {
	Plan       ImpactPlan `json:"plan"`
	Digest     string     `json:"digest"` // hex sha256 of the canonical plan
	Ed25519Sig []byte     `json:"ed25519Sig"`
	MLDSASig   []byte     `json:"mldsaSig"`
	KeyID      string     `json:"keyId"`
	SignedAt   time.Time  `json:"signedAt"`
}

// -----------------------------------------------------------------------------
// DIRTY KEYS - Projection invalidation hints pushed to clients
// -----------------------------------------------------------------------------

const (
	KeyOverview         = "bridge:overview"
	KeyQueue            = "bridge:queue"
	KeyContext          = "bridge:context"
	KeyCashflowVariance = "cashflow:variance"
	KeyNudges           = "nudges"
)

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

// CloneMap deep-copies nested maps and slices of a JSON-like value tree.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep-copies one JSON-like value.
func CloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return CloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i := range t {
			out[i] = CloneValue(t[i])
		}
		return out
	default:
		return v
	}
}
