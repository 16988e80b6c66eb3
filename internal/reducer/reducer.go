// Package reducer turns commands into the events they cause.
package reducer

import (
	"time"

	"github.com/quantumlife/lifeops/internal/core"
)

// mapping describes how one command type becomes one event.
type mapping struct {
	event     core.EventType
	fields    []string
	timestamp string // payload field defaulted to now when absent
}

var mappings = map[core.CommandType]mapping{
	core.CommandBillMarkPaid: {
		event:     core.EventBillPaid,
		fields:    []string{"billId", "amount"},
		timestamp: "paidAt",
	},
	core.CommandGoalAllocate: {
		event:     core.EventGoalAllocated,
		fields:    []string{"goalId", "amount"},
		timestamp: "allocatedAt",
	},
	core.CommandDoseMarkTaken: {
		event:     core.EventDoseTaken,
		fields:    []string{"doseId", "medication", "minutesOverdue"},
		timestamp: "takenAt",
	},
	core.CommandRefillRequest: {
		event:     core.EventRefillRequested,
		fields:    []string{"medicationId", "medication", "pharmacy"},
		timestamp: "requestedAt",
	},
	core.CommandDocLink: {
		event:     core.EventDocLinked,
		fields:    []string{"docId", "entityId", "entityType"},
		timestamp: "linkedAt",
	},
	core.CommandEventCreate: {
		event:     core.EventEventCreated,
		fields:    []string{"title", "startsAt", "entityId"},
		timestamp: "createdAt",
	},
	core.CommandPlayTrack: {
		event:     core.EventPlayTracked,
		fields:    []string{"team", "opponent", "result"},
		timestamp: "playedAt",
	},
}

// Reduce maps a command to its events. It is pure and total: unknown
// command types become a single command.received passthrough event and
// odd payloads are copied as-is, never rejected. Ids are left for the
// event log to assign.
func Reduce(cmd core.Command, now time.Time) []core.EventRecord {
	now = now.UTC()

	m, ok := mappings[cmd.Type]
	if !ok {
		return []core.EventRecord{{
			Type: core.EventCommandReceived,
			Payload: map[string]interface{}{
				"command": string(cmd.Type),
				"payload": core.CloneMap(cmd.Payload),
			},
			OccurredAt:    now,
			CorrelationID: cmd.IdempotencyKey,
		}}
	}

	payload := make(map[string]interface{}, len(m.fields)+1)
	for _, f := range m.fields {
		if v, present := cmd.Payload[f]; present {
			payload[f] = core.CloneValue(v)
		}
	}
	if v, present := cmd.Payload[m.timestamp]; present && v != nil && v != "" {
		payload[m.timestamp] = v
	} else {
		payload[m.timestamp] = now.Format(time.RFC3339Nano)
	}

	return []core.EventRecord{{
		Type:          m.event,
		Payload:       payload,
		OccurredAt:    now,
		CorrelationID: cmd.IdempotencyKey,
	}}
}

// EventTypeFor reports which event a command type produces.
func EventTypeFor(t core.CommandType) core.EventType {
	if m, ok := mappings[t]; ok {
		return m.event
	}
	return core.EventCommandReceived
}
