package reducer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantumlife/lifeops/internal/core"
)

var now = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

func TestReduce_Mapping(t *testing.T) {
	tests := []struct {
		command core.CommandType
		want    core.EventType
		tsField string
	}{
		{core.CommandBillMarkPaid, core.EventBillPaid, "paidAt"},
		{core.CommandGoalAllocate, core.EventGoalAllocated, "allocatedAt"},
		{core.CommandDoseMarkTaken, core.EventDoseTaken, "takenAt"},
		{core.CommandRefillRequest, core.EventRefillRequested, "requestedAt"},
		{core.CommandDocLink, core.EventDocLinked, "linkedAt"},
		{core.CommandEventCreate, core.EventEventCreated, "createdAt"},
		{core.CommandPlayTrack, core.EventPlayTracked, "playedAt"},
	}

	require.Len(t, tests, len(core.CommandTypes), "every known command needs a row")

	for _, tt := range tests {
		t.Run(string(tt.command), func(t *testing.T) {
			events := Reduce(core.Command{Type: tt.command, IdempotencyKey: "k"}, now)
			require.Len(t, events, 1)

			e := events[0]
			assert.Equal(t, tt.want, e.Type)
			assert.Equal(t, tt.want, EventTypeFor(tt.command))
			assert.Equal(t, "k", e.CorrelationID)
			assert.True(t, e.OccurredAt.Equal(now))
			assert.Empty(t, e.ID, "ids are assigned by the log")

			ts, ok := e.Payload[tt.tsField].(string)
			require.True(t, ok, "default timestamp field %s", tt.tsField)
			parsed, err := time.Parse(time.RFC3339Nano, ts)
			require.NoError(t, err)
			assert.True(t, parsed.Equal(now))
		})
	}
}

func TestReduce_BillMarkPaidCopiesFields(t *testing.T) {
	events := Reduce(core.Command{
		Type: core.CommandBillMarkPaid,
		Payload: map[string]interface{}{
			"billId": "bill-electric",
			"amount": 182.0,
			"paidAt": "2026-10-01T00:00:00Z",
			"junk":   true,
		},
		IdempotencyKey: "k1",
	}, now)

	require.Len(t, events, 1)
	p := events[0].Payload
	assert.Equal(t, "bill-electric", p["billId"])
	assert.Equal(t, 182.0, p["amount"])
	assert.Equal(t, "2026-10-01T00:00:00Z", p["paidAt"], "explicit timestamp is kept")
	assert.NotContains(t, p, "junk")
}

func TestReduce_UnknownCommandPassesThrough(t *testing.T) {
	payload := map[string]interface{}{"choreId": "trash", "nested": map[string]interface{}{"x": 1.0}}
	events := Reduce(core.Command{Type: "chore.complete", Payload: payload, IdempotencyKey: "k9"}, now)

	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, core.EventCommandReceived, e.Type)
	assert.Equal(t, "chore.complete", e.Payload["command"])
	assert.Equal(t, "k9", e.CorrelationID)

	inner := e.Payload["payload"].(map[string]interface{})
	inner["nested"].(map[string]interface{})["x"] = 2.0
	assert.Equal(t, 1.0, payload["nested"].(map[string]interface{})["x"], "reduce must not alias the command payload")
}

func TestReduce_NeverPanicsOnOddPayloads(t *testing.T) {
	odd := []map[string]interface{}{
		nil,
		{},
		{"amount": "not-a-number", "billId": 7},
		{"paidAt": nil},
		{"amount": []interface{}{1, 2}},
	}
	for _, p := range odd {
		for _, ct := range append(core.CommandTypes, "", "weird") {
			assert.NotPanics(t, func() {
				events := Reduce(core.Command{Type: ct, Payload: p}, now)
				assert.Len(t, events, 1)
			})
		}
	}
}

func TestReduce_IsPure(t *testing.T) {
	cmd := core.Command{
		Type:           core.CommandGoalAllocate,
		Payload:        map[string]interface{}{"goalId": "goal-emergency", "amount": 300.0},
		IdempotencyKey: "g1",
	}
	assert.Equal(t, Reduce(cmd, now), Reduce(cmd, now))
}
