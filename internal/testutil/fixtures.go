package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
)

// FixedNow is the reference instant used by fixtures: a Monday morning.
var FixedNow = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// RandomID generates a random ID for testing.
func RandomID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// CommandBuilder builds commands for tests.
type CommandBuilder struct {
	cmd core.Command
}

// NewCommand starts a command of the given type with a random idempotency key.
func NewCommand(typ core.CommandType) *CommandBuilder {
	return &CommandBuilder{cmd: core.Command{
		Type:           typ,
		Payload:        map[string]interface{}{},
		IdempotencyKey: "test-" + RandomID(),
	}}
}

// With sets one payload field
func (b *CommandBuilder) With(key string, value interface{}) *CommandBuilder {
	b.cmd.Payload[key] = value
	return b
}

// WithKey sets the idempotency key
func (b *CommandBuilder) WithKey(key string) *CommandBuilder {
	b.cmd.IdempotencyKey = key
	return b
}

// Signed attaches a signed impact plan
func (b *CommandBuilder) Signed(sp *core.SignedPlan) *CommandBuilder {
	b.cmd.SignedImpactPlan = sp
	return b
}

// Build returns the command
func (b *CommandBuilder) Build() core.Command {
	return b.cmd
}

// PayBill is a bill.markPaid command for the seeded electric bill.
func PayBill(amount float64) core.Command {
	return NewCommand(core.CommandBillMarkPaid).
		With("billId", "bill-electric").
		With("amount", amount).
		Build()
}

// Allocate is a goal.allocate command.
func Allocate(goalID string, amount float64) core.Command {
	return NewCommand(core.CommandGoalAllocate).
		With("goalId", goalID).
		With("amount", amount).
		Build()
}

// Event returns an event record with a fresh id at FixedNow.
func Event(typ core.EventType, payload map[string]interface{}) core.EventRecord {
	return core.EventRecord{
		ID:         "evt-" + RandomID(),
		Type:       typ,
		Payload:    payload,
		OccurredAt: FixedNow,
	}
}
