package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/projection"
	"github.com/quantumlife/lifeops/internal/proactive"
	"github.com/quantumlife/lifeops/internal/rules"
)

// Task ids
const (
	TaskRulesSweep    = "rules.sweep"
	TaskLedgerVerify  = "ledger.verify"
	TaskReceiptsPrune = "receipts.prune"
	TaskNudgesRelease = "nudges.release"
)

// ChainVerifier checks the durable event chain
type ChainVerifier interface {
	VerifyChain(ctx context.Context) error
}

// ReceiptPruner drops old idempotency receipts
type ReceiptPruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Jobs holds the collaborators of the built-in tasks. Nil members turn
// their task into a no-op.
type Jobs struct {
	Projection *projection.Store
	Rules      *rules.Engine
	Nudges     *proactive.Service
	Ledger     ChainVerifier
	Receipts   ReceiptPruner
	ReceiptTTL time.Duration
	Now        func() time.Time
}

// Intervals sets how often each built-in task runs
type Intervals struct {
	Sweep   time.Duration
	Verify  time.Duration
	Prune   time.Duration
	Release time.Duration
}

func (j *Jobs) now() time.Time {
	if j.Now != nil {
		return j.Now()
	}
	return time.Now()
}

// Register adds the built-in tasks to s.
func (j *Jobs) Register(s *Scheduler, iv Intervals) error {
	tasks := []*Task{
		IntervalTask(TaskRulesSweep, "Due bill rule sweep", iv.Sweep, j.SweepDueBills),
		IntervalTask(TaskLedgerVerify, "Event chain verification", iv.Verify, j.VerifyLedger),
		IntervalTask(TaskReceiptsPrune, "Idempotency receipt pruning", iv.Prune, j.PruneReceipts),
		IntervalTask(TaskNudgesRelease, "Quiet hours release", iv.Release, j.ReleaseNudges),
	}
	for _, t := range tasks {
		if err := s.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// DueBillEvents synthesizes one bill.due event per bill in the queue. The
// event id combines the bill and its due date so a rule fires once per
// bill and due date however often the sweep runs.
func DueBillEvents(items []projection.QueueItem, now time.Time) []core.EventRecord {
	var events []core.EventRecord
	for _, item := range items {
		if item.Kind != projection.KindBill || item.DueDate == "" {
			continue
		}
		events = append(events, core.EventRecord{
			ID:   fmt.Sprintf("due:%s:%s", item.ID, item.DueDate),
			Type: core.EventBillDue,
			Payload: map[string]interface{}{
				"billId":   item.ID,
				"title":    item.Title,
				"amount":   item.Amount,
				"dueDate":  item.DueDate,
				"category": item.Category,
			},
			OccurredAt: now,
		})
	}
	return events
}

// SweepDueBills runs the bill.due rules over the queue's bills.
func (j *Jobs) SweepDueBills(ctx context.Context) error {
	if j.Projection == nil || j.Rules == nil {
		return nil
	}
	events := DueBillEvents(j.Projection.DueItems(), j.now())
	actions := j.Rules.HandleEvents(events)
	if len(actions) == 0 || j.Nudges == nil {
		return nil
	}
	created, err := j.Nudges.Handle(ctx, actions)
	if err != nil {
		return fmt.Errorf("sweep nudges: %w", err)
	}
	if len(created) > 0 {
		logging.For("scheduler").WithField("nudges", len(created)).Info("Due bill sweep raised nudges")
	}
	return nil
}

// VerifyLedger checks the event hash chain.
func (j *Jobs) VerifyLedger(ctx context.Context) error {
	if j.Ledger == nil {
		return nil
	}
	if err := j.Ledger.VerifyChain(ctx); err != nil {
		logging.For("scheduler").WithError(err).Error("Event chain verification failed")
		return err
	}
	return nil
}

// PruneReceipts drops idempotency receipts older than ReceiptTTL.
func (j *Jobs) PruneReceipts(ctx context.Context) error {
	if j.Receipts == nil || j.ReceiptTTL <= 0 {
		return nil
	}
	n, err := j.Receipts.Prune(ctx, j.now().Add(-j.ReceiptTTL))
	if err != nil {
		return err
	}
	if n > 0 {
		logging.For("scheduler").WithField("receipts", n).Info("Pruned idempotency receipts")
	}
	return nil
}

// ReleaseNudges releases nudges held for quiet hours.
func (j *Jobs) ReleaseNudges(ctx context.Context) error {
	if j.Nudges == nil {
		return nil
	}
	_, err := j.Nudges.ReleaseQueued(ctx)
	return err
}
