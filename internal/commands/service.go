// Package commands is the write path: it validates a command, reduces it to
// events, appends them, folds them into projections and runs the rules.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/eventlog"
	"github.com/quantumlife/lifeops/internal/impact"
	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/proactive"
	"github.com/quantumlife/lifeops/internal/projection"
	"github.com/quantumlife/lifeops/internal/reducer"
	"github.com/quantumlife/lifeops/internal/rules"
	"github.com/quantumlife/lifeops/internal/signing"
	"github.com/quantumlife/lifeops/internal/storage"
	"github.com/quantumlife/lifeops/internal/telemetry"
)

// ReceiptStore remembers which idempotency keys were accepted.
type ReceiptStore interface {
	Get(ctx context.Context, key string) (*storage.Receipt, error)
	Put(ctx context.Context, r storage.Receipt) error
	Delete(ctx context.Context, key string) error
}

// Result reports what a submission did.
type Result struct {
	Accepted       bool               `json:"accepted"`
	IdempotencyKey string             `json:"idempotencyKey"`
	Duplicate      bool               `json:"duplicate,omitempty"`
	Events         []core.EventRecord `json:"events"`
	DirtyKeys      []string           `json:"dirtyKeys"`
	Nudges         []proactive.Nudge  `json:"nudges,omitempty"`
}

// Preview is a non-committing impact plan, signed when a signer is set.
type Preview struct {
	Plan   core.ImpactPlan  `json:"plan"`
	Signed *core.SignedPlan `json:"signed,omitempty"`
}

// Service processes commands
type Service struct {
	events     *eventlog.Log
	projection *projection.Store
	rules      *rules.Engine
	planner    *impact.Planner
	validator  *Validator

	receipts ReceiptStore
	nudges   *proactive.Service
	signer   *signing.Signer
	verifier *signing.Verifier
	metrics  *telemetry.Metrics
	now      func() time.Time
	log      *logging.Logger

	// mu serializes submissions so a key is checked and recorded atomically.
	mu sync.Mutex
}

// Option configures a Service
type Option func(*Service)

// WithReceipts persists idempotency receipts. Without it they are kept in memory.
func WithReceipts(r ReceiptStore) Option {
	return func(s *Service) { s.receipts = r }
}

// WithNudges turns rule actions into nudges
func WithNudges(n *proactive.Service) Option {
	return func(s *Service) { s.nudges = n }
}

// WithSigner signs previews and verifies signed plans with the same key
func WithSigner(signer *signing.Signer) Option {
	return func(s *Service) {
		s.signer = signer
		if s.verifier == nil {
			s.verifier = signer.Verifier()
		}
	}
}

// WithVerifier verifies signed plans attached to commands
func WithVerifier(v *signing.Verifier) Option {
	return func(s *Service) { s.verifier = v }
}

// WithMetrics records command outcomes
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a command service.
func New(events *eventlog.Log, proj *projection.Store, engine *rules.Engine, opts ...Option) (*Service, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	s := &Service{
		events:     events,
		projection: proj,
		rules:      engine,
		planner:    impact.NewPlanner(proj.Overview),
		validator:  v,
		receipts:   newMemoryReceipts(),
		now:        time.Now,
		log:        logging.For("commands"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit processes one command. A key that was already accepted returns the
// original events with Duplicate set and changes nothing. A command without
// a key gets a fresh one, so it is never treated as a retry.
//
// The receipt is written before the events are appended. If appending
// fails the receipt is removed again, so a retry is never answered with
// events that were not stored and never appends twice.
func (s *Service) Submit(ctx context.Context, cmd core.Command) (*Result, error) {
	const op = "commands.Submit"

	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		cmd.IdempotencyKey = uuid.New().String()
	}
	if err := s.validator.Validate(cmd); err != nil {
		s.metrics.CommandRejected(ctx, string(core.KindInvalid))
		return nil, core.E(core.KindInvalid, op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, err := s.receipts.Get(ctx, cmd.IdempotencyKey)
	switch {
	case err == nil:
		s.metrics.CommandDuplicate(ctx, string(cmd.Type))
		s.log.WithFields(map[string]interface{}{
			"type": cmd.Type,
			"key":  cmd.IdempotencyKey,
		}).Debug("Duplicate command")
		return &Result{
			Accepted:       true,
			IdempotencyKey: cmd.IdempotencyKey,
			Duplicate:      true,
			Events:         prior.Events,
			DirtyKeys:      []string{},
		}, nil
	case !errors.Is(err, core.ErrRecordNotFound):
		return nil, core.E(core.KindInternal, op, err)
	}

	if cmd.SignedImpactPlan != nil {
		if err := s.verifyPlan(cmd); err != nil {
			s.metrics.CommandRejected(ctx, string(core.KindUnauthorized))
			return nil, core.E(core.KindUnauthorized, op, err)
		}
	}

	pending := reducer.Reduce(cmd, s.now())
	for i := range pending {
		if pending[i].ID == "" {
			pending[i].ID = uuid.New().String()
		}
		if pending[i].Payload == nil {
			pending[i].Payload = map[string]interface{}{}
		}
	}

	err = s.receipts.Put(ctx, storage.Receipt{
		Key:         cmd.IdempotencyKey,
		CommandType: cmd.Type,
		Events:      pending,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, core.E(core.KindInternal, op, err)
	}

	appended := make([]core.EventRecord, 0, len(pending))
	for _, partial := range pending {
		rec, err := s.events.Append(ctx, partial)
		if err != nil {
			if len(appended) == 0 {
				s.forget(ctx, cmd.IdempotencyKey)
			} else {
				// Earlier events are stored; fold them and keep the receipt
				// so a retry does not append them again.
				s.projection.ApplyEvents(appended)
			}
			return nil, core.E(core.KindInternal, op, err)
		}
		appended = append(appended, rec)
	}

	keys := s.projection.ApplyEvents(appended)
	result := &Result{Accepted: true, IdempotencyKey: cmd.IdempotencyKey, Events: appended, DirtyKeys: keys}

	actions := s.rules.HandleEvents(appended)
	if len(actions) > 0 && s.nudges != nil {
		created, err := s.nudges.Handle(ctx, actions)
		if err != nil {
			s.log.WithError(err).Error("Failed to store nudges")
		}
		result.Nudges = created
	}

	s.metrics.CommandAccepted(ctx, string(cmd.Type))
	s.log.WithFields(map[string]interface{}{
		"type":   cmd.Type,
		"events": len(appended),
		"keys":   keys,
	}).Info("Command accepted")
	return result, nil
}

// forget drops the receipt of a submission whose events were not stored.
func (s *Service) forget(ctx context.Context, key string) {
	if err := s.receipts.Delete(ctx, key); err != nil {
		s.log.WithError(err).WithField("key", key).Error("Failed to remove receipt of a failed command")
	}
}

// verifyPlan checks the attached plan's signature and that it describes
// this command.
func (s *Service) verifyPlan(cmd core.Command) error {
	if s.verifier == nil {
		return fmt.Errorf("%w: no verification key configured", core.ErrInvalidSignature)
	}
	if err := s.verifier.Verify(cmd.SignedImpactPlan); err != nil {
		return err
	}
	plan := cmd.SignedImpactPlan.Plan
	if want, ok := intents[cmd.Type]; ok && plan.Intent != want.intent {
		return fmt.Errorf("%w: plan intent %q does not match %s", core.ErrInvalidSignature, plan.Intent, cmd.Type)
	}
	if id := entityOf(cmd); plan.EntityID != "" && id != "" && plan.EntityID != id {
		return fmt.Errorf("%w: plan is for %q, command targets %q", core.ErrInvalidSignature, plan.EntityID, id)
	}
	return nil
}

// PreviewCommand plans the impact of a command without applying it.
func (s *Service) PreviewCommand(cmd core.Command) (*Preview, error) {
	return s.Preview(InputFor(cmd))
}

// Preview plans in and signs the plan when a signer is configured.
func (s *Service) Preview(in impact.Input) (*Preview, error) {
	plan := s.planner.Plan(in)
	out := &Preview{Plan: plan}
	if s.signer != nil {
		signed, err := s.signer.Sign(plan)
		if err != nil {
			return nil, core.E(core.KindInternal, "commands.Preview", err)
		}
		out.Signed = signed
	}
	return out, nil
}

type intentMapping struct {
	intent   string
	entityID string // payload field naming the entity
}

var intents = map[core.CommandType]intentMapping{
	core.CommandBillMarkPaid:  {impact.IntentBillPay, "billId"},
	core.CommandGoalAllocate:  {impact.IntentGoalAllocate, "goalId"},
	core.CommandDoseMarkTaken: {impact.IntentDoseTake, "doseId"},
	core.CommandRefillRequest: {impact.IntentRefillRequest, "medicationId"},
	core.CommandDocLink:       {impact.IntentEntityUpdate, "entityId"},
	core.CommandEventCreate:   {impact.IntentEntityUpdate, "entityId"},
}

func entityOf(cmd core.Command) string {
	m, ok := intents[cmd.Type]
	if !ok {
		return ""
	}
	id, _ := cmd.Payload[m.entityID].(string)
	return id
}

// InputFor derives the planner input for a command.
func InputFor(cmd core.Command) impact.Input {
	in := impact.Input{EntityID: entityOf(cmd)}
	m, ok := intents[cmd.Type]
	if !ok {
		in.Intent = string(cmd.Type)
		return in
	}
	in.Intent = m.intent
	switch v := cmd.Payload["amount"].(type) {
	case float64:
		in.Amount = v
	case int:
		in.Amount = float64(v)
	}
	if m.intent == impact.IntentEntityUpdate {
		in.Patch = make(map[string]interface{})
		for k, v := range cmd.Payload {
			if k != m.entityID {
				in.Patch[k] = v
			}
		}
	}
	return in
}

// memoryReceipts keeps receipts for the life of the process.
type memoryReceipts struct {
	mu sync.Mutex
	m  map[string]storage.Receipt
}

func newMemoryReceipts() *memoryReceipts {
	return &memoryReceipts{m: make(map[string]storage.Receipt)}
}

func (r *memoryReceipts) Get(ctx context.Context, key string) (*storage.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.m[key]
	if !ok {
		return nil, core.ErrRecordNotFound
	}
	return &rec, nil
}

func (r *memoryReceipts) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, key)
	return nil
}

func (r *memoryReceipts) Put(ctx context.Context, rec storage.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[rec.Key]; ok {
		return core.ErrDuplicateRecord
	}
	r.m[rec.Key] = rec
	return nil
}
