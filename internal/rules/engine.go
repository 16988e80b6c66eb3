package rules

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/telemetry"
)

// RuleDefinition is a condition registered for one or more event types.
type RuleDefinition struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description"`
	Enabled     bool                   `json:"enabled" yaml:"enabled"`
	EventTypes  []string               `json:"eventTypes" yaml:"event_types"`
	Logic       interface{}            `json:"logic" yaml:"logic"`
	Action      string                 `json:"action" yaml:"action"`
	Params      map[string]interface{} `json:"params,omitempty" yaml:"params"`
}

// Action is what a matching rule asks the system to do.
type Action struct {
	RuleID    string                 `json:"ruleId"`
	Action    string                 `json:"action"`
	Params    map[string]interface{} `json:"params,omitempty"`
	EventID   string                 `json:"eventId,omitempty"`
	EventType string                 `json:"eventType"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

type compiled struct {
	def  RuleDefinition
	node Node
}

// Engine evaluates registered rules against event contexts.
type Engine struct {
	mu      sync.RWMutex
	rules   map[string]*compiled
	order   []string
	byType  map[string][]string
	now     func() time.Time
	metrics *telemetry.Metrics
	log     *logging.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithClock sets the clock dueInDays measures against
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics counts fired rules
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// NewEngine creates an engine with no rules.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		rules:  make(map[string]*compiled),
		byType: make(map[string][]string),
		now:    time.Now,
		log:    logging.For("rules"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register compiles and adds a rule, replacing any rule with the same id.
func (e *Engine) Register(def RuleDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("rule id: %w", core.ErrMissingRequired)
	}
	if def.Action == "" {
		return fmt.Errorf("rule %s action: %w", def.ID, core.ErrMissingRequired)
	}
	if len(def.EventTypes) == 0 {
		return fmt.Errorf("rule %s event types: %w", def.ID, core.ErrMissingRequired)
	}
	node, err := Compile(def.Logic)
	if err != nil {
		return fmt.Errorf("rule %s: %w", def.ID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rules[def.ID]; exists {
		e.unindex(def.ID)
	} else {
		e.order = append(e.order, def.ID)
	}
	def.Params = core.CloneMap(def.Params)
	def.EventTypes = append([]string(nil), def.EventTypes...)
	e.rules[def.ID] = &compiled{def: def, node: node}
	for _, t := range def.EventTypes {
		e.byType[t] = append(e.byType[t], def.ID)
	}

	e.log.WithFields(map[string]interface{}{
		"rule":  def.ID,
		"types": def.EventTypes,
	}).Debug("Rule registered")
	return nil
}

// RegisterAll registers every definition, stopping at the first error.
func (e *Engine) RegisterAll(defs []RuleDefinition) error {
	for _, d := range defs {
		if err := e.Register(d); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) unindex(id string) {
	for _, t := range e.rules[id].def.EventTypes {
		ids := e.byType[t]
		kept := ids[:0]
		for _, x := range ids {
			if x != id {
				kept = append(kept, x)
			}
		}
		if len(kept) == 0 {
			delete(e.byType, t)
		} else {
			e.byType[t] = kept
		}
	}
}

// Rules returns all definitions in registration order.
func (e *Engine) Rules() []RuleDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]RuleDefinition, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.rules[id].def)
	}
	return out
}

// Rule returns one definition by id.
func (e *Engine) Rule(id string) (RuleDefinition, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	c, ok := e.rules[id]
	if !ok {
		return RuleDefinition{}, fmt.Errorf("%s: %w", id, core.ErrRuleNotFound)
	}
	return c.def, nil
}

// EvaluateRule compiles def and evaluates it against ctx. A disabled rule
// is false. Compile and evaluation errors are returned with a false result.
func (e *Engine) EvaluateRule(def RuleDefinition, ctx map[string]interface{}) (bool, error) {
	if !def.Enabled {
		return false, nil
	}
	node, err := Compile(def.Logic)
	if err != nil {
		return false, err
	}
	return e.evaluate(node, ctx)
}

func (e *Engine) evaluate(node Node, ctx map[string]interface{}) (bool, error) {
	v, err := Eval(node, ctx, e.now())
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Run evaluates the enabled rules registered for eventType against ctx.
// A rule that fails to evaluate produces no action.
func (e *Engine) Run(eventType string, ctx map[string]interface{}) []Action {
	e.mu.RLock()
	var matched []*compiled
	for _, id := range e.byType[eventType] {
		if c := e.rules[id]; c.def.Enabled {
			matched = append(matched, c)
		}
	}
	e.mu.RUnlock()

	var actions []Action
	for _, c := range matched {
		ok, err := e.evaluate(c.node, ctx)
		if err != nil {
			e.log.WithError(err).WithField("rule", c.def.ID).Warn("Rule evaluation failed")
			continue
		}
		if !ok {
			continue
		}
		actions = append(actions, Action{
			RuleID:    c.def.ID,
			Action:    c.def.Action,
			Params:    core.CloneMap(c.def.Params),
			EventType: eventType,
		})
		e.metrics.RuleFired(context.Background(), c.def.ID)
	}
	return actions
}

// HandleEvents runs the rules for each event against a context built for
// that event alone.
func (e *Engine) HandleEvents(events []core.EventRecord) []Action {
	var actions []Action
	for _, ev := range events {
		for _, a := range e.Run(ev.Type, EventContext(ev)) {
			a.EventID = ev.ID
			a.Payload = core.CloneMap(ev.Payload)
			actions = append(actions, a)
		}
	}
	return actions
}

// EventContext exposes the event envelope under "event" and the payload
// under the event's subject, e.g. "bill" for bill.paid.
func EventContext(ev core.EventRecord) map[string]interface{} {
	ctx := map[string]interface{}{
		"event": map[string]interface{}{
			"id":            ev.ID,
			"type":          ev.Type,
			"occurredAt":    ev.OccurredAt.UTC().Format(time.RFC3339Nano),
			"correlationId": ev.CorrelationID,
		},
	}
	payload := core.CloneMap(ev.Payload)
	if payload == nil {
		payload = map[string]interface{}{}
	}
	ctx[ev.Subject()] = payload
	return ctx
}

// DryRun evaluates def against each sample. A sample that fails to evaluate
// counts as false and its error is joined into the returned error.
func (e *Engine) DryRun(def RuleDefinition, samples []map[string]interface{}) ([]bool, error) {
	node, err := Compile(def.Logic)
	if err != nil {
		return nil, err
	}

	results := make([]bool, len(samples))
	var errs []error
	for i, s := range samples {
		ok, err := e.evaluate(node, s)
		if err != nil {
			errs = append(errs, fmt.Errorf("sample %d: %w", i, err))
			continue
		}
		results[i] = ok
	}
	return results, errors.Join(errs...)
}

// EventTypes lists every event type that has at least one rule.
func (e *Engine) EventTypes() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]string, 0, len(e.byType))
	for t := range e.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
