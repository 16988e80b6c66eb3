// Package impact previews what an intent would change without changing it.
package impact

import (
	"fmt"
	"sort"

	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/projection"
)

// Intents
const (
	IntentBillPay       = "bill.pay"
	IntentGoalAllocate  = "goal.allocate"
	IntentDoseTake      = "dose.take"
	IntentRefillRequest = "refill.request"
	IntentEntityUpdate  = "entity.update"
)

// Placeholder heuristics, not calibrated models.
const (
	// RunwayDaysPerUnit is how much spending costs one day of runway.
	RunwayDaysPerUnit = 60.0
	// GoalEtaDaysPerUnit is how much allocation brings a goal one day closer.
	GoalEtaDaysPerUnit = 150.0
	// SavingsPercentPerUnit is how much allocation adds one savings percent.
	SavingsPercentPerUnit = 500.0
	// LowRunwayDays triggers a warning when a payment would leave less.
	LowRunwayDays = 30.0
)

// Input describes a proposed change.
type Input struct {
	Intent   string                 `json:"intent"`
	EntityID string                 `json:"entityId,omitempty"`
	Patch    map[string]interface{} `json:"patch,omitempty"`
	Amount   float64                `json:"amount,omitempty"`
}

// Planner builds impact plans. It never writes anything.
type Planner struct {
	overview func() projection.Overview
}

// NewPlanner creates a planner. overview may be nil; when set it is read
// to produce warnings against current balances and goals.
func NewPlanner(overview func() projection.Overview) *Planner {
	return &Planner{overview: overview}
}

// Plan previews in. Identical input against an identical overview gives an
// identical plan.
func (p *Planner) Plan(in Input) core.ImpactPlan {
	plan := core.ImpactPlan{
		Intent:                in.Intent,
		EntityID:              in.EntityID,
		Warnings:              []string{},
		DerivedWrites:         []string{},
		Automations:           []string{},
		AggregatesToRecompute: []string{},
	}

	var ov *projection.Overview
	if p.overview != nil {
		o := p.overview()
		ov = &o
	}

	switch in.Intent {
	case IntentBillPay:
		p.billPay(&plan, in, ov)
	case IntentGoalAllocate:
		p.goalAllocate(&plan, in, ov)
	case IntentDoseTake:
		plan.DerivedWrites = append(plan.DerivedWrites, fmt.Sprintf("doses/%s.takenAt=now", entity(in)))
		plan.Automations = append(plan.Automations, "log adherence")
		plan.AggregatesToRecompute = append(plan.AggregatesToRecompute, core.KeyOverview, core.KeyQueue)
		plan.KPIDelta = map[string]float64{"adherencePercent": 1}
		if ov != nil && ov.Adherence.Percent30d >= 100 {
			plan.KPIDelta["adherencePercent"] = 0
		}
	case IntentRefillRequest:
		plan.DerivedWrites = append(plan.DerivedWrites, fmt.Sprintf("refills/+%s", entity(in)))
		plan.Automations = append(plan.Automations, "notify pharmacy", "remind at pickup")
		plan.AggregatesToRecompute = append(plan.AggregatesToRecompute, core.KeyQueue)
	case IntentEntityUpdate:
		keys := make([]string, 0, len(in.Patch))
		for k := range in.Patch {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			plan.DerivedWrites = append(plan.DerivedWrites, fmt.Sprintf("entities/%s.%s", entity(in), k))
		}
		if len(keys) == 0 {
			plan.Warnings = append(plan.Warnings, "patch is empty")
		}
		plan.AggregatesToRecompute = append(plan.AggregatesToRecompute, core.KeyContext)
	default:
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("unknown intent %q", in.Intent))
	}

	if in.EntityID == "" && knownIntent(in.Intent) {
		plan.Warnings = append(plan.Warnings, "no entity selected")
	}
	return plan
}

func (p *Planner) billPay(plan *core.ImpactPlan, in Input, ov *projection.Overview) {
	plan.DerivedWrites = append(plan.DerivedWrites,
		fmt.Sprintf("bills/%s.status=paid", entity(in)),
		fmt.Sprintf("transactions/+%.2f", in.Amount),
	)
	plan.Automations = append(plan.Automations, "reconcile bank feed", "schedule next reminder")
	plan.AggregatesToRecompute = append(plan.AggregatesToRecompute,
		core.KeyOverview, core.KeyQueue, core.KeyCashflowVariance)
	plan.KPIDelta = map[string]float64{
		"runwayDays":  -in.Amount / RunwayDaysPerUnit,
		"cashOnHand":  -in.Amount,
		"monthlyBurn": in.Amount,
	}

	if in.Amount <= 0 {
		plan.Warnings = append(plan.Warnings, "amount must be positive")
	}
	if ov == nil {
		return
	}
	if in.Amount > ov.CashOnHand.Amount {
		plan.Warnings = append(plan.Warnings, "payment exceeds cash on hand")
	}
	if after := ov.CashOnHand.RunwayDays - in.Amount/RunwayDaysPerUnit; after < LowRunwayDays {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("runway drops to %.0f days", after))
	}
}

func (p *Planner) goalAllocate(plan *core.ImpactPlan, in Input, ov *projection.Overview) {
	plan.DerivedWrites = append(plan.DerivedWrites,
		fmt.Sprintf("goals/%s.funded+=%.2f", entity(in), in.Amount),
		fmt.Sprintf("transfers/+%.2f", in.Amount),
	)
	plan.Automations = append(plan.Automations, "move funds to savings")
	plan.AggregatesToRecompute = append(plan.AggregatesToRecompute, core.KeyOverview)
	plan.KPIDelta = map[string]float64{
		"goalEtaDays":    -in.Amount / GoalEtaDaysPerUnit,
		"savingsPercent": in.Amount / SavingsPercentPerUnit,
	}

	if in.Amount <= 0 {
		plan.Warnings = append(plan.Warnings, "amount must be positive")
	}
	if ov == nil || in.EntityID == "" {
		return
	}
	tracked := false
	for _, g := range ov.TopGoals {
		if g.ID == in.EntityID {
			tracked = true
			if g.Percent >= 100 {
				plan.Warnings = append(plan.Warnings, "goal is already fully funded")
			}
		}
	}
	if !tracked {
		plan.Warnings = append(plan.Warnings, fmt.Sprintf("goal %s is not among the top goals", in.EntityID))
	}
	if in.Amount > ov.CashOnHand.Amount {
		plan.Warnings = append(plan.Warnings, "allocation exceeds cash on hand")
	}
}

func knownIntent(intent string) bool {
	switch intent {
	case IntentBillPay, IntentGoalAllocate, IntentDoseTake, IntentRefillRequest, IntentEntityUpdate:
		return true
	}
	return false
}

func entity(in Input) string {
	if in.EntityID == "" {
		return "?"
	}
	return in.EntityID
}
