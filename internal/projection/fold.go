package projection

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/quantumlife/lifeops/internal/core"
)

// Fold heuristics.
const (
	// GoalAllocationPerPoint is the amount that moves a goal one percent.
	GoalAllocationPerPoint = 300.0
	// SavingsAllocationPerPoint is the amount that moves overall savings one percent.
	SavingsAllocationPerPoint = 500.0
	// RefillPriority ranks a requested refill in the queue.
	RefillPriority = 70.0
)

// fold applies one event and returns the keys it dirtied. Called with the
// write lock held.
func (s *Store) fold(ev core.EventRecord) []string {
	p := ev.Payload
	o := &s.overview

	switch ev.Type {
	case core.EventBillPaid:
		amount := number(p["amount"])
		o.CashOnHand.Amount -= amount
		o.MonthlyBurn.Actual += amount
		o.NextBills.Count = maxInt(0, o.NextBills.Count-1)
		o.NextBills.TotalAmount = math.Max(0, o.NextBills.TotalAmount-amount)

		if id := text(p["billId"]); id != "" {
			i := s.indexOf(id)
			wasNext := i >= 0 && s.queue[i].DueDate == o.NextBills.NextDueDate
			s.remove(id)
			if wasNext {
				o.NextBills.NextDueDate = s.earliestBillDue()
			}
		}
		return []string{core.KeyOverview, core.KeyQueue, core.KeyCashflowVariance}

	case core.EventGoalAllocated:
		amount := number(p["amount"])
		id := text(p["goalId"])
		found := false
		for i := range o.TopGoals {
			if o.TopGoals[i].ID == id {
				o.TopGoals[i].Percent = math.Min(100, o.TopGoals[i].Percent+amount/GoalAllocationPerPoint)
				found = true
			}
		}
		if !found {
			s.log.WithError(fmt.Errorf("%s: %w", id, core.ErrGoalNotFound)).
				WithField("event", ev.ID).Warn("Allocation for goal outside the overview")
		}
		o.SavingsProgress.Percent = math.Min(100, o.SavingsProgress.Percent+amount/SavingsAllocationPerPoint)
		return []string{core.KeyOverview}

	case core.EventDoseTaken:
		o.Adherence.Percent30d = math.Min(100, o.Adherence.Percent30d+1)
		if id := text(p["doseId"]); id != "" {
			s.remove(id)
		}
		return []string{core.KeyOverview, core.KeyQueue}

	case core.EventRefillRequested:
		medID := text(p["medicationId"])
		name := text(p["medication"])
		if medID == "" {
			medID = name
		}
		if name == "" {
			name = medID
		}
		id := "refill-" + medID
		detail := "Refill requested"
		if pharmacy := text(p["pharmacy"]); pharmacy != "" {
			detail += " from " + pharmacy
		}
		s.push(QueueItem{
			ID:            id,
			Kind:          KindRefill,
			Category:      "health",
			Title:         "Refill " + name,
			Detail:        detail,
			PriorityScore: RefillPriority,
			Actions:       []string{"snooze"},
			Links:         []Link{{EntityID: medID, EntityType: "medication"}},
		})
		s.contexts[id] = CanvasContext{
			QueueItemID: id,
			Summary:     detail,
			Timeline:    []TimelineEntry{{At: text(p["requestedAt"]), Label: "Refill requested"}},
		}
		return []string{core.KeyQueue}

	case core.EventDocLinked:
		if c, ok := s.contexts[text(p["entityId"])]; ok {
			docID := text(p["docId"])
			c.Docs = append(c.Docs, DocRef{ID: docID, Title: docID})
			s.contexts[c.QueueItemID] = c
		}
		return []string{core.KeyContext}

	case core.EventEventCreated:
		if c, ok := s.contexts[text(p["entityId"])]; ok {
			c.Timeline = append(c.Timeline, TimelineEntry{At: text(p["startsAt"]), Label: text(p["title"])})
			s.contexts[c.QueueItemID] = c
		}
		return []string{core.KeyContext}

	case core.EventPlayTracked:
		o.Pulse.GamesTracked++
		if team := text(p["team"]); team != "" {
			o.Pulse.Team = team
		}
		if result := text(p["result"]); result != "" {
			o.Pulse.LastResult = result
		}
		return []string{core.KeyOverview}
	}

	return nil
}

func (s *Store) earliestBillDue() string {
	next := ""
	for _, q := range s.queue {
		if q.Kind == KindBill && q.DueDate != "" && (next == "" || q.DueDate < next) {
			next = q.DueDate
		}
	}
	return next
}

// number reads a payload amount. Anything unreadable counts as zero.
func number(v interface{}) float64 {
	f := rawNumber(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func rawNumber(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

func text(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
