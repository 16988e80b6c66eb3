package projection

import "time"

const dateLayout = "2006-01-02"

// DefaultSnapshot is the demo household the daemon starts from. Due dates
// are relative to now so the bill rules have something to find.
func DefaultSnapshot(now time.Time) Snapshot {
	day := func(offset int) string {
		return now.UTC().AddDate(0, 0, offset).Format(dateLayout)
	}

	return Snapshot{
		Overview: Overview{
			NetWorth:   48250,
			CashOnHand: CashOnHand{Amount: 12400, RunwayDays: 112},
			NextBills: NextBills{
				Count:       3,
				TotalAmount: 612,
				NextDueDate: day(2),
			},
			MonthlyBurn:     MonthlyBurn{Actual: 3120, Target: 3400},
			SavingsProgress: SavingsProgress{Percent: 41, TargetAmount: 15000},
			Adherence:       Adherence{Percent30d: 86},
			TopGoals: []GoalSummary{
				{ID: "goal-emergency", Name: "Emergency fund", Percent: 62, EtaDays: 140},
				{ID: "goal-lisbon", Name: "Lisbon trip", Percent: 35, EtaDays: 210},
				{ID: "goal-car", Name: "Car replacement", Percent: 18, EtaDays: 480},
			},
			Pulse: Pulse{Team: "Rovers", GamesTracked: 12, LastResult: "W 2-1"},
		},
		Queue: []QueueItem{
			{
				ID:            "bill-electric",
				Kind:          KindBill,
				Category:      "bills",
				Title:         "Electric bill",
				Detail:        "City Power, autopay off",
				PriorityScore: 88,
				Amount:        182,
				DueDate:       day(2),
				Impact:        &ImpactDeltas{RunwayDays: -3, CashOnHand: -182, MonthlyBurn: 182},
				Actions:       []string{"bill.markPaid", "snooze"},
				Links:         []Link{{EntityID: "acct-checking", EntityType: "account"}},
			},
			{
				ID:            "dose-levothyroxine",
				Kind:          KindDose,
				Category:      "health",
				Title:         "Levothyroxine 50mcg",
				Detail:        "Morning dose, before breakfast",
				PriorityScore: 92,
				Impact:        &ImpactDeltas{AdherencePercent: 1},
				Actions:       []string{"dose.markTaken", "snooze"},
				Links:         []Link{{EntityID: "med-levothyroxine", EntityType: "medication"}},
			},
			{
				ID:            "goal-emergency",
				Kind:          KindGoal,
				Category:      "goals",
				Title:         "Fund emergency reserve",
				Detail:        "62% of six months of expenses",
				PriorityScore: 60,
				Impact:        &ImpactDeltas{GoalEtaDays: -2, SavingsPercent: 0.6},
				Actions:       []string{"goal.allocate"},
				Links:         []Link{{EntityID: "goal-emergency", EntityType: "goal"}},
			},
			{
				ID:            "chore-gutters",
				Kind:          KindTask,
				Category:      "household",
				Title:         "Clean gutters",
				Detail:        "Before the first storm of the season",
				PriorityScore: 40,
				DueDate:       day(10),
				Actions:       []string{"event.create", "snooze"},
			},
			{
				ID:            "doc-insurance",
				Kind:          KindDocument,
				Category:      "docs",
				Title:         "Renew home insurance",
				Detail:        "Policy PDF not linked yet",
				PriorityScore: 35,
				Actions:       []string{"doc.link"},
				Links:         []Link{{EntityID: "policy-home", EntityType: "policy"}},
			},
		},
		Contexts: map[string]CanvasContext{
			"bill-electric": {
				QueueItemID: "bill-electric",
				Summary:     "Electric bill of 182.00 due in two days",
				Timeline: []TimelineEntry{
					{At: day(-28), Label: "Last month paid 171.40"},
					{At: day(2), Label: "Due"},
				},
				Cashflow: []CashflowInsight{
					{Label: "Utilities", Amount: 182, Variance: 10.6},
				},
				Rules:        []string{"bill-due-soon"},
				Scenarios:    []ScenarioPreview{{Name: "Pay now", RunwayDeltaDays: -3}},
				Explanations: []string{"Usage rose 6% with the first cold week"},
			},
			"dose-levothyroxine": {
				QueueItemID:  "dose-levothyroxine",
				Summary:      "Daily thyroid medication",
				People:       []Person{{Name: "Dr. Okafor", Role: "prescriber"}},
				Rules:        []string{"dose-overdue"},
				Explanations: []string{"Adherence is 86% over the last 30 days"},
			},
			"goal-emergency": {
				QueueItemID: "goal-emergency",
				Summary:     "Six months of expenses in reserve",
				Scenarios: []ScenarioPreview{
					{Name: "Allocate 300", RunwayDeltaDays: 0},
				},
				Explanations: []string{"Every 300 allocated moves the goal one point"},
			},
			"chore-gutters": {
				QueueItemID: "chore-gutters",
				Summary:     "Seasonal maintenance",
			},
			"doc-insurance": {
				QueueItemID: "doc-insurance",
				Summary:     "Home policy renews next month",
				Docs:        []DocRef{{ID: "policy-home-2025", Title: "2025 policy"}},
			},
		},
	}
}
