// Package projection maintains the read models the bridge serves: the
// household overview, the attention queue and the per-item canvas
// contexts. Events are folded in; dirty keys come out.
package projection

// Overview is the aggregate dashboard read model.
type Overview struct {
	NetWorth        float64         `json:"netWorth"`
	CashOnHand      CashOnHand      `json:"cashOnHand"`
	NextBills       NextBills       `json:"nextBills"`
	MonthlyBurn     MonthlyBurn     `json:"monthlyBurn"`
	SavingsProgress SavingsProgress `json:"savingsProgress"`
	Adherence       Adherence       `json:"adherence"`
	TopGoals        []GoalSummary   `json:"topGoals"`
	Pulse           Pulse           `json:"pulse"`
}

type CashOnHand struct {
	Amount     float64 `json:"amount"`
	RunwayDays float64 `json:"runwayDays"`
}

type NextBills struct {
	Count       int     `json:"count"`
	TotalAmount float64 `json:"totalAmount"`
	NextDueDate string  `json:"nextDueDate,omitempty"`
}

type MonthlyBurn struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
}

type SavingsProgress struct {
	Percent      float64 `json:"percent"`
	TargetAmount float64 `json:"targetAmount"`
}

type Adherence struct {
	Percent30d float64 `json:"percent30d"`
}

// GoalSummary is one of the top goals shown on the overview.
type GoalSummary struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Percent float64 `json:"percent"`
	EtaDays int     `json:"etaDays"`
}

type Pulse struct {
	Team         string `json:"team"`
	GamesTracked int    `json:"gamesTracked"`
	LastResult   string `json:"lastResult,omitempty"`
}

// ItemKind says what sort of attention an item needs.
type ItemKind string

const (
	KindBill     ItemKind = "bill"
	KindDose     ItemKind = "dose"
	KindGoal     ItemKind = "goal"
	KindTask     ItemKind = "task"
	KindDocument ItemKind = "document"
	KindRefill   ItemKind = "refill"
)

// ImpactDeltas are the KPI changes acting on an item would cause.
type ImpactDeltas struct {
	RunwayDays       float64 `json:"runwayDays,omitempty"`
	CashOnHand       float64 `json:"cashOnHand,omitempty"`
	MonthlyBurn      float64 `json:"monthlyBurn,omitempty"`
	GoalEtaDays      float64 `json:"goalEtaDays,omitempty"`
	SavingsPercent   float64 `json:"savingsPercent,omitempty"`
	AdherencePercent float64 `json:"adherencePercent,omitempty"`
}

// Link points a queue item at a related entity.
type Link struct {
	EntityID   string `json:"entityId"`
	EntityType string `json:"entityType"`
}

// QueueItem is one "needs attention" entry.
type QueueItem struct {
	ID            string        `json:"id"`
	Kind          ItemKind      `json:"kind"`
	Category      string        `json:"category"`
	Title         string        `json:"title"`
	Detail        string        `json:"detail"`
	PriorityScore float64       `json:"priorityScore"`
	Amount        float64       `json:"amount,omitempty"`
	DueDate       string        `json:"dueDate,omitempty"` // YYYY-MM-DD
	Impact        *ImpactDeltas `json:"impact,omitempty"`
	Actions       []string      `json:"actions"`
	Links         []Link        `json:"links,omitempty"`
}

// CanvasContext is the detail bundle for one queue item, keyed by its id.
type CanvasContext struct {
	QueueItemID  string            `json:"queueItemId"`
	Summary      string            `json:"summary"`
	Timeline     []TimelineEntry   `json:"timeline"`
	Cashflow     []CashflowInsight `json:"cashflow"`
	Docs         []DocRef          `json:"docs"`
	People       []Person          `json:"people"`
	Rules        []string          `json:"rules"`
	Scenarios    []ScenarioPreview `json:"scenarios"`
	Explanations []string          `json:"explanations"`
}

type TimelineEntry struct {
	At    string `json:"at"`
	Label string `json:"label"`
}

type CashflowInsight struct {
	Label    string  `json:"label"`
	Amount   float64 `json:"amount"`
	Variance float64 `json:"variance"`
}

type DocRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type Person struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

type ScenarioPreview struct {
	Name            string  `json:"name"`
	RunwayDeltaDays float64 `json:"runwayDeltaDays"`
}

// Snapshot is the full projection state.
type Snapshot struct {
	Overview Overview                 `json:"overview"`
	Queue    []QueueItem              `json:"queue"`
	Contexts map[string]CanvasContext `json:"contexts"`
}

func (o Overview) clone() Overview {
	out := o
	out.TopGoals = append([]GoalSummary(nil), o.TopGoals...)
	return out
}

func (q QueueItem) clone() QueueItem {
	out := q
	if q.Impact != nil {
		d := *q.Impact
		out.Impact = &d
	}
	out.Actions = append([]string(nil), q.Actions...)
	out.Links = append([]Link(nil), q.Links...)
	return out
}

func (c CanvasContext) clone() CanvasContext {
	out := c
	out.Timeline = append([]TimelineEntry(nil), c.Timeline...)
	out.Cashflow = append([]CashflowInsight(nil), c.Cashflow...)
	out.Docs = append([]DocRef(nil), c.Docs...)
	out.People = append([]Person(nil), c.People...)
	out.Rules = append([]string(nil), c.Rules...)
	out.Scenarios = append([]ScenarioPreview(nil), c.Scenarios...)
	out.Explanations = append([]string(nil), c.Explanations...)
	return out
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Overview: s.Overview.clone(),
		Queue:    make([]QueueItem, len(s.Queue)),
		Contexts: make(map[string]CanvasContext, len(s.Contexts)),
	}
	for i, q := range s.Queue {
		out.Queue[i] = q.clone()
	}
	for k, c := range s.Contexts {
		out.Contexts[k] = c.clone()
	}
	return out
}
