// Package sim projects household cashflow month by month and explores the
// projection with Monte Carlo trials and one-at-a-time sensitivity runs.
package sim

import (
	"errors"
	"time"
)

// Limits
const (
	MaxHorizonMonths = 600
	// MaxRunwayMonths caps the runway reported when expenses are zero.
	MaxRunwayMonths = 1200.0
	// MaxAmount bounds every money input so a projection stays finite.
	MaxAmount = 1e12
	// MaxRate bounds annual rates (10 = 1000%).
	MaxRate = 10.0
)

var (
	ErrInvalidParams    = errors.New("invalid simulation parameters")
	ErrInvalidTrials    = errors.New("trials must be 100, 500 or 1000")
	ErrLengthMismatch   = errors.New("results cover different horizons")
	ErrUnknownParameter = errors.New("unknown sensitivity parameter")
)

// Travel is a travel budget, either every month or once.
type Travel struct {
	Amount    float64 `json:"amount"`
	Recurring bool    `json:"recurring"`
	Month     int     `json:"month"` // zero-based month of a one-off trip
}

// Debt is a single amortizing balance.
type Debt struct {
	Balance      float64 `json:"balance"`
	APR          float64 `json:"apr"` // annual, 0.19 = 19%
	MinPayment   float64 `json:"minPayment"`
	ExtraPayment float64 `json:"extraPayment"`
}

// Assumptions are annual rates as fractions.
type Assumptions struct {
	InflationRate float64 `json:"inflationRate"`
	ReturnRate    float64 `json:"returnRate"`
	// SavingsRate is the share of each month's surplus put toward goals.
	SavingsRate float64 `json:"savingsRate"`
}

// Shock is a one-off expense (or windfall when negative) in a given month.
type Shock struct {
	Month  int     `json:"month"`
	Amount float64 `json:"amount"`
	Label  string  `json:"label,omitempty"`
}

// Goal is a savings target funded from surplus in list order.
type Goal struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Target float64 `json:"target"`
	Saved  float64 `json:"saved"`
}

// Params is everything a projection depends on.
type Params struct {
	Start           time.Time   `json:"start"`
	HorizonMonths   int         `json:"horizonMonths"`
	StartingBalance float64     `json:"startingBalance"`
	MonthlyIncome   float64     `json:"monthlyIncome"`
	MonthlyExpenses float64     `json:"monthlyExpenses"`
	IncomeDelta     float64     `json:"incomeDelta"`
	ExpenseDelta    float64     `json:"expenseDelta"`
	Travel          Travel      `json:"travel"`
	Debt            Debt        `json:"debt"`
	Assumptions     Assumptions `json:"assumptions"`
	Shocks          []Shock     `json:"shocks,omitempty"`
	Goals           []Goal      `json:"goals,omitempty"`
}

// Month is one step of a projection.
type Month struct {
	Index       int     `json:"index"`
	Label       string  `json:"label"` // YYYY-MM
	Income      float64 `json:"income"`
	Expenses    float64 `json:"expenses"`
	Net         float64 `json:"net"`
	Balance     float64 `json:"balance"`
	DebtBalance float64 `json:"debtBalance"`
}

// GoalETA says when a goal is reached. Month is -1 when it is not reached
// within the horizon.
type GoalETA struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Month int    `json:"month"`
	Label string `json:"label,omitempty"`
}

// Result is a deterministic projection.
type Result struct {
	Months        []Month   `json:"months"`
	FinalBalance  float64   `json:"finalBalance"`
	RunwayMonths  float64   `json:"runwayMonths"`
	BreakEven     string    `json:"breakEven,omitempty"` // YYYY-MM, empty when never
	BreakEvenIdx  int       `json:"breakEvenIndex"`      // -1 when never
	RiskScore     float64   `json:"riskScore"`           // 0..100
	GoalETAs      []GoalETA `json:"goalEtas"`
	DebtPaidOffAt string    `json:"debtPaidOffAt,omitempty"`
}

// Band is the spread of balances across trials for one month.
type Band struct {
	Label string  `json:"label"`
	P10   float64 `json:"p10"`
	P25   float64 `json:"p25"`
	P50   float64 `json:"p50"`
	P75   float64 `json:"p75"`
	P90   float64 `json:"p90"`
}

// Bucket is one histogram bin, [From, To).
type Bucket struct {
	From  float64 `json:"from"`
	To    float64 `json:"to"`
	Count int     `json:"count"`
}

// MonteCarloResult summarizes many randomized projections.
type MonteCarloResult struct {
	Trials             int      `json:"trials"`
	Seed               uint64   `json:"seed"`
	Bands              []Band   `json:"bands"`
	Histogram          []Bucket `json:"histogram"`
	DeficitProbability float64  `json:"deficitProbability"`
	MeanEnding         float64  `json:"meanEnding"`
}

// Perturbation nudges one parameter by Delta.
type Perturbation struct {
	Parameter string  `json:"parameter"`
	Delta     float64 `json:"delta"`
}

// SensitivityRow is one bar of a tornado chart. Deltas are relative to the
// unperturbed projection.
type SensitivityRow struct {
	Parameter   string       `json:"parameter"`
	Label       string       `json:"label"`
	Low         Perturbation `json:"low"`
	High        Perturbation `json:"high"`
	RunwayLow   float64      `json:"runwayLow"`
	RunwayHigh  float64      `json:"runwayHigh"`
	FinalLow    float64      `json:"finalLow"`
	FinalHigh   float64      `json:"finalHigh"`
	RunwaySwing float64      `json:"runwaySwing"`
}

// MonthDelta compares one month of two projections (b minus a).
type MonthDelta struct {
	Label   string  `json:"label"`
	Balance float64 `json:"balance"`
	Net     float64 `json:"net"`
}
