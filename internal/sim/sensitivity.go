package sim

import (
	"fmt"
	"math"
	"sort"
)

// Sensitivity parameters
const (
	ParamIncome    = "income"
	ParamExpenses  = "expenses"
	ParamInflation = "inflation"
	ParamReturn    = "return"
	ParamDebtExtra = "debtExtra"
	ParamTravel    = "travel"
)

type lever struct {
	param string
	label string
	delta float64
}

// levers are the fixed one-at-a-time deltas. Income, expenses and travel
// are relative; inflation and return are absolute annual rates; debt extra
// is an amount per month.
var levers = []lever{
	{ParamIncome, "Income ±10%", 0.10},
	{ParamExpenses, "Expenses ±10%", 0.10},
	{ParamInflation, "Inflation ±1pt", 0.01},
	{ParamReturn, "Return ±2pt", 0.02},
	{ParamDebtExtra, "Extra debt payment ±100", 100},
	{ParamTravel, "Travel ±20%", 0.20},
}

// Validate checks that the perturbation names a known parameter
func (pt Perturbation) Validate() error {
	for _, l := range levers {
		if l.param == pt.Parameter {
			if math.IsNaN(pt.Delta) || math.IsInf(pt.Delta, 0) {
				return fmt.Errorf("%w: non-finite delta", ErrInvalidParams)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownParameter, pt.Parameter)
}

// Apply returns p with one perturbation folded in. Unknown parameters leave
// p unchanged; call Validate first to reject them.
func Apply(p Params, pt Perturbation) Params {
	out := p
	switch pt.Parameter {
	case ParamIncome:
		out.IncomeDelta += (p.MonthlyIncome + p.IncomeDelta) * pt.Delta
	case ParamExpenses:
		out.ExpenseDelta += (p.MonthlyExpenses + p.ExpenseDelta) * pt.Delta
	case ParamInflation:
		out.Assumptions.InflationRate += pt.Delta
	case ParamReturn:
		out.Assumptions.ReturnRate += pt.Delta
	case ParamDebtExtra:
		out.Debt.ExtraPayment = math.Max(0, p.Debt.ExtraPayment+pt.Delta)
	case ParamTravel:
		out.Travel.Amount = math.Max(0, p.Travel.Amount*(1+pt.Delta))
	}
	return out
}

// Sensitivity perturbs each parameter down and up by its fixed delta and
// reports the runway and final balance change against the base projection,
// widest runway swing first.
func Sensitivity(p Params) ([]SensitivityRow, error) {
	base, err := Simulate(p)
	if err != nil {
		return nil, err
	}

	rows := make([]SensitivityRow, 0, len(levers))
	for _, l := range levers {
		low := Perturbation{Parameter: l.param, Delta: -l.delta}
		high := Perturbation{Parameter: l.param, Delta: l.delta}

		lr, err := Simulate(Apply(p, low))
		if err != nil {
			return nil, fmt.Errorf("%s low: %w", l.param, err)
		}
		hr, err := Simulate(Apply(p, high))
		if err != nil {
			return nil, fmt.Errorf("%s high: %w", l.param, err)
		}

		row := SensitivityRow{
			Parameter:  l.param,
			Label:      l.label,
			Low:        low,
			High:       high,
			RunwayLow:  lr.RunwayMonths - base.RunwayMonths,
			RunwayHigh: hr.RunwayMonths - base.RunwayMonths,
			FinalLow:   lr.FinalBalance - base.FinalBalance,
			FinalHigh:  hr.FinalBalance - base.FinalBalance,
		}
		row.RunwaySwing = math.Abs(row.RunwayHigh - row.RunwayLow)
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].RunwaySwing != rows[j].RunwaySwing {
			return rows[i].RunwaySwing > rows[j].RunwaySwing
		}
		return math.Abs(rows[i].FinalHigh-rows[i].FinalLow) > math.Abs(rows[j].FinalHigh-rows[j].FinalLow)
	})
	return rows, nil
}
