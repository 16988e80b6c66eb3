package sim

import (
	"fmt"
	"math"
	"time"
)

// multipliers scales income and expenses of month m; nil means 1, 1.
type multipliers func(m int) (income, expenses float64)

// Validate checks p
func (p Params) Validate() error {
	switch {
	case p.HorizonMonths < 1 || p.HorizonMonths > MaxHorizonMonths:
		return fmt.Errorf("%w: horizon must be 1..%d months", ErrInvalidParams, MaxHorizonMonths)
	case p.MonthlyIncome < 0 || p.MonthlyExpenses < 0:
		return fmt.Errorf("%w: income and expenses must not be negative", ErrInvalidParams)
	case p.Debt.Balance < 0 || p.Debt.APR < 0 || p.Debt.MinPayment < 0 || p.Debt.ExtraPayment < 0:
		return fmt.Errorf("%w: debt terms must not be negative", ErrInvalidParams)
	case p.Travel.Amount < 0:
		return fmt.Errorf("%w: travel budget must not be negative", ErrInvalidParams)
	case p.Assumptions.SavingsRate < 0 || p.Assumptions.SavingsRate > 1:
		return fmt.Errorf("%w: savings rate must be within 0..1", ErrInvalidParams)
	}
	amounts := []float64{p.StartingBalance, p.MonthlyIncome, p.MonthlyExpenses, p.IncomeDelta,
		p.ExpenseDelta, p.Travel.Amount, p.Debt.Balance, p.Debt.MinPayment, p.Debt.ExtraPayment}
	for _, s := range p.Shocks {
		amounts = append(amounts, s.Amount)
	}
	for _, g := range p.Goals {
		amounts = append(amounts, g.Target, g.Saved)
	}
	for _, v := range amounts {
		if math.IsNaN(v) || math.Abs(v) > MaxAmount {
			return fmt.Errorf("%w: amounts must be finite and within ±%g", ErrInvalidParams, MaxAmount)
		}
	}
	for _, v := range []float64{p.Assumptions.InflationRate, p.Assumptions.ReturnRate, p.Debt.APR} {
		if math.IsNaN(v) || math.Abs(v) > MaxRate {
			return fmt.Errorf("%w: rates must be finite and within ±%g", ErrInvalidParams, MaxRate)
		}
	}
	return nil
}

// finite reports whether every figure of a projection is a real number.
func finite(months []Month) bool {
	for _, m := range months {
		for _, v := range []float64{m.Income, m.Expenses, m.Net, m.Balance, m.DebtBalance} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Simulate projects p month by month.
func Simulate(p Params) (*Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	months := project(p, nil)
	if !finite(months) {
		return nil, fmt.Errorf("%w: projection overflows", ErrInvalidParams)
	}
	return summarize(p, months), nil
}

// startMonth is the first day of p.Start's month, or of the current month
// when Start is unset.
func startMonth(p Params) time.Time {
	s := p.Start
	if s.IsZero() {
		s = time.Now()
	}
	s = s.UTC()
	return time.Date(s.Year(), s.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func monthLabel(start time.Time, i int) string {
	return start.AddDate(0, i, 0).Format("2006-01")
}

func project(p Params, mult multipliers) []Month {
	start := startMonth(p)
	inflation := p.Assumptions.InflationRate / 12
	ret := p.Assumptions.ReturnRate / 12

	shocks := make(map[int]float64)
	for _, s := range p.Shocks {
		shocks[s.Month] += s.Amount
	}

	balance := p.StartingBalance
	debt := p.Debt.Balance
	out := make([]Month, p.HorizonMonths)

	for m := 0; m < p.HorizonMonths; m++ {
		income := p.MonthlyIncome + p.IncomeDelta
		living := (p.MonthlyExpenses + p.ExpenseDelta) * math.Pow(1+inflation, float64(m))
		if mult != nil {
			mi, me := mult(m)
			income *= mi
			living *= me
		}
		if income < 0 {
			income = 0
		}
		if living < 0 {
			living = 0
		}

		expenses := living
		if p.Travel.Recurring || m == p.Travel.Month {
			expenses += p.Travel.Amount
		}
		if debt > 0 {
			debt += debt * p.Debt.APR / 12
			pay := math.Min(debt, p.Debt.MinPayment+p.Debt.ExtraPayment)
			debt -= pay
			expenses += pay
		}
		expenses += shocks[m]

		if balance > 0 {
			balance += balance * ret
		}
		net := income - expenses
		balance += net

		out[m] = Month{
			Index:       m,
			Label:       monthLabel(start, m),
			Income:      income,
			Expenses:    expenses,
			Net:         net,
			Balance:     balance,
			DebtBalance: debt,
		}
	}
	return out
}

func summarize(p Params, months []Month) *Result {
	start := startMonth(p)
	r := &Result{
		Months:       months,
		FinalBalance: months[len(months)-1].Balance,
		RunwayMonths: runway(p.StartingBalance, months),
		BreakEvenIdx: breakEven(months),
		GoalETAs:     goalETAs(p, months, start),
	}
	if r.BreakEvenIdx >= 0 {
		r.BreakEven = months[r.BreakEvenIdx].Label
	}
	if p.Debt.Balance > 0 {
		for _, m := range months {
			if m.DebtBalance <= 0 {
				r.DebtPaidOffAt = m.Label
				break
			}
		}
	}
	r.RiskScore = riskScore(p, months, r.RunwayMonths)
	return r
}

// runway is the number of months until the balance first goes negative,
// interpolated within that month. A balance that stays non-negative lasts
// the horizon plus whatever the final balance covers at average expenses.
func runway(startBalance float64, months []Month) float64 {
	prev := startBalance
	if prev < 0 {
		return 0
	}
	var spent float64
	for i, m := range months {
		if m.Balance < 0 {
			return float64(i) + prev/(prev-m.Balance)
		}
		prev = m.Balance
		spent += m.Expenses
	}
	avg := spent / float64(len(months))
	if avg <= 0 {
		return MaxRunwayMonths
	}
	return math.Min(float64(len(months))+prev/avg, MaxRunwayMonths)
}

// breakEven is the first month from which net stays non-negative to the
// end of the horizon, or -1.
func breakEven(months []Month) int {
	idx := -1
	for i := len(months) - 1; i >= 0; i-- {
		if months[i].Net < 0 {
			break
		}
		idx = i
	}
	return idx
}

func goalETAs(p Params, months []Month, start time.Time) []GoalETA {
	etas := make([]GoalETA, len(p.Goals))
	saved := make([]float64, len(p.Goals))
	for i, g := range p.Goals {
		etas[i] = GoalETA{ID: g.ID, Name: g.Name, Month: -1}
		saved[i] = g.Saved
		if g.Saved >= g.Target {
			etas[i].Month = 0
			etas[i].Label = monthLabel(start, 0)
		}
	}

	for _, m := range months {
		pot := math.Max(m.Net, 0) * p.Assumptions.SavingsRate
		for i, g := range p.Goals {
			if etas[i].Month >= 0 {
				continue
			}
			need := g.Target - saved[i]
			put := math.Min(need, pot)
			saved[i] += put
			pot -= put
			if saved[i] >= g.Target {
				etas[i].Month = m.Index
				etas[i].Label = m.Label
			}
			if pot <= 0 {
				break
			}
		}
	}
	return etas
}

// riskScore weighs deficit months (40), a short runway (40) and debt
// relative to annual income (20), clamped to 0..100.
func riskScore(p Params, months []Month, runwayMonths float64) float64 {
	var deficits int
	for _, m := range months {
		if m.Net < 0 {
			deficits++
		}
	}
	score := 40 * float64(deficits) / float64(len(months))
	score += 40 * clamp01((12-math.Min(runwayMonths, 12))/12)

	annual := 12 * (p.MonthlyIncome + p.IncomeDelta)
	switch {
	case p.Debt.Balance <= 0:
	case annual <= 0:
		score += 20
	default:
		score += 20 * clamp01(p.Debt.Balance/annual)
	}
	return math.Round(math.Max(0, math.Min(100, score)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// Compare reports b minus a per month.
func Compare(a, b *Result) ([]MonthDelta, error) {
	if len(a.Months) != len(b.Months) {
		return nil, fmt.Errorf("%w: %d vs %d months", ErrLengthMismatch, len(a.Months), len(b.Months))
	}
	out := make([]MonthDelta, len(a.Months))
	for i := range a.Months {
		out[i] = MonthDelta{
			Label:   b.Months[i].Label,
			Balance: b.Months[i].Balance - a.Months[i].Balance,
			Net:     b.Months[i].Net - a.Months[i].Net,
		}
	}
	return out, nil
}
