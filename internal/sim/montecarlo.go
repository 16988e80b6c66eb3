package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Default volatilities, as the standard deviation of a monthly multiplier.
const (
	DefaultIncomeVolatility  = 0.10
	DefaultExpenseVolatility = 0.08
)

// ValidTrials are the supported trial counts
var ValidTrials = []int{100, 500, 1000}

// MCOptions configures a Monte Carlo run.
type MCOptions struct {
	Trials            int     `json:"trials"`
	Seed              uint64  `json:"seed"`
	IncomeVolatility  float64 `json:"incomeVolatility,omitempty"`
	ExpenseVolatility float64 `json:"expenseVolatility,omitempty"`
	// Workers bounds parallel trials; zero means GOMAXPROCS.
	Workers int `json:"-"`
	// Progress, when set, is called after each finished trial. Calls are
	// serialized.
	Progress func(done, total int) `json:"-"`
}

func (o *MCOptions) normalize() error {
	valid := false
	for _, n := range ValidTrials {
		if o.Trials == n {
			valid = true
		}
	}
	if !valid {
		return fmt.Errorf("%w: got %d", ErrInvalidTrials, o.Trials)
	}
	if o.IncomeVolatility < 0 || o.ExpenseVolatility < 0 {
		return fmt.Errorf("%w: volatility must not be negative", ErrInvalidParams)
	}
	if o.IncomeVolatility == 0 {
		o.IncomeVolatility = DefaultIncomeVolatility
	}
	if o.ExpenseVolatility == 0 {
		o.ExpenseVolatility = DefaultExpenseVolatility
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return nil
}

// MonteCarlo runs independent randomized projections of p. Each trial
// draws its own normal income and expense multiplier per month from a PCG
// stream keyed by (Seed, trial), so equal seeds give equal results
// regardless of scheduling.
func MonteCarlo(ctx context.Context, p Params, opts MCOptions) (*MonteCarloResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	trials := make([][]Month, opts.Trials)

	var (
		mu   sync.Mutex
		done int
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for i := 0; i < opts.Trials; i++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(i)))
			trials[i] = project(p, trialMultipliers(rng, p.HorizonMonths, opts))

			if opts.Progress != nil {
				mu.Lock()
				done++
				opts.Progress(done, opts.Trials)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, months := range trials {
		if !finite(months) {
			return nil, fmt.Errorf("%w: a trial overflows, lower the volatility or amounts", ErrInvalidParams)
		}
	}

	return aggregate(trials, opts), nil
}

// trialMultipliers draws every month's multipliers up front so the stream
// order does not depend on how project consumes them.
func trialMultipliers(rng *rand.Rand, horizon int, opts MCOptions) multipliers {
	inc := make([]float64, horizon)
	exp := make([]float64, horizon)
	for m := 0; m < horizon; m++ {
		inc[m] = math.Max(0, 1+opts.IncomeVolatility*rng.NormFloat64())
		exp[m] = math.Max(0, 1+opts.ExpenseVolatility*rng.NormFloat64())
	}
	return func(m int) (float64, float64) { return inc[m], exp[m] }
}

func aggregate(trials [][]Month, opts MCOptions) *MonteCarloResult {
	horizon := len(trials[0])
	res := &MonteCarloResult{
		Trials: opts.Trials,
		Seed:   opts.Seed,
		Bands:  make([]Band, horizon),
	}

	column := make([]float64, len(trials))
	for m := 0; m < horizon; m++ {
		for t := range trials {
			column[t] = trials[t][m].Balance
		}
		res.Bands[m] = bandOf(trials[0][m].Label, column)
	}

	endings := make([]float64, len(trials))
	deficits := 0
	for t, months := range trials {
		endings[t] = months[horizon-1].Balance
		for _, m := range months {
			if m.Balance < 0 {
				deficits++
				break
			}
		}
	}
	res.Histogram = histogram(endings, HistogramBuckets)
	res.DeficitProbability = float64(deficits) / float64(len(trials))
	res.MeanEnding = mean(endings)
	return res
}
