package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/quantumlife/lifeops/internal/sim"
)

// simOptions are the flags of the sim command
type simOptions struct {
	paramsFile string
	mode       string
	trials     int
	seed       uint64
	params     sim.Params
}

func simCmd() *cobra.Command {
	opts := &simOptions{}

	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run a cashflow simulation locally",
		Long: `Project cashflow month by month.

Modes:
  run          deterministic projection (default)
  montecarlo   randomized trials with percentile bands
  sensitivity  one-at-a-time tornado of the main levers

Parameters come from flags, or from a JSON file with --params.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.paramsFile != "" {
				p, err := readParams(opts.paramsFile)
				if err != nil {
					return err
				}
				opts.params = p
			}
			return runSim(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.paramsFile, "params", "", "JSON file with simulation parameters")
	f.StringVar(&opts.mode, "mode", "run", "run, montecarlo or sensitivity")
	f.IntVar(&opts.trials, "trials", 500, "Monte Carlo trials (100, 500 or 1000)")
	f.Uint64Var(&opts.seed, "seed", 1, "Monte Carlo seed")
	f.IntVar(&opts.params.HorizonMonths, "months", 24, "horizon in months")
	f.Float64Var(&opts.params.StartingBalance, "balance", 0, "starting balance")
	f.Float64Var(&opts.params.MonthlyIncome, "income", 0, "monthly income")
	f.Float64Var(&opts.params.MonthlyExpenses, "expenses", 0, "monthly expenses")
	f.Float64Var(&opts.params.Assumptions.InflationRate, "inflation", 0.03, "annual inflation rate")
	f.Float64Var(&opts.params.Assumptions.ReturnRate, "return", 0, "annual return on positive balances")
	f.Float64Var(&opts.params.Assumptions.SavingsRate, "savings-rate", 0, "share of surplus put toward goals")
	f.Float64Var(&opts.params.Debt.Balance, "debt", 0, "debt balance")
	f.Float64Var(&opts.params.Debt.APR, "apr", 0, "debt APR")
	f.Float64Var(&opts.params.Debt.MinPayment, "min-payment", 0, "minimum debt payment")
	f.Float64Var(&opts.params.Debt.ExtraPayment, "extra-payment", 0, "extra debt payment")
	f.Float64Var(&opts.params.Travel.Amount, "travel", 0, "monthly travel budget")
	f.BoolVar(&opts.params.Travel.Recurring, "travel-recurring", true, "travel budget recurs monthly")

	return cmd
}

func readParams(path string) (sim.Params, error) {
	var p sim.Params
	data, err := os.ReadFile(path)
	if err != nil {
		return p, err
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse %s: %w", path, err)
	}
	return p, nil
}

func runSim(cmd *cobra.Command, opts *simOptions) error {
	out := cmd.OutOrStdout()

	switch opts.mode {
	case "run":
		res, err := sim.Simulate(opts.params)
		if err != nil {
			return err
		}
		return renderProjection(out, res)

	case "montecarlo", "mc":
		bar := progressbar.NewOptions(opts.trials,
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionSetDescription("[cyan]Running trials...[reset]"),
			progressbar.OptionClearOnFinish(),
		)
		res, err := sim.MonteCarlo(cmd.Context(), opts.params, sim.MCOptions{
			Trials: opts.trials,
			Seed:   opts.seed,
			Progress: func(done, total int) {
				_ = bar.Set(done)
			},
		})
		_ = bar.Finish()
		if err != nil {
			return err
		}
		return renderMonteCarlo(out, res)

	case "sensitivity":
		rows, err := sim.Sensitivity(opts.params)
		if err != nil {
			return err
		}
		return renderSensitivity(out, rows)
	}
	return fmt.Errorf("unknown mode %q", opts.mode)
}

func renderProjection(w io.Writer, res *sim.Result) error {
	fmt.Fprintln(w, TitleStyle.Render("Projection"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
		HeaderStyle.Render("MONTH"),
		HeaderStyle.Render("INCOME"),
		HeaderStyle.Render("EXPENSES"),
		HeaderStyle.Render("NET"),
		HeaderStyle.Render("BALANCE"),
	)
	for _, m := range res.Months {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t\n",
			m.Label, money(m.Income), money(m.Expenses), signed(m.Net),
			balanceStyle(m.Balance).Render(money(m.Balance)))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Final balance  %s\n", money(res.FinalBalance))
	fmt.Fprintf(&b, "Runway         %.1f months\n", res.RunwayMonths)
	breakEven := res.BreakEven
	if breakEven == "" {
		breakEven = "never"
	}
	fmt.Fprintf(&b, "Break-even     %s\n", breakEven)
	if res.DebtPaidOffAt != "" {
		fmt.Fprintf(&b, "Debt paid off  %s\n", res.DebtPaidOffAt)
	}
	for _, g := range res.GoalETAs {
		eta := g.Label
		if g.Month < 0 {
			eta = "beyond horizon"
		}
		fmt.Fprintf(&b, "Goal %-9s %s\n", g.Name, eta)
	}
	fmt.Fprintf(&b, "Risk score     %.0f/100", res.RiskScore)
	fmt.Fprintln(w)
	fmt.Fprintln(w, BoxStyle.Render(b.String()))
	return nil
}

func renderMonteCarlo(w io.Writer, res *sim.MonteCarloResult) error {
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Monte Carlo, %d trials (seed %d)", res.Trials, res.Seed)))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
		HeaderStyle.Render("MONTH"),
		HeaderStyle.Render("P10"),
		HeaderStyle.Render("P25"),
		HeaderStyle.Render("P50"),
		HeaderStyle.Render("P75"),
		HeaderStyle.Render("P90"),
	)
	for _, b := range res.Bands {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n", b.Label,
			balanceStyle(b.P10).Render(money(b.P10)), money(b.P25), money(b.P50), money(b.P75), money(b.P90))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w)
	summary := fmt.Sprintf("Mean ending balance  %s\nDeficit probability  %.1f%%",
		money(res.MeanEnding), res.DeficitProbability*100)
	fmt.Fprintln(w, BoxStyle.Render(summary))
	return nil
}

func renderSensitivity(w io.Writer, rows []sim.SensitivityRow) error {
	fmt.Fprintln(w, TitleStyle.Render("Sensitivity (runway months vs. base)"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
		HeaderStyle.Render("LEVER"),
		HeaderStyle.Render("LOW"),
		HeaderStyle.Render("HIGH"),
		HeaderStyle.Render("SWING"),
		HeaderStyle.Render("FINAL LOW / HIGH"),
	)
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%+.1f\t%+.1f\t%.1f\t%s / %s\n",
			r.Label, r.RunwayLow, r.RunwayHigh, r.RunwaySwing, signed(r.FinalLow), signed(r.FinalHigh))
	}
	return tw.Flush()
}
