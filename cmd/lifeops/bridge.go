package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quantumlife/lifeops/internal/commands"
	"github.com/quantumlife/lifeops/internal/core"
	"github.com/quantumlife/lifeops/internal/impact"
	"github.com/quantumlife/lifeops/internal/projection"
)

func queueCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the action queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Items []projection.QueueItem `json:"items"`
			}
			path := "/bridge/queue"
			if category != "" {
				path += "?category=" + category
			}
			if err := newClient(serverURL).do(cmd.Context(), "GET", path, nil, &resp); err != nil {
				return err
			}
			return renderQueue(cmd.OutOrStdout(), resp.Items)
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only show one category (bills, health, goals, ...)")
	return cmd
}

func renderQueue(w io.Writer, items []projection.QueueItem) error {
	if len(items) == 0 {
		fmt.Fprintln(w, SubtleStyle.Render("Nothing in the queue."))
		return nil
	}
	fmt.Fprintln(w, TitleStyle.Render("Action queue"))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
		HeaderStyle.Render("PRIORITY"),
		HeaderStyle.Render("ID"),
		HeaderStyle.Render("CATEGORY"),
		HeaderStyle.Render("TITLE"),
		HeaderStyle.Render("AMOUNT"),
		HeaderStyle.Render("DUE"),
	)
	for _, it := range items {
		amount := ""
		if it.Amount != 0 {
			amount = money(it.Amount)
		}
		fmt.Fprintf(tw, "%.0f\t%s\t%s\t%s\t%s\t%s\n",
			it.PriorityScore, it.ID, it.Category, it.Title, amount, it.DueDate)
	}
	return tw.Flush()
}

// parsePayload reads key=value pairs; values that parse as JSON keep
// their JSON type, anything else is a string.
func parsePayload(pairs []string) (map[string]interface{}, error) {
	payload := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("payload %q: want key=value", p)
		}
		var decoded interface{}
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			payload[k] = decoded
		} else {
			payload[k] = v
		}
	}
	return payload, nil
}

func submitCmd() *cobra.Command {
	var (
		key    string
		fields []string
	)

	cmd := &cobra.Command{
		Use:   "submit <command-type>",
		Short: "Submit a command",
		Long: `Submit a command to lifeopsd. Payload fields are key=value pairs.

Example:
  lifeops submit bill.markPaid -f billId=bill-electric -f amount=182`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := parsePayload(fields)
			if err != nil {
				return err
			}
			if key == "" {
				key = uuid.New().String()
			}

			var res commands.Result
			err = newClient(serverURL).do(cmd.Context(), "POST", "/commands", core.Command{
				Type:           core.CommandType(args[0]),
				Payload:        payload,
				IdempotencyKey: key,
			}, &res)
			if err != nil {
				return err
			}
			renderResult(cmd.OutOrStdout(), key, &res)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (random when empty)")
	cmd.Flags().StringArrayVarP(&fields, "field", "f", nil, "payload field as key=value (repeatable)")
	return cmd
}

func renderResult(w io.Writer, key string, res *commands.Result) {
	if res.Duplicate {
		fmt.Fprintln(w, WarningStyle.Render("Already applied")+SubtleStyle.Render(" (key "+key+")"))
	} else {
		fmt.Fprintln(w, SuccessStyle.Render("Accepted")+SubtleStyle.Render(" (key "+key+")"))
	}
	for _, e := range res.Events {
		fmt.Fprintf(w, "  %s %s\n", e.Type, SubtleStyle.Render(e.ID))
	}
	if len(res.DirtyKeys) > 0 {
		fmt.Fprintf(w, "  updated: %s\n", strings.Join(res.DirtyKeys, ", "))
	}
	for _, n := range res.Nudges {
		fmt.Fprintf(w, "  %s %s\n", WarningStyle.Render("nudge:"), n.Title)
	}
}

func previewCmd() *cobra.Command {
	var in impact.Input

	cmd := &cobra.Command{
		Use:   "preview <intent>",
		Short: "Preview the impact of a change without applying it",
		Long: `Ask lifeopsd what a change would do. Intents: bill.pay, goal.allocate,
dose.take, refill.request, entity.update.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Intent = args[0]
			var preview commands.Preview
			if err := newClient(serverURL).do(cmd.Context(), "POST", "/impact/preview", in, &preview); err != nil {
				return err
			}
			renderPlan(cmd.OutOrStdout(), &preview)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.EntityID, "entity", "", "entity id")
	cmd.Flags().Float64Var(&in.Amount, "amount", 0, "amount")
	return cmd
}

func renderPlan(w io.Writer, p *commands.Preview) {
	plan := p.Plan
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", HeaderStyle.Render(plan.Intent), plan.EntityID)

	keys := make([]string, 0, len(plan.KPIDelta))
	for k := range plan.KPIDelta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %-18s %s\n", k, signed(plan.KPIDelta[k]))
	}
	for _, wr := range plan.DerivedWrites {
		fmt.Fprintf(&b, "  writes   %s\n", wr)
	}
	for _, agg := range plan.AggregatesToRecompute {
		fmt.Fprintf(&b, "  updates  %s\n", agg)
	}
	for _, warn := range plan.Warnings {
		fmt.Fprintf(&b, "  %s\n", WarningStyle.Render("! "+warn))
	}
	if p.Signed != nil {
		fmt.Fprintf(&b, "  %s", SubtleStyle.Render("signed by "+p.Signed.KeyID))
	}
	fmt.Fprintln(w, BoxStyle.Render(strings.TrimRight(b.String(), "\n")))
}
