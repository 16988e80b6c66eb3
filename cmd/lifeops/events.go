package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quantumlife/lifeops/internal/config"
	"github.com/quantumlife/lifeops/internal/ledger"
	"github.com/quantumlife/lifeops/internal/storage"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the local event ledger",
	}
	cmd.AddCommand(eventsVerifyCmd())
	cmd.AddCommand(eventsSummaryCmd())
	return cmd
}

// openLedger opens the ledger in the data directory. The database must
// already exist.
func openLedger() (*storage.DB, *ledger.Store, error) {
	cfg := config.Default()
	cfg.DataDir = dataDir
	path := cfg.DatabasePath()
	if _, err := os.Stat(path); err != nil {
		return nil, nil, fmt.Errorf("no ledger at %s: %w", path, err)
	}
	db, err := storage.Open(storage.Config{Path: path})
	if err != nil {
		return nil, nil, err
	}
	return db, ledger.NewStore(db.Conn()), nil
}

func eventsVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Walk the hash chain and report the first broken link",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, store, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			n, err := store.Count(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()

			err = store.VerifyChain(ctx)
			var chainErr *ledger.ChainError
			switch {
			case err == nil:
				fmt.Fprintf(w, "%s %d entries\n", SuccessStyle.Render("Chain intact:"), n)
				return nil
			case errors.As(err, &chainErr):
				fmt.Fprintln(w, ErrorStyle.Render("Chain broken"))
				fmt.Fprintf(w, "  entry     #%d (%s)\n", chainErr.EntryNum, chainErr.EntryID)
				fmt.Fprintf(w, "  type      %s\n", chainErr.Type)
				fmt.Fprintf(w, "  expected  %s\n", chainErr.ExpectedHash)
				fmt.Fprintf(w, "  actual    %s\n", chainErr.ActualHash)
				return errors.New("ledger verification failed")
			default:
				return err
			}
		},
	}
}

func eventsSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Count stored events by type",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, store, err := openLedger()
			if err != nil {
				return err
			}
			defer db.Close()

			s, err := store.Summary(cmd.Context())
			if err != nil {
				return err
			}
			return renderSummary(cmd.OutOrStdout(), s)
		},
	}
}

func renderSummary(w io.Writer, s *ledger.Summary) error {
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("%d events", s.TotalEvents)))

	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Strings(types)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", HeaderStyle.Render("TYPE"), HeaderStyle.Render("COUNT"))
	for _, t := range types {
		fmt.Fprintf(tw, "%s\t%d\n", t, s.ByType[t])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if s.HeadHash != "" {
		fmt.Fprintf(w, "\nhead %s\n", SubtleStyle.Render(s.HeadHash))
	}
	if !s.ChainValid && s.TotalEvents > 0 {
		fmt.Fprintln(w, ErrorStyle.Render("chain invalid: "+s.ChainError))
	}
	return nil
}
