// lifeops is the command-line client for lifeopsd and the local simulator.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantumlife/lifeops/internal/config"
)

var (
	// Global flags
	dataDir   string
	serverURL string

	// version is set at build time with -ldflags "-X main.version=..."
	version = "0.1.0-dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lifeops",
		Short: "lifeops - household operations from the terminal",
		Long: `lifeops talks to a running lifeopsd for the action queue and commands,
and runs cashflow simulations locally.

Keys and the event ledger live in the data directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := config.Default()
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaults.DataDir, "data directory")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://"+defaults.Addr(), "lifeopsd base URL")

	rootCmd.AddCommand(simCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(previewCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(eventsCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lifeops %s\n", version)
		},
	}
}
