// lifeopsd serves the lifeops API, live bridge and background tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/quantumlife/lifeops/internal/config"
	"github.com/quantumlife/lifeops/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "lifeopsd",
		Short:         "lifeops daemon",
		Long:          "lifeopsd keeps the event log, projections and rules running and serves the bridge API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadWith(v, configFile)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Logging); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	flags := rootCmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "config file (default <data-dir>/config.yaml)")
	flags.String("data-dir", v.GetString("data_dir"), "data directory")
	flags.String("host", v.GetString("server.host"), "HTTP listen host")
	flags.Int("port", v.GetInt("server.port"), "HTTP server port")
	flags.Bool("in-memory", false, "keep everything in memory")
	flags.String("redis", "", "redis address for the cross-instance relay")
	flags.String("rules", "", "YAML file with extra rule definitions")
	flags.String("log-level", v.GetString("logging.level"), "log level (debug, info, warn, error)")

	bind(v, rootCmd, map[string]string{
		"data_dir":          "data-dir",
		"server.host":       "host",
		"server.port":       "port",
		"storage.in_memory": "in-memory",
		"redis.addr":        "redis",
		"rules.file":        "rules",
		"logging.level":     "log-level",
	})

	return rootCmd
}

// bind wires viper keys to flags so only explicitly set flags override
// the file and environment.
func bind(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s: %v", name, err))
		}
	}
}

func setupLogging(cfg config.LoggingConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)
	if strings.EqualFold(cfg.Format, "json") {
		logging.SetFormat(logging.FormatJSON)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logging.For("lifeopsd")
	log.WithFields(map[string]interface{}{
		"version":  version,
		"data_dir": cfg.DataDir,
		"memory":   cfg.Storage.InMemory,
	}).Info("Starting lifeopsd")

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.close(context.Background()); err != nil {
			log.WithError(err).Warn("Shutdown errors")
		}
	}()

	return a.run(ctx)
}
