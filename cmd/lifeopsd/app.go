package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantumlife/lifeops/internal/api"
	"github.com/quantumlife/lifeops/internal/bridge"
	"github.com/quantumlife/lifeops/internal/commands"
	"github.com/quantumlife/lifeops/internal/config"
	"github.com/quantumlife/lifeops/internal/eventlog"
	"github.com/quantumlife/lifeops/internal/ledger"
	"github.com/quantumlife/lifeops/internal/logging"
	"github.com/quantumlife/lifeops/internal/proactive"
	"github.com/quantumlife/lifeops/internal/projection"
	"github.com/quantumlife/lifeops/internal/rules"
	"github.com/quantumlife/lifeops/internal/scheduler"
	"github.com/quantumlife/lifeops/internal/signing"
	"github.com/quantumlife/lifeops/internal/storage"
	"github.com/quantumlife/lifeops/internal/telemetry"
)

// Background task cadence not exposed in config
const (
	pruneInterval   = 6 * time.Hour
	releaseInterval = 5 * time.Minute
	shutdownTimeout = 10 * time.Second
)

// app is the wired daemon
type app struct {
	cfg *config.Config
	log *logging.Logger

	db         *storage.DB
	ledger     *ledger.Store
	receipts   *storage.ReceiptStore
	events     *eventlog.Log
	projection *projection.Store
	hub        *bridge.Hub
	redis      *redis.Client
	relay      *bridge.Relay
	rules      *rules.Engine
	nudges     *proactive.Service
	commands   *commands.Service
	scheduler  *scheduler.Scheduler
	server     *api.Server
	metrics    *telemetry.Metrics

	shutdownTelemetry func(context.Context) error
}

// notifier fans dirty keys out to local clients, and to other instances
// when the relay is on.
func (a *app) notifier() projection.Notifier {
	if a.relay != nil {
		return a.relay
	}
	return a.hub
}

// newApp opens storage, rebuilds projections from the ledger and wires
// every service. Nothing listens until run is called.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, log: logging.For("lifeopsd")}
	if err := a.init(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg

	// Telemetry
	mp, shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	a.shutdownTelemetry = shutdown
	if a.metrics, err = telemetry.New(mp); err != nil {
		return err
	}

	// Storage
	a.db, err = storage.Open(storage.Config{Path: cfg.DatabasePath(), InMemory: cfg.Storage.InMemory})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := a.db.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	a.ledger = ledger.NewStore(a.db.Conn())
	a.receipts = storage.NewReceiptStore(a.db)

	// Event log and projections
	a.events = eventlog.New(eventlog.WithStore(a.ledger), eventlog.WithMetrics(a.metrics))
	restored, err := a.events.Restore(ctx)
	if err != nil {
		return err
	}
	a.projection = projection.NewStore(projection.DefaultSnapshot(time.Now()))
	a.projection.ApplyEvents(restored)
	a.log.WithField("events", len(restored)).Info("Projections rebuilt")

	// Live push
	a.hub = bridge.NewHub(bridge.WithBuffer(cfg.Bridge.ClientBuffer), bridge.WithMetrics(a.metrics))
	if cfg.Redis.Addr != "" {
		a.redis = bridge.NewRedisClient(bridge.RedisConfig{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
		a.relay = bridge.NewRelay(a.redis, cfg.Redis.Channel, a.hub)
	}
	a.projection.SetNotifier(a.notifier())

	// Rules
	a.rules = rules.NewEngine(rules.WithMetrics(a.metrics))
	if err := a.rules.RegisterAll(rules.Defaults()); err != nil {
		return err
	}
	if cfg.Rules.File != "" {
		defs, err := rules.LoadFile(cfg.Rules.File)
		if err != nil {
			return err
		}
		if err := a.rules.RegisterAll(defs); err != nil {
			return fmt.Errorf("rules %s: %w", cfg.Rules.File, err)
		}
		a.log.WithField("file", cfg.Rules.File).Info("Loaded %d rules", len(defs))
	}

	// Nudges
	a.nudges = proactive.NewService(
		proactive.NewStore(a.db),
		proactive.NewNudgeGenerator(proactive.NudgeConfig{
			QuietHoursStart: cfg.Proactive.QuietHoursStart,
			QuietHoursEnd:   cfg.Proactive.QuietHoursEnd,
			Location:        time.Local,
		}, nil),
		a.notifier(),
	)

	// Commands
	opts := []commands.Option{
		commands.WithReceipts(a.receipts),
		commands.WithNudges(a.nudges),
		commands.WithMetrics(a.metrics),
	}
	signingOpt, err := loadSigning(cfg.Signing)
	if err != nil {
		return err
	}
	if signingOpt != nil {
		opts = append(opts, signingOpt)
	}
	if a.commands, err = commands.New(a.events, a.projection, a.rules, opts...); err != nil {
		return err
	}

	// Scheduler
	a.scheduler = scheduler.NewScheduler(scheduler.DefaultConfig())
	jobs := &scheduler.Jobs{
		Projection: a.projection,
		Rules:      a.rules,
		Nudges:     a.nudges,
		Ledger:     a.ledger,
		Receipts:   a.receipts,
		ReceiptTTL: cfg.Scheduler.ReceiptTTL,
	}
	err = jobs.Register(a.scheduler, scheduler.Intervals{
		Sweep:   cfg.Scheduler.SweepInterval,
		Verify:  cfg.Scheduler.VerifyInterval,
		Prune:   pruneInterval,
		Release: releaseInterval,
	})
	if err != nil {
		return err
	}

	// API
	a.server = api.New(api.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		CORSOrigins:  cfg.Server.CORSOrigins,
		Heartbeat:    cfg.Bridge.Heartbeat,
		CommandRate:  cfg.Commands.Rate,
		CommandBurst: cfg.Commands.Burst,
		Version:      version,
		Projection:   a.projection,
		Hub:          a.hub,
		Events:       a.events,
		Ledger:       a.ledger,
		Rules:        a.rules,
		Commands:     a.commands,
		Nudges:       a.nudges,
		Metrics:      a.metrics,
		Ping:         a.db.Ping,
	})
	return nil
}

// loadSigning reads the key bundle. With a passphrase previews are signed;
// without one only incoming signatures are verified.
func loadSigning(cfg config.SigningConfig) (commands.Option, error) {
	if cfg.KeyFile == "" {
		return nil, nil
	}
	bundle, err := signing.LoadBundle(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}

	log := logging.For("lifeopsd").WithField("file", cfg.KeyFile)
	if cfg.Passphrase == "" {
		pub, err := bundle.PublicKeys()
		if err != nil {
			return nil, fmt.Errorf("read public keys: %w", err)
		}
		log.WithField("key", pub.ID()).Warn("No signing passphrase; previews will be unsigned")
		return commands.WithVerifier(signing.NewVerifier(pub)), nil
	}

	kp, err := bundle.Open(cfg.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlock signing key: %w", err)
	}
	log.WithField("key", kp.ID()).Info("Impact plans will be signed")
	return commands.WithSigner(signing.NewSigner(kp)), nil
}

// run serves until ctx is cancelled or the server fails, then shuts down.
func (a *app) run(ctx context.Context) error {
	if err := a.scheduler.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.relay != nil {
		go a.relay.Pump(ctx)
		go func() {
			if err := a.relay.Run(ctx); err != nil {
				a.log.WithError(err).Error("Relay stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.server.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutting down...")
	case serveErr = <-errCh:
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	a.scheduler.Stop()
	return serveErr
}

// close releases resources. Safe on a partially built app.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		a.hub.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.shutdownTelemetry != nil {
		errs = append(errs, a.shutdownTelemetry(ctx))
	}
	return errors.Join(errs...)
}
