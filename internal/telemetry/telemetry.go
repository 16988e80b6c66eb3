// Package telemetry exposes OpenTelemetry counters for the command pipeline,
// the live bridge, the rule engine and the simulator.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"

	"github.com/quantumlife/lifeops/internal/logging"
)

const meterName = "github.com/quantumlife/lifeops"

// Config selects the exporter
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string // host:port; empty keeps the no-op provider
	Insecure       bool
	Interval       time.Duration
}

// Init installs a global MeterProvider exporting over OTLP/gRPC. With no
// endpoint configured it returns the no-op provider and a no-op shutdown.
func Init(ctx context.Context, cfg Config) (metric.MeterProvider, func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	)

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.Interval))),
	)
	otel.SetMeterProvider(mp)

	logging.For("telemetry").WithField("endpoint", cfg.OTLPEndpoint).Info("metrics export enabled")
	return mp, mp.Shutdown, nil
}

// Metrics holds the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	commands    metric.Int64Counter
	duplicates  metric.Int64Counter
	rejected    metric.Int64Counter
	events      metric.Int64Counter
	frames      metric.Int64Counter
	evictions   metric.Int64Counter
	clients     metric.Int64UpDownCounter
	ruleActions metric.Int64Counter
	simDuration metric.Float64Histogram
}

// New creates the instruments on the given provider.
func New(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.commands, err = meter.Int64Counter("lifeops.commands.accepted",
		metric.WithDescription("Commands accepted and reduced to events"),
		metric.WithUnit("{command}")); err != nil {
		return nil, err
	}
	if m.duplicates, err = meter.Int64Counter("lifeops.commands.duplicate",
		metric.WithDescription("Commands answered from an idempotency receipt"),
		metric.WithUnit("{command}")); err != nil {
		return nil, err
	}
	if m.rejected, err = meter.Int64Counter("lifeops.commands.rejected",
		metric.WithDescription("Commands refused before reduction"),
		metric.WithUnit("{command}")); err != nil {
		return nil, err
	}
	if m.events, err = meter.Int64Counter("lifeops.events.appended",
		metric.WithDescription("Events appended to the log"),
		metric.WithUnit("{event}")); err != nil {
		return nil, err
	}
	if m.frames, err = meter.Int64Counter("lifeops.bridge.frames",
		metric.WithDescription("Dirty-key frames queued to clients"),
		metric.WithUnit("{frame}")); err != nil {
		return nil, err
	}
	if m.evictions, err = meter.Int64Counter("lifeops.bridge.evictions",
		metric.WithDescription("Clients disconnected for a full queue or failed send"),
		metric.WithUnit("{client}")); err != nil {
		return nil, err
	}
	if m.clients, err = meter.Int64UpDownCounter("lifeops.bridge.clients",
		metric.WithDescription("Connected live clients"),
		metric.WithUnit("{client}")); err != nil {
		return nil, err
	}
	if m.ruleActions, err = meter.Int64Counter("lifeops.rules.actions",
		metric.WithDescription("Rule actions fired"),
		metric.WithUnit("{action}")); err != nil {
		return nil, err
	}
	if m.simDuration, err = meter.Float64Histogram("lifeops.sim.duration",
		metric.WithDescription("Simulation wall time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5)); err != nil {
		return nil, err
	}

	return m, nil
}

// CommandAccepted counts a command that produced events
func (m *Metrics) CommandAccepted(ctx context.Context, commandType string) {
	if m == nil {
		return
	}
	m.commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", commandType)))
}

// CommandDuplicate counts a replayed idempotency key
func (m *Metrics) CommandDuplicate(ctx context.Context, commandType string) {
	if m == nil {
		return
	}
	m.duplicates.Add(ctx, 1, metric.WithAttributes(attribute.String("command", commandType)))
}

// CommandRejected counts a command refused with the given error kind
func (m *Metrics) CommandRejected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// EventAppended counts an appended event
func (m *Metrics) EventAppended(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	m.events.Add(ctx, 1, metric.WithAttributes(attribute.String("type", eventType)))
}

// FramesQueued counts frames handed to client queues
func (m *Metrics) FramesQueued(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.frames.Add(ctx, int64(n))
}

// ClientEvicted counts a dropped client
func (m *Metrics) ClientEvicted(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.evictions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ClientsChanged moves the connected-clients gauge by delta
func (m *Metrics) ClientsChanged(ctx context.Context, delta int) {
	if m == nil {
		return
	}
	m.clients.Add(ctx, int64(delta))
}

// RuleFired counts an action produced by a rule
func (m *Metrics) RuleFired(ctx context.Context, ruleID string) {
	if m == nil {
		return
	}
	m.ruleActions.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", ruleID)))
}

// SimRun records how long a simulation took
func (m *Metrics) SimRun(ctx context.Context, mode string, d time.Duration) {
	if m == nil {
		return
	}
	m.simDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("mode", mode)))
}
