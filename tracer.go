// Package ddtrace wires the instrumentation core together. Most programs need
// only Start and Stop:
//
//	t, err := ddtrace.Start(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer t.Stop(ctx)
//
// Start reads the configuration, installs the logger, builds the telemetry
// provider, subscribes a span tracer to the tracing channels and enables
// every hook in the registry. Packages that need finer control import core,
// telemetry and instrument directly.
package ddtrace

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/trace"

	"github.com/will-bank/dd-trace-deno-sub001/channel"
	"github.com/will-bank/dd-trace-deno-sub001/contrib/goredis"
	"github.com/will-bank/dd-trace-deno-sub001/contrib/nethttp"
	"github.com/will-bank/dd-trace-deno-sub001/core"
	"github.com/will-bank/dd-trace-deno-sub001/instrument"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
	"github.com/will-bank/dd-trace-deno-sub001/telemetry"
)

// Re-export core types
type (
	Config = core.Config
	Option = core.Option
	Logger = core.Logger

	Stack = storage.Stack
	Frame = storage.Frame
	Event = channel.Event

	Hook = instrument.Hook
)

// Re-export core functions
var (
	NewConfig     = core.NewConfig
	DefaultConfig = core.DefaultConfig
	NewStack      = storage.NewStack
	WithStack     = storage.WithStack

	WithServiceName   = core.WithServiceName
	WithExporter      = core.WithExporter
	WithEndpoint      = core.WithEndpoint
	WithLogLevel      = core.WithLogLevel
	WithDisabledHooks = core.WithDisabledHooks
)

// DefaultChannels are the tracing channels Start subscribes to when
// WithChannels is not given.
var DefaultChannels = map[string]trace.SpanKind{
	nethttp.ChannelRequest:  trace.SpanKindServer,
	nethttp.ChannelClient:   trace.SpanKindClient,
	goredis.ChannelCommand:  trace.SpanKindClient,
	goredis.ChannelPipeline: trace.SpanKindClient,
}

type startOptions struct {
	cfg      *core.Config
	cfgOpts  []core.Option
	logger   core.Logger
	registry *instrument.Registry
	provider []telemetry.ProviderOption
	channels map[string]trace.SpanKind
}

// StartOption configures Start
type StartOption func(*startOptions)

// WithConfig uses cfg as is instead of reading the environment
func WithConfig(cfg *core.Config) StartOption {
	return func(o *startOptions) {
		o.cfg = cfg
	}
}

// WithConfigOptions passes opts to core.NewConfig
func WithConfigOptions(opts ...core.Option) StartOption {
	return func(o *startOptions) {
		o.cfgOpts = append(o.cfgOpts, opts...)
	}
}

// WithLogger replaces the ProductionLogger Start would install
func WithLogger(l core.Logger) StartOption {
	return func(o *startOptions) {
		o.logger = l
	}
}

// WithRegistry enables hooks of r instead of instrument.Default()
func WithRegistry(r *instrument.Registry) StartOption {
	return func(o *startOptions) {
		o.registry = r
	}
}

// WithProviderOptions forwards opts to telemetry.NewProvider
func WithProviderOptions(opts ...telemetry.ProviderOption) StartOption {
	return func(o *startOptions) {
		o.provider = append(o.provider, opts...)
	}
}

// WithChannels replaces DefaultChannels
func WithChannels(channels map[string]trace.SpanKind) StartOption {
	return func(o *startOptions) {
		o.channels = channels
	}
}

// Tracer is a started tracer. Stop releases everything Start set up.
type Tracer struct {
	cfg      *core.Config
	logger   core.Logger
	provider *telemetry.Provider
	tracer   *telemetry.Tracer
	registry *instrument.Registry
	unsub    []func()
}

// Start sets the tracer up. A failing hook does not fail Start; it is
// logged and left disabled.
func Start(ctx context.Context, opts ...StartOption) (*Tracer, error) {
	o := &startOptions{channels: DefaultChannels}
	for _, opt := range opts {
		opt(o)
	}

	cfg := o.cfg
	if cfg == nil {
		var err error
		if cfg, err = core.NewConfig(o.cfgOpts...); err != nil {
			return nil, err
		}
	}

	logger := o.logger
	if logger == nil {
		logger = core.NewProductionLogger(cfg.Logging, cfg.ServiceName, "tracer")
	}
	core.SetLogger(logger)

	provider, err := telemetry.NewProvider(ctx, cfg, append(o.provider, telemetry.WithProviderLogger(logger))...)
	if err != nil {
		return nil, err
	}
	telemetry.EnableFrameworkIntegration(provider, logger)

	t := &Tracer{
		cfg:      cfg,
		logger:   logger,
		provider: provider,
		tracer: telemetry.NewTracer(provider.TracerProvider(), logger,
			telemetry.WithSpanMetrics(telemetry.NewMetricInstrumentsFor(provider.MeterProvider(), telemetry.InstrumentationName))),
		registry: o.registry,
	}
	if t.registry == nil {
		t.registry = instrument.Default()
	}

	for name, kind := range o.channels {
		t.unsub = append(t.unsub, t.tracer.Trace(channel.NewTracingChannel(name), kind))
	}

	if err := t.registry.EnableAll(); err != nil {
		logger.Warn("Some hooks could not be enabled", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Tracer started", map[string]interface{}{
		"version":  Version,
		"service":  cfg.ServiceName,
		"env":      cfg.Environment,
		"hooks":    t.registry.Names(),
		"channels": len(o.channels),
	})
	return t, nil
}

// Config returns the configuration Start ran with
func (t *Tracer) Config() *core.Config {
	return t.cfg
}

// Provider returns the telemetry provider
func (t *Tracer) Provider() *telemetry.Provider {
	return t.provider
}

// Spans returns the span tracer
func (t *Tracer) Spans() *telemetry.Tracer {
	return t.tracer
}

// Registry returns the hook registry
func (t *Tracer) Registry() *instrument.Registry {
	return t.registry
}

// Stop disables every hook, unsubscribes from the channels and shuts the
// provider down. It returns every failure it ran into.
func (t *Tracer) Stop(ctx context.Context) error {
	var result *multierror.Error

	if err := t.registry.DisableAll(); err != nil {
		result = multierror.Append(result, err)
	}
	for _, unsub := range t.unsub {
		unsub()
	}
	t.unsub = nil
	if err := t.tracer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	core.SetMetricsRegistry(nil)
	if err := t.provider.Shutdown(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	t.logger.Info("Tracer stopped", nil)
	return result.ErrorOrNil()
}
