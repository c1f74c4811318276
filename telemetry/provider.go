package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/will-bank/dd-trace-deno-sub001/core"
)

// InstrumentationName is the tracer and meter name used by this module
const InstrumentationName = "github.com/will-bank/dd-trace-deno-sub001"

// Provider owns the OpenTelemetry SDK providers
type Provider struct {
	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider
	logger        core.Logger
}

type providerOptions struct {
	processors []sdktrace.SpanProcessor
	readers    []sdkmetric.Reader
	writer     io.Writer
	global     bool
	logger     core.Logger
}

// ProviderOption customizes NewProvider
type ProviderOption func(*providerOptions)

// WithSpanProcessor adds a span processor, e.g. a tracetest.SpanRecorder.
func WithSpanProcessor(sp sdktrace.SpanProcessor) ProviderOption {
	return func(o *providerOptions) {
		o.processors = append(o.processors, sp)
	}
}

// WithMetricReader adds a metric reader. Without one the meter provider
// records nothing.
func WithMetricReader(r sdkmetric.Reader) ProviderOption {
	return func(o *providerOptions) {
		o.readers = append(o.readers, r)
	}
}

// WithWriter sets the destination of the stdout exporter
func WithWriter(w io.Writer) ProviderOption {
	return func(o *providerOptions) {
		o.writer = w
	}
}

// WithoutGlobal keeps the providers out of the otel globals.
func WithoutGlobal() ProviderOption {
	return func(o *providerOptions) {
		o.global = false
	}
}

// WithProviderLogger sets the logger used for lifecycle messages
func WithProviderLogger(l core.Logger) ProviderOption {
	return func(o *providerOptions) {
		o.logger = l
	}
}

// NewProvider builds tracer and meter providers for cfg. Unless
// WithoutGlobal is given they are installed as the otel globals together
// with the W3C trace-context propagator.
func NewProvider(ctx context.Context, cfg *core.Config, opts ...ProviderOption) (*Provider, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	o := &providerOptions{global: true, writer: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = core.GetLogger()
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Telemetry.Enabled {
		exporter, err := newExporter(ctx, cfg.Telemetry, o.writer)
		if err != nil {
			return nil, fmt.Errorf("failed to create exporter: %w", err)
		}
		if exporter != nil {
			traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
		}
	}
	for _, sp := range o.processors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(sp))
	}

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range o.readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}

	p := &Provider{
		traceProvider: sdktrace.NewTracerProvider(traceOpts...),
		meterProvider: sdkmetric.NewMeterProvider(meterOpts...),
		logger:        o.logger,
	}

	if o.global {
		otel.SetTracerProvider(p.traceProvider)
		otel.SetMeterProvider(p.meterProvider)
		otel.SetTextMapPropagator(propagation.TraceContext{})
	}

	p.logger.Info("Telemetry provider initialized", map[string]interface{}{
		"service":  cfg.ServiceName,
		"exporter": exporterName(cfg.Telemetry),
		"endpoint": cfg.Telemetry.Endpoint,
		"global":   o.global,
	})
	return p, nil
}

func exporterName(cfg core.TelemetryConfig) string {
	if !cfg.Enabled {
		return core.ExporterNone
	}
	return cfg.Exporter
}

func newExporter(ctx context.Context, cfg core.TelemetryConfig, w io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case core.ExporterOTLP, "":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)
	case core.ExporterStdout:
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case core.ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: unknown exporter %q", core.ErrInvalidConfiguration, cfg.Exporter)
	}
}

// TracerProvider returns the SDK tracer provider
func (p *Provider) TracerProvider() trace.TracerProvider {
	return p.traceProvider
}

// MeterProvider returns the SDK meter provider
func (p *Provider) MeterProvider() *sdkmetric.MeterProvider {
	return p.meterProvider
}

// ForceFlush exports every span ended so far
func (p *Provider) ForceFlush(ctx context.Context) error {
	return p.traceProvider.ForceFlush(ctx)
}

// Shutdown flushes and stops both providers
func (p *Provider) Shutdown(ctx context.Context) error {
	err := errors.Join(
		p.traceProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	)
	if err != nil {
		p.logger.Error("Telemetry shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	return err
}
