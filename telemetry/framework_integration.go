package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"

	"github.com/will-bank/dd-trace-deno-sub001/core"
)

// MetricsRegistry implements core.MetricsRegistry so that shimmer, storage,
// loop and instrument emit through OpenTelemetry without importing it.
type MetricsRegistry struct {
	instruments *MetricInstruments
	logger      core.Logger
	debug       bool
}

// NewMetricsRegistry creates a registry recording on instruments
func NewMetricsRegistry(instruments *MetricInstruments, logger core.Logger, debug bool) *MetricsRegistry {
	if logger == nil {
		logger = core.NoOpLogger{}
	}
	return &MetricsRegistry{
		instruments: instruments,
		logger:      logger,
		debug:       debug,
	}
}

// Counter implements core.MetricsRegistry
func (r *MetricsRegistry) Counter(name string, labels ...string) {
	if r.debug {
		r.logger.Debug("Core metric emission", map[string]interface{}{
			"metric_name": name,
			"type":        "counter",
			"label_count": len(labels) / 2,
		})
	}
	err := r.instruments.RecordCounter(context.Background(), name, 1,
		metric.WithAttributes(labelAttributes(labels)...))
	if err != nil {
		r.logger.Warn("Failed to record counter", map[string]interface{}{
			"metric_name": name,
			"error":       err.Error(),
		})
	}
}

// EmitWithContext implements core.MetricsRegistry
func (r *MetricsRegistry) EmitWithContext(ctx context.Context, name string, value float64, labels ...string) {
	if ctx == nil {
		ctx = context.Background()
	}
	err := r.instruments.RecordHistogram(ctx, name, value,
		metric.WithAttributes(labelAttributes(labels)...))
	if err != nil {
		r.logger.Warn("Failed to record metric", map[string]interface{}{
			"metric_name": name,
			"error":       err.Error(),
		})
	}
}

// EnableFrameworkIntegration registers a MetricsRegistry built on p's meter
// provider with core. Call it once after NewProvider.
func EnableFrameworkIntegration(p *Provider, logger core.Logger) *MetricsRegistry {
	if logger == nil {
		logger = core.GetLogger()
	}
	registry := NewMetricsRegistry(
		NewMetricInstrumentsFor(p.MeterProvider(), InstrumentationName),
		logger,
		false,
	)
	core.SetMetricsRegistry(registry)

	logger.Info("Framework integration enabled", map[string]interface{}{
		"meter": InstrumentationName,
	})
	return registry
}
