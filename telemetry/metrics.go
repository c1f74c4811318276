package telemetry

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Span metric names recorded by Tracer
const (
	MetricSpansStarted  = "instrumentation.spans.started"
	MetricSpansFinished = "instrumentation.spans.finished"
	MetricSpanDuration  = "instrumentation.spans.duration_ms"
	MetricActiveSpans   = "instrumentation.spans.active"
	MetricSpanErrors    = "instrumentation.spans.errors"
)

// MetricInstruments holds cached metric instruments for efficient recording
type MetricInstruments struct {
	meter metric.Meter

	mu             sync.RWMutex
	counters       map[string]metric.Int64Counter
	upDownCounters map[string]metric.Int64UpDownCounter
	histograms     map[string]metric.Float64Histogram
}

// NewMetricInstrumentsFor creates an instrument cache on mp.
func NewMetricInstrumentsFor(mp metric.MeterProvider, meterName string) *MetricInstruments {
	return &MetricInstruments{
		meter:          mp.Meter(meterName),
		counters:       make(map[string]metric.Int64Counter),
		upDownCounters: make(map[string]metric.Int64UpDownCounter),
		histograms:     make(map[string]metric.Float64Histogram),
	}
}

// cached returns cache[name], creating it with create under the write lock
// on first use.
func cached[T any](m *MetricInstruments, cache map[string]T, name, kind string, create func(string) (T, error)) (T, error) {
	m.mu.RLock()
	inst, ok := cache[name]
	m.mu.RUnlock()
	if ok {
		return inst, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Double-check after acquiring write lock
	if inst, ok = cache[name]; ok {
		return inst, nil
	}
	inst, err := create(name)
	if err != nil {
		return inst, fmt.Errorf("failed to create %s %s: %w", kind, name, err)
	}
	cache[name] = inst
	return inst, nil
}

// RecordCounter increments a counter metric
func (m *MetricInstruments) RecordCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	c, err := cached(m, m.counters, name, "counter", func(n string) (metric.Int64Counter, error) {
		return m.meter.Int64Counter(n)
	})
	if err != nil {
		return err
	}
	c.Add(ctx, value, opts...)
	return nil
}

// RecordUpDownCounter records a value that can go up or down (like active spans)
func (m *MetricInstruments) RecordUpDownCounter(ctx context.Context, name string, value int64, opts ...metric.AddOption) error {
	c, err := cached(m, m.upDownCounters, name, "up-down counter", func(n string) (metric.Int64UpDownCounter, error) {
		return m.meter.Int64UpDownCounter(n)
	})
	if err != nil {
		return err
	}
	c.Add(ctx, value, opts...)
	return nil
}

// RecordHistogram records a value distribution (like latencies)
func (m *MetricInstruments) RecordHistogram(ctx context.Context, name string, value float64, opts ...metric.RecordOption) error {
	h, err := cached(m, m.histograms, name, "histogram", func(n string) (metric.Float64Histogram, error) {
		return m.meter.Float64Histogram(n)
	})
	if err != nil {
		return err
	}
	h.Record(ctx, value, opts...)
	return nil
}

// RecordDuration records a duration in milliseconds as a histogram
func (m *MetricInstruments) RecordDuration(ctx context.Context, name string, milliseconds float64, opts ...metric.RecordOption) error {
	return m.RecordHistogram(ctx, name, milliseconds, opts...)
}

// RecordError increments an error counter labelled with errorType
func (m *MetricInstruments) RecordError(ctx context.Context, name string, errorType string) error {
	return m.RecordCounter(ctx, name, 1,
		metric.WithAttributes(attribute.String("error.type", errorType)))
}

// labelAttributes converts "k1", "v1", "k2", "v2" pairs. A trailing key
// without value is dropped.
func labelAttributes(labels []string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)/2)
	for i := 0; i+1 < len(labels); i += 2 {
		attrs = append(attrs, attribute.String(labels[i], labels[i+1]))
	}
	return attrs
}
