package core

import (
	"context"
	"sync/atomic"
)

var (
	// globalLogger holds the Logger used by shimmer, loop and instrument.
	// atomic.Value keeps the read path lock-free.
	globalLogger atomic.Value // loggerHolder

	// globalMetrics is set by telemetry once it is initialized.
	globalMetrics atomic.Value // metricsHolder
)

// atomic.Value requires a consistent concrete type
type loggerHolder struct{ Logger }
type metricsHolder struct{ MetricsRegistry }

// SetLogger replaces the process-wide logger. Passing nil restores the
// environment-configured ProductionLogger.
func SetLogger(l Logger) {
	if l == nil {
		l = NewProductionLogger(LoggingConfig{}, "", "")
	}
	globalLogger.Store(loggerHolder{l})
}

// GetLogger returns the process-wide logger, creating the default one lazily.
func GetLogger() Logger {
	if h, ok := globalLogger.Load().(loggerHolder); ok {
		return h.Logger
	}
	l := NewProductionLogger(LoggingConfig{}, "", "")
	globalLogger.CompareAndSwap(nil, loggerHolder{l})
	return globalLogger.Load().(loggerHolder).Logger
}

// SetMetricsRegistry registers the metrics sink. nil disables emission.
func SetMetricsRegistry(r MetricsRegistry) {
	globalMetrics.Store(metricsHolder{r})
}

// GetMetricsRegistry returns the registered sink or nil
func GetMetricsRegistry() MetricsRegistry {
	if h, ok := globalMetrics.Load().(metricsHolder); ok {
		return h.MetricsRegistry
	}
	return nil
}

// Counter emits a counter through the registered MetricsRegistry, if any.
func Counter(name string, labels ...string) {
	if r := GetMetricsRegistry(); r != nil {
		r.Counter(name, labels...)
	}
}

// Emit records a value through the registered MetricsRegistry, if any.
func Emit(ctx context.Context, name string, value float64, labels ...string) {
	if r := GetMetricsRegistry(); r != nil {
		r.EmitWithContext(ctx, name, value, labels...)
	}
}
