package core

import "context"

// Logger interface - simple logging abstraction shared by every package.
// Fields are free-form key/value pairs; keep them low-cardinality.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// MetricsRegistry is implemented by the telemetry package and registered via
// SetMetricsRegistry. Core packages emit through it without importing telemetry.
type MetricsRegistry interface {
	Counter(name string, labels ...string)
	EmitWithContext(ctx context.Context, name string, value float64, labels ...string)
}

// NoOpLogger discards everything
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}
