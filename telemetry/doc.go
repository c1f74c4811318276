/*
Package telemetry turns tracing-channel events into OpenTelemetry spans and
routes the core's counters to OpenTelemetry metrics.

Architecture Overview:

 1. Provider - owns the tracer and meter providers and the span exporter
    (OTLP over gRPC, stdout, or none) selected by core.TelemetryConfig.
 2. Tracer - subscribes to channel.TracingChannel events. The active span is
    kept in a storage.Storage, so it follows the logical thread of execution
    across loop tasks and goroutines without being passed around.
 3. MetricsRegistry - implements core.MetricsRegistry on top of cached
    OpenTelemetry instruments.

Usage:

	cfg, _ := core.NewConfig()
	p, err := telemetry.NewProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Shutdown(context.Background())

	tr := telemetry.NewTracer(p.TracerProvider(), core.GetLogger())
	defer tr.Trace(channel.NewTracingChannel("redis.command"), trace.SpanKindClient)()

Thread Safety:

Provider, Tracer and MetricsRegistry are safe for concurrent use. The stacks
passed to them are not; see package storage.
*/
package telemetry
