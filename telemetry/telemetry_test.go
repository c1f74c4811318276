package telemetry

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/will-bank/dd-trace-deno-sub001/channel"
	"github.com/will-bank/dd-trace-deno-sub001/core"
	"github.com/will-bank/dd-trace-deno-sub001/loop"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

func setupTestTracer(t *testing.T, opts ...ProviderOption) (*tracetest.SpanRecorder, *Provider, *Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	cfg := core.DefaultConfig()
	cfg.ServiceName = "telemetry-test"
	cfg.Telemetry.Exporter = core.ExporterNone

	opts = append([]ProviderOption{WithSpanProcessor(recorder), WithoutGlobal(), WithProviderLogger(core.NoOpLogger{})}, opts...)
	p, err := NewProvider(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	tr := NewTracer(p.TracerProvider(), core.NoOpLogger{})
	t.Cleanup(func() { _ = tr.Close() })
	return recorder, p, tr
}

func endedByName(recorder *tracetest.SpanRecorder) map[string]sdktrace.ReadOnlySpan {
	out := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		out[s.Name()] = s
	}
	return out
}

func TestTracer_NestedSyncOperations(t *testing.T) {
	recorder, _, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.nested")
	defer tr.Trace(tc, trace.SpanKindClient)()
	st := storage.NewStack()

	var innerActive trace.Span
	_, err := tc.TraceSync(st, &channel.Event{Name: "outer", Data: map[string]any{"db.system": "redis"}}, func() (any, error) {
		return tc.TraceSync(st, &channel.Event{Name: "inner"}, func() (any, error) {
			innerActive, _ = tr.ActiveSpan(st)
			return nil, nil
		})
	})
	require.NoError(t, err)

	spans := endedByName(recorder)
	require.Len(t, spans, 2)
	outer, inner := spans["outer"], spans["inner"]
	assert.Equal(t, outer.SpanContext().SpanID(), inner.Parent().SpanID())
	assert.Equal(t, outer.SpanContext().TraceID(), inner.SpanContext().TraceID())
	assert.Equal(t, inner.SpanContext().SpanID(), innerActive.SpanContext().SpanID())
	assert.Equal(t, trace.SpanKindClient, outer.SpanKind())
	assert.Contains(t, outer.Attributes(), attributeOf("db.system", "redis"))

	_, ok := tr.ActiveSpan(st)
	assert.False(t, ok, "no span is active once the operation returned")
}

func TestTracer_ErrorMarksSpan(t *testing.T) {
	recorder, _, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.error")
	defer tr.Trace(tc, trace.SpanKindInternal)()

	boom := errors.New("connection refused")
	_, err := tc.TraceSync(storage.NewStack(), &channel.Event{Name: "connect"}, func() (any, error) {
		return nil, boom
	})
	assert.Same(t, boom, err)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "connection refused", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "exception", ended[0].Events()[0].Name)
}

func TestTracer_PromiseSpanEndsOnSettlement(t *testing.T) {
	recorder, _, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.promise")
	defer tr.Trace(tc, trace.SpanKindClient)()

	l := loop.New(loop.WithLogger(core.NoOpLogger{}))
	st := l.Stack()
	var endedAtReturn int
	var deferredParent trace.Span

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Run(ctx, func() {
		tc.TracePromise(st, &channel.Event{Name: "fetch"}, func() *loop.Promise {
			p := l.NewPromise()
			l.After(time.Millisecond, func() {
				deferredParent, _ = tr.ActiveSpan(st)
				p.Resolve("body")
			})
			return p
		})
		endedAtReturn = len(recorder.Ended())
	}))

	assert.Equal(t, 0, endedAtReturn, "span stays open until the promise settles")
	spans := endedByName(recorder)
	require.Contains(t, spans, "fetch")
	require.NotNil(t, deferredParent)
	assert.Equal(t, spans["fetch"].SpanContext().SpanID(), deferredParent.SpanContext().SpanID(),
		"work scheduled inside the operation sees its span")

	events := spans["fetch"].Events()
	require.Len(t, events, 1)
	assert.Equal(t, EventSettled, events[0].Name)
}

func TestTracer_NilPromiseEndsSpan(t *testing.T) {
	recorder, _, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.nilpromise")
	defer tr.Trace(tc, trace.SpanKindClient)()
	st := storage.NewStack()

	out := tc.TracePromise(st, &channel.Event{Name: "skipped"}, func() *loop.Promise { return nil })
	assert.Nil(t, out)

	spans := endedByName(recorder)
	require.Contains(t, spans, "skipped", "a nil promise ends the span with the call")
	assert.Equal(t, 0, st.Depth())
}

func TestTracer_SpanFollowsGoroutines(t *testing.T) {
	recorder, _, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.goroutine")
	defer tr.Trace(tc, trace.SpanKindServer)()
	st := storage.NewStack()

	var wg sync.WaitGroup
	_, err := tc.TraceSync(st, &channel.Event{Name: "request"}, func() (any, error) {
		wg.Add(1)
		storage.Go(st, func(child *storage.Stack) {
			defer wg.Done()
			_, _ = tc.TraceSync(child, &channel.Event{Name: "background"}, func() (any, error) {
				return nil, nil
			})
		})
		wg.Wait()
		return nil, nil
	})
	require.NoError(t, err)

	spans := endedByName(recorder)
	require.Len(t, spans, 2)
	assert.Equal(t, spans["request"].SpanContext().SpanID(), spans["background"].Parent().SpanID())
}

func TestTracer_ParentFromEventContext(t *testing.T) {
	recorder, p, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.ctx")
	defer tr.Trace(tc, trace.SpanKindClient)()

	ctx, remote := p.TracerProvider().Tracer("test").Start(context.Background(), "incoming")
	_, err := tc.TraceSync(storage.NewStack(), &channel.Event{Name: "child", Ctx: ctx}, func() (any, error) {
		return nil, nil
	})
	require.NoError(t, err)
	remote.End()

	spans := endedByName(recorder)
	assert.Equal(t, remote.SpanContext().SpanID(), spans["child"].Parent().SpanID())
}

func TestTracer_UnsubscribeStopsTracing(t *testing.T) {
	recorder, _, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.unsub")
	unsubscribe := tr.Trace(tc, trace.SpanKindClient)
	assert.True(t, tc.HasSubscribers())
	unsubscribe()
	assert.False(t, tc.HasSubscribers())

	_, err := tc.TraceSync(storage.NewStack(), &channel.Event{Name: "untraced"}, func() (any, error) { return nil, nil })
	require.NoError(t, err)
	assert.Empty(t, recorder.Ended())
}

func TestTraceContext(t *testing.T) {
	_, _, tr := setupTestTracer(t)
	tc := channel.NewTracingChannel("telemetry.test.tracecontext")
	defer tr.Trace(tc, trace.SpanKindInternal)()
	st := storage.NewStack()

	assert.False(t, tr.TraceContext(st).Valid())
	assert.Empty(t, tr.TraceContext(st).Fields())
	assert.False(t, GetTraceContext(context.Background()).Valid())

	var got TraceContext
	var fromCtx TraceContext
	_, _ = tc.TraceSync(st, &channel.Event{Name: "op"}, func() (any, error) {
		got = tr.TraceContext(st)
		fromCtx = GetTraceContext(tr.ContextWithActiveSpan(context.Background(), st))
		return nil, nil
	})

	require.True(t, got.Valid())
	assert.Len(t, got.TraceID, 32)
	assert.Len(t, got.SpanID, 16)
	assert.True(t, got.Sampled)
	assert.Equal(t, got, fromCtx)
	assert.Equal(t, got.TraceID, got.Fields()[FieldTraceID])

	fields := map[string]interface{}{"hook": "go-redis"}
	merged := got.Merge(fields)
	assert.Equal(t, got.SpanID, merged[FieldSpanID])
	assert.Equal(t, "go-redis", merged["hook"])
	assert.Len(t, fields, 1, "the input map is left alone")
	assert.Equal(t, fields, tr.LogFields(st, fields), "no span is active after the operation")
}

func TestNewProvider_Exporters(t *testing.T) {
	t.Run("stdout", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := core.DefaultConfig()
		cfg.Telemetry.Exporter = core.ExporterStdout

		p, err := NewProvider(context.Background(), cfg, WithWriter(&buf), WithoutGlobal(), WithProviderLogger(core.NoOpLogger{}))
		require.NoError(t, err)

		_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "exported-span")
		span.End()
		require.NoError(t, p.Shutdown(context.Background()))
		assert.Contains(t, buf.String(), "exported-span")
	})

	t.Run("unknown", func(t *testing.T) {
		cfg := core.DefaultConfig()
		cfg.Telemetry.Exporter = "carrier-pigeon"
		_, err := NewProvider(context.Background(), cfg, WithoutGlobal(), WithProviderLogger(core.NoOpLogger{}))
		require.Error(t, err)
		assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
	})

	t.Run("disabled", func(t *testing.T) {
		cfg := core.DefaultConfig()
		cfg.Telemetry.Enabled = false
		cfg.Telemetry.Exporter = "ignored-when-disabled"
		p, err := NewProvider(context.Background(), cfg, WithoutGlobal(), WithProviderLogger(core.NoOpLogger{}))
		require.NoError(t, err)
		assert.NoError(t, p.Shutdown(context.Background()))
	})
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestMetricsRegistry(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	_, p, _ := setupTestTracer(t, WithMetricReader(reader))

	registry := NewMetricsRegistry(NewMetricInstrumentsFor(p.MeterProvider(), "test"), core.NoOpLogger{}, true)
	registry.Counter(core.MetricShimWraps, "form", "method")
	registry.Counter(core.MetricShimWraps, "form", "method")
	registry.Counter(core.MetricHookFailures, "hook", "redis", "dangling")
	registry.EmitWithContext(nil, "instrumentation.test.latency", 12.5)

	data := collect(t, reader)

	wraps, ok := data[core.MetricShimWraps].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, wraps.DataPoints, 1)
	assert.Equal(t, int64(2), wraps.DataPoints[0].Value)

	failures, ok := data[core.MetricHookFailures].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, failures.DataPoints, 1)
	assert.Equal(t, 1, failures.DataPoints[0].Attributes.Len(), "a key without value is dropped")

	hist, ok := data["instrumentation.test.latency"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
}

func TestEnableFrameworkIntegration(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	_, p, _ := setupTestTracer(t, WithMetricReader(reader))

	previous := core.GetMetricsRegistry()
	defer core.SetMetricsRegistry(previous)

	registry := EnableFrameworkIntegration(p, core.NoOpLogger{})
	assert.Same(t, registry, core.GetMetricsRegistry())

	core.Counter(core.MetricTaskPanics, "kind", "timer")
	data := collect(t, reader)
	assert.Contains(t, data, core.MetricTaskPanics)
}

func TestTracer_SpanMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	_, p, _ := setupTestTracer(t, WithMetricReader(reader))
	tr := NewTracer(p.TracerProvider(), core.NoOpLogger{},
		WithSpanMetrics(NewMetricInstrumentsFor(p.MeterProvider(), "spans")))
	defer tr.Close()

	tc := channel.NewTracingChannel("telemetry.test.metrics")
	defer tr.Trace(tc, trace.SpanKindInternal)()
	_, _ = tc.TraceSync(storage.NewStack(), &channel.Event{Name: "op"}, func() (any, error) { return nil, nil })
	_, _ = tc.TraceSync(storage.NewStack(), &channel.Event{Name: "op"}, func() (any, error) {
		return nil, errors.New("boom")
	})

	data := collect(t, reader)
	assert.Contains(t, data, MetricSpanErrors)
	assert.Contains(t, data, MetricSpansStarted)
	assert.Contains(t, data, MetricSpansFinished)
	assert.Contains(t, data, MetricSpanDuration)

	active, ok := data[MetricActiveSpans].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, active.DataPoints, 1)
	assert.Equal(t, int64(0), active.DataPoints[0].Value)
}
