package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/will-bank/dd-trace-deno-sub001/channel"
	"github.com/will-bank/dd-trace-deno-sub001/core"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

// Tracer turns tracing-channel events into spans. The span of the operation
// in progress is bound in a storage while start runs, so nested operations
// and the async work they schedule find it as their parent.
type Tracer struct {
	tracer  trace.Tracer
	spans   *storage.Storage[trace.Span]
	metrics *MetricInstruments
	logger  core.Logger
}

// TracerOption customizes NewTracer
type TracerOption func(*Tracer)

// WithSpanMetrics records span counts and durations on m
func WithSpanMetrics(m *MetricInstruments) TracerOption {
	return func(t *Tracer) {
		t.metrics = m
	}
}

// NewTracer creates a Tracer on tp.
func NewTracer(tp trace.TracerProvider, logger core.Logger, opts ...TracerOption) *Tracer {
	if logger == nil {
		logger = core.GetLogger()
	}
	t := &Tracer{
		tracer: tp.Tracer(InstrumentationName),
		spans:  storage.New[trace.Span]("telemetry.span"),
		logger: logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EventSettled is added to a promise span when its continuation starts
const EventSettled = "settled"

// spanState is what Tracer keeps in channel.Event.Span
type spanState struct {
	span     trace.Span
	start    time.Time
	finished bool
}

// SpanOf returns the span a Tracer started for ev, if any.
func SpanOf(ev *channel.Event) (trace.Span, bool) {
	if ev == nil {
		return nil, false
	}
	s, ok := ev.Span.(*spanState)
	if !ok {
		return nil, false
	}
	return s.span, true
}

// Spans returns the storage holding the active span
func (t *Tracer) Spans() *storage.Storage[trace.Span] {
	return t.spans
}

// ActiveSpan returns the span active on st
func (t *Tracer) ActiveSpan(st *storage.Stack) (trace.Span, bool) {
	return t.spans.GetStore(st)
}

// ContextWithActiveSpan returns ctx carrying the span active on st, or ctx
// itself when there is none.
func (t *Tracer) ContextWithActiveSpan(ctx context.Context, st *storage.Stack) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if span, ok := t.spans.GetStore(st); ok {
		return trace.ContextWithSpan(ctx, span)
	}
	return ctx
}

// TraceContext returns the identifiers of the span active on st
func (t *Tracer) TraceContext(st *storage.Stack) TraceContext {
	span, _ := t.spans.GetStore(st)
	return SpanTraceContext(span)
}

// Trace subscribes to tc and returns a function that undoes it. Every
// operation traced on tc produces one span of the given kind named after
// the event.
func (t *Tracer) Trace(tc *channel.TracingChannel, kind trace.SpanKind) (unsubscribe func()) {
	channel.BindStore(tc.Start, t.spans, func(msg any) trace.Span {
		return t.start(msg, kind)
	})
	unsub := tc.Subscribe(channel.Handlers{
		End: func(msg any, _ string) {
			if ev, ok := msg.(*channel.Event); ok && !ev.Async {
				t.finish(ev)
			}
		},
		AsyncStart: func(msg any, _ string) {
			if ev, ok := msg.(*channel.Event); ok {
				if span, ok := SpanOf(ev); ok {
					AddSpanEvent(span, EventSettled, attribute.Bool("error", ev.Err != nil))
				}
			}
		},
		AsyncEnd: func(msg any, _ string) {
			if ev, ok := msg.(*channel.Event); ok {
				t.finish(ev)
			}
		},
		Error: func(msg any, _ string) {
			ev, ok := msg.(*channel.Event)
			if !ok {
				return
			}
			span, ok := SpanOf(ev)
			if !ok {
				return
			}
			RecordSpanError(span, ev.Err)
			t.logger.Debug("Traced operation failed", SpanTraceContext(span).Merge(map[string]interface{}{
				"operation": ev.Name,
				"error":     fmt.Sprint(ev.Err),
			}))
		},
	})

	return func() {
		unsub()
		channel.UnbindStore(tc.Start, t.spans)
	}
}

// Close disposes the span storage. Spans bound earlier become invisible.
func (t *Tracer) Close() error {
	return t.spans.Close()
}

func (t *Tracer) start(msg any, kind trace.SpanKind) trace.Span {
	ev, ok := msg.(*channel.Event)
	if !ok {
		t.logger.Warn("Unexpected message on tracing channel", map[string]interface{}{
			"type": fmt.Sprintf("%T", msg),
		})
		return trace.SpanFromContext(context.Background())
	}

	ctx := ev.Context()
	if ev.Stack != nil {
		ctx = t.ContextWithActiveSpan(ctx, ev.Stack)
	}
	_, span := t.tracer.Start(ctx, ev.Name,
		trace.WithSpanKind(kind),
		trace.WithAttributes(eventAttributes(ev.Data)...),
	)
	ev.Span = &spanState{span: span, start: time.Now()}

	if t.metrics != nil {
		ctx := context.Background()
		opt := metric.WithAttributes(attribute.String("span.name", ev.Name))
		_ = t.metrics.RecordCounter(ctx, MetricSpansStarted, 1, opt)
		_ = t.metrics.RecordUpDownCounter(ctx, MetricActiveSpans, 1, opt)
	}
	return span
}

func (t *Tracer) finish(ev *channel.Event) {
	s, ok := ev.Span.(*spanState)
	if !ok || s.finished {
		return
	}
	s.finished = true
	s.span.End()

	if t.metrics != nil {
		ctx := context.Background()
		status := "ok"
		if ev.Err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("span.name", ev.Name),
			attribute.String("status", status),
		)
		_ = t.metrics.RecordCounter(ctx, MetricSpansFinished, 1, attrs)
		if ev.Err != nil {
			_ = t.metrics.RecordError(ctx, MetricSpanErrors, fmt.Sprintf("%T", ev.Err))
		}
		_ = t.metrics.RecordUpDownCounter(ctx, MetricActiveSpans, -1,
			metric.WithAttributes(attribute.String("span.name", ev.Name)))
		_ = t.metrics.RecordDuration(ctx, MetricSpanDuration,
			float64(time.Since(s.start).Microseconds())/1000, metric.WithAttributes(attribute.String("span.name", ev.Name)))
	}
}

// eventAttributes converts event data to span attributes
func eventAttributes(data map[string]any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(data))
	for k, v := range data {
		attrs = append(attrs, attributeOf(k, v))
	}
	return attrs
}

func attributeOf(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
