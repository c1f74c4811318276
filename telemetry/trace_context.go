package telemetry

import (
	"context"
	"maps"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

// Log field names carrying span identifiers
const (
	FieldTraceID = "trace_id"
	FieldSpanID  = "span_id"
)

// TraceContext identifies a span in log lines. The zero value means no span.
type TraceContext struct {
	TraceID string // 32 hex digits
	SpanID  string // 16 hex digits
	Sampled bool
}

// Valid reports whether tc carries identifiers
func (tc TraceContext) Valid() bool {
	return tc.TraceID != ""
}

// Fields returns tc as logger fields; empty when tc is not valid.
func (tc TraceContext) Fields() map[string]interface{} {
	return tc.Merge(nil)
}

// Merge returns a copy of fields with tc's identifiers added. fields is not
// modified.
func (tc TraceContext) Merge(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields)+2)
	maps.Copy(out, fields)
	if tc.Valid() {
		out[FieldTraceID] = tc.TraceID
		out[FieldSpanID] = tc.SpanID
	}
	return out
}

func fromSpanContext(sc trace.SpanContext) TraceContext {
	if !sc.IsValid() {
		return TraceContext{}
	}
	return TraceContext{
		TraceID: sc.TraceID().String(),
		SpanID:  sc.SpanID().String(),
		Sampled: sc.IsSampled(),
	}
}

// SpanTraceContext returns the identifiers of span, which may be nil.
func SpanTraceContext(span trace.Span) TraceContext {
	if span == nil {
		return TraceContext{}
	}
	return fromSpanContext(span.SpanContext())
}

// GetTraceContext returns the identifiers of the span in ctx.
func GetTraceContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	return fromSpanContext(trace.SpanContextFromContext(ctx))
}

// LogFields merges the identifiers of the span active on st into fields.
func (t *Tracer) LogFields(st *storage.Stack, fields map[string]interface{}) map[string]interface{} {
	return t.TraceContext(st).Merge(fields)
}

// AddSpanEvent adds a named event to span if it is recording.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span != nil && span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}

// RecordSpanError records err as an exception event and sets the error
// status.
func RecordSpanError(span trace.Span, err error) {
	if span == nil || err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
