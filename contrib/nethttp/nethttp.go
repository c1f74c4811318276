// Package nethttp instruments net/http servers and clients.
//
// Every incoming request becomes a logical thread of its own: the
// middleware creates a storage.Stack for it, carries the stack in the
// request context and runs the handler as a traced operation on the
// "net/http.request" channel. OpenTelemetry HTTP semantics and W3C
// propagation are delegated to otelhttp.
package nethttp

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/will-bank/dd-trace-deno-sub001/channel"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

// Tracing channel names
const (
	ChannelRequest = "net/http.request"
	ChannelClient  = "net/http.client"
)

// RequestIDHeader is set on every response and read from incoming requests
const RequestIDHeader = "X-Request-ID"

var requestIDs = storage.New[string]("nethttp.request_id")

type options struct {
	otel []otelhttp.Option
}

// Option configures Handler and NewTransport
type Option func(*options)

// WithTracerProvider sets the tracer provider handed to otelhttp
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		o.otel = append(o.otel, otelhttp.WithTracerProvider(tp))
	}
}

// WithPropagators sets the propagators handed to otelhttp
func WithPropagators(p propagation.TextMapPropagator) Option {
	return func(o *options) {
		o.otel = append(o.otel, otelhttp.WithPropagators(p))
	}
}

func newOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// statusError reports a 5xx response as a failed operation
type statusError int

func (e statusError) Error() string {
	return fmt.Sprintf("http status %d", int(e))
}

// Handler wraps next. operation names the otelhttp server span.
func Handler(next http.Handler, operation string, opts ...Option) http.Handler {
	o := newOptions(opts)
	tc := channel.NewTracingChannel(ChannelRequest)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)

		st := storage.NewStack()
		ctx := storage.WithStack(r.Context(), st)
		r = r.WithContext(ctx)
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		ev := &channel.Event{
			Name: "http.request",
			Ctx:  ctx,
			Data: map[string]any{
				"http.method": r.Method,
				"http.target": r.URL.Path,
				"request.id":  id,
			},
		}
		_ = requestIDs.Run(st, id, func() error {
			_, err := tc.TraceSync(st, ev, func() (any, error) {
				next.ServeHTTP(rw, r)
				if rw.status >= http.StatusInternalServerError {
					return rw.status, statusError(rw.status)
				}
				return rw.status, nil
			})
			return err
		})
	})

	return otelhttp.NewHandler(inner, operation, o.otel...)
}

// RequestID returns the id of the request whose handler runs on st
func RequestID(st *storage.Stack) (string, bool) {
	return requestIDs.GetStore(st)
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Transport publishes outgoing requests on the "net/http.client" channel
// and propagates trace context through otelhttp.
type Transport struct {
	base http.RoundTripper
	tc   *channel.TracingChannel
}

// NewTransport wraps base, or http.DefaultTransport when nil.
func NewTransport(base http.RoundTripper, opts ...Option) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	o := newOptions(opts)
	return &Transport{
		base: otelhttp.NewTransport(base, o.otel...),
		tc:   channel.NewTracingChannel(ChannelClient),
	}
}

// RoundTrip implements http.RoundTripper. It is safe for concurrent use,
// including by requests sharing one context.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// requests may be sent concurrently under one context; each gets a
	// private stack seeded with the frame current in the caller's
	var st *storage.Stack
	if parent, ok := storage.StackFromContext(req.Context()); ok {
		st = storage.Fork(parent)
	} else {
		st = storage.NewStack()
	}
	data := map[string]any{
		"http.method": req.Method,
		"http.url":    req.URL.String(),
	}
	if id, ok := RequestID(st); ok {
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, id)
		data["request.id"] = id
	}

	finish := t.tc.Begin(st, &channel.Event{Name: "http.client", Ctx: req.Context(), Data: data})
	resp, err := t.base.RoundTrip(req)
	switch {
	case err != nil:
		finish(nil, err)
	case resp.StatusCode >= http.StatusInternalServerError:
		finish(resp.StatusCode, statusError(resp.StatusCode))
	default:
		finish(resp.StatusCode, nil)
	}
	return resp, err
}
