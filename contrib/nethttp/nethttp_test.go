package nethttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/will-bank/dd-trace-deno-sub001/channel"
	"github.com/will-bank/dd-trace-deno-sub001/core"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
	"github.com/will-bank/dd-trace-deno-sub001/telemetry"
)

func setupTracing(t *testing.T) (*tracetest.SpanRecorder, trace.TracerProvider, *telemetry.Tracer) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	tr := telemetry.NewTracer(tp, core.NoOpLogger{})
	t.Cleanup(func() { _ = tr.Close() })
	t.Cleanup(tr.Trace(channel.NewTracingChannel(ChannelRequest), trace.SpanKindServer))
	t.Cleanup(tr.Trace(channel.NewTracingChannel(ChannelClient), trace.SpanKindClient))
	return recorder, tp, tr
}

func spansByName(recorder *tracetest.SpanRecorder) map[string]sdktrace.ReadOnlySpan {
	out := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range recorder.Ended() {
		out[s.Name()] = s
	}
	return out
}

func TestHandler_RequestRunsOnItsOwnStack(t *testing.T) {
	recorder, tp, tr := setupTracing(t)

	var (
		gotID     string
		hasStack  bool
		active    trace.Span
		hasActive bool
	)
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		st, ok := storage.StackFromContext(r.Context())
		hasStack = ok
		if ok {
			gotID, _ = RequestID(st)
			active, hasActive = tr.ActiveSpan(st)
		}
		_, _ = io.WriteString(w, "ok")
	})

	srv := httptest.NewServer(Handler(mux, "api", WithTracerProvider(tp)))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/users")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, hasStack)
	assert.NotEmpty(t, gotID)
	assert.Equal(t, gotID, resp.Header.Get(RequestIDHeader))

	spans := spansByName(recorder)
	require.Contains(t, spans, "api")
	require.Contains(t, spans, "http.request")
	assert.Equal(t, spans["api"].SpanContext().SpanID(), spans["http.request"].Parent().SpanID())
	require.True(t, hasActive)
	assert.Equal(t, spans["http.request"].SpanContext().SpanID(), active.SpanContext().SpanID())
}

func TestHandler_KeepsIncomingRequestID(t *testing.T) {
	setupTracing(t)
	srv := httptest.NewServer(Handler(http.NotFoundHandler(), "api"))
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
}

func TestHandler_ServerErrorMarksSpan(t *testing.T) {
	recorder, tp, _ := setupTracing(t)
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	srv := httptest.NewServer(Handler(failing, "api", WithTracerProvider(tp)))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	spans := spansByName(recorder)
	require.Contains(t, spans, "http.request")
	assert.Equal(t, "Error", spans["http.request"].Status().Code.String())
	assert.Contains(t, spans["http.request"].Status().Description, "502")
}

func TestTransport_PropagatesTraceAndRequestID(t *testing.T) {
	recorder, tp, _ := setupTracing(t)
	propagators := WithPropagators(propagation.TraceContext{})

	var downstreamID string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downstreamID = r.Header.Get(RequestIDHeader)
	}))
	defer downstream.Close()

	client := &http.Client{Transport: NewTransport(nil, WithTracerProvider(tp), propagators)}
	upstream := httptest.NewServer(Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, _ := http.NewRequestWithContext(r.Context(), http.MethodGet, downstream.URL, nil)
		resp, err := client.Do(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		resp.Body.Close()
	}), "upstream", WithTracerProvider(tp), propagators))
	defer upstream.Close()

	req, _ := http.NewRequest(http.MethodGet, upstream.URL, nil)
	req.Header.Set(RequestIDHeader, "chain-1")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "chain-1", downstreamID)

	spans := spansByName(recorder)
	require.Contains(t, spans, "http.client")
	require.Contains(t, spans, "http.request")
	assert.Equal(t, spans["http.request"].SpanContext().SpanID(), spans["http.client"].Parent().SpanID(),
		"the client call nests under the request running on the same stack")
	assert.Equal(t, spans["upstream"].SpanContext().TraceID(), spans["http.client"].SpanContext().TraceID())
}

func TestTransport_ConcurrentRequestsShareOneContext(t *testing.T) {
	recorder, tp, tr := setupTracing(t)
	outer := channel.NewTracingChannel("nethttp.test.fanout")
	t.Cleanup(tr.Trace(outer, trace.SpanKindInternal))

	var (
		mu  sync.Mutex
		ids []string
	)
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get(RequestIDHeader))
		mu.Unlock()
	}))
	defer downstream.Close()

	client := &http.Client{Transport: NewTransport(nil, WithTracerProvider(tp))}
	st := storage.NewStack()
	ctx := storage.WithStack(context.Background(), st)

	const workers = 20
	_ = requestIDs.Run(st, "fanout-1", func() error {
		_, err := outer.TraceSync(st, &channel.Event{Name: "fanout"}, func() (any, error) {
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					req, _ := http.NewRequestWithContext(ctx, http.MethodGet, downstream.URL, nil)
					resp, err := client.Do(req)
					if assert.NoError(t, err) {
						resp.Body.Close()
					}
				}()
			}
			wg.Wait()
			return nil, nil
		})
		return err
	})

	assert.Equal(t, 0, st.Depth(), "no frame leaks onto the shared stack")
	require.Len(t, ids, workers)
	for _, id := range ids {
		assert.Equal(t, "fanout-1", id)
	}

	var fanout sdktrace.ReadOnlySpan
	var clients []sdktrace.ReadOnlySpan
	for _, s := range recorder.Ended() {
		switch s.Name() {
		case "fanout":
			fanout = s
		case "http.client":
			clients = append(clients, s)
		}
	}
	require.NotNil(t, fanout)
	require.Len(t, clients, workers)
	for _, c := range clients {
		assert.Equal(t, fanout.SpanContext().SpanID(), c.Parent().SpanID(),
			"every call nests under the operation, never under a sibling")
	}
}
