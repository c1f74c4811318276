package channel

import (
	"context"
	"sync"

	"github.com/will-bank/dd-trace-deno-sub001/loop"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

// Event is the message published on every sub-channel of a TracingChannel.
// Subscribers may keep state on it between start and end; Result and Err
// are filled in as the traced operation completes.
type Event struct {
	Name   string
	Data   map[string]any
	Result any
	Err    error

	// Ctx is the caller's context, if the traced operation has one.
	Ctx context.Context
	// Stack is the stack the operation runs on. Trace* fill it in.
	Stack *storage.Stack
	// Async is set by TracePromise: the operation completes on asyncEnd,
	// not on end.
	Async bool

	// Span is free for the subscriber that turns events into spans.
	Span any
}

// Context returns ev.Ctx or context.Background()
func (ev *Event) Context() context.Context {
	if ev.Ctx != nil {
		return ev.Ctx
	}
	return context.Background()
}

// Handlers groups the subscribers of a TracingChannel. Nil handlers are
// skipped.
type Handlers struct {
	Start      Subscriber
	End        Subscriber
	AsyncStart Subscriber
	AsyncEnd   Subscriber
	Error      Subscriber
}

// TracingChannel is the set of channels "tracing:<name>:start", ":end",
// ":asyncStart", ":asyncEnd" and ":error" describing one traced operation.
type TracingChannel struct {
	Start      *Channel
	End        *Channel
	AsyncStart *Channel
	AsyncEnd   *Channel
	Error      *Channel
}

// NewTracingChannel returns the tracing channels for name
func NewTracingChannel(name string) *TracingChannel {
	prefix := "tracing:" + name + ":"
	return &TracingChannel{
		Start:      Get(prefix + "start"),
		End:        Get(prefix + "end"),
		AsyncStart: Get(prefix + "asyncStart"),
		AsyncEnd:   Get(prefix + "asyncEnd"),
		Error:      Get(prefix + "error"),
	}
}

// Subscribe registers h on the matching sub-channels and returns a function
// removing all of them.
func (tc *TracingChannel) Subscribe(h Handlers) (unsubscribe func()) {
	var undo []func()
	add := func(c *Channel, fn Subscriber) {
		if fn != nil {
			undo = append(undo, c.Subscribe(fn))
		}
	}
	add(tc.Start, h.Start)
	add(tc.End, h.End)
	add(tc.AsyncStart, h.AsyncStart)
	add(tc.AsyncEnd, h.AsyncEnd)
	add(tc.Error, h.Error)

	return func() {
		for _, u := range undo {
			u()
		}
	}
}

// HasSubscribers reports whether any sub-channel has a subscriber
func (tc *TracingChannel) HasSubscribers() bool {
	return tc.Start.HasSubscribers() ||
		tc.End.HasSubscribers() ||
		tc.AsyncStart.HasSubscribers() ||
		tc.AsyncEnd.HasSubscribers() ||
		tc.Error.HasSubscribers()
}

// TraceSync runs fn between start and end events. An error from fn is
// recorded on ev, published on Error and returned. end is published even if
// fn panics.
func (tc *TracingChannel) TraceSync(st *storage.Stack, ev *Event, fn func() (any, error)) (any, error) {
	if !tc.HasSubscribers() {
		return fn()
	}
	if ev.Stack == nil {
		ev.Stack = st
	}

	var result any
	err := tc.Start.RunStores(st, ev, func() error {
		defer tc.End.Publish(ev)
		res, err := fn()
		if err != nil {
			ev.Err = err
			tc.Error.Publish(ev)
			return err
		}
		ev.Result = res
		result = res
		return nil
	})
	return result, err
}

// TracePromise runs fn between start and end events and publishes
// asyncStart/asyncEnd once the returned promise settles, with Error in
// between on rejection. The returned promise settles like fn's. When fn
// returns nil there is nothing to wait for: the operation ends with the end
// event, Async is cleared and nil is returned.
func (tc *TracingChannel) TracePromise(st *storage.Stack, ev *Event, fn func() *loop.Promise) *loop.Promise {
	if !tc.HasSubscribers() {
		return fn()
	}
	if ev.Stack == nil {
		ev.Stack = st
	}
	ev.Async = true

	var out *loop.Promise
	_ = tc.Start.RunStores(st, ev, func() error {
		defer tc.End.Publish(ev)
		p := fn()
		if p == nil {
			ev.Async = false
			return nil
		}
		out = p.Then(func(v any) (any, error) {
			ev.Result = v
			tc.settled(st, ev)
			return v, nil
		}, func(err error) (any, error) {
			ev.Err = err
			tc.Error.Publish(ev)
			tc.settled(st, ev)
			return nil, err
		})
		return nil
	})
	return out
}

// Begin is TraceSync split in two for APIs that report the start and the
// end of an operation through separate callbacks. It publishes start with
// the bound stores entered on st and returns the function completing the
// operation; that function publishes error and end and exits the frame
// entered by Begin, along with anything entered on top of it. Calling it
// more than once has no further effect.
func (tc *TracingChannel) Begin(st *storage.Stack, ev *Event) (finish func(result any, err error)) {
	if !tc.HasSubscribers() {
		return func(any, error) {}
	}
	if ev.Stack == nil {
		ev.Stack = st
	}

	depth := st.Depth()
	if f, ok := tc.Start.storesFrame(st, ev); ok {
		st.Enter(f)
	}
	tc.Start.Publish(ev)

	var once sync.Once
	return func(result any, err error) {
		once.Do(func() {
			if err != nil {
				ev.Err = err
				tc.Error.Publish(ev)
			} else {
				ev.Result = result
			}
			tc.End.Publish(ev)
			for st.Depth() > depth {
				st.Exit()
			}
		})
	}
}

func (tc *TracingChannel) settled(st *storage.Stack, ev *Event) {
	_ = tc.AsyncStart.RunStores(st, ev, func() error {
		tc.AsyncEnd.Publish(ev)
		return nil
	})
}
