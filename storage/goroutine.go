package storage

import (
	"context"

	"golang.org/x/sync/errgroup"
)

type stackContextKey struct{}

// WithStack returns a context carrying st, for APIs that only pass a
// context.Context through (net/http handlers, redis hooks).
func WithStack(ctx context.Context, st *Stack) context.Context {
	return context.WithValue(ctx, stackContextKey{}, st)
}

// StackFromContext returns the stack stored by WithStack.
func StackFromContext(ctx context.Context) (*Stack, bool) {
	if ctx == nil {
		return nil, false
	}
	st, ok := ctx.Value(stackContextKey{}).(*Stack)
	return st, ok && st != nil
}

// Fork returns a new stack whose current frame is st's current frame. Use it
// to hand a logical task over to another goroutine.
func Fork(st *Stack) *Stack {
	child := NewStack()
	child.Enter(st.Current())
	return child
}

// Go runs fn on a new goroutine. The frame current when Go is called is
// captured immediately, so later changes to st are not visible to fn.
func Go(st *Stack, fn func(st *Stack)) {
	child := Fork(st)
	go func() {
		defer child.Exit()
		fn(child)
	}()
}

// Group is an errgroup.Group whose goroutines inherit the frame current at
// the time Go is called.
type Group struct {
	g  *errgroup.Group
	st *Stack
}

// NewGroup creates a group spawning from st. The returned context is
// canceled when the first goroutine fails.
func NewGroup(ctx context.Context, st *Stack) (*Group, context.Context) {
	g, ctx := errgroup.WithContext(ctx)
	return &Group{g: g, st: st}, ctx
}

// SetLimit bounds the number of active goroutines
func (g *Group) SetLimit(n int) {
	g.g.SetLimit(n)
}

// Go runs fn on a new goroutine with its own stack.
func (g *Group) Go(fn func(st *Stack) error) {
	child := Fork(g.st)
	g.g.Go(func() error {
		defer child.Exit()
		return fn(child)
	})
}

// Wait blocks until every goroutine returned and reports the first error.
func (g *Group) Wait() error {
	return g.g.Wait()
}
