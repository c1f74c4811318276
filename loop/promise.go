package loop

import (
	"errors"
)

// State of a Promise
type State int

const (
	Pending State = iota
	Fulfilled
	Rejected
)

func (s State) String() string {
	switch s {
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return "pending"
	}
}

// FulfillHandler receives the fulfillment value. Returning a *Promise makes
// the derived promise follow it.
type FulfillHandler func(value any) (any, error)

// RejectHandler receives the rejection reason.
type RejectHandler func(err error) (any, error)

var (
	// ErrNilRejection replaces a nil rejection reason
	ErrNilRejection = errors.New("promise rejected with nil error")
	// ErrSelfResolution rejects a promise resolved with itself
	ErrSelfResolution = errors.New("promise resolved with itself")
)

// Promise is a single-assignment result settled on the loop goroutine.
// Reactions registered with Then run as microtasks under the frame that was
// current when Then was called.
type Promise struct {
	loop      *Loop
	state     State
	value     any
	err       error
	reactions []*reaction
}

type reaction struct {
	task        *task
	onFulfilled FulfillHandler
	onRejected  RejectHandler
	next        *Promise
}

// NewPromise creates a pending promise
func (l *Loop) NewPromise() *Promise {
	return &Promise{loop: l}
}

// Resolved returns a promise fulfilled with v
func (l *Loop) Resolved(v any) *Promise {
	p := l.NewPromise()
	p.Resolve(v)
	return p
}

// Rejected returns a promise rejected with err
func (l *Loop) Rejected(err error) *Promise {
	p := l.NewPromise()
	p.Reject(err)
	return p
}

// State returns the current state
func (p *Promise) State() State {
	return p.state
}

// Result returns the settled value and error.
func (p *Promise) Result() (any, error) {
	return p.value, p.err
}

// Resolve fulfills p with v, or makes p follow v when v is a *Promise.
// Settling an already settled promise is ignored.
func (p *Promise) Resolve(v any) {
	if p.state != Pending {
		return
	}
	if other, ok := v.(*Promise); ok && other != nil {
		if other == p {
			p.Reject(ErrSelfResolution)
			return
		}
		other.Then(func(v any) (any, error) {
			p.Resolve(v)
			return nil, nil
		}, func(err error) (any, error) {
			p.Reject(err)
			return nil, nil
		})
		return
	}
	p.settle(Fulfilled, v, nil)
}

// Reject rejects p with err. Settling an already settled promise is ignored.
func (p *Promise) Reject(err error) {
	if p.state != Pending {
		return
	}
	if err == nil {
		err = ErrNilRejection
	}
	p.settle(Rejected, nil, err)
}

// Then registers reactions and returns the promise they settle. Either
// handler may be nil, in which case the outcome passes through.
func (p *Promise) Then(onFulfilled FulfillHandler, onRejected RejectHandler) *Promise {
	r := &reaction{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		next:        p.loop.NewPromise(),
	}
	r.task = p.loop.newTask("reaction", func() { p.react(r) })
	p.loop.capture(r.task)

	if p.state == Pending {
		p.reactions = append(p.reactions, r)
	} else {
		p.loop.push(r.task, true)
	}
	return r.next
}

// Catch is Then(nil, onRejected)
func (p *Promise) Catch(onRejected RejectHandler) *Promise {
	return p.Then(nil, onRejected)
}

// Finally runs fn whatever the outcome and passes the outcome through.
func (p *Promise) Finally(fn func()) *Promise {
	return p.Then(func(v any) (any, error) {
		fn()
		return v, nil
	}, func(err error) (any, error) {
		fn()
		return nil, err
	})
}

func (p *Promise) settle(state State, v any, err error) {
	p.state, p.value, p.err = state, v, err
	reactions := p.reactions
	p.reactions = nil
	for _, r := range reactions {
		p.loop.push(r.task, true)
	}
}

func (p *Promise) react(r *reaction) {
	var (
		v   any
		err error
	)
	switch p.state {
	case Fulfilled:
		if r.onFulfilled == nil {
			v = p.value
		} else {
			v, err = r.onFulfilled(p.value)
		}
	case Rejected:
		if r.onRejected == nil {
			err = p.err
		} else {
			v, err = r.onRejected(p.err)
		}
	}

	if err != nil {
		r.next.Reject(err)
		return
	}
	r.next.Resolve(v)
}
