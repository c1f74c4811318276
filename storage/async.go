package storage

import (
	"sync/atomic"

	"github.com/will-bank/dd-trace-deno-sub001/core"
)

// Unit is one deferred piece of work: a scheduled callback, a timer, a
// promise reaction. The scheduler reports three events for it:
//
//	created          -> Stack.Capture  (attach the frame current at creation)
//	about-to-resume  -> Stack.Resume   (enter the attached frame)
//	resumed-settled  -> Stack.Settle   (exit it again)
//
// A unit carries exactly one frame for its whole life.
type Unit struct {
	frame atomic.Pointer[Frame]
}

// Attach binds f to the unit. Attaching twice means the scheduler reported
// "created" twice for the same unit and fails with ErrDuplicateContext.
func (u *Unit) Attach(f *Frame) error {
	if f == nil {
		f = Root()
	}
	if !u.frame.CompareAndSwap(nil, f) {
		core.Counter(core.MetricDuplicateContext)
		core.GetLogger().Error("Context attached twice to the same async unit", map[string]interface{}{
			"error": core.ErrDuplicateContext.Error(),
		})
		return core.NewInstrumentationError("storage.Unit.Attach", "storage", core.ErrDuplicateContext)
	}
	return nil
}

// Frame returns the attached frame, or the root frame if none was attached.
func (u *Unit) Frame() *Frame {
	if f := u.frame.Load(); f != nil {
		return f
	}
	return Root()
}

// Attached reports whether a frame has been attached
func (u *Unit) Attached() bool {
	return u.frame.Load() != nil
}

// Capture attaches the current frame to u.
func (s *Stack) Capture(u *Unit) error {
	return u.Attach(s.Current())
}

// Resume enters the frame attached to u.
func (s *Stack) Resume(u *Unit) {
	s.Enter(u.Frame())
}

// Settle exits the frame entered by Resume.
func (s *Stack) Settle(_ *Unit) {
	s.Exit()
}

// RunUnit resumes u, calls fn and settles u on every path.
func (s *Stack) RunUnit(u *Unit, fn func()) {
	s.Resume(u)
	defer s.Settle(u)
	fn()
}
