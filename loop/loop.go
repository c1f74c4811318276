package loop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/will-bank/dd-trace-deno-sub001/core"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

// task is one scheduled unit of work
type task struct {
	id   uuid.UUID
	kind string
	unit storage.Unit
	fn   func()
}

// Loop runs tasks one at a time on the goroutine that called Run.
type Loop struct {
	stack  *storage.Stack
	logger core.Logger

	mu      sync.Mutex
	macro   []*task
	micro   []*task
	pending int // armed timers and outstanding holds
	wake    chan struct{}

	running atomic.Bool
}

// Option configures a Loop
type Option func(*Loop)

// WithLogger sets the logger used for task failures
func WithLogger(logger core.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithStack makes the loop drive an existing stack instead of a new one.
func WithStack(st *storage.Stack) Option {
	return func(l *Loop) {
		l.stack = st
	}
}

// New creates an idle loop
func New(opts ...Option) *Loop {
	l := &Loop{
		wake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.stack == nil {
		l.stack = storage.NewStack()
	}
	if l.logger == nil {
		l.logger = core.GetLogger()
	}
	return l
}

// Stack returns the frame stack owned by the loop
func (l *Loop) Stack() *storage.Stack {
	return l.stack
}

// Run calls main as the first task and then processes tasks until there is
// no queued task, armed timer or outstanding hold left. It returns
// ctx.Err() if ctx ends first, or an error wrapping ErrTaskPanicked if a
// task panics.
func (l *Loop) Run(ctx context.Context, main func()) error {
	if !l.running.CompareAndSwap(false, true) {
		return core.ErrLoopRunning
	}
	defer l.running.Store(false)

	if main != nil {
		first := l.newTask("main", main)
		if err := first.unit.Attach(storage.Root()); err != nil {
			return err
		}
		l.push(first, false)
	}

	for {
		if err := l.drainMicrotasks(); err != nil {
			return err
		}

		if t := l.pop(false); t != nil {
			if err := l.runTask(t); err != nil {
				return err
			}
			continue
		}

		if l.idle() {
			return nil
		}

		select {
		case <-l.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Defer schedules fn to run on a later turn of the loop.
func (l *Loop) Defer(fn func()) {
	l.schedule("tick", fn, false)
}

// Microtask schedules fn to run before the next macrotask.
func (l *Loop) Microtask(fn func()) {
	l.schedule("microtask", fn, true)
}

// Post schedules fn from any goroutine. fn runs with the root frame since it
// is not causally linked to any task of the loop.
func (l *Loop) Post(fn func()) {
	t := l.newTask("post", fn)
	_ = t.unit.Attach(storage.Root())
	l.push(t, false)
}

// Hold keeps the loop from finishing until the returned release function is
// called. Use it while another goroutine is expected to Post.
func (l *Loop) Hold() (release func()) {
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.pending--
			l.mu.Unlock()
			l.signal()
		})
	}
}

// Timer is a pending After callback
type Timer struct {
	loop    *Loop
	timer   *time.Timer
	fired   bool
	stopped bool
}

// After schedules fn to run once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	t := l.newTask("timer", fn)
	l.capture(t)

	tm := &Timer{loop: l}
	l.mu.Lock()
	l.pending++
	l.mu.Unlock()

	tm.timer = time.AfterFunc(d, func() {
		l.mu.Lock()
		if tm.stopped {
			l.mu.Unlock()
			return
		}
		tm.fired = true
		l.pending--
		l.macro = append(l.macro, t)
		l.mu.Unlock()
		l.signal()
	})
	return tm
}

// Stop cancels the timer. It reports whether the callback was prevented.
func (tm *Timer) Stop() bool {
	l := tm.loop
	l.mu.Lock()
	defer l.signal()
	defer l.mu.Unlock()
	if tm.fired || tm.stopped {
		return false
	}
	tm.stopped = true
	tm.timer.Stop()
	l.pending--
	return true
}

// Pending returns the number of queued tasks plus armed timers and holds.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.macro) + len(l.micro) + l.pending
}

func (l *Loop) newTask(kind string, fn func()) *task {
	return &task{id: uuid.New(), kind: kind, fn: fn}
}

// capture attaches the current frame: the "created" event.
func (l *Loop) capture(t *task) {
	if err := l.stack.Capture(&t.unit); err != nil {
		l.logger.Error("Failed to attach context to task", map[string]interface{}{
			"task_id": t.id.String(),
			"kind":    t.kind,
			"error":   err.Error(),
		})
	}
}

func (l *Loop) schedule(kind string, fn func(), micro bool) *task {
	t := l.newTask(kind, fn)
	l.capture(t)
	l.push(t, micro)
	return t
}

func (l *Loop) push(t *task, micro bool) {
	l.mu.Lock()
	if micro {
		l.micro = append(l.micro, t)
	} else {
		l.macro = append(l.macro, t)
	}
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) pop(micro bool) *task {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := &l.macro
	if micro {
		q = &l.micro
	}
	if len(*q) == 0 {
		return nil
	}
	t := (*q)[0]
	(*q)[0] = nil
	*q = (*q)[1:]
	return t
}

func (l *Loop) idle() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.macro) == 0 && len(l.micro) == 0 && l.pending == 0
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Loop) drainMicrotasks() error {
	for t := l.pop(true); t != nil; t = l.pop(true) {
		if err := l.runTask(t); err != nil {
			return err
		}
	}
	return nil
}

// runTask resumes the task's frame, runs it and settles it again, whether it
// returns or panics. Frames the task entered without exiting (EnterWith) end
// with the task.
func (l *Loop) runTask(t *task) (err error) {
	depth := l.stack.Depth()
	l.stack.Resume(&t.unit)
	defer func() {
		for l.stack.Depth() > depth+1 {
			l.stack.Exit()
		}
		l.stack.Settle(&t.unit)
	}()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: task %s (%s): %v", core.ErrTaskPanicked, t.id, t.kind, r)
			core.Counter(core.MetricTaskPanics, "kind", t.kind)
			l.logger.Error("Task panicked", map[string]interface{}{
				"task_id": t.id.String(),
				"kind":    t.kind,
				"error":   fmt.Sprint(r),
			})
		}
	}()
	t.fn()
	return nil
}
