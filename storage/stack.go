package storage

import "sync"

// Stack tracks the frames entered by one logical thread of execution: an
// event loop, or a goroutine started through Go or Group. The current frame
// is the top of the stack, or the root frame when the stack is empty.
//
// A Stack is not safe for concurrent use. Hand captured frames, not stacks,
// to other goroutines.
type Stack struct {
	frames []*Frame
}

var (
	mainStack     *Stack
	mainStackOnce sync.Once
)

// NewStack returns an empty stack
func NewStack() *Stack {
	return &Stack{}
}

// Main returns the process-wide stack of the main logical thread.
func Main() *Stack {
	mainStackOnce.Do(func() {
		mainStack = NewStack()
	})
	return mainStack
}

// Current returns the active frame. It never returns nil.
func (s *Stack) Current() *Frame {
	if n := len(s.frames); n > 0 {
		return s.frames[n-1]
	}
	return Root()
}

// Create builds a frame from parent (the current frame when nil) plus entry.
func (s *Stack) Create(parent *Frame, entry *Entry) *Frame {
	if parent == nil {
		parent = s.Current()
	}
	return Create(parent, entry)
}

// Enter pushes f. A nil frame pushes the root frame.
func (s *Stack) Enter(f *Frame) {
	if f == nil {
		f = Root()
	}
	s.frames = append(s.frames, f)
}

// Exit pops the top frame. Exiting an empty stack is a no-op.
func (s *Stack) Exit() {
	n := len(s.frames)
	if n == 0 {
		return
	}
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
}

// Depth returns the number of entered frames
func (s *Stack) Depth() int {
	return len(s.frames)
}

// Run enters f, calls fn and exits f again on every path, panics included.
func (s *Stack) Run(f *Frame, fn func() error) error {
	s.Enter(f)
	defer s.Exit()
	return fn()
}

// Bind returns a function that runs fn under the frame current at bind time.
func (s *Stack) Bind(fn func()) func() {
	captured := s.Current()
	return func() {
		s.Enter(captured)
		defer s.Exit()
		fn()
	}
}
