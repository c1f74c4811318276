package storage

import (
	"runtime"
)

// Storage is a typed local-storage channel backed by one Key. The zero
// value is not usable; create storages with New.
//
// Owners should call Dispose (or Close) when the storage is no longer
// needed. A finalizer disposes unreachable storages as a backstop only.
type Storage[T any] struct {
	key *Key
}

// New creates a storage channel with a fresh key.
func New[T any](name string) *Storage[T] {
	s := &Storage[T]{key: NewKey(name)}
	runtime.SetFinalizer(s, func(s *Storage[T]) {
		s.key.Kill()
	})
	return s
}

// Key returns the backing key
func (s *Storage[T]) Key() *Key {
	return s.key
}

// GetStore returns the value bound in st's current frame.
func (s *Storage[T]) GetStore(st *Stack) (T, bool) {
	return s.From(st.Current())
}

// From returns the value bound in f.
func (s *Storage[T]) From(f *Frame) (T, bool) {
	var zero T
	if f == nil {
		return zero, false
	}
	v, ok := f.Get(s.key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Frame builds a child of st's current frame binding value.
func (s *Storage[T]) Frame(st *Stack, value T) *Frame {
	return st.Create(nil, &Entry{Key: s.key, Value: value})
}

// Run calls fn with value bound for the duration of the call. The frame is
// exited exactly once however fn terminates; fn's error or panic reaches the
// caller unchanged.
func (s *Storage[T]) Run(st *Stack, value T, fn func() error) error {
	return st.Run(s.Frame(st, value), fn)
}

// EnterWith binds value for the rest of the current synchronous execution
// without a matching exit.
func (s *Storage[T]) EnterWith(st *Stack, value T) {
	st.Enter(s.Frame(st, value))
}

// Exit calls fn with no value bound for this storage.
func (s *Storage[T]) Exit(st *Stack, fn func() error) error {
	return st.Run(without(st.Current(), s.key), fn)
}

// Dispose kills the key. Values bound through this storage become absent
// in every frame, including frames captured earlier.
func (s *Storage[T]) Dispose() {
	s.key.Kill()
	runtime.SetFinalizer(s, nil)
}

// Close implements io.Closer
func (s *Storage[T]) Close() error {
	s.Dispose()
	return nil
}

// Disposed reports whether Dispose has been called
func (s *Storage[T]) Disposed() bool {
	return s.key.Dead()
}
