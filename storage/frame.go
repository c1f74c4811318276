package storage

import "sync"

// Entry binds a value to a key inside a frame.
type Entry struct {
	Key   *Key
	Value any
}

// Frame is a snapshot of every local-storage binding active at one point of
// a logical task. Frames are never changed after creation except for
// dropping entries whose key has died; that compaction is invisible to
// readers because dead entries already read as absent.
//
// A frame may be shared by several goroutines once captured; the mutex only
// guards the compaction.
type Frame struct {
	mu      sync.Mutex
	entries []Entry
}

var (
	rootFrame *Frame
	rootOnce  sync.Once
)

// Root returns the process-wide empty frame.
func Root() *Frame {
	rootOnce.Do(func() {
		rootFrame = &Frame{}
	})
	return rootFrame
}

// Create builds a new frame holding the live entries of parent plus entry.
// An entry for a key parent already holds replaces it in place; otherwise it
// is appended. parent is not modified. A nil parent means the root frame and
// a nil entry just copies.
func Create(parent *Frame, entry *Entry) *Frame {
	if parent == nil {
		parent = Root()
	}
	live := parent.live()

	f := &Frame{entries: make([]Entry, 0, len(live)+1)}
	replaced := false
	for _, e := range live {
		if entry != nil && e.Key == entry.Key {
			f.entries = append(f.entries, *entry)
			replaced = true
			continue
		}
		f.entries = append(f.entries, e)
	}
	if entry != nil && !replaced && !entry.Key.Dead() {
		f.entries = append(f.entries, *entry)
	}
	return f
}

// without builds a child of parent that has no binding for key.
func without(parent *Frame, key *Key) *Frame {
	live := parent.live()
	f := &Frame{entries: make([]Entry, 0, len(live))}
	for _, e := range live {
		if e.Key != key {
			f.entries = append(f.entries, e)
		}
	}
	return f
}

// Get returns the value bound to key, dropping dead entries first.
func (f *Frame) Get(key *Key) (any, bool) {
	if key.Dead() {
		// still compact so the frame stops retaining the value
		f.live()
		return nil, false
	}
	for _, e := range f.live() {
		if e.Key == key {
			return e.Value, true
		}
	}
	return nil, false
}

// Len returns the number of live entries
func (f *Frame) Len() int {
	return len(f.live())
}

// Entries returns a copy of the live entries in insertion order.
func (f *Frame) Entries() []Entry {
	live := f.live()
	out := make([]Entry, len(live))
	copy(out, live)
	return out
}

// live purges dead entries and returns the remaining slice. The returned
// slice must not be modified.
func (f *Frame) live() []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()

	dead := 0
	for _, e := range f.entries {
		if e.Key.Dead() {
			dead++
		}
	}
	if dead == 0 {
		return f.entries
	}

	kept := make([]Entry, 0, len(f.entries)-dead)
	for _, e := range f.entries {
		if !e.Key.Dead() {
			kept = append(kept, e)
		}
	}
	f.entries = kept
	return kept
}
