package storage

import (
	"fmt"
	"sync/atomic"
)

var keySeq atomic.Uint64

// Key identifies one local-storage slot. Keys compare by identity only; two
// keys created with the same name are distinct.
//
// Once killed a key never matches again: every frame that still holds an
// entry for it reports the entry as absent and drops it on the next access.
type Key struct {
	name string
	id   uint64
	dead atomic.Bool
}

// NewKey creates a live key. name is only used for diagnostics.
func NewKey(name string) *Key {
	return &Key{name: name, id: keySeq.Add(1)}
}

// Name returns the diagnostic name
func (k *Key) Name() string {
	return k.name
}

// Kill marks the key dead. It is idempotent.
func (k *Key) Kill() {
	k.dead.Store(true)
}

// Dead reports whether Kill has been called
func (k *Key) Dead() bool {
	return k == nil || k.dead.Load()
}

func (k *Key) String() string {
	state := "live"
	if k.Dead() {
		state = "dead"
	}
	return fmt.Sprintf("%s#%d(%s)", k.name, k.id, state)
}
