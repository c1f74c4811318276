// Package storage propagates values along logical threads of execution.
// A Stack holds the frames one thread has entered, a Storage reads and writes
// its own key in the current frame, and a Unit captures a frame so an
// asynchronous continuation can resume it later.
package storage
