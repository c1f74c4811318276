// Package shimmer replaces methods on instrumented objects with wrapped
// versions and restores them later.
//
// Objects are property tables with prototype chains. Each property carries a
// Descriptor with the usual flags and either a data value or a getter/setter
// pair. Wrap looks a method up through the chain and places the wrapper
// according to where the method was found:
//
//   - an own data property gets the wrapper as its value
//   - an own accessor gets a getter returning the wrapper
//   - an inherited method is shadowed by a new own property
//   - a non-configurable own property is left alone; the wrapper goes on a
//     derived object which Wrap returns
//
// Wrapped functions keep the name and own properties of the original.
// Unwrap finds the original through a process-wide registry and puts the
// property back the way it was, deleting a shadowing property rather than
// overwriting the inherited one.
//
// WrapFunc is for free-standing functions that are not reachable through an
// object. The returned shim forwards through an indirection cell, so
// UnwrapFunc turns every copy a caller already holds back into the original.
//
// Errors wrap the core.Err* sentinels; use errors.Is.
package shimmer
