package shimmer

import (
	"sync"
	"sync/atomic"

	"github.com/will-bank/dd-trace-deno-sub001/core"
)

// Wrapper builds the replacement for original. It must return a non-nil
// Function; the engine copies original's own properties onto it.
type Wrapper func(original *Function) *Function

// targetKind tags what a registry entry restores
type targetKind int

const (
	freeFunction targetKind = iota
	objectMethod
)

// capture records everything needed to reverse one wrap.
type capture struct {
	kind       targetKind
	target     *Object
	name       string
	descriptor Descriptor
	own        bool
	derived    bool
	restore    func()
}

var (
	// unwrappers maps an installed wrapper to the capture that reverses it.
	// wrap/unwrap are rare, so a single mutex is enough.
	mu         sync.Mutex
	unwrappers = make(map[*Function]*capture)
)

func register(wrapped *Function, c *capture) {
	mu.Lock()
	defer mu.Unlock()
	unwrappers[wrapped] = c
}

func take(wrapped *Function) *capture {
	mu.Lock()
	defer mu.Unlock()
	c, ok := unwrappers[wrapped]
	if !ok {
		return nil
	}
	delete(unwrappers, wrapped)
	return c
}

// IsWrapped reports whether fn is a wrapper that can still be unwrapped.
func IsWrapped(fn *Function) bool {
	mu.Lock()
	defer mu.Unlock()
	_, ok := unwrappers[fn]
	return ok
}

// Registered returns the number of wrappers awaiting unwrap
func Registered() int {
	mu.Lock()
	defer mu.Unlock()
	return len(unwrappers)
}

// WrapFunc wraps a free function. The returned shim forwards every call to
// delegate until the shim is passed to UnwrapFunc, after which it forwards
// to original. original's own properties are copied onto the shim and the
// shim inherits from original.
func WrapFunc(original, delegate *Function) (*Function, error) {
	const op = "shimmer.WrapFunc"
	if delegate == nil || delegate.impl == nil {
		return nil, fail(op, "", core.ErrInvalidArgument)
	}
	if original == nil {
		return nil, fail(op, "", core.ErrNoTarget)
	}
	if original.Kind() == KindClass {
		return nil, fail(op, original.Name(), core.ErrInvalidTarget)
	}

	var cell atomic.Pointer[Function]
	cell.Store(delegate)

	shim := NewFunction(original.Name(), func(this *Object, args ...any) (any, error) {
		return cell.Load().Call(this, args...)
	})
	if err := copyProperties(original, shim); err != nil {
		return nil, fail(op, original.Name(), err)
	}

	register(shim, &capture{
		kind:    freeFunction,
		name:    original.Name(),
		restore: func() { cell.Store(original) },
	})

	core.Counter(core.MetricShimWraps, "form", "function")
	core.GetLogger().Debug("Wrapped function", map[string]interface{}{
		"function": original.Name(),
	})
	return shim, nil
}

// Wrap replaces the method stored at target[name] with wrapper(original).
//
// The original property's attributes are preserved: accessor properties get
// a new getter returning the wrapper (the setter is kept), data properties
// get the wrapper as value. A method found only on the prototype chain is
// installed as an own writable property and removed again on unwrap.
//
// When the own property is not configurable the target is left untouched and
// a derived object carrying the override is returned instead; callers that
// care must use the returned object.
func Wrap(target *Object, name string, wrapper Wrapper) (*Object, error) {
	const op = "shimmer.Wrap"
	original, err := assertMethod(target, name)
	if err != nil {
		return target, fail(op, name, err)
	}
	if wrapper == nil {
		return target, fail(op, name, core.ErrInvalidArgument)
	}
	wrapped := wrapper(original)
	// a wrapper handing back the original would become its own prototype
	if wrapped == nil || wrapped.impl == nil || wrapped == original {
		return target, fail(op, name, core.ErrInvalidArgument)
	}

	descriptor, own := target.OwnDescriptor(name)
	if err := copyProperties(original, wrapped); err != nil {
		return target, fail(op, name, err)
	}

	c := &capture{
		kind:       objectMethod,
		target:     target,
		name:       name,
		descriptor: descriptor,
		own:        own,
	}

	if !own {
		c.restore = func() { target.DeleteProperty(name) }
		register(wrapped, c)
		if err := target.DefineProperty(name, Descriptor{Value: wrapped, Writable: true, Configurable: true}); err != nil {
			take(wrapped)
			return target, fail(op, name, err)
		}
		recordWrap(name, "inherited")
		return target, nil
	}

	attributes := descriptor
	if descriptor.IsAccessor() {
		attributes.Get = func() any { return wrapped }
	} else {
		attributes.Value = wrapped
	}

	if !descriptor.Configurable {
		derived := target.Derive()
		c.derived = true
		c.target = derived
		c.restore = func() { derived.DeleteProperty(name) }
		// the override itself stays configurable so it can be removed again
		attributes.Configurable = true
		if err := derived.DefineProperty(name, attributes); err != nil {
			return target, fail(op, name, err)
		}
		register(wrapped, c)
		recordWrap(name, "derived")
		return derived, nil
	}

	c.restore = func() {
		if err := target.DefineProperty(name, descriptor); err != nil {
			core.GetLogger().Warn("Failed to restore original property", map[string]interface{}{
				"method": name,
				"error":  err.Error(),
			})
		}
	}
	register(wrapped, c)
	if err := target.DefineProperty(name, attributes); err != nil {
		take(wrapped)
		return target, fail(op, name, err)
	}
	recordWrap(name, "own")
	return target, nil
}

// Unwrap reverses the wrap whose wrapper currently sits at target[name].
// It is a no-op when nothing is registered for it.
func Unwrap(target *Object, name string) *Object {
	if target == nil {
		return target
	}
	v, ok := target.Get(name)
	if !ok {
		return target
	}
	fn, ok := v.(*Function)
	if !ok || fn == nil {
		return target
	}
	if c := take(fn); c != nil {
		c.restore()
		recordUnwrap(name)
	}
	return target
}

// UnwrapFunc reverses WrapFunc: the shim keeps its identity but forwards to
// the original function from now on.
func UnwrapFunc(fn *Function) *Function {
	if fn == nil {
		return fn
	}
	if c := take(fn); c != nil {
		c.restore()
		recordUnwrap(c.name)
	}
	return fn
}

// MassWrap wraps every name on every target. Pairs are processed target by
// target; the first failure is returned and the remaining pairs are skipped.
// Pairs wrapped before the failure stay wrapped.
//
// The derived objects Wrap returns for non-configurable properties are
// dropped, so such pairs report success while the target itself keeps
// calling the original. Call Wrap directly when that matters.
func MassWrap(targets []*Object, names []string, wrapper Wrapper) error {
	for _, target := range targets {
		for _, name := range names {
			if _, err := Wrap(target, name, wrapper); err != nil {
				return err
			}
		}
	}
	return nil
}

// MassUnwrap unwraps every name on every target.
func MassUnwrap(targets []*Object, names []string) {
	for _, target := range targets {
		for _, name := range names {
			Unwrap(target, name)
		}
	}
}

func assertMethod(target *Object, name string) (*Function, error) {
	if target == nil {
		return nil, core.ErrNoTarget
	}
	v, ok := target.Get(name)
	if !ok || v == nil {
		return nil, core.ErrNoSuchMethod
	}
	fn, ok := v.(*Function)
	if !ok || fn == nil {
		return nil, core.ErrNotAFunction
	}
	return fn, nil
}

// copyProperties makes wrapped inherit from original and copies original's
// own properties onto it. Properties wrapped cannot accept are skipped.
func copyProperties(original, wrapped *Function) error {
	if err := wrapped.SetProto(original.Object); err != nil {
		return err
	}
	for _, p := range original.OwnDescriptors() {
		_ = wrapped.DefineProperty(p.Name, p.Descriptor)
	}
	return nil
}

func fail(op, name string, err error) error {
	core.Counter(core.MetricShimErrors, "op", op)
	return core.ShimError(op, name, err)
}

func recordWrap(name, placement string) {
	core.Counter(core.MetricShimWraps, "form", "method", "placement", placement)
	core.GetLogger().Debug("Wrapped method", map[string]interface{}{
		"method":    name,
		"placement": placement,
	})
}

func recordUnwrap(name string) {
	core.Counter(core.MetricShimUnwraps)
	core.GetLogger().Debug("Unwrapped", map[string]interface{}{
		"method": name,
	})
}
