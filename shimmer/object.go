package shimmer

import (
	"reflect"
	"sync"

	"github.com/will-bank/dd-trace-deno-sub001/core"
)

// Descriptor describes a single own property. A descriptor with Get or Set
// set is an accessor property and Value/Writable are ignored.
type Descriptor struct {
	Value        any
	Get          func() any
	Set          func(any)
	Writable     bool
	Enumerable   bool
	Configurable bool
}

// IsAccessor reports whether d is a getter/setter pair
func (d Descriptor) IsAccessor() bool {
	return d.Get != nil || d.Set != nil
}

// PropertyKind tags an entry of Object.OwnDescriptors
type PropertyKind int

const (
	PropertyData PropertyKind = iota
	PropertyAccessor
)

func (k PropertyKind) String() string {
	if k == PropertyAccessor {
		return "accessor"
	}
	return "data"
}

// Property is one named entry of an object's own property table.
type Property struct {
	Name string
	Kind PropertyKind
	Descriptor
}

// Object is an ordered own-property table with a prototype link. It is the
// unit the shim engine patches: hook modules describe a library surface as
// Objects whose properties hold *Function values.
//
// Object is safe for concurrent use. Getters and setters run outside the
// object's lock.
type Object struct {
	mu    sync.RWMutex
	proto *Object
	props map[string]*Descriptor
	keys  []string
}

// NewObject creates an empty object whose prototype is proto (may be nil).
func NewObject(proto *Object) *Object {
	return &Object{
		proto: proto,
		props: make(map[string]*Descriptor),
	}
}

// Derive creates a new object prototypally linked to o.
func (o *Object) Derive() *Object {
	return NewObject(o)
}

// Proto returns the prototype link
func (o *Object) Proto() *Object {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.proto
}

// SetProto replaces the prototype link. A link that would make o its own
// ancestor fails with ErrCyclicPrototype and leaves o unchanged.
func (o *Object) SetProto(proto *Object) error {
	for cur := proto; cur != nil; cur = cur.Proto() {
		if cur == o {
			return core.ShimError("Object.SetProto", "", core.ErrCyclicPrototype)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.proto = proto
	return nil
}

// OwnDescriptor returns a copy of the own descriptor for name.
func (o *Object) OwnDescriptor(name string) (Descriptor, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d, ok := o.props[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// HasOwn reports whether name is an own property
func (o *Object) HasOwn(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.props[name]
	return ok
}

// OwnDescriptors lists the own properties in definition order.
func (o *Object) OwnDescriptors() []Property {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]Property, 0, len(o.keys))
	for _, k := range o.keys {
		d := o.props[k]
		kind := PropertyData
		if d.IsAccessor() {
			kind = PropertyAccessor
		}
		out = append(out, Property{Name: k, Kind: kind, Descriptor: *d})
	}
	return out
}

// DefineProperty installs d as the own property name. Redefining a
// non-configurable property only succeeds for the changes a non-configurable
// writable data property allows (new value, dropping writability).
func (o *Object) DefineProperty(name string, d Descriptor) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if d.IsAccessor() {
		d.Value = nil
		d.Writable = false
	}

	existing, ok := o.props[name]
	if !ok {
		o.props[name] = &d
		o.keys = append(o.keys, name)
		return nil
	}
	if !existing.Configurable {
		if err := validateRedefine(*existing, d); err != nil {
			return core.ShimError("Object.DefineProperty", name, err)
		}
	}
	*existing = d
	return nil
}

func validateRedefine(existing, next Descriptor) error {
	if next.Configurable || next.Enumerable != existing.Enumerable {
		return core.ErrNotConfigurable
	}
	if existing.IsAccessor() || next.IsAccessor() {
		return core.ErrNotConfigurable
	}
	if !existing.Writable {
		if next.Writable || !sameValue(existing.Value, next.Value) {
			return core.ErrNotWritable
		}
	}
	return nil
}

// DeleteProperty removes an own property. It returns false when the property
// exists but is not configurable.
func (o *Object) DeleteProperty(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	d, ok := o.props[name]
	if !ok {
		return true
	}
	if !d.Configurable {
		return false
	}
	delete(o.props, name)
	for i, k := range o.keys {
		if k == name {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// lookup finds the descriptor for name along the prototype chain.
func (o *Object) lookup(name string) (Descriptor, *Object, bool) {
	for cur := o; cur != nil; {
		cur.mu.RLock()
		d, ok := cur.props[name]
		var desc Descriptor
		if ok {
			desc = *d
		}
		next := cur.proto
		cur.mu.RUnlock()
		if ok {
			return desc, cur, true
		}
		cur = next
	}
	return Descriptor{}, nil, false
}

// Get reads name through the prototype chain, invoking getters.
func (o *Object) Get(name string) (any, bool) {
	d, _, ok := o.lookup(name)
	if !ok {
		return nil, false
	}
	if d.IsAccessor() {
		if d.Get == nil {
			return nil, true
		}
		return d.Get(), true
	}
	return d.Value, true
}

// Set assigns name the way an ordinary assignment would: setters are invoked,
// inherited writable data properties are shadowed by a new own property.
func (o *Object) Set(name string, value any) error {
	d, owner, ok := o.lookup(name)
	switch {
	case !ok:
		return o.DefineProperty(name, Descriptor{Value: value, Writable: true, Enumerable: true, Configurable: true})
	case d.IsAccessor():
		if d.Set == nil {
			return core.ShimError("Object.Set", name, core.ErrNotWritable)
		}
		d.Set(value)
		return nil
	case !d.Writable:
		return core.ShimError("Object.Set", name, core.ErrNotWritable)
	case owner == o:
		d.Value = value
		return o.DefineProperty(name, d)
	default:
		return o.DefineProperty(name, Descriptor{Value: value, Writable: true, Enumerable: true, Configurable: true})
	}
}

// Method returns the *Function stored at name, if any.
func (o *Object) Method(name string) (*Function, bool) {
	v, ok := o.Get(name)
	if !ok {
		return nil, false
	}
	fn, ok := v.(*Function)
	return fn, ok && fn != nil
}

// Invoke calls the method stored at name with o as receiver.
func (o *Object) Invoke(name string, args ...any) (any, error) {
	fn, ok := o.Method(name)
	if !ok {
		if _, exists := o.Get(name); exists {
			return nil, core.ShimError("Object.Invoke", name, core.ErrNotAFunction)
		}
		return nil, core.ShimError("Object.Invoke", name, core.ErrNoSuchMethod)
	}
	return fn.Call(o, args...)
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}
