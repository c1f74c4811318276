package shimmer

import (
	"github.com/will-bank/dd-trace-deno-sub001/core"
)

// Kind tags a callable as a plain function or a class constructor. Callers
// declare it when building a Function; class constructors cannot be wrapped
// through WrapFunc.
type Kind int

const (
	KindFunction Kind = iota
	KindClass
)

func (k Kind) String() string {
	if k == KindClass {
		return "class"
	}
	return "function"
}

// Impl is the behavior of a Function. this is the receiver the function was
// invoked on and may be nil for free functions.
type Impl func(this *Object, args ...any) (any, error)

// Function is a callable carrying its own property table, so that wrappers
// can be made indistinguishable from the function they replace.
type Function struct {
	*Object

	name string
	kind Kind
	impl Impl
}

// NewFunction creates a plain function. Like an ordinary function it gets a
// configurable "name" property and a writable, non-configurable "prototype".
func NewFunction(name string, impl Impl) *Function {
	return newFunction(name, KindFunction, impl)
}

// NewClass creates a class constructor.
func NewClass(name string, impl Impl) *Function {
	return newFunction(name, KindClass, impl)
}

func newFunction(name string, kind Kind, impl Impl) *Function {
	fn := &Function{
		Object: NewObject(nil),
		name:   name,
		kind:   kind,
		impl:   impl,
	}
	_ = fn.DefineProperty("name", Descriptor{Value: name, Configurable: true})
	_ = fn.DefineProperty("prototype", Descriptor{Value: NewObject(nil), Writable: true})
	return fn
}

// Name returns the name the function was created with
func (f *Function) Name() string {
	return f.name
}

// Kind returns whether f is a plain function or a class
func (f *Function) Kind() Kind {
	return f.kind
}

// Call invokes the function. Calling a nil Function or one without an
// implementation is reported as ErrNotAFunction rather than panicking.
func (f *Function) Call(this *Object, args ...any) (any, error) {
	if f == nil || f.impl == nil {
		return nil, core.ShimError("Function.Call", "", core.ErrNotAFunction)
	}
	return f.impl(this, args...)
}

// Prototype returns the object stored at the "prototype" property, if any.
func (f *Function) Prototype() *Object {
	v, _ := f.Get("prototype")
	p, _ := v.(*Object)
	return p
}
