package instrument

import (
	"sync"

	"github.com/will-bank/dd-trace-deno-sub001/core"
	"github.com/will-bank/dd-trace-deno-sub001/shimmer"
)

// MethodHook builds a hook wrapping every method on every target. The hook
// remembers the wrapper it put at each pair and only ever removes those: if
// wrapping fails part way, the pairs already wrapped are unwrapped again, and
// layers other hooks installed are left alone, both on rollback and on
// Disable. A pair another hook has since wrapped on top of is left wrapped
// and logged.
func MethodHook(name string, targets []*shimmer.Object, methods []string, wrapper shimmer.Wrapper) Hook {
	var (
		mu        sync.Mutex
		installed []installedWrap
	)
	return Hook{
		Name: name,
		Enable: func() error {
			mu.Lock()
			defer mu.Unlock()
			var done []installedWrap
			for _, target := range targets {
				for _, method := range methods {
					obj, err := shimmer.Wrap(target, method, wrapper)
					if err != nil {
						unwrapInstalled(name, done)
						return err
					}
					done = append(done, installedWrap{obj: obj, method: method, fn: currentMethod(obj, method)})
				}
			}
			installed = done
			return nil
		},
		Disable: func() error {
			mu.Lock()
			defer mu.Unlock()
			unwrapInstalled(name, installed)
			installed = nil
			return nil
		},
	}
}

// installedWrap is one wrapper a MethodHook put in place. obj is the object
// Wrap returned, which is a derived object for non-configurable properties.
type installedWrap struct {
	obj    *shimmer.Object
	method string
	fn     *shimmer.Function
}

func currentMethod(obj *shimmer.Object, method string) *shimmer.Function {
	fn, _ := obj.Method(method)
	return fn
}

// unwrapInstalled removes the given wrappers, newest first, skipping pairs
// where something else now sits on top.
func unwrapInstalled(hook string, pairs []installedWrap) {
	for i := len(pairs) - 1; i >= 0; i-- {
		p := pairs[i]
		if p.fn == nil || currentMethod(p.obj, p.method) != p.fn {
			core.GetLogger().Warn("Method rewrapped by another hook, leaving it wrapped", map[string]interface{}{
				"hook":   hook,
				"method": p.method,
			})
			continue
		}
		shimmer.Unwrap(p.obj, p.method)
	}
}

// FunctionHook builds a hook replacing the function stored in *slot with a
// shim delegating to wrapper(original). Disabling points the shim back at
// the original and restores *slot.
func FunctionHook(name string, slot **shimmer.Function, wrapper shimmer.Wrapper) Hook {
	var (
		mu       sync.Mutex
		original *shimmer.Function
		shim     *shimmer.Function
	)
	return Hook{
		Name: name,
		Enable: func() error {
			mu.Lock()
			defer mu.Unlock()
			current := *slot
			var delegate *shimmer.Function
			if current != nil && wrapper != nil {
				delegate = wrapper(current)
			}
			s, err := shimmer.WrapFunc(current, delegate)
			if err != nil {
				return err
			}
			original, shim = current, s
			*slot = s
			return nil
		},
		Disable: func() error {
			mu.Lock()
			defer mu.Unlock()
			if shim == nil {
				return nil
			}
			shimmer.UnwrapFunc(shim)
			if *slot == shim {
				*slot = original
			}
			original, shim = nil, nil
			return nil
		},
	}
}
