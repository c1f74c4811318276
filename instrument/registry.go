// Package instrument installs and removes hooks. It is where failures of
// individual hooks are contained: a hook that errors or panics while being
// enabled is logged, counted and reported, and the others keep going.
package instrument

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/will-bank/dd-trace-deno-sub001/core"
)

// Hook is one installable piece of instrumentation.
type Hook struct {
	Name    string
	Enable  func() error
	Disable func() error
}

type entry struct {
	hook    Hook
	enabled bool
}

// Registry tracks registered hooks in registration order.
type Registry struct {
	cfg    *core.Config
	logger core.Logger

	mu    sync.Mutex
	hooks map[string]*entry
	order []string
}

// NewRegistry creates an empty registry. A nil cfg means DefaultConfig, a
// nil logger the core logger.
func NewRegistry(cfg *core.Config, logger core.Logger) *Registry {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Registry{
		cfg:    cfg,
		logger: logger,
		hooks:  make(map[string]*entry),
	}
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry configured from the environment.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		cfg, err := core.NewConfig()
		if err != nil {
			core.GetLogger().Warn("Invalid instrumentation configuration, using defaults", map[string]interface{}{
				"error": err.Error(),
			})
			cfg = core.DefaultConfig()
		}
		defaultRegistry = NewRegistry(cfg, nil)
	})
	return defaultRegistry
}

// Register adds h. Names must be unique and non-empty.
func (r *Registry) Register(h Hook) error {
	const op = "instrument.Register"
	if h.Name == "" || h.Enable == nil {
		return &core.InstrumentationError{Op: op, Kind: "hook", ID: h.Name, Err: core.ErrInvalidArgument}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.hooks[h.Name]; exists {
		return &core.InstrumentationError{Op: op, Kind: "hook", ID: h.Name, Err: core.ErrHookAlreadyRegistered}
	}
	r.hooks[h.Name] = &entry{hook: h}
	r.order = append(r.order, h.Name)
	return nil
}

// Names returns the registered hook names in registration order
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...)
}

// Enabled reports whether the named hook is currently enabled
func (r *Registry) Enabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.hooks[name]
	return ok && e.enabled
}

// Enable installs the named hook. Enabling an enabled hook is a no-op.
// Hooks switched off by configuration fail with ErrHookDisabled.
func (r *Registry) Enable(name string) error {
	const op = "instrument.Enable"
	e, err := r.lookup(op, name)
	if err != nil {
		return err
	}
	if r.cfg.HookDisabled(name) {
		return &core.InstrumentationError{Op: op, Kind: "hook", ID: name, Err: core.ErrHookDisabled}
	}
	if r.Enabled(name) {
		return nil
	}

	// hooks run without the lock so they may use the registry themselves
	if err := r.call(op, name, e.hook.Enable); err != nil {
		return err
	}
	r.setEnabled(name, true)

	core.Counter(core.MetricHookEnabled, "hook", name)
	r.logger.Info("Hook enabled", map[string]interface{}{
		"hook": name,
	})
	return nil
}

// Disable removes the named hook. Disabling a disabled hook is a no-op.
func (r *Registry) Disable(name string) error {
	const op = "instrument.Disable"
	e, err := r.lookup(op, name)
	if err != nil {
		return err
	}
	if !r.Enabled(name) {
		return nil
	}
	if e.hook.Disable != nil {
		if err := r.call(op, name, e.hook.Disable); err != nil {
			return err
		}
	}
	r.setEnabled(name, false)

	r.logger.Info("Hook disabled", map[string]interface{}{
		"hook": name,
	})
	return nil
}

// EnableAll enables every registered hook that configuration allows. A
// failing hook does not stop the others; all failures are returned together.
func (r *Registry) EnableAll() error {
	if !r.cfg.Instrumentation.Enabled {
		r.logger.Info("Instrumentation disabled by configuration", nil)
		return nil
	}

	var result *multierror.Error
	for _, name := range r.Names() {
		if r.cfg.HookDisabled(name) {
			r.logger.Debug("Skipping hook disabled by configuration", map[string]interface{}{
				"hook": name,
			})
			continue
		}
		if err := r.Enable(name); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// DisableAll disables every enabled hook, newest first.
func (r *Registry) DisableAll() error {
	names := r.Names()
	var result *multierror.Error
	for i := len(names) - 1; i >= 0; i-- {
		if err := r.Disable(names[i]); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (r *Registry) lookup(op, name string) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.hooks[name]
	if !ok {
		return nil, &core.InstrumentationError{Op: op, Kind: "hook", ID: name, Err: core.ErrHookNotFound}
	}
	return e, nil
}

func (r *Registry) setEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.hooks[name]; ok {
		e.enabled = enabled
	}
}

// call runs fn, turning a returned error or a panic into a logged and
// counted hook failure.
func (r *Registry) call(op, name string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", core.ErrHookPanicked, p)
		}
		if err != nil {
			core.Counter(core.MetricHookFailures, "hook", name, "op", op)
			r.logger.Error("Hook failed", map[string]interface{}{
				"hook":  name,
				"op":    op,
				"error": err.Error(),
			})
			err = &core.InstrumentationError{Op: op, Kind: "hook", ID: name, Err: err}
		}
	}()
	return fn()
}
