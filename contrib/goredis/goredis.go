// Package goredis publishes go-redis commands on tracing channels.
//
// The hook is added to a client once and switched on and off through an
// instrument.Registry, since go-redis offers no way to remove a hook:
//
//	h, err := goredis.Register(instrument.Default(), client)
//	...
//	instrument.Default().EnableAll()
//
// Commands run on a fork of the storage.Stack found in the command's context
// (see storage.WithStack), so spans of the surrounding operation become their
// parents and concurrent commands never share a stack. Without one each
// command gets an empty stack of its own.
package goredis

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/go-redis/redis/v8"

	"github.com/will-bank/dd-trace-deno-sub001/channel"
	"github.com/will-bank/dd-trace-deno-sub001/instrument"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

// HookName is the instrument.Registry name of the hook
const HookName = "go-redis"

// Tracing channel names
const (
	ChannelCommand  = "go-redis.command"
	ChannelPipeline = "go-redis.pipeline"
)

// Hook implements redis.Hook
type Hook struct {
	commands  *channel.TracingChannel
	pipelines *channel.TracingChannel
	addr      string
	enabled   atomic.Bool
}

var _ redis.Hook = (*Hook)(nil)

// Option configures a Hook
type Option func(*Hook)

// WithAddr records the server address on every event
func WithAddr(addr string) Option {
	return func(h *Hook) {
		h.addr = addr
	}
}

// NewHook creates a disabled hook.
func NewHook(opts ...Option) *Hook {
	h := &Hook{
		commands:  channel.NewTracingChannel(ChannelCommand),
		pipelines: channel.NewTracingChannel(ChannelPipeline),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds a disabled hook to client and registers it with r under
// HookName.
func Register(r *instrument.Registry, client redis.UniversalClient, opts ...Option) (*Hook, error) {
	h := NewHook(opts...)
	if err := r.Register(h.InstrumentHook()); err != nil {
		return nil, err
	}
	client.AddHook(h)
	return h, nil
}

// InstrumentHook returns the registry entry toggling h
func (h *Hook) InstrumentHook() instrument.Hook {
	return instrument.Hook{
		Name: HookName,
		Enable: func() error {
			h.enabled.Store(true)
			return nil
		},
		Disable: func() error {
			h.enabled.Store(false)
			return nil
		},
	}
}

// Enabled reports whether commands are published
func (h *Hook) Enabled() bool {
	return h.enabled.Load()
}

type finishKey struct{}

func (h *Hook) begin(ctx context.Context, tc *channel.TracingChannel, name string, data map[string]any) context.Context {
	if !h.enabled.Load() || !tc.HasSubscribers() {
		return ctx
	}
	// commands may run concurrently under one context; each gets a private
	// stack seeded with the frame current in the caller's
	var st *storage.Stack
	if parent, ok := storage.StackFromContext(ctx); ok {
		st = storage.Fork(parent)
	} else {
		st = storage.NewStack()
	}
	data["db.system"] = "redis"
	if h.addr != "" {
		data["net.peer.name"] = h.addr
	}
	finish := tc.Begin(st, &channel.Event{Name: name, Data: data, Ctx: ctx})
	return context.WithValue(ctx, finishKey{}, finish)
}

func end(ctx context.Context, result any, err error) {
	finish, ok := ctx.Value(finishKey{}).(func(any, error))
	if !ok {
		return
	}
	if errors.Is(err, redis.Nil) {
		err = nil
	}
	finish(result, err)
}

// BeforeProcess implements redis.Hook
func (h *Hook) BeforeProcess(ctx context.Context, cmd redis.Cmder) (context.Context, error) {
	return h.begin(ctx, h.commands, "redis."+cmd.Name(), map[string]any{
		"db.operation": strings.ToUpper(cmd.Name()),
		"db.statement": statement(cmd),
	}), nil
}

// AfterProcess implements redis.Hook
func (h *Hook) AfterProcess(ctx context.Context, cmd redis.Cmder) error {
	end(ctx, cmd, cmd.Err())
	return nil
}

// BeforeProcessPipeline implements redis.Hook
func (h *Hook) BeforeProcessPipeline(ctx context.Context, cmds []redis.Cmder) (context.Context, error) {
	names := make([]string, len(cmds))
	for i, cmd := range cmds {
		names[i] = strings.ToUpper(cmd.Name())
	}
	return h.begin(ctx, h.pipelines, "redis.pipeline", map[string]any{
		"db.operation":             "PIPELINE",
		"db.statement":             strings.Join(names, "\n"),
		"db.redis.pipeline_length": len(cmds),
	}), nil
}

// AfterProcessPipeline implements redis.Hook
func (h *Hook) AfterProcessPipeline(ctx context.Context, cmds []redis.Cmder) error {
	var err error
	for _, cmd := range cmds {
		if cmdErr := cmd.Err(); cmdErr != nil && !errors.Is(cmdErr, redis.Nil) {
			err = cmdErr
			break
		}
	}
	end(ctx, cmds, err)
	return nil
}

// statement renders the command name and its key; values are left out.
func statement(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) > 1 {
		if key, ok := args[1].(string); ok {
			return strings.ToUpper(cmd.Name()) + " " + key
		}
	}
	return strings.ToUpper(cmd.Name())
}
