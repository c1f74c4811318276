// Package channel is an in-process publish/subscribe bus that instrumentation
// hooks publish to and tracers subscribe to. A channel can additionally bind
// storages so that RunStores publishes and runs a callback with per-message
// values entered on the caller's stack.
package channel

import (
	"fmt"
	"sync"

	"github.com/will-bank/dd-trace-deno-sub001/core"
	"github.com/will-bank/dd-trace-deno-sub001/storage"
)

// Subscriber receives every message published on a channel.
type Subscriber func(msg any, name string)

type subscription struct {
	fn Subscriber
}

// binding maps a message onto the value stored under key
type binding struct {
	key       *storage.Key
	transform func(msg any) any
}

// Channel is a named topic. Channels are obtained with Get and live for the
// whole process.
type Channel struct {
	name string

	mu     sync.RWMutex
	subs   []*subscription
	stores []*binding
}

var (
	channelsMu sync.Mutex
	channels   = make(map[string]*Channel)
)

// Get returns the channel registered under name, creating it on first use.
func Get(name string) *Channel {
	channelsMu.Lock()
	defer channelsMu.Unlock()
	ch, ok := channels[name]
	if !ok {
		ch = &Channel{name: name}
		channels[name] = ch
	}
	return ch
}

// Name returns the channel name
func (c *Channel) Name() string {
	return c.name
}

// Subscribe adds fn and returns a function that removes it again.
func (c *Channel) Subscribe(fn Subscriber) (unsubscribe func()) {
	s := &subscription{fn: fn}
	c.mu.Lock()
	c.subs = append(c.subs, s)
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, cur := range c.subs {
				if cur == s {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// HasSubscribers reports whether publishing would reach anyone: a subscriber
// or a bound store.
func (c *Channel) HasSubscribers() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs) > 0 || len(c.stores) > 0
}

// Publish delivers msg to every subscriber in subscription order. A panicking
// subscriber is logged and skipped; it never reaches the publisher.
func (c *Channel) Publish(msg any) {
	c.mu.RLock()
	subs := c.subs
	c.mu.RUnlock()

	for _, s := range subs {
		c.deliver(s, msg)
	}
}

func (c *Channel) deliver(s *subscription, msg any) {
	defer func() {
		if r := recover(); r != nil {
			core.Counter(core.MetricSubscriberPanics, "channel", c.name)
			core.GetLogger().Error("Channel subscriber panicked", map[string]interface{}{
				"channel": c.name,
				"error":   fmt.Sprint(r),
			})
		}
	}()
	s.fn(msg, c.name)
}

// BindStore makes RunStores bind transform(msg) in s for the duration of the
// run. A nil transform stores the message itself, which must then be a T.
// Binding the same storage again replaces the transform.
func BindStore[T any](c *Channel, s *storage.Storage[T], transform func(msg any) T) {
	b := &binding{key: s.Key()}
	if transform == nil {
		b.transform = func(msg any) any { return msg }
	} else {
		b.transform = func(msg any) any { return transform(msg) }
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.stores {
		if cur.key == b.key {
			c.stores[i] = b
			return
		}
	}
	c.stores = append(c.stores, b)
}

// UnbindStore removes the binding for s. It reports whether one existed.
func UnbindStore[T any](c *Channel, s *storage.Storage[T]) bool {
	key := s.Key()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, cur := range c.stores {
		if cur.key == key {
			c.stores = append(c.stores[:i:i], c.stores[i+1:]...)
			return true
		}
	}
	return false
}

// RunStores enters a frame binding every bound store's value for msg,
// publishes msg and calls fn inside that frame. The frame is exited on every
// path. With no bound stores it is Publish followed by fn.
func (c *Channel) RunStores(st *storage.Stack, msg any, fn func() error) error {
	f, ok := c.storesFrame(st, msg)
	if !ok {
		c.Publish(msg)
		return fn()
	}
	return st.Run(f, func() error {
		c.Publish(msg)
		return fn()
	})
}

// storesFrame derives a frame from st's current one binding the bound
// stores' values for msg. ok is false when no store is bound.
func (c *Channel) storesFrame(st *storage.Stack, msg any) (f *storage.Frame, ok bool) {
	c.mu.RLock()
	stores := c.stores
	c.mu.RUnlock()

	if len(stores) == 0 {
		return nil, false
	}
	f = st.Current()
	for _, b := range stores {
		if b.key.Dead() {
			continue
		}
		f = storage.Create(f, &storage.Entry{Key: b.key, Value: b.transform(msg)})
	}
	return f, true
}
