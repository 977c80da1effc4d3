// Package router demultiplexes one inbound message stream into
// independently subscribable channels.
package router

import (
	"slices"
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Extractor returns the channel key of a message. ok is false when the
// message belongs to no channel.
type Extractor func(msg []byte) (key string, ok bool)

// Listener receives the messages of one channel.
type Listener func(msg []byte) error

type listenerEntry struct {
	id uint64
	fn Listener
}

// Stats contains dispatch statistics.
type Stats struct {
	Received  int64 // messages seen while attached
	Unrouted  int64 // no key, or no listener for the key
	Delivered int64 // listener invocations
	Failures  int64 // listener errors and panics
}

// Router fans inbound messages out to the listeners of their channel.
// It only holds a subscription on the connection while at least one
// listener exists.
type Router struct {
	conn    types.Connection
	extract Extractor
	logger  zerolog.Logger

	mu        sync.Mutex
	channels  map[string][]listenerEntry
	order     []string // channel keys in first-subscription order
	nextID    uint64
	detach    func() // non-nil while attached to conn
	attaching bool
	stats     Stats
}

// New creates a router over conn. Nothing is subscribed on conn until the
// first listener is added.
func New(conn types.Connection, extract Extractor, logger zerolog.Logger) *Router {
	return &Router{
		conn:     conn,
		extract:  extract,
		logger:   logger.With().Str("component", "router").Logger(),
		channels: make(map[string][]listenerEntry),
	}
}

// Subscribe adds l to channel and returns a function removing exactly
// that listener. Calling the function more than once is a no-op.
func (r *Router) Subscribe(channel string, l Listener) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	if _, ok := r.channels[channel]; !ok {
		r.order = append(r.order, channel)
	}
	r.channels[channel] = append(r.channels[channel], listenerEntry{id: id, fn: l})
	attach := r.detach == nil && !r.attaching
	if attach {
		r.attaching = true
	}
	r.mu.Unlock()

	if attach {
		r.attach()
	}
	return func() { r.remove(channel, id) }
}

// attach subscribes to the connection. The registry may have emptied
// while the subscription was being made, in which case it is undone.
func (r *Router) attach() {
	detach := r.conn.Subscribe(r.dispatch)

	r.mu.Lock()
	r.attaching = false
	if len(r.channels) == 0 {
		r.mu.Unlock()
		detach()
		return
	}
	r.detach = detach
	r.mu.Unlock()
	r.logger.Debug().Msg("attached to connection")
}

// Unsubscribe removes every listener of channel.
func (r *Router) Unsubscribe(channel string) {
	r.mu.Lock()
	if _, ok := r.channels[channel]; !ok {
		r.mu.Unlock()
		return
	}
	r.dropChannel(channel)
	detach := r.detachIfIdle()
	r.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// Clear removes every channel and detaches from the connection.
func (r *Router) Clear() {
	r.mu.Lock()
	r.channels = make(map[string][]listenerEntry)
	r.order = nil
	detach := r.detachIfIdle()
	r.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// Channels returns the keys with at least one listener, in the order
// they were first subscribed.
func (r *Router) Channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.order)
}

// ListenerCount returns the number of listeners on channel.
func (r *Router) ListenerCount(channel string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels[channel])
}

// Attached reports whether the router holds a subscription on the
// connection.
func (r *Router) Attached() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.detach != nil
}

// Stats returns dispatch statistics.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Router) remove(channel string, id uint64) {
	r.mu.Lock()
	entries := r.channels[channel]
	i := slices.IndexFunc(entries, func(e listenerEntry) bool { return e.id == id })
	if i < 0 {
		r.mu.Unlock()
		return
	}
	entries = slices.Delete(entries, i, i+1)
	if len(entries) == 0 {
		r.dropChannel(channel)
	} else {
		r.channels[channel] = entries
	}
	detach := r.detachIfIdle()
	r.mu.Unlock()

	if detach != nil {
		detach()
	}
}

// dropChannel deletes channel from the registry. Must be called with
// r.mu held.
func (r *Router) dropChannel(channel string) {
	delete(r.channels, channel)
	r.order = slices.DeleteFunc(r.order, func(k string) bool { return k == channel })
}

// detachIfIdle returns the connection unsubscribe function if the
// registry became empty. Must be called with r.mu held.
func (r *Router) detachIfIdle() func() {
	if len(r.channels) > 0 || r.detach == nil {
		return nil
	}
	d := r.detach
	r.detach = nil
	r.logger.Debug().Msg("detached from connection")
	return d
}

// dispatch routes one inbound message.
func (r *Router) dispatch(msg []byte) error {
	key, ok := r.extract(msg)

	r.mu.Lock()
	r.stats.Received++
	var entries []listenerEntry
	if ok && key != "" {
		entries = slices.Clone(r.channels[key])
	}
	if len(entries) == 0 {
		r.stats.Unrouted++
	}
	r.mu.Unlock()

	for _, e := range entries {
		r.invoke(key, e.fn, msg)
	}
	return nil
}

// invoke runs one listener so that its error or panic cannot reach the
// other listeners.
func (r *Router) invoke(channel string, fn Listener, msg []byte) {
	failed := true
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("channel", channel).Msg("listener panicked")
		}
		r.mu.Lock()
		r.stats.Delivered++
		if failed {
			r.stats.Failures++
		}
		r.mu.Unlock()
	}()

	if err := fn(msg); err != nil {
		r.logger.Error().Err(err).Str("channel", channel).Msg("listener failed")
		return
	}
	failed = false
}
