// Package conn provides the shared bookkeeping for Connection
// implementations and the WebSocket transport.
package conn

import (
	"slices"
	"sync"

	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

type messageEntry struct {
	id uint64
	h  types.MessageHandler
}

type eventEntry struct {
	id uint64
	h  types.EventHandler
}

// Tracker owns the state, counters and listener lists of one connection.
// Transports embed the lifecycle into it and delegate the observable half
// of types.Connection to it.
type Tracker struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	state    types.State
	stats    types.Stats
	nextID   uint64
	messages []messageEntry
	events   []eventEntry
}

// NewTracker creates a tracker in the disconnected state.
func NewTracker(logger zerolog.Logger, clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real()
	}
	return &Tracker{
		clock:  clk,
		logger: logger,
		state:  types.State{Status: types.StatusDisconnected},
	}
}

// State returns a snapshot of the current state.
func (t *Tracker) State() types.State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Clone()
}

// Connected reports whether the tracked connection is up.
func (t *Tracker) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Connected()
}

// Stats returns the counters with uptime derived from the clock.
func (t *Tracker) Stats() types.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	if t.state.Connected() {
		s.Uptime = t.clock.Now().Sub(t.state.ConnectedAt)
	}
	return s
}

// ResetStats zeroes the counters and clears the last error. A live
// connection keeps its status, URL and protocols, and uptime restarts
// from now; a disconnected one is cleared entirely.
func (t *Tracker) ResetStats() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats = types.Stats{}
	if t.state.Connected() {
		t.state.LastError = nil
		t.state.ConnectedAt = t.clock.Now()
		return
	}
	t.state = types.State{Status: types.StatusDisconnected}
}

// Subscribe registers a message handler.
func (t *Tracker) Subscribe(h types.MessageHandler) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.messages = append(t.messages, messageEntry{id: id, h: h})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.messages = slices.DeleteFunc(t.messages, func(e messageEntry) bool { return e.id == id })
	}
}

// SubscribeToEvents registers an event handler.
func (t *Tracker) SubscribeToEvents(h types.EventHandler) func() {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.events = append(t.events, eventEntry{id: id, h: h})
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.events = slices.DeleteFunc(t.events, func(e eventEntry) bool { return e.id == id })
	}
}

// MarkConnected records a successful connect and emits a connected event.
// It returns false, without side effects, if already connected.
func (t *Tracker) MarkConnected(url string, protocols []string) bool {
	t.mu.Lock()
	if t.state.Connected() {
		t.mu.Unlock()
		return false
	}
	t.state = types.State{
		Status:      types.StatusConnected,
		URL:         url,
		Protocols:   slices.Clone(protocols),
		ConnectedAt: t.clock.Now(),
		LastError:   t.state.LastError,
	}
	t.mu.Unlock()

	t.logger.Debug().Str("url", url).Msg("connected")
	t.Emit(types.Event{Type: types.EventConnected, URL: url})
	return true
}

// MarkDisconnected records a disconnect and emits a disconnected event.
// It returns false, without side effects, if already disconnected.
func (t *Tracker) MarkDisconnected(code int, reason string) bool {
	t.mu.Lock()
	if !t.state.Connected() {
		t.mu.Unlock()
		return false
	}
	t.state = types.State{
		Status:    types.StatusDisconnected,
		LastError: t.state.LastError,
	}
	t.mu.Unlock()

	t.logger.Debug().Int("code", code).Str("reason", reason).Msg("disconnected")
	t.Emit(types.Event{Type: types.EventDisconnected, Code: code, Reason: reason})
	return true
}

// Fail records a transport error and emits an error event.
func (t *Tracker) Fail(err error) {
	t.mu.Lock()
	t.stats.Errors++
	t.state.LastError = err
	t.mu.Unlock()

	t.Emit(types.Event{Type: types.EventError, Err: err})
}

// RecordSend counts one successfully written frame of n bytes.
func (t *Tracker) RecordSend(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stats.MessagesSent++
	t.stats.BytesSent += int64(n)
}

// Deliver counts an inbound frame and hands it to every message handler
// in subscription order.
func (t *Tracker) Deliver(msg []byte) {
	t.mu.Lock()
	t.stats.MessagesReceived++
	t.stats.BytesReceived += int64(len(msg))
	handlers := slices.Clone(t.messages)
	t.mu.Unlock()

	for _, e := range handlers {
		t.invoke("message", func() error { return e.h(msg) })
	}
}

// Emit hands an event to every event handler in subscription order.
func (t *Tracker) Emit(ev types.Event) {
	t.mu.Lock()
	handlers := slices.Clone(t.events)
	t.mu.Unlock()

	for _, e := range handlers {
		t.invoke(string(ev.Type), func() error { return e.h(ev) })
	}
}

// invoke runs one listener, logging its error or panic.
func (t *Tracker) invoke(kind string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error().Interface("panic", r).Str("listener", kind).Msg("listener panicked")
		}
	}()
	if err := fn(); err != nil {
		t.logger.Error().Err(err).Str("listener", kind).Msg("listener failed")
	}
}
