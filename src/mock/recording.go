package mock

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
)

// Call is one recorded invocation on a Recording.
type Call struct {
	Method    string
	URL       string
	Protocols []string
	Code      int
	Reason    string
	Msg       []byte
	Err       error
}

// Recording wraps a connection and records every call made through it,
// plus every frame and event the wrapped connection produces.
type Recording struct {
	types.Connection

	mu       sync.Mutex
	calls    []Call
	received [][]byte
	events   []types.Event
	detach   []func()
}

// NewRecording starts recording inner.
func NewRecording(inner types.Connection) *Recording {
	r := &Recording{Connection: inner}
	r.detach = []func(){
		inner.Subscribe(func(msg []byte) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.received = append(r.received, bytes.Clone(msg))
			return nil
		}),
		inner.SubscribeToEvents(func(ev types.Event) error {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
			return nil
		}),
	}
	return r
}

func (r *Recording) Connect(ctx context.Context, url string, protocols ...string) error {
	err := r.Connection.Connect(ctx, url, protocols...)
	r.record(Call{Method: "Connect", URL: url, Protocols: slices.Clone(protocols), Err: err})
	return err
}

func (r *Recording) Disconnect(ctx context.Context, code int, reason string) error {
	err := r.Connection.Disconnect(ctx, code, reason)
	r.record(Call{Method: "Disconnect", Code: code, Reason: reason, Err: err})
	return err
}

func (r *Recording) Send(ctx context.Context, msg []byte) error {
	err := r.Connection.Send(ctx, msg)
	r.record(Call{Method: "Send", Msg: bytes.Clone(msg), Err: err})
	return err
}

func (r *Recording) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns every recorded call in order.
func (r *Recording) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

// Methods returns the method names of the recorded calls.
func (r *Recording) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Method
	}
	return out
}

// Sent returns the frames of successful Send calls.
func (r *Recording) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, c := range r.calls {
		if c.Method == "Send" && c.Err == nil {
			out = append(out, c.Msg)
		}
	}
	return out
}

// Received returns inbound frames seen on the wrapped connection.
func (r *Recording) Received() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.received)
}

// Events returns lifecycle events seen on the wrapped connection.
func (r *Recording) Events() []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// EventTypes returns the types of Events.
func (r *Recording) EventTypes() []types.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// Reset clears everything recorded so far.
func (r *Recording) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.received = nil
	r.events = nil
}

// Close stops recording inbound frames and events.
func (r *Recording) Close() {
	r.mu.Lock()
	detach := r.detach
	r.detach = nil
	r.mu.Unlock()
	for _, d := range detach {
		d()
	}
}
