package types

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Connection errors.
var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// CloseNormal is the close code used when Disconnect is called with code 0.
const CloseNormal = 1000

// Status is the coarse lifecycle state of a connection.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnected    Status = "connected"
)

// State is a snapshot of a connection's lifecycle. It is replaced on every
// transition and never mutated after being handed out.
type State struct {
	Status      Status    `json:"status"`
	URL         string    `json:"url,omitempty"`
	Protocols   []string  `json:"protocols,omitempty"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	LastError   error     `json:"-"`
}

// Connected reports whether the snapshot is in the connected status.
func (s State) Connected() bool { return s.Status == StatusConnected }

// Clone returns a copy that shares no memory with s.
func (s State) Clone() State {
	s.Protocols = slices.Clone(s.Protocols)
	return s
}

// Stats holds accumulated traffic counters for a connection.
type Stats struct {
	MessagesSent     int64         `json:"messages_sent"`
	MessagesReceived int64         `json:"messages_received"`
	BytesSent        int64         `json:"bytes_sent"`
	BytesReceived    int64         `json:"bytes_received"`
	Errors           int64         `json:"errors"`
	Uptime           time.Duration `json:"uptime"`
}

// EventType tags a lifecycle event. Transports may emit custom types
// beyond the three defined here.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
)

// Event is a lifecycle notification delivered to event subscribers.
type Event struct {
	Type   EventType
	URL    string // connected
	Code   int    // disconnected
	Reason string // disconnected
	Err    error  // error
	Data   any    // custom events
}

// Envelope is the JSON shape used for channel-addressed messages.
type Envelope struct {
	Channel   string    `json:"channel"`
	Event     string    `json:"event,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp,omitzero"`
}

// MessageHandler receives inbound frames.
type MessageHandler func(msg []byte) error

// EventHandler receives lifecycle events.
type EventHandler func(ev Event) error

// Connection is a message-oriented duplex session with observable
// lifecycle and traffic counters.
type Connection interface {
	// Connect opens the session. It fails with ErrAlreadyConnected when
	// the connection is already up.
	Connect(ctx context.Context, url string, protocols ...string) error

	// Disconnect closes the session. It is a no-op when already
	// disconnected. A zero code is sent as CloseNormal.
	Disconnect(ctx context.Context, code int, reason string) error

	// Send writes one frame. It fails with ErrNotConnected when the
	// connection is down.
	Send(ctx context.Context, msg []byte) error

	// Subscribe registers a handler for inbound frames and returns a
	// function that removes it. The returned function is idempotent.
	Subscribe(h MessageHandler) (unsubscribe func())

	// SubscribeToEvents registers a handler for lifecycle events.
	SubscribeToEvents(h EventHandler) (unsubscribe func())

	State() State
	Stats() Stats

	// ResetStats zeroes the counters and clears LastError. It never
	// changes the connection status.
	ResetStats()
}
