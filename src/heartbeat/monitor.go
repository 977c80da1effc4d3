// Package heartbeat detects silently dead connections with a ping/pong
// probe: an interval timer paces pings and a deadline timer bounds how
// long a missing pong is tolerated before the connection is torn down.
package heartbeat

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// ErrTimeout is logged when a pong does not arrive in time.
var ErrTimeout = errors.New("heartbeat timeout")

// CloseCode is the close code used for a heartbeat-forced disconnect.
const CloseCode = 4000

// CloseReason accompanies CloseCode.
const CloseReason = "heartbeat timeout"

// Config configures a Monitor.
type Config struct {
	Enabled     bool
	Interval    time.Duration
	Timeout     time.Duration
	PingMessage []byte
	PongMessage []byte
}

// DefaultConfig returns an enabled configuration probing every 30s with a
// 10s grace period.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		PingMessage: []byte("PING"),
		PongMessage: []byte("PONG"),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if len(c.PingMessage) == 0 {
		c.PingMessage = d.PingMessage
	}
	if len(c.PongMessage) == 0 {
		c.PongMessage = d.PongMessage
	}
	return c
}

// session exists from Start until Stop or a fatal probe failure.
type session struct {
	interval clock.Timer
	deadline clock.Timer // nil unless a ping is awaiting its pong
	awaiting bool
	detach   func()
}

// cancel stops both timers and the message subscription.
func (s *session) cancel() {
	if s.interval != nil {
		s.interval.Stop()
	}
	if s.deadline != nil {
		s.deadline.Stop()
	}
	if s.detach != nil {
		s.detach()
	}
}

// Monitor probes one connection for liveness.
type Monitor struct {
	conn   types.Connection
	cfg    Config
	clock  clock.Clock
	logger zerolog.Logger

	mu      sync.Mutex
	session *session
}

// Option customises a Monitor.
type Option func(*Monitor)

// WithClock drives the monitor's timers from clk.
func WithClock(clk clock.Clock) Option {
	return func(m *Monitor) { m.clock = clk }
}

// New creates a stopped monitor for conn.
func New(conn types.Connection, cfg Config, logger zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		conn:   conn,
		cfg:    cfg.withDefaults(),
		clock:  clock.Real(),
		logger: logger.With().Str("component", "heartbeat").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config { return m.cfg }

// IsRunning reports whether a heartbeat session is active.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session != nil
}

// IsPong reports whether msg is the configured pong payload.
func (m *Monitor) IsPong(msg []byte) bool {
	return bytes.Equal(msg, m.cfg.PongMessage)
}

// Start begins probing. It is a no-op when already running or disabled.
func (m *Monitor) Start() {
	if !m.cfg.Enabled {
		return
	}

	m.mu.Lock()
	if m.session != nil {
		m.mu.Unlock()
		return
	}
	s := &session{}
	m.session = s
	s.interval = m.clock.AfterFunc(m.cfg.Interval, func() { m.tick(s) })
	m.mu.Unlock()

	// Subscribing outside the lock: the connection may deliver right away.
	detach := m.conn.Subscribe(func(msg []byte) error {
		if m.IsPong(msg) {
			m.acknowledge(s)
		}
		return nil
	})

	m.mu.Lock()
	if m.session == s {
		s.detach = detach
		detach = nil
	}
	m.mu.Unlock()
	if detach != nil {
		detach()
	}

	m.logger.Debug().
		Dur("interval", m.cfg.Interval).
		Dur("timeout", m.cfg.Timeout).
		Msg("heartbeat started")
}

// Stop cancels both timers. It never disconnects and is idempotent.
func (m *Monitor) Stop() {
	if m.end(nil) {
		m.logger.Debug().Msg("heartbeat stopped")
	}
}

// end clears the active session if it is want (or any session when want
// is nil) and cancels its timers. It reports whether a session ended.
func (m *Monitor) end(want *session) bool {
	m.mu.Lock()
	s := m.session
	if s == nil || (want != nil && s != want) {
		m.mu.Unlock()
		return false
	}
	m.session = nil
	m.mu.Unlock()

	s.cancel()
	return true
}

// tick fires once per interval.
func (m *Monitor) tick(s *session) {
	m.mu.Lock()
	if m.session != s {
		m.mu.Unlock()
		return
	}
	if s.awaiting {
		// The previous ping is still unanswered; no need to wait for its
		// own deadline.
		m.mu.Unlock()
		m.expire(s)
		return
	}
	s.awaiting = true
	s.deadline = m.clock.AfterFunc(m.cfg.Timeout, func() { m.expire(s) })
	s.interval = m.clock.AfterFunc(m.cfg.Interval, func() { m.tick(s) })
	m.mu.Unlock()

	if err := m.conn.Send(context.Background(), m.cfg.PingMessage); err != nil {
		m.logger.Warn().Err(err).Msg("ping failed, stopping heartbeat")
		m.end(s)
	}
}

// acknowledge handles a pong.
func (m *Monitor) acknowledge(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != s || !s.awaiting {
		return
	}
	s.awaiting = false
	if s.deadline != nil {
		s.deadline.Stop()
		s.deadline = nil
	}
}

// expire ends the session and force-disconnects the connection.
func (m *Monitor) expire(s *session) {
	m.mu.Lock()
	if m.session != s || !s.awaiting {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.mu.Unlock()

	s.cancel()
	m.logger.Warn().Err(ErrTimeout).Dur("timeout", m.cfg.Timeout).Msg("no pong received, disconnecting")

	if err := m.conn.Disconnect(context.Background(), CloseCode, CloseReason); err != nil {
		m.logger.Error().Err(err).Msg("heartbeat disconnect failed")
	}
}
