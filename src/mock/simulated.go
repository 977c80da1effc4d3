// Package mock provides in-memory connections, a manual clock and a
// loopback WebSocket peer for exercising the messaging layer without a
// real network.
package mock

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/conn"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Simulated is an in-memory types.Connection. Everything happens
// synchronously on the calling goroutine.
type Simulated struct {
	tracker *conn.Tracker

	mu         sync.Mutex
	sent       [][]byte
	connectErr error
	sendErr    error
	reply      func(msg []byte) []byte
}

var _ types.Connection = (*Simulated)(nil)

// NewSimulated creates a disconnected simulated connection. A nil clock
// means the real clock.
func NewSimulated(logger zerolog.Logger, clk clock.Clock) *Simulated {
	return &Simulated{
		tracker: conn.NewTracker(logger.With().Str("component", "simulated").Logger(), clk),
	}
}

// Connect marks the connection up, unless a failure was armed with
// FailNextConnect.
func (s *Simulated) Connect(_ context.Context, url string, protocols ...string) error {
	s.mu.Lock()
	err := s.connectErr
	s.connectErr = nil
	s.mu.Unlock()

	if s.tracker.Connected() {
		return types.ErrAlreadyConnected
	}
	if err != nil {
		s.tracker.Fail(err)
		return err
	}
	if !s.tracker.MarkConnected(url, protocols) {
		return types.ErrAlreadyConnected
	}
	return nil
}

// Disconnect marks the connection down.
func (s *Simulated) Disconnect(_ context.Context, code int, reason string) error {
	if code == 0 {
		code = types.CloseNormal
	}
	s.tracker.MarkDisconnected(code, reason)
	return nil
}

// Send records msg and, if an auto-reply is set, delivers the reply
// before returning.
func (s *Simulated) Send(_ context.Context, msg []byte) error {
	if !s.tracker.Connected() {
		return types.ErrNotConnected
	}

	s.mu.Lock()
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		s.tracker.Fail(err)
		return err
	}
	s.sent = append(s.sent, bytes.Clone(msg))
	reply := s.reply
	s.mu.Unlock()

	s.tracker.RecordSend(len(msg))

	if reply != nil {
		if r := reply(msg); r != nil {
			s.tracker.Deliver(r)
		}
	}
	return nil
}

func (s *Simulated) Subscribe(h types.MessageHandler) func() { return s.tracker.Subscribe(h) }

func (s *Simulated) SubscribeToEvents(h types.EventHandler) func() {
	return s.tracker.SubscribeToEvents(h)
}

func (s *Simulated) State() types.State { return s.tracker.State() }
func (s *Simulated) Stats() types.Stats { return s.tracker.Stats() }
func (s *Simulated) ResetStats()        { s.tracker.ResetStats() }

// Receive injects an inbound frame as if it came from the peer.
func (s *Simulated) Receive(msg []byte) error {
	if !s.tracker.Connected() {
		return types.ErrNotConnected
	}
	s.tracker.Deliver(msg)
	return nil
}

// ReceiveString is Receive for text frames.
func (s *Simulated) ReceiveString(msg string) error {
	return s.Receive([]byte(msg))
}

// Drop simulates the peer closing the connection.
func (s *Simulated) Drop(code int, reason string) {
	s.tracker.MarkDisconnected(code, reason)
}

// Emit publishes a custom event to event subscribers.
func (s *Simulated) Emit(ev types.Event) {
	s.tracker.Emit(ev)
}

// FailNextConnect makes the next Connect call fail with err.
func (s *Simulated) FailNextConnect(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErr = err
}

// FailSends makes every Send fail with err until called with nil.
func (s *Simulated) FailSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// AutoReply installs fn as the peer. A non-nil return value is delivered
// back as an inbound frame.
func (s *Simulated) AutoReply(fn func(msg []byte) []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reply = fn
}

// AnswerPings makes the peer reply pong to every ping frame.
func (s *Simulated) AnswerPings(ping, pong string) {
	s.AutoReply(func(msg []byte) []byte {
		if string(msg) == ping {
			return []byte(pong)
		}
		return nil
	})
}

// Sent returns the frames accepted by Send, oldest first.
func (s *Simulated) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sent)
}

// SentStrings returns Sent as strings.
func (s *Simulated) SentStrings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, m := range s.sent {
		out[i] = string(m)
	}
	return out
}

// ClearSent forgets recorded frames.
func (s *Simulated) ClearSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
