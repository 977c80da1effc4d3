package conn

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/clock"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Binary           bool        // send binary frames instead of text
	Header           http.Header // extra handshake headers
	Clock            clock.Clock // nil means the real clock
}

// DefaultWebSocketConfig returns the transport defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// wsSession is one dialed socket. A new session is created per Connect.
type wsSession struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	closing atomic.Bool
}

// WebSocket is a types.Connection over a client WebSocket.
type WebSocket struct {
	cfg     WebSocketConfig
	logger  zerolog.Logger
	tracker *Tracker

	mu      sync.Mutex
	session *wsSession
	dialing bool
}

var _ types.Connection = (*WebSocket)(nil)

// NewWebSocket creates a disconnected WebSocket connection.
func NewWebSocket(cfg WebSocketConfig, logger zerolog.Logger) *WebSocket {
	logger = logger.With().Str("component", "websocket").Logger()
	return &WebSocket{
		cfg:     cfg,
		logger:  logger,
		tracker: NewTracker(logger, cfg.Clock),
	}
}

// Connect dials url, offering protocols as sub-protocols.
func (w *WebSocket) Connect(ctx context.Context, url string, protocols ...string) error {
	w.mu.Lock()
	if w.session != nil || w.dialing {
		w.mu.Unlock()
		return types.ErrAlreadyConnected
	}
	w.dialing = true
	w.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: w.cfg.HandshakeTimeout,
		Subprotocols:     protocols,
	}
	c, resp, err := dialer.DialContext(ctx, url, w.cfg.Header.Clone())
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	w.mu.Lock()
	w.dialing = false
	if err != nil {
		w.mu.Unlock()
		w.tracker.Fail(err)
		return fmt.Errorf("dial %s: %w", url, err)
	}
	s := &wsSession{id: uuid.New().String(), conn: c}
	w.session = s
	w.mu.Unlock()

	w.logger.Info().
		Str("session_id", s.id).
		Str("url", url).
		Str("subprotocol", c.Subprotocol()).
		Msg("websocket connected")

	w.tracker.MarkConnected(url, protocols)
	go w.readLoop(s)
	return nil
}

// Disconnect sends a close frame and tears the socket down.
func (w *WebSocket) Disconnect(ctx context.Context, code int, reason string) error {
	w.mu.Lock()
	s := w.session
	w.session = nil
	w.mu.Unlock()

	if s == nil {
		return nil
	}
	if code == 0 {
		code = types.CloseNormal
	}
	s.closing.Store(true)

	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, w.deadline(ctx)); err != nil {
		w.logger.Debug().Err(err).Str("session_id", s.id).Msg("close frame not sent")
	}
	err := s.conn.Close()

	w.tracker.MarkDisconnected(code, reason)
	w.logger.Info().Str("session_id", s.id).Int("code", code).Msg("websocket disconnected")

	if err != nil {
		return fmt.Errorf("close socket: %w", err)
	}
	return nil
}

// Send writes msg as a single frame.
func (w *WebSocket) Send(ctx context.Context, msg []byte) error {
	w.mu.Lock()
	s := w.session
	w.mu.Unlock()

	if s == nil || s.closing.Load() {
		return types.ErrNotConnected
	}

	frame := websocket.TextMessage
	if w.cfg.Binary {
		frame = websocket.BinaryMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(w.deadline(ctx))
	if err := s.conn.WriteMessage(frame, msg); err != nil {
		w.tracker.Fail(err)
		return fmt.Errorf("write frame: %w", err)
	}
	w.tracker.RecordSend(len(msg))
	return nil
}

// Subprotocol returns the sub-protocol the server selected, if any.
func (w *WebSocket) Subprotocol() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return ""
	}
	return w.session.conn.Subprotocol()
}

func (w *WebSocket) Subscribe(h types.MessageHandler) func() { return w.tracker.Subscribe(h) }

func (w *WebSocket) SubscribeToEvents(h types.EventHandler) func() {
	return w.tracker.SubscribeToEvents(h)
}

func (w *WebSocket) State() types.State { return w.tracker.State() }
func (w *WebSocket) Stats() types.Stats { return w.tracker.Stats() }
func (w *WebSocket) ResetStats()        { w.tracker.ResetStats() }

// readLoop delivers inbound frames until the socket fails or is closed
// locally.
func (w *WebSocket) readLoop(s *wsSession) {
	for {
		_, data, err := s.conn.ReadMessage()
		if s.closing.Load() {
			return
		}
		if err != nil {
			w.lost(s, err)
			return
		}
		w.tracker.Deliver(data)
	}
}

// lost handles a session that ended without a local Disconnect.
func (w *WebSocket) lost(s *wsSession, err error) {
	w.mu.Lock()
	if w.session == s {
		w.session = nil
	}
	w.mu.Unlock()
	s.closing.Store(true)
	s.conn.Close()

	code, reason := websocket.CloseAbnormalClosure, err.Error()
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		code, reason = ce.Code, ce.Text
	} else {
		w.tracker.Fail(err)
	}

	w.logger.Warn().
		Err(err).
		Str("session_id", s.id).
		Int("code", code).
		Msg("websocket lost")
	w.tracker.MarkDisconnected(code, reason)
}

// deadline picks the earlier of the write timeout and the context deadline.
// A zero result means no deadline.
func (w *WebSocket) deadline(ctx context.Context) time.Time {
	var d time.Time
	if w.cfg.WriteTimeout > 0 {
		d = time.Now().Add(w.cfg.WriteTimeout)
	}
	if cd, ok := ctx.Deadline(); ok && (d.IsZero() || cd.Before(d)) {
		return cd
	}
	return d
}
