package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/heartbeat"
	"github.com/orchestra-mcp/realtime/src/queue"
	"github.com/orchestra-mcp/realtime/src/router"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Service provides the high-level messaging client API: a transport
// decorated with a heartbeat, an outbound queue and a channel router.
type Service struct {
	transport types.Connection
	heartbeat *heartbeat.Connection
	queue     *queue.Connection
	routed    *router.Connection
	logger    zerolog.Logger
}

// New assembles transport -> heartbeat -> queue -> router. A nil extract
// routes on the "channel" field of JSON frames.
func New(transport types.Connection, cfg *config.ClientConfig, extract router.Extractor, logger zerolog.Logger, opts ...heartbeat.Option) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if extract == nil {
		extract = router.JSONField("channel")
	}

	hb := heartbeat.Wrap(transport, cfg.Heartbeat(), logger, opts...)
	q := queue.Wrap(hb, cfg.QueueMaxSize, logger)
	routed := router.Wrap(q, extract, logger)

	return &Service{
		transport: transport,
		heartbeat: hb,
		queue:     q,
		routed:    routed,
		logger:    logger.With().Str("component", "service").Logger(),
	}
}

// Connection returns the outermost decorated connection.
func (s *Service) Connection() types.Connection { return s.routed }

// Router returns the channel router.
func (s *Service) Router() *router.Router { return s.routed.Router() }

// Connect opens the transport.
func (s *Service) Connect(ctx context.Context, url string, protocols ...string) error {
	if err := s.routed.Connect(ctx, url, protocols...); err != nil {
		return fmt.Errorf("connect %s: %w", url, err)
	}
	return nil
}

// Disconnect closes the transport normally.
func (s *Service) Disconnect(ctx context.Context) error {
	return s.routed.Disconnect(ctx, types.CloseNormal, "client disconnect")
}

// Send writes a raw frame, queueing it while disconnected.
func (s *Service) Send(ctx context.Context, msg []byte) error {
	return s.routed.Send(ctx, msg)
}

// Publish sends data on channel as a JSON envelope.
func (s *Service) Publish(ctx context.Context, channel string, data any) error {
	msg, err := json.Marshal(types.Envelope{
		Channel:   channel,
		Event:     "message",
		Data:      data,
		Timestamp: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return s.Send(ctx, msg)
}

// Subscribe adds a listener to a channel.
func (s *Service) Subscribe(channel string, l router.Listener) func() {
	unsubscribe := s.Router().Subscribe(channel, l)
	s.logger.Debug().Str("channel", channel).Msg("subscribed")
	return unsubscribe
}

// Unsubscribe removes every listener from a channel.
func (s *Service) Unsubscribe(channel string) {
	s.Router().Unsubscribe(channel)
	s.logger.Debug().Str("channel", channel).Msg("unsubscribed")
}

// Channels returns active channels with their listener counts.
func (s *Service) Channels() map[string]int {
	r := s.Router()
	keys := r.Channels()
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		out[k] = r.ListenerCount(k)
	}
	return out
}

// OnEvent registers a lifecycle event handler.
func (s *Service) OnEvent(h types.EventHandler) func() {
	return s.routed.SubscribeToEvents(h)
}

func (s *Service) State() types.State { return s.routed.State() }
func (s *Service) Stats() types.Stats { return s.routed.Stats() }

// Pending returns the number of frames waiting for a connection.
func (s *Service) Pending() int { return s.queue.Pending() }

// HeartbeatRunning reports whether the liveness probe is active.
func (s *Service) HeartbeatRunning() bool { return s.heartbeat.Monitor().IsRunning() }

// Close detaches every decorator. It does not disconnect the transport.
func (s *Service) Close() {
	s.Router().Clear()
	s.queue.Close()
	s.heartbeat.Close()
}
