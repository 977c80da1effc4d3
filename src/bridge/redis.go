// Package bridge implements a types.Connection over Redis pub/sub, so that
// instances can exchange frames through a shared topic instead of a
// socket.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/orchestra-mcp/realtime/src/conn"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// closeSubscriptionLost is reported when the subscription ends without a
// local Disconnect.
const closeSubscriptionLost = 1006

// redisEnvelope wraps a frame with the originating instance ID
// so that a node can skip its own published messages.
type redisEnvelope struct {
	InstanceID string `json:"instance_id"`
	Payload    []byte `json:"payload"`
}

// Redis is a connection whose "URL" is a topic: Connect subscribes to
// prefix+topic and Send publishes to it.
type Redis struct {
	client     *redis.Client
	prefix     string
	echo       bool
	instanceID string
	logger     zerolog.Logger
	tracker    *conn.Tracker

	mu      sync.Mutex
	sub     *redis.PubSub
	channel string
	cancel  context.CancelFunc
	dialing bool
}

var _ types.Connection = (*Redis)(nil)

// NewRedis creates a disconnected Redis transport.
func NewRedis(cfg *Config, logger zerolog.Logger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	logger = logger.With().Str("component", "redis-bridge").Logger()

	return &Redis{
		client:     client,
		prefix:     cfg.TopicPrefix,
		echo:       cfg.Echo,
		instanceID: uuid.New().String(),
		logger:     logger,
		tracker:    conn.NewTracker(logger, nil),
	}
}

// InstanceID identifies this transport in published envelopes.
func (b *Redis) InstanceID() string { return b.instanceID }

// Connect subscribes to the topic and begins relaying its frames.
func (b *Redis) Connect(ctx context.Context, topic string, protocols ...string) error {
	b.mu.Lock()
	if b.sub != nil || b.dialing {
		b.mu.Unlock()
		return types.ErrAlreadyConnected
	}
	b.dialing = true
	b.mu.Unlock()

	sub, err := b.subscribe(ctx, b.prefix+topic)

	b.mu.Lock()
	b.dialing = false
	if err != nil {
		b.mu.Unlock()
		b.tracker.Fail(err)
		return err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	b.sub = sub
	b.channel = b.prefix + topic
	b.cancel = cancel
	b.mu.Unlock()

	b.logger.Info().
		Str("instance_id", b.instanceID).
		Str("channel", b.prefix+topic).
		Msg("redis bridge started")

	b.tracker.MarkConnected(topic, protocols)
	go b.listen(listenCtx, sub)
	return nil
}

func (b *Redis) subscribe(ctx context.Context, channel string) (*redis.PubSub, error) {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	sub := b.client.Subscribe(ctx, channel)

	// Wait for subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	return sub, nil
}

// Disconnect unsubscribes from the topic. The Redis client stays open for
// a later Connect.
func (b *Redis) Disconnect(_ context.Context, code int, reason string) error {
	sub, cancel := b.release()
	if sub == nil {
		return nil
	}
	if code == 0 {
		code = types.CloseNormal
	}
	cancel()
	err := sub.Close()

	b.tracker.MarkDisconnected(code, reason)
	if err != nil {
		return fmt.Errorf("close subscription: %w", err)
	}
	return nil
}

// Send publishes msg to the topic.
func (b *Redis) Send(ctx context.Context, msg []byte) error {
	b.mu.Lock()
	channel, up := b.channel, b.sub != nil
	b.mu.Unlock()
	if !up {
		return types.ErrNotConnected
	}

	data, err := json.Marshal(redisEnvelope{InstanceID: b.instanceID, Payload: msg})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		b.tracker.Fail(err)
		return fmt.Errorf("redis publish: %w", err)
	}
	b.tracker.RecordSend(len(msg))
	return nil
}

func (b *Redis) Subscribe(h types.MessageHandler) func() { return b.tracker.Subscribe(h) }

func (b *Redis) SubscribeToEvents(h types.EventHandler) func() {
	return b.tracker.SubscribeToEvents(h)
}

func (b *Redis) State() types.State { return b.tracker.State() }
func (b *Redis) Stats() types.Stats { return b.tracker.Stats() }
func (b *Redis) ResetStats()        { b.tracker.ResetStats() }

// Close disconnects and closes the Redis client.
func (b *Redis) Close() error {
	if err := b.Disconnect(context.Background(), 0, "closed"); err != nil {
		b.logger.Error().Err(err).Msg("bridge disconnect error")
	}
	return b.client.Close()
}

func (b *Redis) release() (*redis.PubSub, context.CancelFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, cancel := b.sub, b.cancel
	b.sub, b.cancel, b.channel = nil, nil, ""
	return sub, cancel
}

// listen reads messages from the Redis subscription and delivers them.
func (b *Redis) listen(ctx context.Context, sub *redis.PubSub) {
	ch := sub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					b.lost(sub)
				}
				return
			}
			b.handleRedisMessage(msg)
		case <-ctx.Done():
			return
		}
	}
}

// lost handles a subscription that closed underneath us.
func (b *Redis) lost(sub *redis.PubSub) {
	b.mu.Lock()
	if b.sub != sub {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	_, cancel := b.release()
	if cancel != nil {
		cancel()
	}
	b.logger.Warn().Msg("redis subscription closed")
	b.tracker.MarkDisconnected(closeSubscriptionLost, "subscription closed")
}

// handleRedisMessage decodes an envelope and delivers non-self frames.
func (b *Redis) handleRedisMessage(msg *redis.Message) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Error().Err(err).Msg("failed to decode redis message")
		b.tracker.Fail(err)
		return
	}

	// Skip messages that originated from this instance.
	if env.InstanceID == b.instanceID && !b.echo {
		return
	}

	b.logger.Debug().
		Str("from_instance", env.InstanceID).
		Str("channel", msg.Channel).
		Msg("relaying message from redis")

	b.tracker.Deliver(env.Payload)
}
