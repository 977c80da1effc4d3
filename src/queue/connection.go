package queue

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Connection decorates a connection with an outbound queue. Frames sent
// while the connection is down are held, and replayed in order on the
// next connected event.
type Connection struct {
	types.Connection
	queue  *Queue[[]byte]
	logger zerolog.Logger

	once   sync.Once
	detach func()
}

var _ types.Connection = (*Connection)(nil)

// Wrap attaches a queue of maxSize frames to conn.
func Wrap(conn types.Connection, maxSize int, logger zerolog.Logger) *Connection {
	c := &Connection{
		Connection: conn,
		queue:      New[[]byte](maxSize),
		logger:     logger.With().Str("component", "queue").Logger(),
	}
	c.detach = conn.SubscribeToEvents(func(ev types.Event) error {
		if ev.Type == types.EventConnected {
			c.replay()
		}
		return nil
	})
	return c
}

// Send forwards msg when connected and queues it otherwise. Queueing never
// fails; a full queue drops its oldest frame.
func (c *Connection) Send(ctx context.Context, msg []byte) error {
	if c.Connection.State().Connected() {
		err := c.Connection.Send(ctx, msg)
		if !errors.Is(err, types.ErrNotConnected) {
			return err
		}
	}
	if c.queue.Enqueue(bytes.Clone(msg)) {
		c.logger.Warn().Int("max_size", c.queue.MaxSize()).Msg("queue full, dropped oldest message")
	}
	return nil
}

// Pending returns the number of queued frames.
func (c *Connection) Pending() int { return c.queue.Len() }

// Queue returns the underlying queue.
func (c *Connection) Queue() *Queue[[]byte] { return c.queue }

// Close detaches from the connection's events. Queued frames are kept.
func (c *Connection) Close() {
	c.once.Do(c.detach)
}

// replay drains the queue through the connection. On the first failure
// the unsent remainder goes back in front of anything queued meanwhile;
// nothing is sent twice.
func (c *Connection) replay() {
	pending := c.queue.Flush()
	if len(pending) == 0 {
		return
	}
	c.logger.Debug().Int("count", len(pending)).Msg("replaying queued messages")

	for i, msg := range pending {
		if err := c.Connection.Send(context.Background(), msg); err != nil {
			c.logger.Warn().
				Err(err).
				Int("sent", i).
				Int("requeued", len(pending)-i).
				Msg("replay interrupted")
			if dropped := c.queue.Requeue(pending[i:]); dropped > 0 {
				c.logger.Warn().Int("dropped", dropped).Msg("queue full after replay, dropped oldest messages")
			}
			return
		}
	}
}
