package heartbeat

import (
	"sync"

	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Connection decorates a connection with a Monitor that runs while the
// connection is up. While the heartbeat is enabled, pong frames are
// consumed by the monitor and never reach handlers registered through
// this decorator.
type Connection struct {
	types.Connection
	monitor *Monitor

	once   sync.Once
	detach func()
}

var _ types.Connection = (*Connection)(nil)

// Wrap attaches a heartbeat to conn. The monitor starts on every connected
// event (and immediately if conn is already up) and stops on disconnect.
func Wrap(conn types.Connection, cfg Config, logger zerolog.Logger, opts ...Option) *Connection {
	c := &Connection{
		Connection: conn,
		monitor:    New(conn, cfg, logger, opts...),
	}
	c.detach = conn.SubscribeToEvents(func(ev types.Event) error {
		switch ev.Type {
		case types.EventConnected:
			c.monitor.Start()
		case types.EventDisconnected:
			c.monitor.Stop()
		}
		return nil
	})
	if conn.State().Connected() {
		c.monitor.Start()
	}
	return c
}

// Monitor returns the owned monitor.
func (c *Connection) Monitor() *Monitor { return c.monitor }

// Subscribe registers h for every inbound frame except pongs. With the
// heartbeat disabled nothing is filtered.
func (c *Connection) Subscribe(h types.MessageHandler) func() {
	if !c.monitor.cfg.Enabled {
		return c.Connection.Subscribe(h)
	}
	return c.Connection.Subscribe(func(msg []byte) error {
		if c.monitor.IsPong(msg) {
			return nil
		}
		return h(msg)
	})
}

// Close stops the monitor and detaches from the connection's events.
// The connection itself stays up.
func (c *Connection) Close() {
	c.once.Do(c.detach)
	c.monitor.Stop()
}
