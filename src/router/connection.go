package router

import (
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

// Connection is a connection with an owned Router, so callers get
// channel subscriptions next to the usual connection surface.
type Connection struct {
	types.Connection
	router *Router
}

var _ types.Connection = (*Connection)(nil)

// Wrap builds a router over conn.
func Wrap(conn types.Connection, extract Extractor, logger zerolog.Logger) *Connection {
	return &Connection{
		Connection: conn,
		router:     New(conn, extract, logger),
	}
}

// Router returns the owned router.
func (c *Connection) Router() *Router { return c.router }
