package mock

import (
	"bytes"
	"net"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/valyala/fasthttp"
)

// EchoServer is a loopback WebSocket peer. It answers the ping payload
// with the pong payload and echoes every other frame back.
type EchoServer struct {
	ln       net.Listener
	srv      *fasthttp.Server
	upgrader websocket.FastHTTPUpgrader
	ping     []byte
	pong     []byte
	silent   atomic.Bool

	mu       sync.Mutex
	peers    map[*echoPeer]struct{}
	received [][]byte
}

type echoPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (p *echoPeer) write(mt int, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteMessage(mt, data)
}

// NewEchoServer starts a peer on a random local port and stops it when
// the test ends. Offered sub-protocols are matched against protocols.
func NewEchoServer(t testing.TB, protocols ...string) *EchoServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("echo server listen: %v", err)
	}

	e := &EchoServer{
		ln:    ln,
		ping:  []byte("PING"),
		pong:  []byte("PONG"),
		peers: make(map[*echoPeer]struct{}),
		upgrader: websocket.FastHTTPUpgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    protocols,
			CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
		},
	}
	e.srv = &fasthttp.Server{Handler: e.handle}

	go e.srv.Serve(ln) //nolint:errcheck // returns when the listener closes
	t.Cleanup(e.Close)
	return e
}

// URL returns the ws:// address of the server.
func (e *EchoServer) URL() string {
	return "ws://" + e.ln.Addr().String() + "/"
}

// SetSilent stops (or resumes) answering pings.
func (e *EchoServer) SetSilent(silent bool) {
	e.silent.Store(silent)
}

// Received returns every frame the server has read, oldest first.
func (e *EchoServer) Received() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.received)
}

// Peers returns the number of open client sockets.
func (e *EchoServer) Peers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.peers)
}

// WaitForPeers polls until n sockets are open or timeout elapses.
func (e *EchoServer) WaitForPeers(n int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if e.Peers() == n {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return e.Peers() == n
}

// Push sends msg to every connected client as a text frame.
func (e *EchoServer) Push(msg []byte) {
	for _, p := range e.snapshot() {
		_ = p.write(websocket.TextMessage, msg)
	}
}

// CloseAll sends a close frame with code and text to every client and
// drops the sockets.
func (e *EchoServer) CloseAll(code int, text string) {
	frame := websocket.FormatCloseMessage(code, text)
	for _, p := range e.snapshot() {
		_ = p.conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
		_ = p.conn.Close()
	}
}

// Close stops accepting connections and drops every open socket.
func (e *EchoServer) Close() {
	_ = e.ln.Close()
	for _, p := range e.snapshot() {
		_ = p.conn.Close()
	}
}

func (e *EchoServer) snapshot() []*echoPeer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*echoPeer, 0, len(e.peers))
	for p := range e.peers {
		out = append(out, p)
	}
	return out
}

func (e *EchoServer) handle(ctx *fasthttp.RequestCtx) {
	err := e.upgrader.Upgrade(ctx, func(c *websocket.Conn) {
		p := &echoPeer{conn: c}
		e.mu.Lock()
		e.peers[p] = struct{}{}
		e.mu.Unlock()

		defer func() {
			e.mu.Lock()
			delete(e.peers, p)
			e.mu.Unlock()
			c.Close()
		}()

		for {
			mt, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			e.mu.Lock()
			e.received = append(e.received, bytes.Clone(data))
			e.mu.Unlock()

			reply := data
			if bytes.Equal(data, e.ping) {
				if e.silent.Load() {
					continue
				}
				reply = e.pong
			}
			if err := p.write(mt, reply); err != nil {
				return
			}
		}
	})
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
		ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
	}
}
