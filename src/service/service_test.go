package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/orchestra-mcp/realtime/config"
	"github.com/orchestra-mcp/realtime/src/heartbeat"
	"github.com/orchestra-mcp/realtime/src/mock"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.ClientConfig {
	cfg := config.DefaultConfig()
	cfg.HeartbeatInterval = 1000
	cfg.HeartbeatTimeout = 500
	cfg.QueueMaxSize = 3
	return cfg
}

func newTestService(t *testing.T) (*Service, *mock.Simulated, *mock.Clock) {
	t.Helper()
	clk := mock.NewClock()
	sim := mock.NewSimulated(zerolog.Nop(), clk)
	svc := New(sim, testConfig(), nil, zerolog.Nop(), heartbeat.WithClock(clk))
	t.Cleanup(svc.Close)
	return svc, sim, clk
}

// echoNonPings makes the peer echo every frame and answer pings.
func echoNonPings(sim *mock.Simulated) {
	sim.AutoReply(func(msg []byte) []byte {
		if string(msg) == "PING" {
			return []byte("PONG")
		}
		return msg
	})
}

func TestServiceQueuesUntilConnected(t *testing.T) {
	svc, sim, _ := newTestService(t)
	ctx := context.Background()

	for _, m := range []string{"a", "b", "c", "d"} {
		require.NoError(t, svc.Send(ctx, []byte(m)))
	}
	assert.Equal(t, 3, svc.Pending())
	assert.Empty(t, sim.Sent())

	require.NoError(t, svc.Connect(ctx, "ws://test"))
	assert.Equal(t, []string{"b", "c", "d"}, sim.SentStrings())
	assert.Equal(t, 0, svc.Pending())
	assert.True(t, svc.HeartbeatRunning())
}

func TestServicePublishRoutesEcho(t *testing.T) {
	svc, sim, _ := newTestService(t)
	ctx := context.Background()
	echoNonPings(sim)
	require.NoError(t, svc.Connect(ctx, "ws://test"))

	var chat []types.Envelope
	svc.Subscribe("chat", func(msg []byte) error {
		var env types.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			return err
		}
		chat = append(chat, env)
		return nil
	})
	var news int
	svc.Subscribe("news", func([]byte) error { news++; return nil })

	require.NoError(t, svc.Publish(ctx, "chat", "hello"))

	require.Len(t, chat, 1)
	assert.Equal(t, "chat", chat[0].Channel)
	assert.Equal(t, "message", chat[0].Event)
	assert.Equal(t, "hello", chat[0].Data)
	assert.False(t, chat[0].Timestamp.IsZero())
	assert.Zero(t, news)
}

func TestServiceChannels(t *testing.T) {
	svc, _, _ := newTestService(t)

	unsub := svc.Subscribe("chat", func([]byte) error { return nil })
	svc.Subscribe("chat", func([]byte) error { return nil })
	svc.Subscribe("news", func([]byte) error { return nil })
	assert.Equal(t, map[string]int{"chat": 2, "news": 1}, svc.Channels())

	unsub()
	svc.Unsubscribe("news")
	assert.Equal(t, map[string]int{"chat": 1}, svc.Channels())
}

func TestServicePongsNeverReachChannels(t *testing.T) {
	clk := mock.NewClock()
	sim := mock.NewSimulated(zerolog.Nop(), clk)
	everything := func([]byte) (string, bool) { return "all", true }
	svc := New(sim, testConfig(), everything, zerolog.Nop(), heartbeat.WithClock(clk))
	defer svc.Close()
	require.NoError(t, svc.Connect(context.Background(), "ws://test"))

	var got []string
	svc.Subscribe("all", func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	})

	clk.Advance(1000 * time.Millisecond)
	require.NoError(t, sim.ReceiveString("PONG"))
	require.NoError(t, sim.ReceiveString("hello"))
	clk.Advance(600 * time.Millisecond)

	assert.Equal(t, []string{"hello"}, got)
	assert.True(t, svc.State().Connected())
}

func TestServiceHeartbeatTimeoutThenRecovery(t *testing.T) {
	svc, sim, clk := newTestService(t)
	ctx := context.Background()

	var events []types.Event
	svc.OnEvent(func(ev types.Event) error {
		events = append(events, ev)
		return nil
	})

	require.NoError(t, svc.Connect(ctx, "ws://test"))
	clk.Advance(1500 * time.Millisecond)

	assert.False(t, svc.State().Connected())
	assert.False(t, svc.HeartbeatRunning())
	last := events[len(events)-1]
	assert.Equal(t, types.EventDisconnected, last.Type)
	assert.Equal(t, heartbeat.CloseCode, last.Code)

	// Frames sent while down are replayed once the peer is back.
	require.NoError(t, svc.Send(ctx, []byte("while down")))
	assert.Equal(t, 1, svc.Pending())

	sim.AnswerPings("PING", "PONG")
	require.NoError(t, svc.Connect(ctx, "ws://test"))
	clk.Advance(5 * time.Second)

	assert.True(t, svc.State().Connected())
	assert.True(t, svc.HeartbeatRunning())
	assert.Equal(t, "while down", sim.SentStrings()[1])
}

func TestServiceDisconnect(t *testing.T) {
	svc, _, clk := newTestService(t)
	ctx := context.Background()

	var events []types.Event
	svc.OnEvent(func(ev types.Event) error {
		events = append(events, ev)
		return nil
	})

	require.NoError(t, svc.Connect(ctx, "ws://test"))
	require.NoError(t, svc.Disconnect(ctx))
	require.NoError(t, svc.Disconnect(ctx))

	assert.False(t, svc.HeartbeatRunning())
	assert.Equal(t, 0, clk.Pending())
	require.Len(t, events, 2)
	assert.Equal(t, types.Event{Type: types.EventDisconnected, Code: types.CloseNormal, Reason: "client disconnect"}, events[1])
}

func TestServiceConnectErrors(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Connect(ctx, "ws://test"))
	err := svc.Connect(ctx, "ws://test")
	assert.ErrorIs(t, err, types.ErrAlreadyConnected)
	assert.Contains(t, err.Error(), "ws://test")
}

func TestServiceStatsFlowThroughDecorators(t *testing.T) {
	svc, sim, clk := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Connect(ctx, "ws://test"))

	require.NoError(t, svc.Send(ctx, []byte("12345")))
	require.NoError(t, sim.ReceiveString("abc"))
	clk.Advance(200 * time.Millisecond)

	stats := svc.Stats()
	assert.Equal(t, int64(1), stats.MessagesSent)
	assert.Equal(t, int64(5), stats.BytesSent)
	assert.Equal(t, int64(1), stats.MessagesReceived)
	assert.Equal(t, 200*time.Millisecond, stats.Uptime)
	assert.Equal(t, sim.Stats(), svc.Connection().Stats())
}

func TestServiceHeartbeatDisabled(t *testing.T) {
	clk := mock.NewClock()
	sim := mock.NewSimulated(zerolog.Nop(), clk)
	cfg := testConfig()
	cfg.HeartbeatEnabled = false
	svc := New(sim, cfg, nil, zerolog.Nop(), heartbeat.WithClock(clk))
	defer svc.Close()

	require.NoError(t, svc.Connect(context.Background(), "ws://test"))
	clk.Advance(time.Minute)

	assert.False(t, svc.HeartbeatRunning())
	assert.True(t, svc.State().Connected())
	assert.Empty(t, sim.Sent())
}

func TestServiceNilConfigUsesDefaults(t *testing.T) {
	sim := mock.NewSimulated(zerolog.Nop(), mock.NewClock())
	svc := New(sim, nil, nil, zerolog.Nop(), heartbeat.WithClock(mock.NewClock()))
	defer svc.Close()

	assert.Equal(t, 100, svc.queue.Queue().MaxSize())
	assert.Equal(t, 30*time.Second, svc.heartbeat.Monitor().Config().Interval)
}

func TestServiceCloseDetachesButStaysConnected(t *testing.T) {
	svc, sim, clk := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.Connect(ctx, "ws://test"))
	svc.Subscribe("chat", func([]byte) error { return nil })

	svc.Close()
	assert.False(t, svc.Router().Attached())
	assert.False(t, svc.HeartbeatRunning())

	clk.Advance(time.Minute)
	assert.True(t, sim.State().Connected())
}
