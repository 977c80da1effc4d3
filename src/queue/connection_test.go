package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/orchestra-mcp/realtime/src/mock"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newQueued(t *testing.T, maxSize int) (*Connection, *mock.Simulated) {
	t.Helper()
	sim := mock.NewSimulated(zerolog.Nop(), nil)
	c := Wrap(sim, maxSize, zerolog.Nop())
	t.Cleanup(c.Close)
	return c, sim
}

func TestQueuedSendWhileDisconnectedIsHeld(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, []byte("one")))
	require.NoError(t, c.Send(ctx, []byte("two")))

	assert.Empty(t, sim.Sent())
	assert.Equal(t, 2, c.Pending())
}

func TestQueuedReplayOnConnectInOrder(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, c.Send(ctx, []byte(m)))
	}
	require.NoError(t, c.Connect(ctx, "ws://test"))

	assert.Equal(t, []string{"a", "b", "c"}, sim.SentStrings())
	assert.Equal(t, 0, c.Pending())
}

func TestQueuedReplayRespectsMaxSize(t *testing.T) {
	c, sim := newQueued(t, 3)
	ctx := context.Background()

	for _, m := range []string{"a", "b", "c", "d"} {
		require.NoError(t, c.Send(ctx, []byte(m)))
	}
	require.NoError(t, c.Connect(ctx, "ws://test"))

	assert.Equal(t, []string{"b", "c", "d"}, sim.SentStrings())
}

func TestQueuedSendsDirectlyWhenConnected(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "ws://test"))

	require.NoError(t, c.Send(ctx, []byte("now")))
	assert.Equal(t, []string{"now"}, sim.SentStrings())
	assert.Equal(t, 0, c.Pending())
}

func TestQueuedSendErrorPropagatesWhenConnected(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "ws://test"))

	boom := errors.New("boom")
	sim.FailSends(boom)
	assert.ErrorIs(t, c.Send(ctx, []byte("x")), boom)
	assert.Equal(t, 0, c.Pending())
}

func TestQueuedHoldsAgainAfterDisconnect(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx, "ws://test"))
	require.NoError(t, c.Disconnect(ctx, 0, ""))

	require.NoError(t, c.Send(ctx, []byte("later")))
	assert.Empty(t, sim.Sent())

	require.NoError(t, c.Connect(ctx, "ws://test"))
	assert.Equal(t, []string{"later"}, sim.SentStrings())
}

func TestQueuedReplayFailureRequeuesRemainder(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, c.Send(ctx, []byte(m)))
	}

	// The peer accepts one frame, then the link fails.
	calls := 0
	sim.AutoReply(func([]byte) []byte {
		calls++
		if calls == 1 {
			sim.FailSends(errors.New("link down"))
		}
		return nil
	})
	require.NoError(t, c.Connect(ctx, "ws://test"))

	assert.Equal(t, []string{"a"}, sim.SentStrings())
	assert.Equal(t, 2, c.Pending())

	sim.FailSends(nil)
	sim.AutoReply(nil)
	require.NoError(t, c.Disconnect(ctx, 0, ""))
	require.NoError(t, c.Connect(ctx, "ws://test"))
	assert.Equal(t, []string{"a", "b", "c"}, sim.SentStrings())
}

func TestQueuedDelegatesObservableSurface(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()

	var got []string
	unsubscribe := c.Subscribe(func(msg []byte) error {
		got = append(got, string(msg))
		return nil
	})
	defer unsubscribe()

	require.NoError(t, c.Connect(ctx, "ws://test", "v1"))
	require.NoError(t, sim.ReceiveString("hello"))

	assert.Equal(t, []string{"hello"}, got)
	assert.Equal(t, "ws://test", c.State().URL)
	assert.Equal(t, []string{"v1"}, c.State().Protocols)
	assert.Equal(t, int64(1), c.Stats().MessagesReceived)
}

func TestQueuedCloseStopsReplay(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()

	require.NoError(t, c.Send(ctx, []byte("held")))
	c.Close()
	c.Close()
	require.NoError(t, c.Connect(ctx, "ws://test"))

	assert.Empty(t, sim.Sent())
	assert.Equal(t, 1, c.Pending())
	assert.Equal(t, types.StatusConnected, c.State().Status)
}

func TestQueuedReplayFailureKeepsOrderWithConcurrentSends(t *testing.T) {
	c, sim := newQueued(t, 10)
	ctx := context.Background()

	for _, m := range []string{"a", "b", "c"} {
		require.NoError(t, c.Send(ctx, []byte(m)))
	}

	// The link drops right after the first replayed frame, and the
	// application sends again before replay notices.
	calls := 0
	sim.AutoReply(func([]byte) []byte {
		calls++
		if calls == 1 {
			sim.Drop(1006, "gone")
			require.NoError(t, c.Send(ctx, []byte("d")))
		}
		return nil
	})
	require.NoError(t, c.Connect(ctx, "ws://test"))

	assert.Equal(t, []string{"a"}, sim.SentStrings())
	assert.Equal(t, 3, c.Pending())

	sim.AutoReply(nil)
	require.NoError(t, c.Connect(ctx, "ws://test"))
	assert.Equal(t, []string{"a", "b", "c", "d"}, sim.SentStrings())
}
