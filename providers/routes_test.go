package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/realtime/src/heartbeat"
	"github.com/orchestra-mcp/realtime/src/metrics"
	"github.com/orchestra-mcp/realtime/src/mock"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, withMetrics bool) (*fiber.App, *service.Service, *mock.Simulated) {
	t.Helper()
	clk := mock.NewClock()
	sim := mock.NewSimulated(zerolog.Nop(), clk)
	svc := service.New(sim, nil, nil, zerolog.Nop(), heartbeat.WithClock(clk))
	t.Cleanup(svc.Close)

	var reg *prometheus.Registry
	if withMetrics {
		reg = prometheus.NewRegistry()
		require.NoError(t, reg.Register(metrics.NewCollector("primary", svc.Connection())))
	}

	app := fiber.New()
	NewRoutes(svc, reg).RegisterRoutes(app)
	return app, svc, sim
}

func getJSON(t *testing.T, app *fiber.App, path string) (int, map[string]any) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestStatusRoute(t *testing.T) {
	app, svc, _ := newTestApp(t, false)
	ctx := context.Background()

	status, body := getJSON(t, app, "/ws/status")
	assert.Equal(t, 200, status)
	assert.Equal(t, "disconnected", body["status"])
	assert.Equal(t, false, body["heartbeat"])

	require.NoError(t, svc.Send(ctx, []byte("queued")))
	require.NoError(t, svc.Connect(ctx, "ws://test", "v1"))
	svc.Subscribe("chat", func([]byte) error { return nil })

	status, body = getJSON(t, app, "/ws/status")
	assert.Equal(t, 200, status)
	assert.Equal(t, "connected", body["status"])
	assert.Equal(t, "ws://test", body["url"])
	assert.Equal(t, []any{"v1"}, body["protocols"])
	assert.Equal(t, true, body["heartbeat"])
	assert.Equal(t, float64(0), body["pending"])
	assert.Equal(t, float64(1), body["channels"])

	stats, ok := body["stats"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), stats["messages_sent"])
}

func TestChannelsRoute(t *testing.T) {
	app, svc, _ := newTestApp(t, false)

	svc.Subscribe("news", func([]byte) error { return nil })
	svc.Subscribe("chat", func([]byte) error { return nil })
	svc.Subscribe("chat", func([]byte) error { return nil })

	status, body := getJSON(t, app, "/ws/channels")
	assert.Equal(t, 200, status)
	assert.Equal(t, float64(2), body["count"])
	assert.Equal(t, []any{
		map[string]any{"channel": "news", "listeners": float64(1)},
		map[string]any{"channel": "chat", "listeners": float64(2)},
	}, body["channels"])
}

func TestChannelRoute(t *testing.T) {
	app, svc, _ := newTestApp(t, false)
	svc.Subscribe("chat", func([]byte) error { return nil })

	status, body := getJSON(t, app, "/ws/channels/chat")
	assert.Equal(t, 200, status)
	assert.Equal(t, "chat", body["channel"])
	assert.Equal(t, float64(1), body["listeners"])

	status, body = getJSON(t, app, "/ws/channels/missing")
	assert.Equal(t, 404, status)
	assert.Equal(t, "channel_not_found", body["error"])
}

func TestMetricsRoute(t *testing.T) {
	app, svc, _ := newTestApp(t, true)
	require.NoError(t, svc.Connect(context.Background(), "ws://test"))

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `realtime_connection_up{connection="primary"} 1`))
}

func TestMetricsRouteAbsentWithoutRegistry(t *testing.T) {
	app, _, _ := newTestApp(t, false)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}
