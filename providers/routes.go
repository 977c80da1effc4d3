package providers

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/orchestra-mcp/realtime/src/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes exposes a messaging client's state over HTTP.
type Routes struct {
	svc      *service.Service
	registry *prometheus.Registry
}

// NewRoutes creates the status routes for svc. The metrics route is only
// registered when registry is non-nil.
func NewRoutes(svc *service.Service, registry *prometheus.Registry) *Routes {
	return &Routes{svc: svc, registry: registry}
}

// RegisterRoutes registers the status routes via Fiber.
func (p *Routes) RegisterRoutes(group fiber.Router) {
	group.Get("/ws/status", p.handleStatus)
	group.Get("/ws/channels", p.handleChannels)
	group.Get("/ws/channels/:channel", p.handleChannel)
	if p.registry != nil {
		group.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})))
	}
}

func (p *Routes) handleStatus(c fiber.Ctx) error {
	state := p.svc.State()
	lastError := ""
	if state.LastError != nil {
		lastError = state.LastError.Error()
	}
	return c.JSON(fiber.Map{
		"status":     state.Status,
		"url":        state.URL,
		"protocols":  state.Protocols,
		"last_error": lastError,
		"stats":      p.svc.Stats(),
		"pending":    p.svc.Pending(),
		"heartbeat":  p.svc.HeartbeatRunning(),
		"channels":   len(p.svc.Channels()),
	})
}

func (p *Routes) handleChannels(c fiber.Ctx) error {
	channels := p.svc.Channels()
	result := make([]fiber.Map, 0, len(channels))
	for _, name := range p.svc.Router().Channels() {
		result = append(result, fiber.Map{
			"channel":   name,
			"listeners": channels[name],
		})
	}
	return c.JSON(fiber.Map{"channels": result, "count": len(result)})
}

func (p *Routes) handleChannel(c fiber.Ctx) error {
	name := c.Params("channel")
	count := p.svc.Router().ListenerCount(name)
	if count == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "channel_not_found",
			"message": "no listeners on channel " + name,
		})
	}
	return c.JSON(fiber.Map{"channel": name, "listeners": count})
}
