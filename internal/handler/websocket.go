package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/veloverlay/api/internal/service"
	ws "github.com/veloverlay/api/internal/websocket"
)

// WebSocketHandler streams job snapshots. New subscribers first receive the
// job's current snapshot.
type WebSocketHandler struct {
	hub     *ws.Hub
	service *service.RenderService
}

func NewWebSocketHandler(hub *ws.Hub, svc *service.RenderService) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, service: svc}
}

// Upgrade rejects plain HTTP requests on websocket routes
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// AllJobs handles GET /ws/status
func (h *WebSocketHandler) AllJobs() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.hub.HandleConnection(c, ws.AllJobs, ws.StatusMessage(h.service.Status()))
	})
}

// Job handles GET /ws/jobs/:jobId
func (h *WebSocketHandler) Job() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		var initial []byte
		if snap, err := h.service.StatusByID(context.Background(), jobID); err == nil {
			initial = ws.StatusMessage(snap)
		}
		h.hub.HandleConnection(c, jobID, initial)
	})
}
