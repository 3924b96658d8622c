package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/veloverlay/api/internal/config"
	"github.com/veloverlay/api/internal/middleware"
)

// Routes bundles everything the HTTP surface is built from
type Routes struct {
	Render    *RenderHandler
	Preview   *PreviewHandler
	Sync      *SyncHandler
	History   *HistoryHandler
	WebSocket *WebSocketHandler
	Auth      *middleware.AuthMiddleware
	Limiter   *middleware.RateLimiter
	Limits    config.RateLimitConfig
	// Health reports optional components on /health
	Health fiber.Map
}

// Mount registers the API, websocket and health routes on app.
func (r *Routes) Mount(app *fiber.App) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "services": r.Health})
	})

	api := app.Group("/api", r.Auth.Authenticate())
	api.Post("/video-info", r.Sync.VideoInfo)
	api.Post("/calculate-sync", r.Sync.CalculateSync)
	api.Post("/preview", r.Limiter.PreviewLimit(r.Limits.PreviewPerMin), r.Preview.Preview)
	api.Post("/generate", r.Limiter.GenerateLimit(r.Limits.GeneratePerHour), r.Render.Generate)
	api.Get("/status", r.Render.Status)
	api.Get("/status/:jobId", r.Render.JobStatus)
	api.Post("/cancel/:jobId", r.Render.Cancel)
	api.Get("/history", r.History.List)
	api.Get("/history/:jobId", r.History.Get)

	if r.WebSocket != nil {
		wsRoutes := app.Group("/ws", r.WebSocket.Upgrade, r.Auth.Authenticate())
		wsRoutes.Get("/status", r.WebSocket.AllJobs())
		wsRoutes.Get("/jobs/:jobId", r.WebSocket.Job())
	}
}
