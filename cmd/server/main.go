package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/veloverlay/api/internal/client"
	"github.com/veloverlay/api/internal/config"
	"github.com/veloverlay/api/internal/handler"
	"github.com/veloverlay/api/internal/media"
	"github.com/veloverlay/api/internal/middleware"
	"github.com/veloverlay/api/internal/pipeline"
	"github.com/veloverlay/api/internal/service"
	"github.com/veloverlay/api/internal/storage"
	"github.com/veloverlay/api/internal/telemetry"
	"github.com/veloverlay/api/internal/timesync"
	ws "github.com/veloverlay/api/internal/websocket"
	"github.com/veloverlay/api/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Server.LogLevel)

	ctx := context.Background()

	// Redis is optional: sync cache, job records and rate limits
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Warn("redis not available, continuing without it", "addr", cfg.Redis.Addr, "error", err)
			redisClient.Close()
			redisClient = nil
		}
	}

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	codec := media.NewFFmpeg(&cfg.Media)
	var syncCache timesync.Cache
	if redisClient != nil {
		syncCache = timesync.NewRedisCache(redisClient)
	}
	trackOpts := pipeline.TrackOptions(cfg.Overlay)
	resolver := timesync.NewResolver(codec, func(path string) (*telemetry.Track, error) {
		return telemetry.Load(path, trackOpts)
	}, syncCache, cfg.Sync.CacheTTL)
	p := pipeline.New(codec, resolver, cfg)
	if cfg.Basemap.Enabled {
		p.WithBasemap(client.NewTileClient(&cfg.Basemap))
		slog.Info("map basemap enabled", "tiles", cfg.Basemap.URLTemplate, "cache", cfg.Basemap.CacheDir, "offline", cfg.Basemap.Offline)
	}

	// Optional collaborators
	var uploads client.StorageClient
	r2Client, err := client.NewR2Client(ctx, &cfg.R2)
	if err != nil {
		slog.Warn("r2 client unavailable, uploads disabled", "error", err)
	} else if r2Client != nil {
		uploads = r2Client
	}

	var history *storage.History
	var historyStore handler.HistoryStore
	var recorder worker.HistoryRecorder
	if cfg.History.Enabled {
		history, err = storage.OpenHistory(cfg.History.Path)
		if err != nil {
			slog.Warn("render history disabled", "path", cfg.History.Path, "error", err)
		} else {
			historyStore, recorder = history, history
		}
	}

	publishers := []worker.StatusPublisher{hub}
	var notifier *client.MQTTNotifier
	if cfg.MQTT.Enabled {
		notifier = client.NewMQTTNotifier(&cfg.MQTT)
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := notifier.Connect(connectCtx); err != nil {
			slog.Warn("mqtt unavailable, status notifications limited to websocket", "error", err)
		}
		cancel()
		publishers = append(publishers, notifier)
	}

	// Services
	renderService := service.NewRenderService(p, redisClient)
	renderService.SetRunner(worker.NewRenderWorker(renderService, p, uploads, recorder, publishers...).
		WithLinkExpiry(cfg.R2.LinkExpiry))
	previewService := service.NewPreviewService(p, cfg.Preview.Timeout)
	syncService := service.NewSyncService(resolver, codec)

	routes := &handler.Routes{
		Render:    handler.NewRenderHandler(renderService, validate),
		Preview:   handler.NewPreviewHandler(previewService, validate),
		Sync:      handler.NewSyncHandler(syncService, validate),
		History:   handler.NewHistoryHandler(historyStore),
		WebSocket: handler.NewWebSocketHandler(hub, renderService),
		Auth:      middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.Auth.Enabled),
		Limiter:   middleware.NewRateLimiter(redisClient),
		Limits:    cfg.RateLimit,
		Health: fiber.Map{
			"redis":   redisClient != nil,
			"r2":      uploads != nil,
			"mqtt":    notifier != nil,
			"history": historyStore != nil,
			"basemap": cfg.Basemap.Enabled,
			"auth":    cfg.Auth.Enabled,
		},
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.Mount(app)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		slog.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("server starting", "addr", addr, "env", cfg.Server.Env)
	if err := app.Listen(addr); err != nil {
		slog.Error("server error", "error", err)
	}

	// a running render is cancelled and its partial output removed
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := renderService.Shutdown(shutdownCtx); err != nil {
		slog.Warn("render job did not stop in time", "error", err)
	}
	hub.Stop()
	if notifier != nil {
		notifier.Disconnect()
	}
	if history != nil {
		history.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}
}

func setupLogger(level string) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: l})))
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
