package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	v1 "linkpulse/api/v1"
	"linkpulse/internal/config"
	apphttp "linkpulse/internal/http"
	"linkpulse/internal/realtime"
)

// MountRoutes wires the public API surface onto the fiber app.
func MountRoutes(app *fiber.App, cfg *config.Config, trackHandler *v1.TrackHandler, analyticsHandler *apphttp.AnalyticsHandler, hub *realtime.Hub) {
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.GetCORSOrigins(),
		AllowMethods: "POST,GET,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, Referrer, User-Agent",
	}))

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Rate limiting applies to the public ingest surface only, and only in
	// production so tests are not throttled.
	track := app.Group("/api/track")
	if cfg.IsProduction() {
		track.Use(limiter.New(limiter.Config{
			Max:        cfg.RateLimitMax,
			Expiration: time.Duration(cfg.RateLimitWindowSeconds) * time.Second,
			LimitReached: func(c *fiber.Ctx) error {
				return apphttp.RespondError(c, fiber.NewError(fiber.StatusTooManyRequests, "rate limit exceeded"))
			},
		}))
	}
	track.Post("/view", trackHandler.TrackView)
	track.Post("/click", trackHandler.TrackClick)
	track.Post("/batch/views", trackHandler.BatchTrackViews)
	track.Post("/session/end", trackHandler.EndSession)
	track.Get("/session/:sessionId", trackHandler.GetSession)

	analytics := app.Group("/api/analytics")
	analytics.Get("/profile/:profileId", analyticsHandler.GetProfileAnalytics)
	analytics.Get("/profile/:profileId/summary", analyticsHandler.GetSummary)
	analytics.Get("/profile/:profileId/realtime", analyticsHandler.GetRealtime)
	analytics.Get("/links/:profileId", analyticsHandler.GetLinks)
	analytics.Get("/geo/:profileId", analyticsHandler.GetGeo)

	app.Get("/api/realtime/stream/:profileId", hub.SSEHandler())

	app.Use("/ws", realtime.UpgradeRequired)
	app.Get("/ws", hub.WebsocketHandler())
}
