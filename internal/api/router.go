package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/thfmn/ttm-rag/internal/api/handlers"
	"github.com/thfmn/ttm-rag/internal/metrics"
	"github.com/thfmn/ttm-rag/internal/middleware/ratelimit"
	"github.com/thfmn/ttm-rag/internal/middleware/security"
	"github.com/thfmn/ttm-rag/internal/middleware/validation"
	"github.com/thfmn/ttm-rag/pkg/config"
)

type Options struct {
	Server         config.ServerConfig
	RateLimit      config.RateLimitConfig
	MaxQueryLength int
	QueryTimeout   time.Duration
	Development    bool
	AccessLog      bool
	Logger         *zap.Logger
}

// NewRouter builds the HTTP application. The returned limiter, when not nil,
// must be stopped on shutdown.
func NewRouter(service handlers.RAGService, opts Options) (*fiber.App, *ratelimit.RateLimiter) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           time.Duration(opts.Server.ReadTimeout) * time.Second,
		WriteTimeout:          time.Duration(opts.Server.WriteTimeout) * time.Second,
		BodyLimit:             opts.Server.BodyLimit,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New())
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: opts.Server.AllowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: strings.Split(opts.Server.AllowOrigins, ","),
		IsDevelopment:  opts.Development,
	}))

	var limiter *ratelimit.RateLimiter
	if opts.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: opts.RateLimit.RequestsPerMinute,
			Burst:             opts.RateLimit.Burst,
			Logger:            opts.Logger,
		})
	}

	queryHandler := handlers.NewQueryHandler(service)
	documentHandler := handlers.NewDocumentHandler(service)
	infoHandler := handlers.NewInfoHandler(service)
	wsHandler := handlers.NewWebSocketHandler(service, opts.QueryTimeout)

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Get("/health", infoHandler.Health)

	rag := api.Group("/rag")
	if limiter != nil {
		rag.Use(limiter.Middleware())
	}
	rag.Use(validation.Middleware(validation.Config{
		MaxQueryLength:  opts.MaxQueryLength,
		MaxDocumentSize: opts.Server.BodyLimit,
		Logger:          opts.Logger,
	}))

	rag.Post("/query", queryHandler.HandleQuery)
	rag.Post("/documents/batch", documentHandler.AddDocuments)
	rag.Post("/documents", documentHandler.AddDocument)
	rag.Delete("/documents/:id", documentHandler.DeleteDocument)
	rag.Get("/models", infoHandler.ListModels)
	rag.Get("/stats", infoHandler.GetStats)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(wsHandler.HandleConnection))

	return app, limiter
}
