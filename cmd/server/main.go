package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/tracklab/api/internal/client"
	"github.com/tracklab/api/internal/config"
	"github.com/tracklab/api/internal/handler"
	"github.com/tracklab/api/internal/middleware"
	"github.com/tracklab/api/internal/poller"
	"github.com/tracklab/api/internal/service"
	"github.com/tracklab/api/internal/store/postgres"
	"github.com/tracklab/api/internal/websocket"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	store, err := postgres.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	log.Println("Connected to Postgres")

	// Redis only backs the rate limiter; the API stays up without it.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("WARN: redis unavailable, rate limiting disabled: %v", err)
		rdb = nil
	} else {
		log.Println("Connected to Redis")
	}

	engine := client.NewEngineClient(&cfg.Engine)
	if !engine.IsConfigured() {
		log.Fatal("engine base URL is not configured")
	}

	var storage client.StorageClient
	if cfg.R2.AccountID != "" && cfg.R2.BucketName != "" {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("WARN: R2 storage disabled: %v", err)
		} else {
			storage = r2
			log.Println("R2 artifact mirroring enabled")
		}
	}

	hub := websocket.NewHub()
	go hub.Run()

	registry := poller.NewRegistry(time.Duration(cfg.Poll.Interval) * time.Second)
	svc := service.NewGenerationService(store, engine, registry, storage, hub)
	defer svc.Cleanup()

	if err := svc.ResumePolling(ctx); err != nil {
		log.Printf("WARN: failed to resume polling: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "tracklab-api",
		ErrorHandler: fiberErrorHandler,
	})
	app.Use(recover.New())
	if cfg.Server.Env == "development" {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${latency} ${method} ${path}\n",
		}))
	} else {
		app.Use(logger.New())
	}
	app.Use(cors.New())

	genHandler := handler.NewGenerationHandler(svc)
	trackHandler := handler.NewTrackHandler(svc)

	app.Get("/health", func(c *fiber.Ctx) error {
		redisUp := false
		if rdb != nil {
			redisUp = rdb.Ping(c.Context()).Err() == nil
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"components": fiber.Map{
				"engine":  engine.IsConfigured(),
				"redis":   redisUp,
				"storage": storage != nil,
			},
		})
	})

	api := app.Group("/api")
	api.Post("/generate", middleware.GenerateLimit(rdb, cfg.RateLimit.GeneratePerHour), genHandler.Create)
	api.Get("/jobs", genHandler.List)
	api.Get("/jobs/:jobId", genHandler.Get)
	api.Delete("/jobs/:jobId", genHandler.Delete)
	api.Get("/tracks", trackHandler.List)
	api.Get("/tracks/:trackId", trackHandler.Get)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:jobId", fiberws.New(func(conn *fiberws.Conn) {
		hub.HandleConnection(conn, conn.Params("jobId"))
	}))

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatalf("server error: %v", err)
		}
	}()
	log.Printf("Listening on :%s", cfg.Server.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Printf("WARN: shutdown error: %v", err)
	}
	// Deferred cleanup stops all pollers before the pool closes.
}

func fiberErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": err.Error(),
		},
	})
}
