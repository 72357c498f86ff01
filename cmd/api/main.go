package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/entity-resolver/backend/internal/aggregate"
	"github.com/entity-resolver/backend/internal/api/handlers"
	rediscache "github.com/entity-resolver/backend/internal/cache/redis"
	"github.com/entity-resolver/backend/internal/disambiguate"
	"github.com/entity-resolver/backend/internal/disambiguate/registry"
	"github.com/entity-resolver/backend/internal/domains"
	"github.com/entity-resolver/backend/internal/extract"
	"github.com/entity-resolver/backend/internal/fetch"
	"github.com/entity-resolver/backend/internal/metrics"
	"github.com/entity-resolver/backend/internal/middleware/ratelimit"
	"github.com/entity-resolver/backend/internal/middleware/security"
	"github.com/entity-resolver/backend/internal/middleware/validation"
	"github.com/entity-resolver/backend/internal/resolve"
	"github.com/entity-resolver/backend/internal/search"
	"github.com/entity-resolver/backend/internal/search/web"
	"github.com/entity-resolver/backend/internal/storage/sqlite"
	"github.com/entity-resolver/backend/internal/verify"
	"github.com/entity-resolver/backend/pkg/config"
	"github.com/entity-resolver/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting entity resolver API server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path, log)
	if err != nil {
		log.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var (
		cache       resolve.Cache
		invalidator handlers.CacheInvalidator
	)
	redisClient, err := rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Warn("Redis unavailable, running without record cache", zap.Error(err))
	} else {
		defer redisClient.Close()
		cache = redisClient
		invalidator = redisClient
	}

	domainTable, err := domains.Load(cfg.Domains.TablePath, log)
	if err != nil {
		log.Warn("Domain table unavailable, URL-pattern fallback disabled", zap.Error(err))
		domainTable = domains.Empty(log)
	}

	// One ceiling for every outbound search and fetch call.
	sem := semaphore.NewWeighted(int64(cfg.Resolve.Concurrency))

	searchClient := web.NewClient(cfg.Search.SerpAPIKey, time.Duration(cfg.Search.TimeoutSec)*time.Second, log)
	orchestrator := search.NewOrchestrator(searchClient, sem, cfg.Search.MaxResults, log)

	fetcher := fetch.New(fetch.Config{
		Timeout:       time.Duration(cfg.Fetch.TimeoutSec) * time.Second,
		MinContentLen: cfg.Fetch.MinContentLen,
		MaxContentLen: cfg.Fetch.MaxContentLen,
		Logger:        log,
	})

	extractClient := extract.NewClient(extract.ClientConfig{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		Logger:      log,
	})
	adapter := extract.NewAdapter(domainTable)

	verifier := verify.New(cfg.Verify.MinScore, log)
	aggregator := aggregate.New(log)

	engine := resolve.NewEngine(
		orchestrator,
		fetcher,
		extractClient,
		adapter,
		verifier,
		aggregator,
		sqliteClient,
		cache,
		sem,
		resolve.Config{
			QueryFanout: cfg.Resolve.QueryFanout,
			CacheTTL:    time.Duration(cfg.Redis.TTLHours) * time.Hour,
		},
		log,
	)

	registryClient := registry.NewClient(cfg.Registry.BaseURL, cfg.Registry.APIKey,
		time.Duration(cfg.Registry.TimeoutSec)*time.Second, log)
	controller := disambiguate.NewController(registryClient, cfg.Registry.ListCap, log)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{Logger: log})
	defer limiter.Stop()
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{Logger: log}))

	resolveHandler := handlers.NewResolveHandler(engine, sqliteClient, invalidator, log)
	disambiguationHandler := handlers.NewDisambiguationHandler(controller, log)
	wsHandler := handlers.NewWebSocketHandler(controller, log)

	api := app.Group("/api/v1")

	api.Post("/resolve", resolveHandler.HandleResolve)
	api.Get("/resolve/history", resolveHandler.GetHistory)
	api.Get("/resolve/history/:id/sources", resolveHandler.GetRunSources)
	api.Delete("/resolve/cache", resolveHandler.InvalidateCache)

	api.Post("/disambiguation", disambiguationHandler.StartSession)
	api.Get("/disambiguation/:id", disambiguationHandler.GetSession)
	api.Post("/disambiguation/:id/filters", disambiguationHandler.ApplyFilter)

	app.Get("/ws/disambiguation", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not ready",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info("Server shutting down gracefully...")
	app.Shutdown()
	log.Info("Server stopped")
}
