package main

import (
	"context"
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
	"golang.org/x/time/rate"

	"github.com/research-agent/backend/internal/api/handlers"
	rediscache "github.com/research-agent/backend/internal/cache/redis"
	"github.com/research-agent/backend/internal/claims"
	"github.com/research-agent/backend/internal/confidence"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/middleware/ratelimit"
	"github.com/research-agent/backend/internal/middleware/security"
	"github.com/research-agent/backend/internal/middleware/validation"
	"github.com/research-agent/backend/internal/planner"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/storage"
	"github.com/research-agent/backend/internal/storage/sqlite"
	"github.com/research-agent/backend/internal/synthesis"
	"github.com/research-agent/backend/internal/verification"
	"github.com/research-agent/backend/internal/web"
	"github.com/research-agent/backend/internal/worker"
	"github.com/research-agent/backend/pkg/config"
	appLogger "github.com/research-agent/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting research verification API server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.Database.URL)
	if err != nil {
		appLogger.Fatal("Failed to create storage client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// The query cache defaults to the storage-backed table; Redis
	// takes over when configured.
	var cache storage.QueryCache = store
	if cfg.Redis.Enabled {
		redisCache, err := rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Fatal("Failed to create Redis cache", zap.Error(err))
		}
		defer redisCache.Close()
		cache = redisCache
	}

	llmClient := llm.NewOpenAIClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.Seed,
		cfg.LLM.TimeoutSec,
	)

	searchClient := web.NewGoogleSearchClient(cfg.Search.APIKey, cfg.Search.EngineID, cfg.Search.Endpoint)
	fetcher := web.NewHTTPFetcher(time.Duration(cfg.Search.FetchTimeoutSec) * time.Second)

	// One token bucket for every session in the process.
	searchLimiter := rate.NewLimiter(rate.Limit(cfg.Search.RatePerSecond), cfg.Search.RatePerSecond)

	environment := web.NewEnvironment(searchClient, fetcher, searchLimiter, web.EnvironmentConfig{
		RateWait:      time.Duration(cfg.Search.RateWaitSec) * time.Second,
		FetchBudget:   time.Duration(cfg.Search.FetchBudgetSec) * time.Second,
		MinTextLength: cfg.Search.MinTextLength,
	})

	extractor := claims.NewExtractor(llmClient, claims.Config{
		MinLength: cfg.Claims.MinLength,
		MaxHedges: cfg.Claims.MaxHedges,
	})

	verifier := verification.NewEngine(verification.NewMatcher(cfg.Verification.SimilarityThreshold))
	scorer := confidence.NewScorer()
	researcher := research.NewAgent(environment, extractor, verifier, scorer)
	synthesizer := synthesis.NewSynthesizer(llmClient)

	plannerAgent := planner.New(store, cache, researcher, synthesizer, llmClient, planner.Config{
		MaxAttempts:    cfg.Planner.MaxAttempts,
		MaxSearches:    cfg.Planner.MaxSearches,
		BaseDocs:       cfg.Planner.BaseDocs,
		DocsStep:       cfg.Planner.DocsStep,
		MaxDocs:        cfg.Planner.MaxDocs,
		MinVerified:    cfg.Planner.MinVerified,
		SessionTimeout: time.Duration(cfg.Planner.SessionTimeoutSec) * time.Second,
		CacheTTL:       time.Duration(cfg.Planner.CacheTTLSec) * time.Second,
	})

	poolCtx, poolCancel := context.WithCancel(context.Background())
	defer poolCancel()

	pool := worker.NewPool(plannerAgent, cfg.Worker.QueueDepth)
	pool.Start(poolCtx, cfg.Worker.PoolSize)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, X-Internal-Token",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	queryHandler := handlers.NewQueryHandler(store, pool, cfg.Trace.InternalToken)
	watchHandler := handlers.NewWatchHandler(store)

	api := app.Group("/api")

	api.Post("/query", queryHandler.SubmitQuery)
	api.Get("/query/:session_id/status", queryHandler.GetStatus)
	api.Get("/query/:session_id/result", queryHandler.GetResult)
	api.Get("/query/:session_id/trace", queryHandler.GetTrace)
	api.Get("/query/:session_id/watch", websocket.New(watchHandler.HandleConnection))

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/api/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	pool.Shutdown()
	appLogger.Info("Server stopped")
}
