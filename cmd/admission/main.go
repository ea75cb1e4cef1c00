package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgelimit/edgelimit/pkg/config"
	handlers "github.com/edgelimit/edgelimit/pkg/handlers/http"
	infraLogger "github.com/edgelimit/edgelimit/pkg/infra/logger"
	"github.com/edgelimit/edgelimit/pkg/infra/prometheus"
	"github.com/edgelimit/edgelimit/pkg/infra/storage"
	"github.com/edgelimit/edgelimit/pkg/middleware"
	"github.com/edgelimit/edgelimit/pkg/ratelimit"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/clock"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/policy"
	"github.com/edgelimit/edgelimit/pkg/ratelimit/store"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	if err := config.Load("./config"); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	logger := infraLogger.NewLogger(cfg.Log)
	prometheus.Initialize()

	redisClient, err := storage.NewRedisClient(cfg.Redis, logger)
	if err != nil {
		logger.Fatalf("failed to initialize redis: %v", err)
	}
	defer redisClient.Close()

	counterStore := store.NewRedisStore(redisClient, nil)

	// Invalid policy configuration refuses to start rather than running with
	// undefined behavior.
	registry, err := policy.NewRegistry(cfg.RateLimit)
	if err != nil {
		logger.Fatalf("invalid rate limit configuration: %v", err)
	}

	admission := ratelimit.NewAdmission(counterStore, registry, logger, &ratelimit.Options{
		StoreTimeout: cfg.RateLimit.StoreTimeout,
		Breaker:      ratelimit.NewCircuitBreaker("counter-store", 30*time.Second, 5),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := ratelimit.NewSweeper(counterStore, admission, clock.System(), logger, cfg.RateLimit.SweepInterval)
	sweeper.Start(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	transport := handlers.HandlerTransport{
		GetUsageHandler:   handlers.NewGetUsageHandler(logger, admission),
		ResetUsageHandler: handlers.NewResetUsageHandler(logger, admission),
	}
	admin := app.Group("/__admission")
	admin.Get("/usage/:category/:identifier", transport.GetUsageHandler.Handle)
	admin.Delete("/usage/:category/:identifier", transport.ResetUsageHandler.Handle)

	// One check route per configured category: callers probe the quota and
	// read the decision from the status code and rate limit headers.
	for category := range cfg.RateLimit.Categories {
		mw := middleware.NewRateLimitMiddleware(logger, admission, category, nil)
		app.All("/v1/check/"+category, mw.Middleware(), func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusNoContent)
		})
	}

	metricsApp := fiber.New(fiber.Config{DisableStartupMessage: true})
	metricsApp.Get("/metrics", adaptor.HTTPHandler(
		promhttp.HandlerFor(prometheus.Registry(), promhttp.HandlerOpts{}),
	))

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort)
		if err := metricsApp.Listen(addr); err != nil {
			logger.Errorf("metrics server stopped: %v", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		logger.Infof("admission server listening on %s", addr)
		if err := app.Listen(addr); err != nil {
			logger.Fatalf("server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	_ = metricsApp.Shutdown()
	if err := app.Shutdown(); err != nil {
		logger.Errorf("shutdown error: %v", err)
	}
}
