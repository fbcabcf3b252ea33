package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"kairo.dev/agent/common/id"
	"kairo.dev/agent/common/logger"
	"kairo.dev/agent/common/otel"
	"kairo.dev/agent/core/config"
	"kairo.dev/agent/core/db"
	"kairo.dev/agent/internal/http/middleware"
	httprouter "kairo.dev/agent/internal/http/router"
	"kairo.dev/agent/internal/queue"
	"kairo.dev/agent/internal/runstore"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()

	// OTel must init before logger (logger uses the OTel provider in production).
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.Info("otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.Info("otel disabled (no endpoint configured)")
	}

	slog.Info("agent-server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)

	if err := id.Init(1); err != nil {
		slog.Error("failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.Info("database connected")

	runs := runstore.New(database.Pool())
	if err := runs.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure runstore schema", "error", err)
		os.Exit(1)
	}

	redisURL := getEnv("REDIS_URL", "redis://localhost:6379/0")
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.Error("failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("redis connected")

	stream := getEnv("AGENT_STREAM", "agent-stream:runs")
	producer := queue.NewRedisProducer(redisClient, stream)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, httprouter.Deps{
		Runs:     runs,
		Producer: producer,
		Redis:    redisClient,
	})
	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		slog.Info("http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	if err := producer.Close(); err != nil {
		slog.Error("producer close error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown error", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

func setupRouter(cfg config.Config, deps httprouter.Deps) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates the span, Recovery catches panics within
	// it, Logger logs with the span's trace context already attached.
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, deps)

	return router
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
