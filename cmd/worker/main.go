package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"kairo.dev/agent/common/arangodb"
	"kairo.dev/agent/common/id"
	"kairo.dev/agent/common/llm"
	"kairo.dev/agent/common/logger"
	"kairo.dev/agent/common/otel"
	"kairo.dev/agent/core/config"
	"kairo.dev/agent/core/db"
	"kairo.dev/agent/internal/agent"
	"kairo.dev/agent/internal/agenttools"
	"kairo.dev/agent/internal/memstore"
	"kairo.dev/agent/internal/queue"
	"kairo.dev/agent/internal/runstore"
	"kairo.dev/agent/internal/worker"
)

func main() {
	ctx := context.Background()

	cfg := config.Load()

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "agent.worker.main"})

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "agent-worker starting", "env", cfg.Env)

	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "database connected")

	runs := runstore.New(database.Pool())
	if err := runs.EnsureSchema(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure runstore schema", "error", err)
		os.Exit(1)
	}

	memory := memstore.New(database.Pool())
	if err := memory.EnsureSchema(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to ensure memstore schema", "error", err)
		os.Exit(1)
	}

	redisURL := getEnv("REDIS_URL", "redis://localhost:6379/0")
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "redis connected")

	stream := getEnv("AGENT_STREAM", "agent-stream:runs")
	group := getEnv("AGENT_CONSUMER_GROUP", "agent-workers")
	consumerName := getEnv("AGENT_CONSUMER_NAME", hostnameOrDefault("agent-worker-1"))
	dlqStream := getEnv("AGENT_DLQ_STREAM", stream+":dlq")

	const maxAttempts = 3

	consumer, err := queue.NewRedisConsumer(redisClient, queue.ConsumerConfig{
		Stream:       stream,
		Group:        group,
		Consumer:     consumerName,
		DLQStream:    dlqStream,
		BatchSize:    1,
		Block:        5 * time.Second,
		MaxAttempts:  maxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	if cfg.LLM.APIKey == "" {
		slog.ErrorContext(ctx, "LLM_API_KEY is required for the agent loop")
		os.Exit(1)
	}

	plannerClient, err := llm.NewAgentClient(llm.Config{
		APIKey: cfg.LLM.APIKey,
		Model:  cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create planner llm client", "error", err)
		os.Exit(1)
	}

	reflectClient, err := llm.New(llm.Config{
		APIKey: cfg.LLM.APIKey,
		Model:  cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create reflector llm client", "error", err)
		os.Exit(1)
	}

	registry := agent.NewToolRegistry()
	if err := agenttools.RegisterRequired(registry, memory, nil); err != nil {
		slog.ErrorContext(ctx, "failed to register required tools", "error", err)
		os.Exit(1)
	}

	repoRoot := getEnv("AGENT_REPO_ROOT", ".")
	if err := (agenttools.FSTools{RepoRoot: repoRoot}).Register(registry); err != nil {
		slog.ErrorContext(ctx, "failed to register fs tools", "error", err)
		os.Exit(1)
	}
	if err := (agenttools.BashTool{RepoRoot: repoRoot}).Register(registry); err != nil {
		slog.ErrorContext(ctx, "failed to register bash tool", "error", err)
		os.Exit(1)
	}

	var arangoClient arangodb.Client
	if cfg.ArangoDB.Enabled() {
		arangoClient, err = arangodb.New(ctx, arangodb.Config{
			URL:      cfg.ArangoDB.URL,
			Username: cfg.ArangoDB.Username,
			Password: cfg.ArangoDB.Password,
			Database: cfg.ArangoDB.Database,
		})
		if err != nil {
			slog.ErrorContext(ctx, "failed to create arangodb client", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "arangodb connected", "database", cfg.ArangoDB.Database)
	} else {
		slog.InfoContext(ctx, "arangodb disabled; codegraph tool unavailable")
	}
	if err := (agenttools.CodegraphTool{Arango: arangoClient}).Register(registry); err != nil {
		slog.ErrorContext(ctx, "failed to register codegraph tool", "error", err)
		os.Exit(1)
	}

	var planner agent.Planner
	switch getEnv("PLANNER_STRATEGY", "reactive") {
	case "plan_first":
		planner = agent.NewPlanFirstPlanner(reflectClient, registry)
		slog.InfoContext(ctx, "planner strategy selected", "strategy", "plan_first")
	default:
		planner = agent.NewReactivePlanner(plannerClient, registry)
		slog.InfoContext(ctx, "planner strategy selected", "strategy", "reactive")
	}

	reflector := agent.NewLLMReflector(reflectClient)

	runner := agent.NewRunner(cfg.Runner, registry, planner, reflector)
	runner.Memory = memory

	processor := worker.NewProcessor(runner)
	w := worker.New(consumer, database, processor, worker.Config{MaxAttempts: maxAttempts})

	reclaimer := worker.NewRedisReclaimer(redisClient, worker.RedisReclaimerConfig{
		Stream:    stream,
		Group:     group,
		Consumer:  consumerName + "-reclaimer",
		MinIdle:   5 * time.Minute,
		Interval:  1 * time.Minute,
		BatchSize: 10,
	}, consumer, processMessageSafe(w))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		reclaimer.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		if err := w.Run(runCtx); err != nil && runCtx.Err() == nil {
			slog.ErrorContext(runCtx, "worker loop exited with error", "error", err)
		}
	}()

	slog.InfoContext(ctx, "agent-worker running", "stream", stream, "group", group, "consumer", consumerName)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutdown signal received, draining...")
	cancel()
	w.Stop()
	reclaimer.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.InfoContext(ctx, "graceful shutdown completed")
	case <-time.After(30 * time.Second):
		slog.WarnContext(ctx, "shutdown timeout exceeded, forcing exit")
	}

	database.Close()
	if err := redisClient.Close(); err != nil {
		slog.ErrorContext(ctx, "redis close error", "error", err)
	}
	if arangoClient != nil {
		if err := arangoClient.Close(); err != nil {
			slog.ErrorContext(ctx, "arangodb close error", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutdown complete")
}

// processMessageSafe adapts Worker.ProcessMessage to queue.MessageProcessor
// with its own panic recovery, for the reclaimer's independent goroutine.
func processMessageSafe(w *worker.Worker) queue.MessageProcessor {
	return func(ctx context.Context, msg queue.Message) (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "panic recovered in reclaimed message processing",
					"panic", r, "stack", string(debug.Stack()), "message_id", msg.ID)
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return w.ProcessMessage(ctx, msg)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func hostnameOrDefault(fallback string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return fallback
}
