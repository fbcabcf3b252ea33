// cmd/agent runs the closed loop once against a single goal and exits —
// the direct run(task, options) entry point, with no queue or HTTP surface
// in front of it. Grounded on cmd/relay/main.go's wiring order, trimmed to
// what a single run needs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"kairo.dev/agent/common/id"
	"kairo.dev/agent/common/llm"
	"kairo.dev/agent/common/logger"
	"kairo.dev/agent/core/config"
	"kairo.dev/agent/core/db"
	"kairo.dev/agent/internal/agent"
	"kairo.dev/agent/internal/agenttools"
	"kairo.dev/agent/internal/memstore"
)

func main() {
	goal := flag.String("goal", "", "the goal to run the agent loop against")
	tracePath := flag.String("trace", "", "path to write the NDJSON trace to (when empty, the trace is kept in memory only)")
	repoRoot := flag.String("repo-root", ".", "root directory the fs/bash tools are confined to")
	flag.Parse()

	if *goal == "" {
		fmt.Fprintln(os.Stderr, "usage: agent -goal \"...\" [-trace path] [-repo-root path]")
		os.Exit(2)
	}

	ctx := context.Background()
	cfg := config.Load()
	logger.Setup(cfg)

	if err := id.Init(3); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}
	runID := fmt.Sprintf("run-%d", id.New())

	if cfg.LLM.APIKey == "" {
		slog.ErrorContext(ctx, "LLM_API_KEY is required")
		os.Exit(1)
	}

	var memory agent.MemoryStore = agent.NullMemoryStore{}
	if cfg.DB.DSN != "" {
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			slog.WarnContext(ctx, "failed to connect to database, running without persistent memory", "error", err)
		} else {
			defer database.Close()
			store := memstore.New(database.Pool())
			if err := store.EnsureSchema(ctx); err != nil {
				slog.WarnContext(ctx, "failed to ensure memstore schema, running without persistent memory", "error", err)
			} else {
				memory = store
			}
		}
	}

	plannerClient, err := llm.NewAgentClient(llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create planner llm client", "error", err)
		os.Exit(1)
	}
	reflectClient, err := llm.New(llm.Config{APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create reflector llm client", "error", err)
		os.Exit(1)
	}

	registry := agent.NewToolRegistry()
	if err := agenttools.RegisterRequired(registry, memory, nil); err != nil {
		slog.ErrorContext(ctx, "failed to register required tools", "error", err)
		os.Exit(1)
	}
	if err := (agenttools.FSTools{RepoRoot: *repoRoot}).Register(registry); err != nil {
		slog.ErrorContext(ctx, "failed to register fs tools", "error", err)
		os.Exit(1)
	}
	if err := (agenttools.BashTool{RepoRoot: *repoRoot}).Register(registry); err != nil {
		slog.ErrorContext(ctx, "failed to register bash tool", "error", err)
		os.Exit(1)
	}

	planner := agent.NewReactivePlanner(plannerClient, registry)
	reflector := agent.NewLLMReflector(reflectClient)

	runner := agent.NewRunner(cfg.Runner, registry, planner, reflector)
	runner.Memory = memory

	if *tracePath != "" {
		sink, err := agent.NewFileTraceSink(*tracePath)
		if err != nil {
			slog.ErrorContext(ctx, "failed to open trace file", "error", err)
			os.Exit(1)
		}
		defer sink.Close()
		runner.Trace = sink
	}

	result := runner.Run(ctx, agent.Task{Goal: *goal}, runID, "")

	out, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(out))

	if !result.Success {
		os.Exit(1)
	}
}
