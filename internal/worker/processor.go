package worker

import (
	"context"

	"kairo.dev/agent/internal/agent"
)

// Processor runs the agent loop once per queued run request. It is a thin
// wrapper around agent.Runner: Runner.Run already builds fresh AgentState
// per call, so one Processor (and the *agent.Runner it wraps) is reused
// across every run the worker picks up.
type Processor struct {
	runner *agent.Runner
}

func NewProcessor(runner *agent.Runner) *Processor {
	return &Processor{runner: runner}
}

func (p *Processor) Run(ctx context.Context, runID, goal string, taskContext map[string]string) agent.RunResult {
	task := agent.Task{Goal: goal, Context: taskContext}
	return p.runner.Run(ctx, task, runID, "")
}
