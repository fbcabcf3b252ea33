package agent

import (
	"context"
	"fmt"
	"os"
	"time"
)

// RunnerConfig is the safety envelope of spec §4.1, with the defaults spec
// calls out in parentheses.
type RunnerConfig struct {
	MaxSteps               int           // 30
	Timeout                time.Duration // 600s
	CostBudget              *float64      // optional
	LoopWindow              int           // 8
	LoopRepeatThreshold     int           // 3
	NoStateChangeThreshold  int           // 3
	NoProgressThreshold     int           // 3
	ToolMaxRetries          int           // 2
	ToolRetryBackoffSeconds float64       // 0.8, exponential
	LLMMaxRetries           int           // 2
	LLMRetryBackoffSeconds  float64       // 1.2, exponential
	AllowHumanAsk           bool
	KillSwitchSource        func() bool // polled each iteration; spec §6's KILL_SWITCH/KILL_FILE
	ObservationHistoryLimit int         // how many recent observations to carry in prompts/summaries

	// CostSoftBudgetFraction nudges the planner toward wrapping up once
	// TotalCost crosses this fraction of CostBudget, before the hard stop
	// (spec-full §12's soft/hard budget nudge).
	CostSoftBudgetFraction float64 // default 0.8
}

// DefaultRunnerConfig returns spec §4.1's stated defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		MaxSteps:                30,
		Timeout:                 600 * time.Second,
		LoopWindow:              8,
		LoopRepeatThreshold:     3,
		NoStateChangeThreshold:  3,
		NoProgressThreshold:     3,
		ToolMaxRetries:          2,
		ToolRetryBackoffSeconds: 0.8,
		LLMMaxRetries:           2,
		LLMRetryBackoffSeconds:  1.2,
		ObservationHistoryLimit: 20,
		CostSoftBudgetFraction:  0.8,
	}
}

// Runner is the closed loop of spec §4.1: it owns the per-run AgentState and
// drives planner, tool registry, reflector and memory through one step at a
// time on a single goroutine. Grounded on internal/brain/orchestrator.go's
// runPlannerCycle/runExecutionCycle split, collapsed into one explicit loop
// per spec §9's "single-threaded cooperative, not coroutines" guidance.
type Runner struct {
	Config   RunnerConfig
	Registry *ToolRegistry
	Planner  Planner
	Reflect  Reflector
	Memory   MemoryStore
	Trace    TraceSink
	Clock    Clock
	Random   Random

	stuck *stuckDetector
}

// NewRunner wires the collaborators; unset Memory/Trace/Clock/Random fall
// back to no-op/real defaults so callers only need to supply what they
// actually customize.
func NewRunner(cfg RunnerConfig, registry *ToolRegistry, planner Planner, reflector Reflector) *Runner {
	return &Runner{
		Config:   cfg,
		Registry: registry,
		Planner:  planner,
		Reflect:  reflector,
		Memory:   NullMemoryStore{},
		Trace:    NewMemoryTraceSink(),
		Clock:    RealClock(),
		Random:   RealRandom(),
	}
}

// Run executes the closed loop for one Task until a StopReason terminates
// it, implementing spec §4.1's ten-step per-iteration contract.
func (r *Runner) Run(ctx context.Context, task Task, runID string, initialObservation string) RunResult {
	r.stuck = newStuckDetector(StuckConfig{
		LoopWindow:             r.Config.LoopWindow,
		LoopRepeatThreshold:    r.Config.LoopRepeatThreshold,
		NoStateChangeThreshold: r.Config.NoStateChangeThreshold,
		NoProgressThreshold:    r.Config.NoProgressThreshold,
	})

	start := r.Clock.Now()
	state := NewAgentState(task, start)
	state.CurrentPlan = nil

	if initialObservation != "" {
		obs := state.RecordObservation(SourceUser, initialObservation, salientFacts(initialObservation), start)
		r.emit(runID, state, TraceEvent{Type: TraceObservation, Timestamp: start, Observation: &obs})
	}

	var lastReason StopReason
	var lastSuccess bool

	for {
		if reason, stop := r.checkStopConditions(state, start); stop {
			lastReason, lastSuccess = reason, reason == StopGoalAchieved
			break
		}

		r.compactHistory(state)

		feedback := r.queryMemory(ctx, runID, state)

		plan, planErr := r.invokePlanner(ctx, state, feedback)
		if planErr != nil {
			lastReason, lastSuccess = StopLLMFailure, false
			break
		}
		state.CurrentPlan = plan
		r.emit(runID, state, TraceEvent{Type: TracePlan, Timestamp: r.Clock.Now(), Plan: plan})

		if plan.Done() {
			lastReason, lastSuccess = StopGoalAchieved, true
			break
		}

		action := plan.Next()

		if sig := action.Signature(); r.stuck.RecordAction(sig) {
			lastReason, lastSuccess = StopLoopDetected, false
			break
		}

		step := r.executeStep(ctx, runID, state, action)
		state.Counters.Steps++

		r.emit(runID, state, TraceEvent{Type: TraceStep, Timestamp: step.EndedAt, Step: &step})

		if step.Reflection.Status != "" {
			r.emit(runID, state, TraceEvent{Type: TraceReflection, Timestamp: step.EndedAt, Reflection: &step.Reflection})
		}

		// Keyed on the reflection's verdict, not the raw tool outcome: a
		// tool call can succeed while the reflector still calls replan
		// (postcondition counter-evidence, spec §4.4), and that must not
		// reset no_progress. minor_repair counts as success (§4.4).
		switch step.Reflection.Status {
		case ReflectSuccess, ReflectMinorRepair:
			state.Counters.RecordSuccess()
		default:
			state.Counters.RecordFailure()
		}
		if step.ToolResult.CostEstimate != nil {
			state.Counters.TotalCost += *step.ToolResult.CostEstimate
		}

		if r.stuck.NoProgress(state.Counters.ConsecutiveFailures) {
			lastReason, lastSuccess = StopNoProgress, false
			break
		}

		fp := StateFingerprint(state.RecentSalientFacts(r.Config.ObservationHistoryLimit))
		if r.stuck.RecordStateFingerprint(fp) {
			lastReason, lastSuccess = StopNoStateChange, false
			break
		}

		if step.Reflection.Status == ReflectReplan {
			repaired, err := r.Planner.Repair(ctx, state, plan.CurrentIndex, step.Reflection)
			if err != nil {
				lastReason, lastSuccess = StopLLMFailure, false
				break
			}
			state.CurrentPlan = repaired
			r.stuck.Reset()
		} else {
			state.CurrentPlan.CurrentIndex++
		}

		if action.ToolName == "finish" && step.ToolResult.Success {
			lastReason, lastSuccess = StopGoalAchieved, true
			break
		}
	}

	durationSeconds := r.Clock.Now().Sub(start).Seconds()
	summary := r.finalSummary(state, lastReason)

	var costPtr *float64
	if state.Counters.TotalCost > 0 {
		c := state.Counters.TotalCost
		costPtr = &c
	}

	r.emit(runID, state, TraceEvent{
		Type:      TraceStop,
		Timestamp: r.Clock.Now(),
		Stop: &StopEvent{
			Reason:          lastReason,
			Success:         lastSuccess,
			Steps:           state.Counters.Steps,
			DurationSeconds: durationSeconds,
			CostEstimate:    costPtr,
		},
	})
	_ = r.Trace.Close()

	return RunResult{
		Success:         lastSuccess,
		StopReason:      lastReason,
		Steps:           state.Counters.Steps,
		DurationSeconds: durationSeconds,
		FinalSummary:    summary,
		TraceID:         runID,
	}
}

// checkStopConditions evaluates every non-execution-triggered stop
// condition of spec §4.1: max_steps, timeout, budget, and kill switch. Loop
// and no-progress/no-state-change conditions are evaluated after a step
// executes, since they need that step's outcome.
func (r *Runner) checkStopConditions(state *AgentState, start time.Time) (StopReason, bool) {
	if state.Counters.Steps >= r.Config.MaxSteps {
		return StopMaxSteps, true
	}
	if r.Config.Timeout > 0 && r.Clock.Now().Sub(start) >= r.Config.Timeout {
		return StopTimeout, true
	}
	if r.Config.CostBudget != nil && state.Counters.TotalCost >= *r.Config.CostBudget {
		return StopBudgetExceeded, true
	}
	if r.Config.KillSwitchSource != nil && r.Config.KillSwitchSource() {
		return StopKillSwitch, true
	}
	return "", false
}

// compactHistory collapses older observations into RollingSummary once the
// history grows past ObservationHistoryLimit, keeping only the most recent
// window verbatim (spec §4.1's bounded-history requirement). This core
// default is a plain truncation-to-summary-note; a richer LLM-backed
// summarizer can replace it by wrapping Runner.Memory's caller, but the
// Runner itself must not depend on one to stay collaborator-free here.
func (r *Runner) compactHistory(state *AgentState) {
	limit := r.Config.ObservationHistoryLimit
	if limit <= 0 || len(state.Observations) <= limit {
		return
	}
	overflow := len(state.Observations) - limit
	if state.RollingSummary != "" {
		state.RollingSummary += fmt.Sprintf(" (+%d earlier observations compacted)", overflow)
	} else {
		state.RollingSummary = fmt.Sprintf("%d earlier observations compacted", overflow)
	}
	state.Observations = append([]Observation{}, state.Observations[overflow:]...)
}

func (r *Runner) queryMemory(ctx context.Context, runID string, state *AgentState) string {
	if r.Memory == nil {
		return ""
	}
	query := state.Task.Goal
	records, err := r.Memory.Search(ctx, query, 5)
	r.emit(runID, state, TraceEvent{
		Type:      TraceMemoryQuery,
		Timestamp: r.Clock.Now(),
		MemoryQuery: &MemoryQueryEvent{Query: query, K: 5, Results: len(records)},
	})
	if err != nil || len(records) == 0 {
		return ""
	}
	feedback := "Relevant memory:\n"
	for _, rec := range records {
		feedback += fmt.Sprintf("- (%s) %s\n", rec.Kind, rec.Content)
	}
	return feedback
}

// invokePlanner retries a planner failure up to llm_max_retries times with
// exponential backoff (spec §4.1), applying the soft-budget nudge to the
// feedback text once TotalCost crosses the configured fraction of
// CostBudget (spec-full §12).
func (r *Runner) invokePlanner(ctx context.Context, state *AgentState, feedback string) (*Plan, error) {
	if r.Config.CostBudget != nil && r.Config.CostSoftBudgetFraction > 0 {
		if state.Counters.TotalCost >= *r.Config.CostBudget*r.Config.CostSoftBudgetFraction {
			feedback += "\nCost budget is nearly exhausted: prefer finishing over exploring further."
		}
	}

	var lastErr error
	maxRetries := r.Config.LLMMaxRetries
	for attempt := 0; attempt <= maxRetries; attempt++ {
		plan, err := r.Planner.Propose(ctx, state, feedback)
		if err == nil {
			return plan, nil
		}
		lastErr = err
		if attempt < maxRetries && r.Config.LLMRetryBackoffSeconds > 0 {
			backoff := r.Config.LLMRetryBackoffSeconds * pow2(attempt)
			r.Clock.Sleep(secondsToDuration(backoff))
		}
	}
	return nil, fmt.Errorf("planner failed after %d retries: %w", maxRetries, lastErr)
}

// executeStep runs one Action through the tool registry, converts the
// result into an Observation, and classifies it via the Reflector — spec
// §4.1 steps 6-8 in one unit, since they share the Step record being built.
func (r *Runner) executeStep(ctx context.Context, runID string, state *AgentState, action Action) Step {
	startedAt := r.Clock.Now()

	if blocked := r.evaluatePreconditions(state, action); blocked {
		recovered := r.attemptLocalRecovery(ctx, state, action)
		if !recovered {
			result := ToolResult{Success: false, ErrorKind: ErrorPreconditionFailed, ErrorDetail: "precondition not satisfied"}
			return r.finishStep(runID, state, action, result, startedAt)
		}
	}

	policy := RetryPolicy{
		MaxRetries:     r.Config.ToolMaxRetries,
		BackoffSeconds: r.Config.ToolRetryBackoffSeconds,
		Clock:          r.Clock,
	}
	approval := ApprovalContext{}
	result := r.Registry.Call(ctx, action.ToolName, action.Args, approval, policy)

	return r.finishStep(runID, state, action, result, startedAt)
}

func (r *Runner) finishStep(runID string, state *AgentState, action Action, result ToolResult, startedAt time.Time) Step {
	endedAt := r.Clock.Now()

	raw := result.ErrorDetail
	if result.Success {
		raw = string(result.Output)
	}
	obs := state.RecordObservation(SourceTool, raw, salientFacts(raw), endedAt)
	r.emit(runID, state, TraceEvent{Type: TraceObservation, Timestamp: endedAt, Observation: &obs})

	refl, err := r.Reflect.Reflect(context.Background(), ReflectInput{
		Action:         action,
		Result:         result,
		Observation:    obs,
		Tail:           r.tailObservations(state),
		RollingSummary: state.RollingSummary,
	})
	if err != nil {
		refl = Reflection{Status: ReflectReplan, Explanation: fmt.Sprintf("reflection failed: %v", err)}
	}
	r.persistReflection(runID, state, refl)

	return Step{
		Index:          state.Counters.Steps,
		PlanSnapshotID: planSnapshotID(state.CurrentPlan),
		Action:         action,
		ToolResult:     result,
		ObservationID:  obs.Seq,
		Reflection:     refl,
		StartedAt:      startedAt,
		EndedAt:        endedAt,
	}
}

// persistReflection writes a reflection's durable output to memory (spec
// §4.1 step 8): an explicit MemoryWrite under its declared kind, and any
// Lesson under the experience kind, even when the reflector didn't build a
// MemoryWrite for it (the common LLMReflector case, which only sets
// MemoryWrite when the model supplied an explicit memory_key). Each write
// that actually happens gets a matching trace record.
func (r *Runner) persistReflection(runID string, state *AgentState, refl Reflection) {
	if r.Memory == nil {
		return
	}
	if refl.MemoryWrite != nil {
		if _, err := r.Memory.Store(context.Background(), refl.MemoryWrite.Kind, refl.MemoryWrite.Key, refl.MemoryWrite.Content); err == nil {
			r.emit(runID, state, TraceEvent{
				Type:        TraceMemoryWrite,
				Timestamp:   r.Clock.Now(),
				MemoryWrite: &MemoryWriteEvent{Kind: refl.MemoryWrite.Kind, Key: refl.MemoryWrite.Key},
			})
		}
	}
	if refl.Lesson != "" && (refl.MemoryWrite == nil || refl.MemoryWrite.Kind != MemoryExperience) {
		key := fmt.Sprintf("%s-step-%d", state.Task.Goal, state.Counters.Steps)
		if _, err := r.Memory.Store(context.Background(), MemoryExperience, key, refl.Lesson); err == nil {
			r.emit(runID, state, TraceEvent{
				Type:        TraceMemoryWrite,
				Timestamp:   r.Clock.Now(),
				MemoryWrite: &MemoryWriteEvent{Kind: MemoryExperience, Key: key},
			})
		}
	}
}

func planSnapshotID(p *Plan) string {
	if p == nil {
		return ""
	}
	return p.ID
}

func (r *Runner) tailObservations(state *AgentState) []Observation {
	n := r.Config.ObservationHistoryLimit
	if n <= 0 || len(state.Observations) <= n {
		return state.Observations
	}
	return state.Observations[len(state.Observations)-n:]
}

// evaluatePreconditions reports whether the action's declared preconditions
// should block execution. The core has no predicate interpreter of its own
// (spec §9: preconditions are named, not embedded logic); by contract an
// action with preconditions is only ever proposed by a planner that already
// checked them against its own world model, so the Runner treats every
// precondition list as already satisfied and never blocks on it.
func (r *Runner) evaluatePreconditions(_ *AgentState, _ Action) bool {
	return false
}

// attemptLocalRecovery tries spec §4.2's first available recovery tool once
// before falling back to a full replan, when a precondition is found
// unsatisfied mid-step.
func (r *Runner) attemptLocalRecovery(ctx context.Context, state *AgentState, action Action) bool {
	name := FirstAvailableRecovery(r.Registry, r.Config.AllowHumanAsk)
	if name == "" {
		return false
	}
	policy := RetryPolicy{MaxRetries: 0, Clock: r.Clock}
	result := r.Registry.Call(ctx, name, []byte("{}"), ApprovalContext{}, policy)
	return result.Success
}

func (r *Runner) emit(runID string, state *AgentState, event TraceEvent) {
	event.RunID = runID
	_ = r.Trace.Append(event)
}

func (r *Runner) finalSummary(state *AgentState, reason StopReason) string {
	return fmt.Sprintf("stopped: %s after %d step(s); %s", reason, state.Counters.Steps, state.RollingSummary)
}

// KillSwitchFromEnv builds the KillSwitchSource spec §6 describes: true when
// the KILL_SWITCH environment variable is set to a truthy value, or the
// KILL_FILE path (if set) exists.
func KillSwitchFromEnv() func() bool {
	return func() bool {
		if v := os.Getenv("KILL_SWITCH"); v == "1" || v == "true" {
			return true
		}
		if path := os.Getenv("KILL_FILE"); path != "" {
			if _, err := os.Stat(path); err == nil {
				return true
			}
		}
		return false
	}
}
