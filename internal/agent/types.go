// Package agent implements the closed-loop autonomous agent runner: the
// perceive, retrieve, plan, execute, observe, reflect, remember cycle, its
// safety envelope, and the tool dispatch contract. Everything it depends on
// outside that loop — the LLM backend, the memory store, concrete tool
// implementations — is an interface defined here and satisfied elsewhere.
package agent

import (
	"encoding/json"
	"time"
)

// Task is an immutable natural-language goal plus optional structured
// context. It is created at run entry and discarded with the run.
type Task struct {
	Goal    string
	Context map[string]string
}

// ObservationSource identifies what produced an Observation.
type ObservationSource string

const (
	SourceUser       ObservationSource = "user"
	SourceTool       ObservationSource = "tool"
	SourceReflection ObservationSource = "reflection"
	SourceMemory     ObservationSource = "memory"
	SourceSystem     ObservationSource = "system"
)

// Observation is a single, immutable record of something the agent learned.
// Observations are append-only and strictly ordered by Seq.
type Observation struct {
	Seq           int64
	Source        ObservationSource
	Raw           string
	SalientFacts  []string
	Timestamp     time.Time
}

// Action is a proposed tool invocation, produced by a Planner and consumed
// by the Runner. Preconditions/Postconditions are predicate names;
// ValidateAction only checks that each is non-empty, and neither the Runner
// nor the Reflector evaluates them against AgentState.
type Action struct {
	ToolName       string
	Args           json.RawMessage
	Preconditions  []string
	Postconditions []string
	Rationale      string
}

// Signature returns the stable hash this Action would contribute to loop
// detection: (tool_name, canonicalized(args)). See Canonicalize.
func (a Action) Signature() string {
	return ActionSignature(a.ToolName, a.Args)
}

// Plan is an ordered, finite sequence of Actions plus repair metadata.
// Reactive planners always return a length-1 Plan that is discarded after
// one Step; plan-first planners keep a Plan alive across Steps and may
// mutate it via repair.
type PlanOrigin string

const (
	PlanOriginReact     PlanOrigin = "react"
	PlanOriginPlanFirst PlanOrigin = "plan_first"
)

type Plan struct {
	ID           string
	Origin       PlanOrigin
	Actions      []Action
	Branches     [][]Action // alternative full action lists; repair takes a branch's actions from the failing position onward
	CurrentIndex int
}

// Done reports whether every Action in the plan has been consumed.
func (p *Plan) Done() bool {
	return p == nil || p.CurrentIndex >= len(p.Actions)
}

// Next returns the Action at CurrentIndex. Callers must check Done first.
func (p *Plan) Next() Action {
	return p.Actions[p.CurrentIndex]
}

// ErrorKind is the taxonomy of §7: a closed set of error values flowing
// through ToolResult instead of exceptions-as-control-flow.
type ErrorKind string

const (
	ErrorNone                  ErrorKind = ""
	ErrorTransient             ErrorKind = "transient"
	ErrorTimeout               ErrorKind = "timeout"
	ErrorInvalidArgs           ErrorKind = "invalid_args"
	ErrorUnknownTool           ErrorKind = "unknown_tool"
	ErrorPreconditionFailed    ErrorKind = "precondition_failed"
	ErrorPostconditionFailed   ErrorKind = "postcondition_failed"
	ErrorApprovalRequired      ErrorKind = "approval_required"
	ErrorSafetyBlocked         ErrorKind = "safety_blocked"
	ErrorLLMFailure            ErrorKind = "llm_failure"
	ErrorUnrecoverableTool     ErrorKind = "unrecoverable_tool_failure"
)

// retryableByDefault reports whether ToolRegistry.Call may reattempt an
// idempotent tool that failed with this kind even when the tool's
// RetryableErrorKinds does not list it.
func (k ErrorKind) retryableByDefault() bool {
	return k == ErrorTransient || k == ErrorTimeout
}

// ToolResult is produced by ToolRegistry dispatch.
type ToolResult struct {
	Success      bool
	Output       json.RawMessage
	ErrorKind    ErrorKind
	ErrorDetail  string
	DurationMS   int64
	CostEstimate *float64
}

// ReflectionStatus classifies a Step's outcome.
type ReflectionStatus string

const (
	ReflectSuccess     ReflectionStatus = "success"
	ReflectMinorRepair ReflectionStatus = "minor_repair"
	ReflectReplan      ReflectionStatus = "replan"
)

// MemoryKind enumerates the kinds of record the memory collaborator stores.
type MemoryKind string

const (
	MemoryExperience MemoryKind = "experience"
	MemoryProcedure  MemoryKind = "procedure"
	MemoryKnowledge  MemoryKind = "knowledge"
)

// MemoryWrite is an explicit memory write requested by a Reflection, beyond
// the implicit lesson write.
type MemoryWrite struct {
	Kind    MemoryKind
	Key     string
	Content string
}

// Reflection is the Reflector's classification of one Step.
type Reflection struct {
	Status      ReflectionStatus
	Explanation string
	NextHint    string
	FailureType ErrorKind
	Lesson      string
	MemoryWrite *MemoryWrite
}

// Step is one Runner iteration that reached execution. Appended to the
// trace; Step never back-references Plan or AgentState, only ids.
type Step struct {
	Index          int
	PlanSnapshotID string
	Action         Action
	ToolResult     ToolResult
	ObservationID  int64
	Reflection     Reflection
	StartedAt      time.Time
	EndedAt        time.Time
	Retries        int
}

// StopReason is the exhaustive set of terminal causes for a run.
type StopReason string

const (
	StopGoalAchieved          StopReason = "goal_achieved"
	StopMaxSteps              StopReason = "max_steps"
	StopTimeout               StopReason = "timeout"
	StopBudgetExceeded        StopReason = "budget_exceeded"
	StopLoopDetected          StopReason = "loop_detected"
	StopNoStateChange         StopReason = "no_state_change"
	StopNoProgress            StopReason = "no_progress"
	StopKillSwitch            StopReason = "kill_switch"
	StopUnsafeActionBlocked   StopReason = "unsafe_action_blocked"
	StopLLMFailure            StopReason = "llm_failure"
	StopUnrecoverableTool     StopReason = "unrecoverable_tool_failure"
)

// RunResult is what run() returns.
type RunResult struct {
	Success         bool
	StopReason      StopReason
	Steps           int
	DurationSeconds float64
	FinalSummary    string
	TraceID         string
}

// AgentState is the Runner's mutable working set. It is created at run
// start, mutated only by the Runner on its single goroutine, and discarded
// at stop.
type AgentState struct {
	Task                Task
	Observations        []Observation
	RollingSummary      string
	CurrentPlan         *Plan
	Counters            Counters
	WallClockStart      time.Time
	nextObservationSeq  int64
}

// Counters tracks the Runner's running totals (spec §3's AgentState counters).
type Counters struct {
	Steps              int
	ConsecutiveFailures int
	TotalCost          float64
}

// NewAgentState constructs a fresh AgentState for a run.
func NewAgentState(task Task, now time.Time) *AgentState {
	return &AgentState{
		Task:           task,
		WallClockStart: now,
	}
}

// RecordObservation appends an Observation with the next monotonic Seq and
// returns it. This is the only way an Observation enters history, keeping
// the append-only, strictly-seq-ordered invariant in one place.
func (s *AgentState) RecordObservation(source ObservationSource, raw string, facts []string, now time.Time) Observation {
	obs := Observation{
		Seq:          s.nextObservationSeq,
		Source:       source,
		Raw:          raw,
		SalientFacts: facts,
		Timestamp:    now,
	}
	s.nextObservationSeq++
	s.Observations = append(s.Observations, obs)
	return obs
}

// RecentSalientFacts returns the concatenation of the salient facts of the
// last n observations, oldest first, for state-fingerprinting and memory
// queries.
func (s *AgentState) RecentSalientFacts(n int) []string {
	if n <= 0 || len(s.Observations) == 0 {
		return nil
	}
	start := len(s.Observations) - n
	if start < 0 {
		start = 0
	}
	var facts []string
	for _, o := range s.Observations[start:] {
		facts = append(facts, o.SalientFacts...)
	}
	return facts
}

// RecordSuccess resets the consecutive-failure counter; RecordFailure
// increments it. One of the two is called exactly once per completed Step.
func (c *Counters) RecordSuccess() { c.ConsecutiveFailures = 0 }
func (c *Counters) RecordFailure() { c.ConsecutiveFailures++ }
