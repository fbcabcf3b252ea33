package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairo.dev/agent/common/llm"
)

// scriptedLLMClient replays a fixed sequence of JSON responses, one per
// Chat call, clamping to the last entry once exhausted. Satisfies
// llm.Client, which is all PlanFirstPlanner needs of its collaborator.
type scriptedLLMClient struct {
	responses []string
	calls     int
}

func (c *scriptedLLMClient) Chat(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return &llm.Response{}, json.Unmarshal([]byte(c.responses[idx]), result)
}

func (c *scriptedLLMClient) Model() string { return "fake-model" }

// scriptedReactivePlanner hands out one Action per call from a caller-
// supplied sequence, standing in for ReactivePlanner in tests that don't
// need a real LLM round trip.
type scriptedReactivePlanner struct {
	actions []Action
	calls   int
}

func (p *scriptedReactivePlanner) Propose(_ context.Context, _ *AgentState, _ string) (*Plan, error) {
	idx := p.calls
	if idx >= len(p.actions) {
		idx = len(p.actions) - 1
	}
	p.calls++
	return &Plan{ID: fmt.Sprintf("plan-%d", p.calls), Origin: PlanOriginReact, Actions: []Action{p.actions[idx]}}, nil
}

func (p *scriptedReactivePlanner) Repair(ctx context.Context, state *AgentState, _ int, _ Reflection) (*Plan, error) {
	return p.Propose(ctx, state, "")
}

// fixedReflector always returns the same Reflection, for tests that isolate
// the Runner's counter/trace bookkeeping from reflection logic.
type fixedReflector struct {
	refl Reflection
}

func (r fixedReflector) Reflect(context.Context, ReflectInput) (Reflection, error) {
	return r.refl, nil
}

// recordingMemoryStore captures every Store call for assertions.
type recordingMemoryStore struct {
	writes []MemoryWrite
}

func (m *recordingMemoryStore) Search(context.Context, string, int) ([]MemoryRecord, error) {
	return nil, nil
}

func (m *recordingMemoryStore) Store(_ context.Context, kind MemoryKind, key, content string) (string, error) {
	m.writes = append(m.writes, MemoryWrite{Kind: kind, Key: key, Content: content})
	return "id", nil
}

func echoTool(field string) ToolFunc {
	return func(_ context.Context, args json.RawMessage) (ToolResult, error) {
		var p map[string]any
		_ = json.Unmarshal(args, &p)
		out, _ := json.Marshal(map[string]any{field: p[field]})
		return ToolResult{Success: true, Output: out}, nil
	}
}

func constantTool(content string) ToolFunc {
	return func(context.Context, json.RawMessage) (ToolResult, error) {
		out, _ := json.Marshal(map[string]string{"result": content})
		return ToolResult{Success: true, Output: out}, nil
	}
}

func finishTool() ToolFunc {
	return func(context.Context, json.RawMessage) (ToolResult, error) {
		return ToolResult{Success: true, Output: json.RawMessage(`{"summary":"done"}`)}, nil
	}
}

func newRunnerForTest(cfg RunnerConfig, registry *ToolRegistry, planner Planner, reflector Reflector) *Runner {
	r := NewRunner(cfg, registry, planner, reflector)
	r.Clock = NewFakeClock(time.Unix(0, 0))
	return r
}

// TestRunner_PlanFirstRunsEveryStep is the regression test for the
// double-advance bug: a two-step plan-first plan (probe, finish) must
// execute both of its steps and actually call finish, not skip straight to
// Done() after the first step.
func TestRunner_PlanFirstRunsEveryStep(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(ToolSpec{Name: "probe", Tool: echoTool("n")}))
	require.NoError(t, registry.Register(ToolSpec{Name: "finish", Tool: finishTool()}))

	planJSON := `{"steps":[{"tool_name":"probe","args":{"n":1}},{"tool_name":"finish","args":{}}]}`
	planner := &PlanFirstPlanner{
		Client:     &scriptedLLMClient{responses: []string{planJSON}},
		Registry:   registry,
		Candidates: 1,
		Score:      scoreByLength,
	}

	cfg := DefaultRunnerConfig()
	cfg.MaxSteps = 10
	cfg.NoStateChangeThreshold = 100
	cfg.LoopRepeatThreshold = 100
	cfg.NoProgressThreshold = 100

	runner := newRunnerForTest(cfg, registry, planner, RuleReflector{})
	result := runner.Run(context.Background(), Task{Goal: "probe then finish"}, "run-1", "")

	assert.True(t, result.Success)
	assert.Equal(t, StopGoalAchieved, result.StopReason)
	assert.Equal(t, 2, result.Steps, "both plan steps must execute, not just the first")
}

// TestRunner_NoStateChange_FiresOnGenuineStagnation and its companion below
// are the regression pair for the always-nil salient facts bug: identical
// observation content across steps must trip no_state_change, but varying
// content across steps must not.
func TestRunner_NoStateChange_FiresOnGenuineStagnation(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(ToolSpec{Name: "probe", Tool: constantTool("nothing changed")}))
	require.NoError(t, registry.Register(ToolSpec{Name: "finish", Tool: finishTool()}))

	actions := make([]Action, 0, 10)
	for i := 0; i < 10; i++ {
		args, _ := json.Marshal(map[string]int{"n": i})
		actions = append(actions, Action{ToolName: "probe", Args: args})
	}
	planner := &scriptedReactivePlanner{actions: actions}

	cfg := DefaultRunnerConfig()
	cfg.MaxSteps = 10
	cfg.NoStateChangeThreshold = 3
	cfg.LoopRepeatThreshold = 100 // distinct args each call; isolate from loop detection
	cfg.NoProgressThreshold = 100
	// The fingerprint compares the latest observation's content, not an
	// ever-growing window of history (which would never repeat exactly).
	cfg.ObservationHistoryLimit = 1

	runner := newRunnerForTest(cfg, registry, planner, RuleReflector{})
	result := runner.Run(context.Background(), Task{Goal: "poll until something changes"}, "run-2", "")

	assert.False(t, result.Success)
	assert.Equal(t, StopNoStateChange, result.StopReason)
	assert.Equal(t, 3, result.Steps)
}

func TestRunner_NoStateChange_DoesNotFireOnGenuineProgress(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(ToolSpec{Name: "probe", Tool: echoTool("n")}))
	require.NoError(t, registry.Register(ToolSpec{Name: "finish", Tool: finishTool()}))

	actions := make([]Action, 0, 5)
	for i := 0; i < 4; i++ {
		args, _ := json.Marshal(map[string]int{"n": i})
		actions = append(actions, Action{ToolName: "probe", Args: args})
	}
	actions = append(actions, Action{ToolName: "finish"})
	planner := &scriptedReactivePlanner{actions: actions}

	cfg := DefaultRunnerConfig()
	cfg.MaxSteps = 10
	cfg.NoStateChangeThreshold = 3
	cfg.LoopRepeatThreshold = 100
	cfg.NoProgressThreshold = 100
	cfg.ObservationHistoryLimit = 1

	runner := newRunnerForTest(cfg, registry, planner, RuleReflector{})
	result := runner.Run(context.Background(), Task{Goal: "make real progress each step"}, "run-3", "")

	assert.True(t, result.Success)
	assert.Equal(t, StopGoalAchieved, result.StopReason)
	assert.Equal(t, 5, result.Steps)
}

// TestRunner_ConsecutiveFailures_KeyedOnReflectionStatus is the regression
// test for counting consecutive_failures from the raw tool outcome instead
// of the reflector's verdict: a tool that keeps succeeding while the
// reflector keeps calling replan must still trip no_progress.
func TestRunner_ConsecutiveFailures_KeyedOnReflectionStatus(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(ToolSpec{Name: "probe", Tool: echoTool("n")}))

	actions := make([]Action, 0, 10)
	for i := 0; i < 10; i++ {
		args, _ := json.Marshal(map[string]int{"n": i})
		actions = append(actions, Action{ToolName: "probe", Args: args})
	}
	planner := &scriptedReactivePlanner{actions: actions}
	reflector := fixedReflector{refl: Reflection{Status: ReflectReplan, Explanation: "postcondition not observed"}}

	cfg := DefaultRunnerConfig()
	cfg.MaxSteps = 10
	cfg.NoProgressThreshold = 3
	cfg.NoStateChangeThreshold = 100
	cfg.LoopRepeatThreshold = 100

	runner := newRunnerForTest(cfg, registry, planner, reflector)
	result := runner.Run(context.Background(), Task{Goal: "keep failing postconditions"}, "run-4", "")

	assert.False(t, result.Success)
	assert.Equal(t, StopNoProgress, result.StopReason)
	assert.Equal(t, 3, result.Steps, "a tool succeeding every time must not reset the counter a replan-verdict should drive")
}

// TestRunner_PersistsLessonAndEmitsTraces covers the memory/trace half of
// review comment 4: a Lesson without an explicit MemoryWrite is still
// persisted under the experience kind, with a matching trace record, and
// every step (not just the bootstrap observation) gets an observation trace
// record.
func TestRunner_PersistsLessonAndEmitsTraces(t *testing.T) {
	registry := NewToolRegistry()
	require.NoError(t, registry.Register(ToolSpec{Name: "probe", Tool: echoTool("n")}))
	require.NoError(t, registry.Register(ToolSpec{Name: "finish", Tool: finishTool()}))

	args, _ := json.Marshal(map[string]int{"n": 1})
	planner := &scriptedReactivePlanner{actions: []Action{
		{ToolName: "probe", Args: args},
		{ToolName: "finish"},
	}}
	reflector := fixedReflector{refl: Reflection{Status: ReflectSuccess, Lesson: "probing with n=1 works"}}

	memory := &recordingMemoryStore{}
	trace := NewMemoryTraceSink()

	cfg := DefaultRunnerConfig()
	cfg.MaxSteps = 10
	cfg.NoStateChangeThreshold = 100
	cfg.LoopRepeatThreshold = 100
	cfg.NoProgressThreshold = 100

	runner := newRunnerForTest(cfg, registry, planner, reflector)
	runner.Memory = memory
	runner.Trace = trace

	result := runner.Run(context.Background(), Task{Goal: "learn something"}, "run-5", "")
	assert.True(t, result.Success)

	require.Len(t, memory.writes, 2, "one lesson write per step, since fixedReflector repeats the same Lesson each time")
	for _, w := range memory.writes {
		assert.Equal(t, MemoryExperience, w.Kind)
		assert.Equal(t, "probing with n=1 works", w.Content)
	}

	events := trace.Events()
	var observationCount, memoryWriteCount int
	for _, e := range events {
		switch e.Type {
		case TraceObservation:
			observationCount++
		case TraceMemoryWrite:
			memoryWriteCount++
		}
	}
	assert.Equal(t, 2, observationCount, "every step's tool observation must be traced, not only bootstrap")
	assert.Equal(t, 2, memoryWriteCount)
}
