package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"kairo.dev/agent/common/llm"
)

// PlanFirstPlanner is spec §4.2 Variant B: produces a full multi-step Plan
// up front (the other viable candidate plans are kept as Branches), then
// hands the same Plan back on each invocation while the Runner advances
// CurrentIndex, until the plan is exhausted or a replan is requested.
// Grounded on internal/brain/orchestrator.go's runPlannerCycle, which
// already separates "produce a plan" from "execute its steps one at a
// time" and already retries a failed planner call with validation feedback
// folded back into the prompt (spec-full §12's supplemented
// validation-feedback retry).
type PlanFirstPlanner struct {
	Client       llm.Client
	Registry     *ToolRegistry
	Candidates   int // number of candidate plans to generate and rank; default 3
	Score        func(candidate []Action) float64
	MaxRepairAsk int // llm minimal-patch attempts before falling back; default 1
}

func NewPlanFirstPlanner(client llm.Client, registry *ToolRegistry) *PlanFirstPlanner {
	return &PlanFirstPlanner{
		Client:       client,
		Registry:     registry,
		Candidates:   3,
		Score:        scoreByLength,
		MaxRepairAsk: 1,
	}
}

// scoreByLength is the default ranking function when the caller supplies
// none: shorter plans are preferred, since every extra step is an extra
// chance to fail (spec §4.1's stop conditions are all monotonic in steps).
func scoreByLength(candidate []Action) float64 {
	return -float64(len(candidate))
}

type planFirstStep struct {
	ToolName        string   `json:"tool_name" jsonschema:"required"`
	Args            any      `json:"args" jsonschema:"required"`
	Preconditions   []string `json:"preconditions,omitempty"`
	Postconditions  []string `json:"postconditions,omitempty"`
	Rationale       string   `json:"rationale,omitempty"`
}

type planFirstOutput struct {
	Steps []planFirstStep `json:"steps" jsonschema:"required"`
}

func (p *PlanFirstPlanner) Propose(ctx context.Context, state *AgentState, feedback string) (*Plan, error) {
	// The Runner owns CurrentIndex advancement (it increments after a
	// successful, non-replan step); Propose just hands the in-flight plan
	// back unchanged so the Runner's Next()/Done() see the index it set.
	if state.CurrentPlan != nil && !state.CurrentPlan.Done() {
		return state.CurrentPlan, nil
	}

	candidates := p.Candidates
	if candidates <= 0 {
		candidates = 1
	}

	var best []Action
	var bestBranches [][]Action
	bestScore := 0.0
	haveBest := false

	for i := 0; i < candidates; i++ {
		actions, err := p.generateCandidate(ctx, state, feedback, i)
		if err != nil {
			continue
		}
		if len(actions) == 0 {
			continue
		}
		score := p.Score(actions)
		if !haveBest || score > bestScore {
			if haveBest {
				bestBranches = append(bestBranches, best)
			}
			haveBest = true
			bestScore = score
			best = actions
		} else {
			bestBranches = append(bestBranches, actions)
		}
	}

	if !haveBest {
		return nil, fmt.Errorf("plan-first planner produced no viable candidate plan after %d attempts", candidates)
	}

	return &Plan{
		ID:           newPlanID(),
		Origin:       PlanOriginPlanFirst,
		Actions:      best,
		Branches:     bestBranches,
		CurrentIndex: 0,
	}, nil
}

func (p *PlanFirstPlanner) generateCandidate(ctx context.Context, state *AgentState, feedback string, attempt int) ([]Action, error) {
	prompt := buildStateSummary(state)
	if feedback != "" {
		prompt += "\nFeedback: " + feedback
	}
	if attempt > 0 {
		prompt += fmt.Sprintf("\nThis is alternate candidate plan #%d: take a meaningfully different approach than the most obvious one.", attempt+1)
	}

	var out planFirstOutput
	// Validation-feedback retry: if the generated plan fails validation,
	// fold the error back into the prompt and ask again once before giving
	// up on this candidate (spec-full §12).
	var lastErr error
	for tryN := 0; tryN < 2; tryN++ {
		callPrompt := prompt
		if lastErr != nil {
			callPrompt += fmt.Sprintf("\nThe previous attempt was rejected: %s. Produce a corrected plan.", lastErr)
		}

		if _, err := p.Client.Chat(ctx, llm.Request{
			SystemPrompt: planFirstSystemPrompt,
			UserPrompt:   callPrompt,
			SchemaName:   "plan",
			Schema:       llm.GenerateSchema[planFirstOutput](),
			MaxTokens:    2000,
			Temperature:  llm.Temp(0.3),
		}, &out); err != nil {
			return nil, fmt.Errorf("plan-first llm call: %w", err)
		}

		actions, err := p.toActions(out)
		if err == nil {
			return actions, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *PlanFirstPlanner) toActions(out planFirstOutput) ([]Action, error) {
	actions := make([]Action, 0, len(out.Steps))
	for _, s := range out.Steps {
		argBytes, err := marshalArgs(s.Args)
		if err != nil {
			return nil, fmt.Errorf("step %q: %w", s.ToolName, err)
		}
		a := Action{
			ToolName:       s.ToolName,
			Args:           argBytes,
			Preconditions:  s.Preconditions,
			Postconditions: s.Postconditions,
			Rationale:      s.Rationale,
		}
		if err := ValidateAction(p.Registry, a); err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if len(actions) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	return actions, nil
}

// Repair implements spec §4.2's four-step cascade, tried in order, taking
// the first that succeeds:
//
//  1. Swap in a prepared branch at the failing position, if one covers it.
//  2. Ask the LLM for a minimal patch to just the failing step.
//  3. Regenerate the plan's tail from the failing position onward.
//  4. Fall back to a single recovery action: the first RecoveryList tool
//     present in the registry. human_ask is always eligible here; the
//     Runner's AllowHumanAsk setting is not consulted.
//
// In every case the already-executed prefix (indices < failedAt) is kept
// as-is: its ToolResults already happened and are facts, not proposals to
// redo (spec-full §9's partial-plan repair decision).
func (p *PlanFirstPlanner) Repair(ctx context.Context, state *AgentState, failedAt int, reflection Reflection) (*Plan, error) {
	current := state.CurrentPlan
	if current == nil {
		return nil, fmt.Errorf("repair called with no current plan")
	}

	if plan := p.repairFromBranch(current, failedAt); plan != nil {
		return plan, nil
	}

	if plan, err := p.repairByMinimalPatch(ctx, state, current, failedAt, reflection); err == nil {
		return plan, nil
	}

	if plan, err := p.repairByRegeneratingTail(ctx, state, current, failedAt, reflection); err == nil {
		return plan, nil
	}

	return p.repairByRecoveryAction(current, failedAt)
}

func (p *PlanFirstPlanner) repairFromBranch(current *Plan, failedAt int) *Plan {
	for _, branch := range current.Branches {
		if len(branch) <= failedAt {
			continue
		}
		repaired := *current
		repaired.ID = newPlanID()
		repaired.Actions = append(append([]Action{}, current.Actions[:failedAt]...), branch[failedAt:]...)
		repaired.CurrentIndex = failedAt
		return &repaired
	}
	return nil
}

func (p *PlanFirstPlanner) repairByMinimalPatch(ctx context.Context, state *AgentState, current *Plan, failedAt int, reflection Reflection) (*Plan, error) {
	if failedAt >= len(current.Actions) {
		return nil, fmt.Errorf("failedAt out of range")
	}
	failing := current.Actions[failedAt]
	prompt := fmt.Sprintf(
		"%s\nThe step tool=%s args=%s failed: %s. Hint: %s\nPropose a single replacement step only (one-step plan).",
		buildStateSummary(state), failing.ToolName, string(failing.Args), reflection.Explanation, reflection.NextHint,
	)

	var out planFirstOutput
	if _, err := p.Client.Chat(ctx, llm.Request{
		SystemPrompt: planFirstSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "plan_patch",
		Schema:       llm.GenerateSchema[planFirstOutput](),
		MaxTokens:    800,
		Temperature:  llm.Temp(0.2),
	}, &out); err != nil {
		return nil, fmt.Errorf("minimal patch llm call: %w", err)
	}
	patched, err := p.toActions(out)
	if err != nil || len(patched) != 1 {
		return nil, fmt.Errorf("minimal patch did not produce exactly one step")
	}

	repaired := *current
	repaired.ID = newPlanID()
	repaired.Actions = append(append([]Action{}, current.Actions[:failedAt]...), patched[0])
	repaired.Actions = append(repaired.Actions, current.Actions[failedAt+1:]...)
	repaired.CurrentIndex = failedAt
	return &repaired, nil
}

func (p *PlanFirstPlanner) repairByRegeneratingTail(ctx context.Context, state *AgentState, current *Plan, failedAt int, reflection Reflection) (*Plan, error) {
	prompt := fmt.Sprintf(
		"%s\nSteps up to index %d already executed and must not be repeated. Step %d failed: %s. Hint: %s\nPropose the remaining steps from here to completion.",
		buildStateSummary(state), failedAt-1, failedAt, reflection.Explanation, reflection.NextHint,
	)

	var out planFirstOutput
	if _, err := p.Client.Chat(ctx, llm.Request{
		SystemPrompt: planFirstSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "plan_tail",
		Schema:       llm.GenerateSchema[planFirstOutput](),
		MaxTokens:    1500,
		Temperature:  llm.Temp(0.3),
	}, &out); err != nil {
		return nil, fmt.Errorf("tail regeneration llm call: %w", err)
	}
	tail, err := p.toActions(out)
	if err != nil {
		return nil, err
	}

	repaired := *current
	repaired.ID = newPlanID()
	repaired.Actions = append(append([]Action{}, current.Actions[:failedAt]...), tail...)
	repaired.Branches = nil
	repaired.CurrentIndex = failedAt
	return &repaired, nil
}

func (p *PlanFirstPlanner) repairByRecoveryAction(current *Plan, failedAt int) (*Plan, error) {
	name := FirstAvailableRecovery(p.Registry, true)
	if name == "" {
		return nil, fmt.Errorf("no recovery action available")
	}
	recovery := Action{ToolName: name, Args: []byte("{}"), Rationale: "fallback recovery after exhausted repair cascade"}

	repaired := *current
	repaired.ID = newPlanID()
	repaired.Actions = append(append([]Action{}, current.Actions[:failedAt]...), recovery)
	repaired.Branches = nil
	repaired.CurrentIndex = failedAt
	return &repaired, nil
}

func marshalArgs(v any) ([]byte, error) {
	return json.Marshal(v)
}

const planFirstSystemPrompt = `You are the planning step of an autonomous agent loop.
Given the task, produce an ordered list of steps, each calling exactly one
registered tool, that achieves the goal. Prefer fewer steps over more. The
last step should call the finish tool once the goal is verifiably achieved.`
