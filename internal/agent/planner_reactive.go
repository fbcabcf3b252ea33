package agent

import (
	"context"
	"fmt"

	"kairo.dev/agent/common/llm"
)

// ReactivePlanner is spec §4.2 Variant A: on each invocation it returns a
// Plan of length 1, with no cross-step state retained in the planner — all
// context comes from AgentState. Grounded on internal/brain/planner.go's
// tool-calling round trip (Plan loop), collapsed from "loop until
// submit_actions" to "one tool call is the whole Plan", since a reactive
// planner has nothing left to iterate on internally.
type ReactivePlanner struct {
	Client   llm.AgentClient
	Registry *ToolRegistry
}

func NewReactivePlanner(client llm.AgentClient, registry *ToolRegistry) *ReactivePlanner {
	return &ReactivePlanner{Client: client, Registry: registry}
}

func (p *ReactivePlanner) Propose(ctx context.Context, state *AgentState, feedback string) (*Plan, error) {
	messages := []llm.Message{
		{Role: "system", Content: reactiveSystemPrompt},
		{Role: "user", Content: buildStateSummary(state)},
	}
	if feedback != "" {
		messages = append(messages, llm.Message{Role: "user", Content: feedback})
	}

	resp, err := p.Client.ChatWithTools(ctx, llm.AgentRequest{
		Messages:    messages,
		Tools:       toolDefinitions(p.Registry),
		MaxTokens:   1000,
		Temperature: llm.Temp(0.2),
	})
	if err != nil {
		return nil, fmt.Errorf("reactive planner llm call: %w", err)
	}

	action, err := firstActionFromResponse(resp)
	if err != nil {
		return nil, err
	}

	if err := ValidateAction(p.Registry, action); err != nil {
		return nil, fmt.Errorf("planner produced invalid action: %w", err)
	}

	return &Plan{
		ID:           newPlanID(),
		Origin:       PlanOriginReact,
		Actions:      []Action{action},
		CurrentIndex: 0,
	}, nil
}

// Repair for the reactive variant is just another Propose call: there is no
// persisted plan tail to patch, so the repair cascade collapses to its
// final fallback (re-propose from current state, with the reflection folded
// into the feedback text).
func (p *ReactivePlanner) Repair(ctx context.Context, state *AgentState, _ int, reflection Reflection) (*Plan, error) {
	feedback := fmt.Sprintf("Previous step needs a replan: %s. Hint: %s", reflection.Explanation, reflection.NextHint)
	return p.Propose(ctx, state, feedback)
}

func firstActionFromResponse(resp *llm.AgentResponse) (Action, error) {
	if len(resp.ToolCalls) == 0 {
		return Action{}, fmt.Errorf("planner returned no tool call (content: %q)", resp.Content)
	}
	tc := resp.ToolCalls[0]
	return Action{
		ToolName:  tc.Name,
		Args:      []byte(tc.Arguments),
		Rationale: resp.Content,
	}, nil
}

func toolDefinitions(registry *ToolRegistry) []llm.Tool {
	names := registry.Names()
	tools := make([]llm.Tool, 0, len(names))
	for _, name := range names {
		spec, _ := registry.Lookup(name)
		tools = append(tools, llm.Tool{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  spec.ArgSchema,
		})
	}
	return tools
}

func buildStateSummary(state *AgentState) string {
	var b []byte
	b = append(b, []byte("Task: "+state.Task.Goal+"\n")...)
	if len(state.Task.Context) > 0 {
		b = append(b, []byte("Context:\n")...)
		for k, v := range state.Task.Context {
			b = append(b, []byte(fmt.Sprintf("  %s: %s\n", k, v))...)
		}
	}
	if state.RollingSummary != "" {
		b = append(b, []byte("Summary of earlier steps: "+state.RollingSummary+"\n")...)
	}
	b = append(b, []byte("Recent observations:\n")...)
	for _, o := range state.Observations {
		b = append(b, []byte(fmt.Sprintf("  [%s] %s\n", o.Source, o.Raw))...)
	}
	return string(b)
}

const reactiveSystemPrompt = `You are the planning step of an autonomous agent loop.
Given the task and recent observations, call exactly one tool: the single
next action that makes the most progress toward the goal. When the goal is
already achieved, call the finish tool with a summary. Do not explain your
reasoning outside of the tool call.`
