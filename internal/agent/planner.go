package agent

import (
	"context"
	"fmt"
	"strings"
)

// Planner proposes the next Action (or next Plan of Actions) given the
// current AgentState (spec §4.2). Two implementations are mandatory and
// interchangeable behind this interface: ReactivePlanner and
// PlanFirstPlanner.
type Planner interface {
	// Propose returns the Plan to consume next. For a reactive planner this
	// is always a fresh length-1 Plan. For a plan-first planner this is the
	// existing CurrentPlan, returned unchanged (the Runner advances its
	// CurrentIndex), or — when there is no current plan or it is exhausted —
	// a newly ranked Plan.
	Propose(ctx context.Context, state *AgentState, feedback string) (*Plan, error)

	// Repair is invoked when the Reflector requests a replan. Reactive
	// planners simply fall through to Propose again (no persisted plan to
	// repair). Plan-first planners run the four-step cascade of spec §4.2.
	Repair(ctx context.Context, state *AgentState, failedAt int, reflection Reflection) (*Plan, error)
}

// AutoSelect implements spec §4.2's heuristic choosing between the reactive
// and plan-first variants from the task text, once per run.
func AutoSelect(taskGoal string) PlanOrigin {
	words := strings.Fields(taskGoal)
	if len(words) > 12 {
		return PlanOriginPlanFirst
	}

	lower := strings.ToLower(taskGoal)
	for _, word := range []string{"and", "then", "after"} {
		if containsWord(lower, word) {
			return PlanOriginPlanFirst
		}
	}
	for _, verb := range []string{"implement", "build", "create"} {
		if containsWord(lower, verb) {
			return PlanOriginPlanFirst
		}
	}
	return PlanOriginReact
}

func containsWord(haystack, word string) bool {
	for _, w := range strings.Fields(haystack) {
		if strings.Trim(w, ".,!?;:") == word {
			return true
		}
	}
	return false
}

// ValidateAction performs spec §4.2's planner-side action validation before
// an Action is handed to the Runner: the tool must exist and its arguments
// must parse against the registered schema. Preconditions/postconditions
// are checked only for well-formedness (non-empty predicate names) — their
// semantic evaluation belongs to the Runner (spec §4.1 step 5) and
// Reflector, not the planner.
func ValidateAction(registry *ToolRegistry, action Action) error {
	if action.ToolName == "" {
		return fmt.Errorf("action has no tool_name")
	}
	if _, ok := registry.Lookup(action.ToolName); !ok {
		return fmt.Errorf("unknown tool %q", action.ToolName)
	}
	if err := registry.ValidateArgs(action.ToolName, action.Args); err != nil {
		return fmt.Errorf("invalid args for %q: %w", action.ToolName, err)
	}
	for _, p := range action.Preconditions {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty precondition predicate")
		}
	}
	for _, p := range action.Postconditions {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty postcondition predicate")
		}
	}
	return nil
}

// RecoveryList is spec §4.2's ordered recovery attempts, by tool name. Only
// names actually present in the registry are tried; missing ones are
// skipped silently (spec: "if the relevant recovery tool is not present,
// that step is skipped").
var RecoveryList = []string{
	"dismiss_dialog",
	"search_for_target",
	"reveal_scroll",
	"resnapshot_ui",
	"wait_and_retry",
	"human_ask",
}

// FirstAvailableRecovery returns the first RecoveryList tool name present
// in the registry, or "" if none are registered. human_ask is only
// considered when allowHumanAsk is true.
func FirstAvailableRecovery(registry *ToolRegistry, allowHumanAsk bool) string {
	for _, name := range RecoveryList {
		if name == "human_ask" && !allowHumanAsk {
			continue
		}
		if _, ok := registry.Lookup(name); ok {
			return name
		}
	}
	return ""
}
