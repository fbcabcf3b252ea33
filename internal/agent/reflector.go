package agent

import (
	"context"
	"fmt"
	"strings"

	"kairo.dev/agent/common/llm"
)

// Reflector converts an Action+ToolResult+state-delta into a Reflection
// (spec §4.4). Implementations must be deterministic given a fixed LLM seed
// and identical (action, result, tail) inputs (P9).
type Reflector interface {
	Reflect(ctx context.Context, in ReflectInput) (Reflection, error)
}

// ReflectInput bundles the most recent Step's Action, ToolResult, the
// resulting Observation, and a bounded tail of history — exactly the input
// spec §4.4 names, no more.
type ReflectInput struct {
	Action         Action
	Result         ToolResult
	Observation    Observation
	Tail           []Observation
	RollingSummary string
}

// RuleReflector classifies outcomes from ToolResult alone, with no LLM
// call. It is deterministic by construction (P9 holds trivially) and is the
// default for tool-contract-level failures the registry already typed —
// there is no ambiguity for the Reflector to resolve in these cases, so
// spending an LLM call on them would only add latency and nondeterminism.
// Grounded on action_validator.go's FormatValidationErrorForLLM, which
// shows the teacher already treats certain error kinds as mechanically
// classifiable rather than LLM-judged.
type RuleReflector struct {
	// Next is consulted when the ToolResult succeeded and the case is not
	// mechanically classifiable — e.g. to apply richer judgement or lesson
	// extraction. May be nil, in which case success is reported plainly.
	Next Reflector
}

func (r RuleReflector) Reflect(ctx context.Context, in ReflectInput) (Reflection, error) {
	switch in.Result.ErrorKind {
	case ErrorUnknownTool, ErrorInvalidArgs:
		return Reflection{
			Status:      ReflectReplan,
			Explanation: fmt.Sprintf("tool dispatch rejected the action: %s", in.Result.ErrorDetail),
			NextHint:    "choose a registered tool with arguments matching its schema",
			FailureType: in.Result.ErrorKind,
		}, nil
	case ErrorApprovalRequired:
		return Reflection{
			Status:      ReflectReplan,
			Explanation: "the action required approval that was not granted",
			NextHint:    "ask the user, or choose an action that does not require approval",
			FailureType: in.Result.ErrorKind,
		}, nil
	case ErrorPreconditionFailed:
		return Reflection{
			Status:      ReflectReplan,
			Explanation: "the action's precondition did not hold and localized recovery did not resolve it",
			NextHint:    in.Action.Rationale,
			FailureType: in.Result.ErrorKind,
		}, nil
	case ErrorPostconditionFailed:
		return Reflection{
			Status:      ReflectReplan,
			Explanation: "the tool reported success but its declared postcondition was not observed",
			FailureType: in.Result.ErrorKind,
		}, nil
	case ErrorTransient, ErrorTimeout, ErrorUnrecoverableTool:
		return Reflection{
			Status:      ReflectReplan,
			Explanation: fmt.Sprintf("tool invocation failed: %s", in.Result.ErrorDetail),
			FailureType: in.Result.ErrorKind,
		}, nil
	}

	if in.Result.Success {
		if r.Next != nil {
			return r.Next.Reflect(ctx, in)
		}
		return Reflection{Status: ReflectSuccess, Explanation: "action completed successfully"}, nil
	}

	return Reflection{
		Status:      ReflectReplan,
		Explanation: "action did not succeed",
		FailureType: in.Result.ErrorKind,
	}, nil
}

// llmReflectorOutput is the structured-output schema asked of the LLM.
type llmReflectorOutput struct {
	Status      string `json:"status" jsonschema:"required,enum=success,enum=minor_repair,enum=replan"`
	Explanation string `json:"explanation" jsonschema:"required"`
	NextHint    string `json:"next_hint,omitempty"`
	Lesson      string `json:"lesson,omitempty" jsonschema:"description=A short self-contained learning for long-term memory. Omit if none."`
	MemoryKey   string `json:"memory_key,omitempty"`
	MemoryKind  string `json:"memory_kind,omitempty" jsonschema:"enum=experience,enum=procedure,enum=knowledge"`
}

// LLMReflector asks a structured-output LLM client to judge outcomes the
// ToolResult alone can't resolve (postcondition-adjacent ambiguity, lesson
// extraction). Grounded on explore_agent.go's extractConfidence
// substring-classification idiom, generalized into a structured schema call
// instead of prose parsing, since a typed `Reflection.status` needs more
// reliability than substring matching gives.
type LLMReflector struct {
	Client llm.Client
}

func NewLLMReflector(client llm.Client) *LLMReflector {
	return &LLMReflector{Client: client}
}

func (r *LLMReflector) Reflect(ctx context.Context, in ReflectInput) (Reflection, error) {
	prompt := buildReflectPrompt(in)

	var out llmReflectorOutput
	if _, err := r.Client.Chat(ctx, llm.Request{
		SystemPrompt: reflectorSystemPrompt,
		UserPrompt:   prompt,
		SchemaName:   "reflection",
		Schema:       llm.GenerateSchema[llmReflectorOutput](),
		MaxTokens:    600,
		Temperature:  llm.Temp(0),
	}, &out); err != nil {
		return Reflection{}, fmt.Errorf("reflector llm call: %w", err)
	}

	status := ReflectionStatus(out.Status)
	switch status {
	case ReflectSuccess, ReflectMinorRepair, ReflectReplan:
	default:
		status = ReflectReplan
	}

	refl := Reflection{
		Status:      status,
		Explanation: out.Explanation,
		NextHint:    out.NextHint,
		Lesson:      out.Lesson,
	}
	if out.MemoryKey != "" {
		refl.MemoryWrite = &MemoryWrite{
			Kind:    MemoryKind(out.MemoryKind),
			Key:     out.MemoryKey,
			Content: refl.Lesson,
		}
	}
	return refl, nil
}

func buildReflectPrompt(in ReflectInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Action: tool=%s args=%s\n", in.Action.ToolName, string(in.Action.Args))
	fmt.Fprintf(&b, "Result: success=%v error_kind=%s detail=%s\n", in.Result.Success, in.Result.ErrorKind, in.Result.ErrorDetail)
	fmt.Fprintf(&b, "Observation: %s\n", in.Observation.Raw)
	if in.RollingSummary != "" {
		fmt.Fprintf(&b, "Rolling summary: %s\n", in.RollingSummary)
	}
	if len(in.Tail) > 0 {
		b.WriteString("Recent history:\n")
		for _, o := range in.Tail {
			fmt.Fprintf(&b, "- [%s] %s\n", o.Source, o.Raw)
		}
	}
	return b.String()
}

const reflectorSystemPrompt = `You classify the outcome of one agent step.
Return status=success only if the action's intent was actually achieved.
Return status=minor_repair if the action mostly succeeded but needs a small
localized follow-up. Return status=replan if the action failed to advance the
goal or the current plan's assumptions are now wrong.
Only include a lesson if there is a genuine, self-contained learning worth
remembering for similar future situations; never fabricate one.`
