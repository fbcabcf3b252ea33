// Package agenttools implements the tools an agent.ToolRegistry registers:
// the four tools the core runner presumes exist by contract (finish,
// human_ask, memory_store, memory_search), plus a read-only filesystem and
// shell toolkit adapted from the teacher's Claude-Code-style exploration
// tools. None of this package is imported by internal/agent — it only
// depends on agent.ToolSpec/agent.Tool, same as any other collaborator.
package agenttools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"kairo.dev/agent/internal/agent"
)

// FinishParams is the argument shape of the finish tool: the planner's
// declaration that the goal has been achieved.
type FinishParams struct {
	Summary string `json:"summary" jsonschema:"required,description=A short summary of what was accomplished"`
}

// Finish returns the required sentinel tool the Runner checks by name
// (spec §4.3's "finish" required tool). It always succeeds; its only job is
// to carry the final summary into the ToolResult output.
func Finish() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "finish",
		Description: "Declare the task complete and provide a final summary.",
		ArgSchema:   schemaFor(FinishParams{}),
		Idempotent:  true,
		Tool: agent.ToolFunc(func(_ context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p FinishParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			out, _ := json.Marshal(map[string]string{"summary": p.Summary})
			return agent.ToolResult{Success: true, Output: out}, nil
		}),
	}
}

// HumanAskParams is the argument shape of the human_ask tool.
type HumanAskParams struct {
	Prompt string `json:"prompt" jsonschema:"required,description=The question to ask a human"`
}

// HumanAsk wires the recovery-list's human_ask tool (spec §4.2) to a
// caller-supplied callback; ask is nil-safe — when nil, the tool reports
// approval_required, the same error kind the registry's approval gate
// returns when no human-ask channel is configured.
func HumanAsk(ask func(ctx context.Context, prompt string) (string, error)) agent.ToolSpec {
	return agent.ToolSpec{
		Name:             "human_ask",
		Description:      "Ask a human a question and wait for their answer.",
		ArgSchema:        schemaFor(HumanAskParams{}),
		RequiresApproval: false,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p HumanAskParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			if ask == nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorApprovalRequired, ErrorDetail: "no human-ask channel configured"}, nil
			}
			answer, err := ask(ctx, p.Prompt)
			if err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
			}
			out, _ := json.Marshal(map[string]string{"answer": answer})
			return agent.ToolResult{Success: true, Output: out}, nil
		}),
	}
}

// MemoryStoreParams is the argument shape of the memory_store tool.
type MemoryStoreParams struct {
	Kind    string `json:"kind" jsonschema:"required,enum=experience,enum=procedure,enum=knowledge"`
	Key     string `json:"key" jsonschema:"required"`
	Content string `json:"content" jsonschema:"required"`
}

// MemoryStore wires the memory_store required tool directly to an
// agent.MemoryStore collaborator, so the planner can write memory
// mid-plan in addition to the Reflector's implicit lesson writes.
func MemoryStore(store agent.MemoryStore) agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "memory_store",
		Description: "Persist a fact, procedure, or experience to long-term memory.",
		ArgSchema:   schemaFor(MemoryStoreParams{}),
		Idempotent:  false,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p MemoryStoreParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			id, err := store.Store(ctx, agent.MemoryKind(p.Kind), p.Key, p.Content)
			if err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
			}
			out, _ := json.Marshal(map[string]string{"id": id})
			return agent.ToolResult{Success: true, Output: out}, nil
		}),
	}
}

// MemorySearchParams is the argument shape of the memory_search tool.
type MemorySearchParams struct {
	Query string `json:"query" jsonschema:"required"`
	K     int    `json:"k,omitempty" jsonschema:"description=Number of results to return (default 5)"`
}

// MemorySearch wires the memory_search required tool directly to an
// agent.MemoryStore collaborator.
func MemorySearch(store agent.MemoryStore) agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "memory_search",
		Description: "Search long-term memory for relevant facts, procedures, or experiences.",
		ArgSchema:   schemaFor(MemorySearchParams{}),
		Idempotent:  true,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p MemorySearchParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			k := p.K
			if k <= 0 {
				k = 5
			}
			records, err := store.Search(ctx, p.Query, k)
			if err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
			}
			out, err := json.Marshal(records)
			if err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorUnrecoverableTool, ErrorDetail: err.Error()}, nil
			}
			return agent.ToolResult{Success: true, Output: out}, nil
		}),
	}
}

// RegisterRequired registers all four required tools (spec §4.3) on a
// registry, wiring human_ask and the memory tools to the supplied
// collaborators. Call once during agent wiring.
func RegisterRequired(registry *agent.ToolRegistry, store agent.MemoryStore, ask func(ctx context.Context, prompt string) (string, error)) error {
	for _, spec := range []agent.ToolSpec{Finish(), HumanAsk(ask), MemoryStore(store), MemorySearch(store)} {
		if err := registry.Register(spec); err != nil {
			return fmt.Errorf("registering %s: %w", spec.Name, err)
		}
	}
	return nil
}

func schemaFor(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	return r.Reflect(v)
}
