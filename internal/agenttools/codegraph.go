package agenttools

import (
	"context"
	"encoding/json"

	"kairo.dev/agent/common/arangodb"
	"kairo.dev/agent/internal/agent"
)

const maxCodegraphDepth = 3

// CodegraphParams mirrors a reduced subset of the teacher's codegraph tool
// arguments — search, callers, and callees are the operations a general
// agent loop is most likely to use when it is reasoning about an unfamiliar
// codebase, rather than the full resolve/trace/implementations surface the
// GitLab-specific explore agent exposed.
type CodegraphParams struct {
	Operation string `json:"operation" jsonschema:"required,enum=search,enum=callers,enum=callees"`
	Name      string `json:"name,omitempty" jsonschema:"description=Symbol name or glob pattern"`
	Depth     int    `json:"depth,omitempty" jsonschema:"description=Traversal depth for callers/callees (1-3, default 1)"`
}

// CodegraphTool is grounded on explore_tools.go's executeCodegraph, reduced
// to the operations above and adapted to the ToolResult/ErrorKind contract.
// Arango is nil-safe: without a client configured, the tool reports itself
// unavailable instead of failing, exactly as the teacher's
// `arango arangodb.Client // nil = codegraph unavailable` field does.
type CodegraphTool struct {
	Arango arangodb.Client
}

func (t CodegraphTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "codegraph",
		Description: "Query code relationships: search symbols, or list a symbol's callers/callees.",
		ArgSchema:   schemaFor(CodegraphParams{}),
		Idempotent:  true,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p CodegraphParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			return t.run(ctx, p)
		}),
	}
}

func (t CodegraphTool) Register(registry *agent.ToolRegistry) error {
	return registry.Register(t.Spec())
}

func (t CodegraphTool) run(ctx context.Context, p CodegraphParams) (agent.ToolResult, error) {
	if t.Arango == nil {
		out, _ := json.Marshal(map[string]string{"status": "codegraph unavailable: no graph backend configured"})
		return agent.ToolResult{Success: true, Output: out}, nil
	}

	depth := p.Depth
	if depth < 1 {
		depth = 1
	}
	if depth > maxCodegraphDepth {
		depth = maxCodegraphDepth
	}

	switch p.Operation {
	case "search":
		results, total, err := t.Arango.SearchSymbols(ctx, arangodb.SearchOptions{Name: p.Name})
		if err != nil {
			return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
		}
		out, _ := json.Marshal(map[string]any{"results": results, "total": total})
		return agent.ToolResult{Success: true, Output: out}, nil

	case "callers":
		nodes, err := t.Arango.GetCallers(ctx, p.Name, depth)
		if err != nil {
			return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
		}
		out, _ := json.Marshal(map[string]any{"nodes": nodes})
		return agent.ToolResult{Success: true, Output: out}, nil

	case "callees":
		nodes, err := t.Arango.GetCallees(ctx, p.Name, depth)
		if err != nil {
			return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
		}
		out, _ := json.Marshal(map[string]any{"nodes": nodes})
		return agent.ToolResult{Success: true, Output: out}, nil

	default:
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: "unknown codegraph operation"}, nil
	}
}
