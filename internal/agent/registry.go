package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
)

// Tool is the callable an executing ToolSpec wraps. Implementations live
// outside this package (internal/agenttools and beyond); the core only ever
// sees this interface, per spec §1's "tool implementations are external
// collaborators" boundary.
type Tool interface {
	// Execute runs the tool against already-schema-validated args and
	// returns its result. Execute itself only reports success/failure and
	// output; ToolRegistry.Call is responsible for turning a returned error
	// into the right ErrorKind when the tool does not set one explicitly.
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// ToolFunc adapts a plain function to the Tool interface.
type ToolFunc func(ctx context.Context, args json.RawMessage) (ToolResult, error)

func (f ToolFunc) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return f(ctx, args)
}

// ToolSpec is a tool's registration record (spec §4.3).
type ToolSpec struct {
	Name                string
	Description         string
	ArgSchema           *jsonschema.Schema
	Dangerous           bool
	Idempotent          bool
	RequiresApproval    bool
	RetryableErrorKinds map[ErrorKind]bool
	Timeout             time.Duration // hard per-call timeout; 0 = DefaultToolTimeout
	Tool                Tool
}

const DefaultToolTimeout = 30 * time.Second

// ApprovalContext carries the per-call information the dispatch contract
// needs for the approval gate and human-ask recovery path (spec §4.3,
// §4.2's recovery list gate on allow_human_ask).
type ApprovalContext struct {
	// Approved reports whether a dangerous tool's approval requirement is
	// already satisfied for this call (e.g. pre-approved by policy or by a
	// prior human_ask round trip).
	Approved bool
	// HumanAsk, if non-nil, lets a tool requiring approval block and ask
	// instead of failing outright.
	HumanAsk func(ctx context.Context, prompt string) (string, error)
}

// RetryPolicy is the Runner's tool retry configuration (spec §4.1).
type RetryPolicy struct {
	MaxRetries      int
	BackoffSeconds  float64
	Clock           Clock
}

// ToolRegistry resolves tool names to callables, validates arguments,
// enforces approval gates, and wraps execution with retry and timing.
// Grounded on explore_tools.go's Definitions()/Execute() dispatch switch and
// action_executor.go's per-type ExecuteBatch dispatch, merged into one
// schema-validating, retrying dispatcher — spec §9 calls for explicit
// registration instead of the teacher's two separate ad hoc dispatchers.
type ToolRegistry struct {
	specs map[string]ToolSpec
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{specs: make(map[string]ToolSpec)}
}

// Register adds a tool. Double-registration is an error (spec §4.3).
func (r *ToolRegistry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool spec requires a name")
	}
	if _, exists := r.specs[spec.Name]; exists {
		return fmt.Errorf("tool %q already registered", spec.Name)
	}
	if spec.Timeout == 0 {
		spec.Timeout = DefaultToolTimeout
	}
	r.specs[spec.Name] = spec
	return nil
}

// Lookup returns a tool's spec, for planner-side validation (spec §4.2).
func (r *ToolRegistry) Lookup(name string) (ToolSpec, bool) {
	spec, ok := r.specs[name]
	return spec, ok
}

// Names returns every registered tool name, for prompt assembly.
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.specs))
	for n := range r.specs {
		names = append(names, n)
	}
	return names
}

// ValidateArgs checks args against a registered tool's schema without
// executing it — the planner's action-validation step (spec §4.2) and the
// dispatch contract's step 2 share this.
func (r *ToolRegistry) ValidateArgs(toolName string, args json.RawMessage) error {
	spec, ok := r.specs[toolName]
	if !ok {
		return fmt.Errorf("unknown tool %q", toolName)
	}
	if spec.ArgSchema == nil {
		return nil
	}
	return validateAgainstSchema(spec.ArgSchema, args)
}

// Call is the dispatch contract of spec §4.3: resolve, validate, gate,
// execute-with-timeout, retry.
func (r *ToolRegistry) Call(ctx context.Context, toolName string, args json.RawMessage, approval ApprovalContext, policy RetryPolicy) ToolResult {
	spec, ok := r.specs[toolName]
	if !ok {
		return ToolResult{Success: false, ErrorKind: ErrorUnknownTool, ErrorDetail: fmt.Sprintf("unknown tool %q", toolName)}
	}

	if err := r.ValidateArgs(toolName, args); err != nil {
		return ToolResult{Success: false, ErrorKind: ErrorInvalidArgs, ErrorDetail: err.Error()}
	}

	if spec.RequiresApproval && !approval.Approved {
		if approval.HumanAsk != nil {
			answer, err := approval.HumanAsk(ctx, fmt.Sprintf("approve tool %q with args %s?", toolName, string(args)))
			if err != nil || !isAffirmative(answer) {
				return ToolResult{Success: false, ErrorKind: ErrorApprovalRequired, ErrorDetail: "approval denied or unavailable"}
			}
		} else {
			return ToolResult{Success: false, ErrorKind: ErrorApprovalRequired, ErrorDetail: "dangerous tool requires approval; no human-ask channel configured"}
		}
	}

	maxRetries := policy.MaxRetries
	var result ToolResult
	attempts := 0

	for {
		attempts++
		result = r.executeOnce(ctx, spec, args)

		if result.Success || attempts > maxRetries {
			break
		}

		// Idempotency and side-effect policy (spec §4.3): a non-idempotent
		// tool is retried only when the observed error kind is in its
		// declared retryable set; an idempotent tool is also retried on
		// transient and timeout errors. A timeout on a non-idempotent tool
		// is ambiguous (the call may have landed) and is therefore never
		// retried here.
		canRetry := spec.RetryableErrorKinds[result.ErrorKind] || (spec.Idempotent && result.ErrorKind.retryableByDefault())
		if !canRetry {
			break
		}
		if !spec.Idempotent && result.ErrorKind == ErrorTimeout {
			break
		}

		if policy.Clock != nil && policy.BackoffSeconds > 0 {
			backoff := policy.BackoffSeconds * pow2(attempts-1)
			policy.Clock.Sleep(secondsToDuration(backoff))
		}
	}

	return result
}

func (r *ToolRegistry) executeOnce(ctx context.Context, spec ToolSpec, args json.RawMessage) ToolResult {
	callCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
	defer cancel()

	type outcome struct {
		result ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		res, err := spec.Tool.Execute(callCtx, args)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-callCtx.Done():
		return ToolResult{Success: false, ErrorKind: ErrorTimeout, ErrorDetail: callCtx.Err().Error()}
	case o := <-done:
		if o.err != nil {
			res := o.result
			if res.ErrorKind == ErrorNone {
				res.ErrorKind = ErrorUnrecoverableTool
			}
			res.Success = false
			res.ErrorDetail = o.err.Error()
			return res
		}
		return o.result
	}
}

func isAffirmative(answer string) bool {
	switch answer {
	case "yes", "y", "approve", "approved", "true":
		return true
	default:
		return false
	}
}

func pow2(n int) float64 {
	out := 1.0
	for i := 0; i < n; i++ {
		out *= 2
	}
	return out
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
