package agenttools

import (
	"context"
	"encoding/json"
	"os/exec"
	"strings"
	"time"

	"kairo.dev/agent/internal/agent"
)

const (
	bashTimeoutSeconds = 10
	maxBashOutput      = 10000
)

// bashAllowedPrefixes and bashBlockedPrefixes are the teacher's read-only
// command allowlist (explore_tools.go), carried over verbatim: the agent's
// bash tool is for inspection, never mutation, regardless of which domain
// it's exploring.
var bashAllowedPrefixes = []string{
	"git log", "git show", "git diff", "git blame", "git status",
	"git branch", "git tag", "git remote", "git grep", "git rev-parse",
	"ls ", "ls", "wc ", "file ", "stat ", "tree ",
	"find ",
	"cat ", "head ", "tail ", "grep ", "rg ",
}

var bashBlockedPrefixes = []string{
	"rm ", "mv ", "cp ", "mkdir ", "touch ", "chmod ", "chown ",
	"git push", "git commit", "git checkout", "git reset", "git rebase",
	"git merge", "git pull", "git stash", "git clean", "git add",
	"echo ", "printf ", "sed ", "awk ",
	">", ">>",
}

// BashParams mirrors the teacher's bash tool arguments.
type BashParams struct {
	Command string `json:"command" jsonschema:"required,description=Read-only shell command to execute"`
}

// BashTool runs allowlisted read-only shell commands within RepoRoot.
type BashTool struct {
	RepoRoot string
}

func (b BashTool) Spec() agent.ToolSpec {
	return agent.ToolSpec{
		Name:        "bash",
		Description: "Run a read-only shell command (git log/diff/blame, ls, find, cat, grep) in the repo.",
		ArgSchema:   schemaFor(BashParams{}),
		Idempotent:  true,
		Tool: agent.ToolFunc(func(ctx context.Context, args json.RawMessage) (agent.ToolResult, error) {
			var p BashParams
			if err := json.Unmarshal(args, &p); err != nil {
				return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: err.Error()}, nil
			}
			return b.run(ctx, p.Command)
		}),
	}
}

func (b BashTool) Register(registry *agent.ToolRegistry) error {
	return registry.Register(b.Spec())
}

func (b BashTool) run(ctx context.Context, command string) (agent.ToolResult, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: "command is required"}, nil
	}

	if allowed, reason := isBashCommandAllowed(command); !allowed {
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorSafetyBlocked, ErrorDetail: reason}, nil
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, bashTimeoutSeconds*time.Second)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, "bash", "-c", command)
	cmd.Dir = b.RepoRoot
	output, err := cmd.CombinedOutput()

	if timeoutCtx.Err() != nil {
		return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTimeout, ErrorDetail: "command timed out"}, nil
	}
	if err != nil {
		if len(output) == 0 {
			return agent.ToolResult{Success: false, ErrorKind: agent.ErrorTransient, ErrorDetail: err.Error()}, nil
		}
	}

	out, _ := json.Marshal(map[string]string{"output": truncateOutput(output)})
	return agent.ToolResult{Success: true, Output: out}, nil
}

// isBashCommandAllowed checks blocked prefixes first, then requires the
// command to start with one of the allowed read-only prefixes.
func isBashCommandAllowed(command string) (bool, string) {
	for _, prefix := range bashBlockedPrefixes {
		if strings.HasPrefix(command, prefix) || strings.Contains(command, prefix) {
			return false, "command contains a blocked (write) operation: " + strings.TrimSpace(prefix)
		}
	}
	for _, prefix := range bashAllowedPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true, ""
		}
	}
	return false, "command does not match any allowed read-only prefix"
}

func truncateOutput(output []byte) string {
	if len(output) <= maxBashOutput {
		return string(output)
	}
	return string(output[:maxBashOutput]) + "\n[output truncated]"
}
