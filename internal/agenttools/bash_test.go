package agenttools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsBashCommandAllowed(t *testing.T) {
	cases := []struct {
		name    string
		command string
		allowed bool
	}{
		{"git log is allowed", "git log --oneline", true},
		{"git diff is allowed", "git diff HEAD~1", true},
		{"cat is allowed", "cat README.md", true},
		{"plain ls is allowed", "ls", true},
		{"rm is blocked", "rm -rf /tmp/x", false},
		{"git push is blocked", "git push origin main", false},
		{"git commit is blocked", "git commit -m oops", false},
		{"redirect is blocked even on an allowed prefix", "cat foo.txt > bar.txt", false},
		{"blocked substring mid-command is still caught", "ls && rm -rf /", false},
		{"unrecognized command is rejected", "curl https://example.com", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allowed, reason := isBashCommandAllowed(tc.command)
			assert.Equal(t, tc.allowed, allowed)
			if !tc.allowed {
				assert.NotEmpty(t, reason)
			}
		})
	}
}

func TestTruncateOutput(t *testing.T) {
	short := []byte("hello")
	assert.Equal(t, "hello", truncateOutput(short))

	long := []byte(strings.Repeat("a", maxBashOutput+100))
	got := truncateOutput(long)
	assert.True(t, strings.HasSuffix(got, "[output truncated]"))
	assert.Equal(t, maxBashOutput+len("\n[output truncated]"), len(got))
}

func TestBashTool_RejectsBlockedCommand(t *testing.T) {
	tool := BashTool{RepoRoot: "."}
	spec := tool.Spec()

	args, _ := json.Marshal(BashParams{Command: "rm -rf /"})
	result, err := spec.Tool.Execute(context.Background(), args)

	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "safety_blocked", string(result.ErrorKind))
}

func TestBashTool_RejectsEmptyCommand(t *testing.T) {
	tool := BashTool{RepoRoot: "."}
	spec := tool.Spec()

	args, _ := json.Marshal(BashParams{Command: "   "})
	result, err := spec.Tool.Execute(context.Background(), args)

	assert.NoError(t, err)
	assert.False(t, result.Success)
}

func TestBashTool_RejectsMalformedArgs(t *testing.T) {
	tool := BashTool{RepoRoot: "."}
	spec := tool.Spec()

	result, err := spec.Tool.Execute(context.Background(), json.RawMessage(`not json`))

	assert.NoError(t, err)
	assert.False(t, result.Success)
}
