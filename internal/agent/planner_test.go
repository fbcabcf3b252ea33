package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoSelect(t *testing.T) {
	cases := []struct {
		name string
		goal string
		want PlanOrigin
	}{
		{"short simple goal is reactive", "read the readme", PlanOriginReact},
		{"goal with 'and' is plan-first", "read the readme and summarize it", PlanOriginPlanFirst},
		{"goal with 'then' is plan-first", "clone the repo then run the tests", PlanOriginPlanFirst},
		{"goal containing implement is plan-first", "implement a login form", PlanOriginPlanFirst},
		{"goal containing build is plan-first", "build a CLI wrapper", PlanOriginPlanFirst},
		{"long goal is plan-first regardless of verbs", "investigate why the nightly job failed last night, report back with your findings please", PlanOriginPlanFirst},
		{"substring match does not count as the word and", "android devices need testing", PlanOriginReact},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, AutoSelect(tc.goal))
		})
	}
}

func noopTool() ToolFunc {
	return func(_ context.Context, _ json.RawMessage) (ToolResult, error) {
		return ToolResult{Success: true}, nil
	}
}

func TestValidateAction(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(ToolSpec{Name: "finish", Tool: noopTool()}))

	cases := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"missing tool name", Action{}, true},
		{"unknown tool", Action{ToolName: "does_not_exist"}, true},
		{"valid minimal action", Action{ToolName: "finish"}, false},
		{"blank precondition", Action{ToolName: "finish", Preconditions: []string{" "}}, true},
		{"blank postcondition", Action{ToolName: "finish", Postconditions: []string{""}}, true},
		{"non-blank conditions are fine", Action{ToolName: "finish", Preconditions: []string{"file_exists"}, Postconditions: []string{"file_written"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAction(reg, tc.action)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFirstAvailableRecovery(t *testing.T) {
	reg := NewToolRegistry()
	require.NoError(t, reg.Register(ToolSpec{Name: "wait_and_retry"}))
	require.NoError(t, reg.Register(ToolSpec{Name: "human_ask"}))

	assert.Equal(t, "wait_and_retry", FirstAvailableRecovery(reg, false))
	assert.Equal(t, "wait_and_retry", FirstAvailableRecovery(reg, true))

	reg2 := NewToolRegistry()
	require.NoError(t, reg2.Register(ToolSpec{Name: "human_ask"}))
	assert.Equal(t, "", FirstAvailableRecovery(reg2, false), "human_ask is skipped when not allowed")
	assert.Equal(t, "human_ask", FirstAvailableRecovery(reg2, true))

	assert.Equal(t, "", FirstAvailableRecovery(NewToolRegistry(), true))
}
