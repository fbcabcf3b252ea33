package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPlan_DoneAndNext(t *testing.T) {
	cases := []struct {
		name string
		plan *Plan
		done bool
	}{
		{"nil plan is done", nil, true},
		{"index before end is not done", &Plan{Actions: []Action{{ToolName: "a"}, {ToolName: "b"}}, CurrentIndex: 0}, false},
		{"index at last action is not done", &Plan{Actions: []Action{{ToolName: "a"}, {ToolName: "b"}}, CurrentIndex: 1}, false},
		{"index past end is done", &Plan{Actions: []Action{{ToolName: "a"}, {ToolName: "b"}}, CurrentIndex: 2}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.done, tc.plan.Done())
		})
	}
}

func TestPlan_Next(t *testing.T) {
	plan := &Plan{Actions: []Action{{ToolName: "first"}, {ToolName: "second"}}, CurrentIndex: 1}
	assert.Equal(t, "second", plan.Next().ToolName)
}

func TestAgentState_RecordObservation(t *testing.T) {
	state := NewAgentState(Task{Goal: "do something"}, time.Unix(0, 0))

	obs0 := state.RecordObservation(SourceUser, "first", []string{"fact-a"}, time.Unix(1, 0))
	obs1 := state.RecordObservation(SourceTool, "second", []string{"fact-b"}, time.Unix(2, 0))

	assert.Equal(t, int64(0), obs0.Seq)
	assert.Equal(t, int64(1), obs1.Seq)
	assert.Len(t, state.Observations, 2)
}

func TestAgentState_RecentSalientFacts(t *testing.T) {
	state := NewAgentState(Task{Goal: "goal"}, time.Unix(0, 0))
	state.RecordObservation(SourceUser, "obs0", []string{"f0"}, time.Unix(1, 0))
	state.RecordObservation(SourceTool, "obs1", []string{"f1", "f1b"}, time.Unix(2, 0))
	state.RecordObservation(SourceTool, "obs2", []string{"f2"}, time.Unix(3, 0))

	cases := []struct {
		name string
		n    int
		want []string
	}{
		{"zero window yields nothing", 0, nil},
		{"window of one covers only the latest", 1, []string{"f2"}},
		{"window of two spans the latest two observations", 2, []string{"f1", "f1b", "f2"}},
		{"window larger than history is clamped", 100, []string{"f0", "f1", "f1b", "f2"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, state.RecentSalientFacts(tc.n))
		})
	}
}

func TestCounters_RecordSuccessAndFailure(t *testing.T) {
	var c Counters
	c.RecordFailure()
	c.RecordFailure()
	assert.Equal(t, 2, c.ConsecutiveFailures)

	c.RecordSuccess()
	assert.Equal(t, 0, c.ConsecutiveFailures)
}
