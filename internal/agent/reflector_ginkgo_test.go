package agent_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"kairo.dev/agent/common/llm"
	"kairo.dev/agent/internal/agent"
)

// scriptedClient replays one JSON response per Chat call, clamping to the
// last entry once exhausted; a malformed response makes Chat return the
// json.Unmarshal error, standing in for an LLM call failure.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Chat(_ context.Context, _ llm.Request, result any) (*llm.Response, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	if err := json.Unmarshal([]byte(c.responses[idx]), result); err != nil {
		return nil, err
	}
	return &llm.Response{}, nil
}

func (c *scriptedClient) Model() string { return "fake-model" }

func noScore(candidate []agent.Action) float64 { return -float64(len(candidate)) }

func zeroTime() time.Time { return time.Unix(0, 0) }

var _ = Describe("LLMReflector", func() {
	var reflect = func(client llm.Client, result agent.ToolResult) (agent.Reflection, error) {
		reflector := agent.NewLLMReflector(client)
		return reflector.Reflect(context.Background(), agent.ReflectInput{
			Action: agent.Action{ToolName: "probe"},
			Result: result,
		})
	}

	It("classifies a successful step as success", func() {
		client := &scriptedClient{responses: []string{`{"status":"success","explanation":"looks good"}`}}
		refl, err := reflect(client, agent.ToolResult{Success: true})

		Expect(err).NotTo(HaveOccurred())
		Expect(refl.Status).To(Equal(agent.ReflectSuccess))
	})

	It("carries a Lesson without building a MemoryWrite when no memory_key is given", func() {
		client := &scriptedClient{responses: []string{`{"status":"success","explanation":"ok","lesson":"remember this"}`}}
		refl, err := reflect(client, agent.ToolResult{Success: true})

		Expect(err).NotTo(HaveOccurred())
		Expect(refl.Lesson).To(Equal("remember this"))
		Expect(refl.MemoryWrite).To(BeNil(), "no memory_key in the model output means no explicit MemoryWrite")
	})

	It("builds an explicit MemoryWrite when the model supplies a memory_key", func() {
		client := &scriptedClient{responses: []string{
			`{"status":"minor_repair","explanation":"patched","lesson":"fix applied","memory_key":"fix-1","memory_kind":"procedure"}`,
		}}
		refl, err := reflect(client, agent.ToolResult{Success: true})

		Expect(err).NotTo(HaveOccurred())
		Expect(refl.Status).To(Equal(agent.ReflectMinorRepair))
		Expect(refl.MemoryWrite).NotTo(BeNil())
		Expect(refl.MemoryWrite.Kind).To(Equal(agent.MemoryKind("procedure")))
		Expect(refl.MemoryWrite.Key).To(Equal("fix-1"))
	})

	It("falls back to replan for an unrecognized status", func() {
		client := &scriptedClient{responses: []string{`{"status":"bogus","explanation":"??"}`}}
		refl, err := reflect(client, agent.ToolResult{Success: false})

		Expect(err).NotTo(HaveOccurred())
		Expect(refl.Status).To(Equal(agent.ReflectReplan))
	})
})

var _ = Describe("RuleReflector", func() {
	It("classifies mechanically-typed tool errors as replan without consulting an LLM", func() {
		r := agent.RuleReflector{}
		refl, err := r.Reflect(context.Background(), agent.ReflectInput{
			Action: agent.Action{ToolName: "probe"},
			Result: agent.ToolResult{Success: false, ErrorKind: agent.ErrorInvalidArgs, ErrorDetail: "bad args"},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(refl.Status).To(Equal(agent.ReflectReplan))
		Expect(refl.FailureType).To(Equal(agent.ErrorInvalidArgs))
	})

	It("defers to Next on a bare success with no mechanically-classifiable error", func() {
		inner := &scriptedClient{responses: []string{`{"status":"success","explanation":"confirmed by llm"}`}}
		r := agent.RuleReflector{Next: agent.NewLLMReflector(inner)}
		refl, err := r.Reflect(context.Background(), agent.ReflectInput{
			Action: agent.Action{ToolName: "probe"},
			Result: agent.ToolResult{Success: true},
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(refl.Status).To(Equal(agent.ReflectSuccess))
		Expect(refl.Explanation).To(Equal("confirmed by llm"))
	})
})

func newRepairRegistry() *agent.ToolRegistry {
	reg := agent.NewToolRegistry()
	noop := agent.ToolFunc(func(context.Context, json.RawMessage) (agent.ToolResult, error) {
		return agent.ToolResult{Success: true}, nil
	})
	for _, name := range []string{"probe", "other", "finish", "recover_other", "human_ask"} {
		_ = reg.Register(agent.ToolSpec{Name: name, Tool: noop})
	}
	return reg
}

var _ = Describe("PlanFirstPlanner.Repair cascade", func() {
	var registry *agent.ToolRegistry

	BeforeEach(func() {
		registry = newRepairRegistry()
	})

	It("prefers a prepared branch over any LLM call when one covers the failing position", func() {
		current := &agent.Plan{
			ID:      "p1",
			Actions: []agent.Action{{ToolName: "probe"}, {ToolName: "other"}, {ToolName: "finish"}},
			Branches: [][]agent.Action{
				{{ToolName: "probe"}, {ToolName: "recover_other"}, {ToolName: "finish"}},
			},
		}
		state := agent.NewAgentState(agent.Task{Goal: "repair from branch"}, zeroTime())
		state.CurrentPlan = current

		planner := &agent.PlanFirstPlanner{
			Client:   &scriptedClient{responses: nil}, // must never be called
			Registry: registry,
			Score:    noScore,
		}

		repaired, err := planner.Repair(context.Background(), state, 1, agent.Reflection{Status: agent.ReflectReplan})
		Expect(err).NotTo(HaveOccurred())
		Expect(repaired.Actions[1].ToolName).To(Equal("recover_other"))
		Expect(repaired.CurrentIndex).To(Equal(1))
		Expect(repaired.ID).NotTo(Equal(current.ID))
	})

	It("falls back to a minimal single-step patch when no branch covers the failure", func() {
		current := &agent.Plan{
			ID:      "p1",
			Actions: []agent.Action{{ToolName: "probe"}, {ToolName: "other"}, {ToolName: "finish"}},
		}
		state := agent.NewAgentState(agent.Task{Goal: "minimal patch"}, zeroTime())
		state.CurrentPlan = current

		planner := &agent.PlanFirstPlanner{
			Client:   &scriptedClient{responses: []string{`{"steps":[{"tool_name":"recover_other","args":{}}]}`}},
			Registry: registry,
			Score:    noScore,
		}

		repaired, err := planner.Repair(context.Background(), state, 1, agent.Reflection{Status: agent.ReflectReplan, Explanation: "other failed"})
		Expect(err).NotTo(HaveOccurred())
		Expect(repaired.Actions[1].ToolName).To(Equal("recover_other"))
		Expect(repaired.Actions[0].ToolName).To(Equal("probe"), "the already-executed prefix is kept as-is")
		Expect(repaired.CurrentIndex).To(Equal(1))
	})

	It("regenerates the tail when the minimal patch attempt fails", func() {
		current := &agent.Plan{
			ID:      "p1",
			Actions: []agent.Action{{ToolName: "probe"}, {ToolName: "other"}, {ToolName: "finish"}},
		}
		state := agent.NewAgentState(agent.Task{Goal: "tail regeneration"}, zeroTime())
		state.CurrentPlan = current

		planner := &agent.PlanFirstPlanner{
			Client: &scriptedClient{responses: []string{
				`not valid json`, // minimal patch attempt fails
				`{"steps":[{"tool_name":"recover_other","args":{}},{"tool_name":"finish","args":{}}]}`,
			}},
			Registry: registry,
			Score:    noScore,
		}

		repaired, err := planner.Repair(context.Background(), state, 1, agent.Reflection{Status: agent.ReflectReplan, Explanation: "other failed"})
		Expect(err).NotTo(HaveOccurred())
		Expect(repaired.Actions[0].ToolName).To(Equal("probe"))
		Expect(repaired.Actions[1].ToolName).To(Equal("recover_other"))
		Expect(repaired.Actions[2].ToolName).To(Equal("finish"))
		Expect(repaired.Branches).To(BeNil(), "a regenerated tail discards stale branch alternatives")
	})

	It("falls back to the first available recovery tool when every LLM-based repair fails", func() {
		current := &agent.Plan{
			ID:      "p1",
			Actions: []agent.Action{{ToolName: "probe"}, {ToolName: "other"}, {ToolName: "finish"}},
		}
		state := agent.NewAgentState(agent.Task{Goal: "exhausted cascade"}, zeroTime())
		state.CurrentPlan = current

		planner := &agent.PlanFirstPlanner{
			Client:   &scriptedClient{responses: []string{`bad`, `bad`}},
			Registry: registry,
			Score:    noScore,
		}

		repaired, err := planner.Repair(context.Background(), state, 1, agent.Reflection{Status: agent.ReflectReplan, Explanation: "other failed"})
		Expect(err).NotTo(HaveOccurred())
		Expect(repaired.Actions[len(repaired.Actions)-1].ToolName).To(Equal("human_ask"))
	})
})
