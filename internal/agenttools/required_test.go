package agenttools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kairo.dev/agent/internal/agent"
)

type fakeMemoryStore struct {
	records   []agent.MemoryRecord
	searchErr error
	storeErr  error
	stored    []agent.MemoryWrite
}

func (m *fakeMemoryStore) Search(context.Context, string, int) ([]agent.MemoryRecord, error) {
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.records, nil
}

func (m *fakeMemoryStore) Store(_ context.Context, kind agent.MemoryKind, key, content string) (string, error) {
	if m.storeErr != nil {
		return "", m.storeErr
	}
	m.stored = append(m.stored, agent.MemoryWrite{Kind: kind, Key: key, Content: content})
	return "rec-1", nil
}

func TestFinish(t *testing.T) {
	spec := Finish()
	args, _ := json.Marshal(FinishParams{Summary: "goal achieved"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, string(result.Output), "goal achieved")
}

func TestHumanAsk_NilChannel(t *testing.T) {
	spec := HumanAsk(nil)
	args, _ := json.Marshal(HumanAskParams{Prompt: "ok?"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "approval_required", string(result.ErrorKind))
}

func TestHumanAsk_AnswersThroughCallback(t *testing.T) {
	spec := HumanAsk(func(_ context.Context, prompt string) (string, error) {
		return "yes, " + prompt, nil
	})
	args, _ := json.Marshal(HumanAskParams{Prompt: "proceed?"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, string(result.Output), "yes, proceed?")
}

func TestHumanAsk_CallbackError(t *testing.T) {
	spec := HumanAsk(func(context.Context, string) (string, error) {
		return "", errors.New("channel closed")
	})
	args, _ := json.Marshal(HumanAskParams{Prompt: "proceed?"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "transient", string(result.ErrorKind))
}

func TestMemoryStoreTool(t *testing.T) {
	store := &fakeMemoryStore{}
	spec := MemoryStore(store)
	args, _ := json.Marshal(MemoryStoreParams{Kind: "experience", Key: "k1", Content: "learned something"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, store.stored, 1)
	assert.Equal(t, agent.MemoryKind("experience"), store.stored[0].Kind)
}

func TestMemoryStoreTool_PropagatesError(t *testing.T) {
	store := &fakeMemoryStore{storeErr: errors.New("disk full")}
	spec := MemoryStore(store)
	args, _ := json.Marshal(MemoryStoreParams{Kind: "experience", Key: "k1", Content: "x"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "transient", string(result.ErrorKind))
}

func TestMemorySearchTool_DefaultsK(t *testing.T) {
	store := &fakeMemoryStore{records: []agent.MemoryRecord{{Content: "fact one", Kind: "knowledge", Score: 0.9}}}
	spec := MemorySearch(store)
	args, _ := json.Marshal(MemorySearchParams{Query: "fact"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, string(result.Output), "fact one")
}

func TestMemorySearchTool_PropagatesError(t *testing.T) {
	store := &fakeMemoryStore{searchErr: errors.New("index unavailable")}
	spec := MemorySearch(store)
	args, _ := json.Marshal(MemorySearchParams{Query: "fact"})

	result, err := spec.Tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "transient", string(result.ErrorKind))
}

func TestRegisterRequired(t *testing.T) {
	registry := agent.NewToolRegistry()
	store := &fakeMemoryStore{}

	require.NoError(t, RegisterRequired(registry, store, nil))

	for _, name := range []string{"finish", "human_ask", "memory_store", "memory_search"} {
		_, ok := registry.Lookup(name)
		assert.True(t, ok, "expected %s to be registered", name)
	}
}

func TestRegisterRequired_DoubleRegistrationFails(t *testing.T) {
	registry := agent.NewToolRegistry()
	store := &fakeMemoryStore{}
	require.NoError(t, RegisterRequired(registry, store, nil))

	assert.Error(t, RegisterRequired(registry, store, nil))
}
