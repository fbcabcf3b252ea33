// Package graphmemory implements agent.MemoryStore on top of the arangodb
// graph client, as an alternative to internal/memstore's Postgres
// full-text backend for deployments that already run an ArangoDB instance
// for codegraph data. Grounded on common/arangodb/client.go's
// IngestNodes/SearchSymbols, repurposing the symbol-graph node shape
// (QName/Name/Kind/Doc/Namespace) for memory records instead of AST
// symbols: QName becomes the record id, Name the memory key, Doc the
// content, Kind the agent.MemoryKind, and Namespace a fixed "memory"
// partition so codegraph symbol search and memory search never collide in
// the same collection.
package graphmemory

import (
	"context"
	"fmt"
	"strings"

	"kairo.dev/agent/common/arangodb"
	"kairo.dev/agent/common/id"
	"kairo.dev/agent/internal/agent"
)

const memoryNamespace = "memory"

// Store is an arangodb-backed agent.MemoryStore.
type Store struct {
	client arangodb.Client
}

func New(client arangodb.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Store(ctx context.Context, kind agent.MemoryKind, key, content string) (string, error) {
	recordID := fmt.Sprintf("mem-%d", id.New())
	node := arangodb.Node{
		QName:     recordID,
		Name:      key,
		Kind:      string(kind),
		Doc:       content,
		// Signature is also set to content: SearchSymbols's SearchResult
		// only projects Signature back out, not Doc, so the content has to
		// ride in the field the read path actually returns.
		Signature: content,
		Namespace: memoryNamespace,
	}
	if err := s.client.IngestNodes(ctx, "memory_nodes", []arangodb.Node{node}); err != nil {
		return "", fmt.Errorf("ingesting memory node: %w", err)
	}
	return recordID, nil
}

func (s *Store) Search(ctx context.Context, query string, k int) ([]agent.MemoryRecord, error) {
	if k <= 0 {
		k = 5
	}
	results, _, err := s.client.SearchSymbols(ctx, arangodb.SearchOptions{
		Name:      "*" + strings.TrimSpace(query) + "*",
		Namespace: memoryNamespace,
	})
	if err != nil {
		return nil, fmt.Errorf("searching memory nodes: %w", err)
	}
	if len(results) > k {
		results = results[:k]
	}

	records := make([]agent.MemoryRecord, 0, len(results))
	for i, r := range results {
		records = append(records, agent.MemoryRecord{
			Content: r.Signature,
			Kind:    agent.MemoryKind(r.Kind),
			Score:   1.0 / float64(i+1),
		})
	}
	return records, nil
}
