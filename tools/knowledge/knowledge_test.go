package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nevindra/ragcore"
)

type mockStore struct {
	chunks []ragcore.ChunkSearchResult
	err    error
	query  string
	topK   int
}

func (m *mockStore) StoreDocument(context.Context, ragcore.Document, []ragcore.Chunk) error {
	return nil
}

func (m *mockStore) GetDocument(context.Context, string) (ragcore.Document, error) {
	return ragcore.Document{}, ragcore.ErrNotFound
}

func (m *mockStore) SearchChunks(_ context.Context, query string, topK int) ([]ragcore.ChunkSearchResult, error) {
	m.query, m.topK = query, topK
	return m.chunks, m.err
}

type mockGraphStore struct {
	mockStore
	entities []ragcore.GraphSearchResult
	graphErr error
}

func (m *mockGraphStore) StoreEntities(context.Context, []ragcore.Entity) error { return nil }

func (m *mockGraphStore) SearchEntities(context.Context, string, int) ([]ragcore.GraphSearchResult, error) {
	return m.entities, m.graphErr
}

func TestDefinition(t *testing.T) {
	def := New(&mockStore{}).Definition()
	if def.Name != "search_file_knowledge" {
		t.Errorf("Name = %q", def.Name)
	}
	var schema map[string]any
	if err := json.Unmarshal(def.Parameters, &schema); err != nil {
		t.Fatalf("parameters are not valid JSON: %v", err)
	}
}

func TestExecuteChunks(t *testing.T) {
	store := &mockStore{chunks: []ragcore.ChunkSearchResult{
		{ID: "c1", DocumentID: "d1", Title: "Guide", Text: "Go has goroutines.", Score: 2.5},
		{ID: "c2", DocumentID: "d1", Title: "Guide", Text: "Channels connect them.", Score: 0.1},
	}}
	tool := New(store, WithTopK(7), WithMinScore(0.5))

	raw, err := tool.Execute(context.Background(), map[string]any{"query": "  goroutines "})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if store.query != "goroutines" || store.topK != 7 {
		t.Errorf("store called with %q/%d", store.query, store.topK)
	}
	agg, ok := raw.(ragcore.AggregateSearchResult)
	if !ok {
		t.Fatalf("raw = %T, want AggregateSearchResult", raw)
	}
	if len(agg.Chunks) != 1 || agg.Chunks[0].ID != "c1" {
		t.Errorf("chunks = %+v", agg.Chunks)
	}
	if len(agg.Graph) != 0 {
		t.Errorf("graph = %+v, want none for a plain store", agg.Graph)
	}
}

func TestExecuteGraph(t *testing.T) {
	store := &mockGraphStore{
		mockStore: mockStore{chunks: []ragcore.ChunkSearchResult{{ID: "c1", Text: "x", Score: 1}}},
		entities:  []ragcore.GraphSearchResult{{Kind: "entity", Name: "Go", Description: "A language"}},
	}
	raw, err := New(store).Execute(context.Background(), map[string]any{"query": "go"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	agg := raw.(ragcore.AggregateSearchResult)
	if len(agg.Chunks) != 1 || len(agg.Graph) != 1 {
		t.Errorf("agg = %+v", agg)
	}

	// Graph failures keep chunk results.
	store.graphErr = errors.New("fts broken")
	raw, err = New(store).Execute(context.Background(), map[string]any{"query": "go"})
	if err != nil {
		t.Fatalf("Execute with graph error: %v", err)
	}
	if agg := raw.(ragcore.AggregateSearchResult); len(agg.Chunks) != 1 || len(agg.Graph) != 0 {
		t.Errorf("agg = %+v", agg)
	}

	// WithGraphTopK(0) disables entity search.
	store.graphErr = nil
	raw, _ = New(store, WithGraphTopK(0)).Execute(context.Background(), map[string]any{"query": "go"})
	if agg := raw.(ragcore.AggregateSearchResult); len(agg.Graph) != 0 {
		t.Errorf("graph = %+v, want disabled", agg.Graph)
	}
}

func TestExecuteErrors(t *testing.T) {
	tool := New(&mockStore{err: errors.New("db down")})
	if _, err := tool.Execute(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error for missing query")
	}
	_, err := tool.Execute(context.Background(), map[string]any{"query": "x"})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("err = %v", err)
	}
}

func TestFormatForLLM(t *testing.T) {
	tool := New(&mockStore{})
	c := ragcore.NewResultCollector()
	c.AddAggregate(ragcore.AggregateSearchResult{Web: []ragcore.WebSearchResult{{Title: "earlier"}}})
	rs := c.AddAggregate(ragcore.AggregateSearchResult{Chunks: []ragcore.ChunkSearchResult{
		{ID: "c1", Title: "Guide", Text: "Go has goroutines."},
	}})

	got := tool.FormatForLLM(rs)
	if !strings.HasPrefix(got, "[2] Guide\nGo has goroutines.") {
		t.Errorf("FormatForLLM = %q", got)
	}
	if got := tool.FormatForLLM(ragcore.SearchResults{}); !strings.Contains(got, "No matching passages") {
		t.Errorf("empty FormatForLLM = %q", got)
	}
}
