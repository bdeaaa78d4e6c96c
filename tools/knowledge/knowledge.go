// Package knowledge provides the search_file_knowledge tool, which runs a
// keyword search over the documents held by a ragcore.KnowledgeStore.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nevindra/ragcore"
)

// Name is the tool name advertised to the model.
const Name = "search_file_knowledge"

// Tool searches indexed documents and, when the store also implements
// ragcore.GraphSearcher, knowledge-graph entities.
//
//	store, _ := sqlite.Open(ctx, "ragcore.db")
//	agent := ragcore.New("assistant", provider,
//	    ragcore.WithTools(knowledge.New(store, knowledge.WithTopK(8))),
//	)
type Tool struct {
	store     ragcore.KnowledgeStore
	graph     ragcore.GraphSearcher
	topK      int
	graphTopK int
	minScore  float64
	logger    *slog.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithTopK sets the number of chunks to retrieve. Default is 5.
func WithTopK(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.topK = n
		}
	}
}

// WithGraphTopK sets the number of graph entities to retrieve. Zero
// disables graph search. Default is 3.
func WithGraphTopK(n int) Option {
	return func(t *Tool) { t.graphTopK = n }
}

// WithMinScore drops chunks scoring below s.
func WithMinScore(s float64) Option {
	return func(t *Tool) { t.minScore = s }
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// New creates a knowledge search tool backed by store.
func New(store ragcore.KnowledgeStore, opts ...Option) *Tool {
	t := &Tool{store: store, topK: 5, graphTopK: 3}
	if g, ok := store.(ragcore.GraphSearcher); ok {
		t.graph = g
	}
	for _, o := range opts {
		o(t)
	}
	if t.logger == nil {
		t.logger = nopLogger
	}
	return t
}

func (t *Tool) Definition() ragcore.ToolDefinition {
	return ragcore.ToolDefinition{
		Name:        Name,
		Description: "Search the user's uploaded files and documents. Returns numbered passages; cite them as [N] in your answer.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Keywords to search for"}},"required":["query"]}`),
	}
}

// Execute returns a ragcore.AggregateSearchResult with chunk and graph hits.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	chunks, err := t.store.SearchChunks(ctx, query, t.topK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	var agg ragcore.AggregateSearchResult
	for _, c := range chunks {
		if c.Score < t.minScore {
			continue
		}
		agg.Chunks = append(agg.Chunks, c)
	}

	if t.graph != nil && t.graphTopK > 0 {
		entities, err := t.graph.SearchEntities(ctx, query, t.graphTopK)
		if err != nil {
			// graph hits are supplementary; keep the chunk results
			t.logger.Warn("entity search failed", "query", query, "error", err)
		} else {
			agg.Graph = entities
		}
	}

	t.logger.Debug("knowledge search", "query", query, "chunks", len(agg.Chunks), "entities", len(agg.Graph))
	return agg, nil
}

// FormatForLLM renders the indexed results recorded by the dispatcher.
func (t *Tool) FormatForLLM(raw any) string {
	if rs, ok := raw.(ragcore.SearchResults); ok && len(rs) == 0 {
		return "No matching passages found in the knowledge base."
	}
	return ragcore.DefaultFormat(raw)
}

var _ ragcore.Tool = (*Tool)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
