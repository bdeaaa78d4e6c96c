package ragcore

import (
	"fmt"
	"strings"
	"sync"
)

// ResultType names a SearchResult variant.
type ResultType string

const (
	ResultChunk           ResultType = "chunk"
	ResultGraph           ResultType = "graph"
	ResultWeb             ResultType = "web"
	ResultContextDocument ResultType = "context_document"
)

// ChunkSearchResult is a passage retrieved from an indexed document.
type ChunkSearchResult struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GraphSearchResult is an entity, relationship, or community summary from a
// knowledge graph.
type GraphSearchResult struct {
	Kind        string  `json:"kind"` // "entity", "relationship", "community"
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// WebSearchResult is one hit from a web search engine.
type WebSearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// ContextDocumentResult is a whole document placed into context.
type ContextDocumentResult struct {
	DocumentID string `json:"document_id,omitempty"`
	Title      string `json:"title"`
	Source     string `json:"source,omitempty"`
	Content    string `json:"content"`
}

// SearchResult is one retrieval result tagged with its variant and its
// permanent global index in the run's collector. Exactly one payload
// pointer is set, matching Type.
type SearchResult struct {
	Type            ResultType             `json:"type"`
	Index           int                    `json:"index"`
	Chunk           *ChunkSearchResult     `json:"chunk,omitempty"`
	Graph           *GraphSearchResult     `json:"graph,omitempty"`
	Web             *WebSearchResult       `json:"web,omitempty"`
	ContextDocument *ContextDocumentResult `json:"context_document,omitempty"`
}

// Title returns a human-readable label for the source.
func (r SearchResult) Title() string {
	switch r.Type {
	case ResultChunk:
		if r.Chunk.Title != "" {
			return r.Chunk.Title
		}
		return r.Chunk.DocumentID
	case ResultGraph:
		return r.Graph.Name
	case ResultWeb:
		return r.Web.Title
	case ResultContextDocument:
		return r.ContextDocument.Title
	}
	return ""
}

// Text returns the result body shown to the model.
func (r SearchResult) Text() string {
	switch r.Type {
	case ResultChunk:
		return r.Chunk.Text
	case ResultGraph:
		return r.Graph.Description
	case ResultWeb:
		if r.Web.URL == "" {
			return r.Web.Snippet
		}
		return r.Web.Snippet + "\n" + r.Web.URL
	case ResultContextDocument:
		return r.ContextDocument.Content
	}
	return ""
}

// SearchResults is an ordered list of indexed results.
type SearchResults []SearchResult

// Format renders results for the model, one "[N] title" header per result
// followed by its text. N is the global index the model should cite.
func (rs SearchResults) Format() string {
	if len(rs) == 0 {
		return "No results found."
	}
	var sb strings.Builder
	for i, r := range rs {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s", r.Index, r.Title(), r.Text())
	}
	return sb.String()
}

// AggregateSearchResult is the batch of results produced by one tool call,
// grouped by variant. Tools returning one hand it to the run's collector.
type AggregateSearchResult struct {
	Chunks           []ChunkSearchResult     `json:"chunk_search_results,omitempty"`
	Graph            []GraphSearchResult     `json:"graph_search_results,omitempty"`
	Web              []WebSearchResult       `json:"web_search_results,omitempty"`
	ContextDocuments []ContextDocumentResult `json:"context_document_results,omitempty"`
}

func (a AggregateSearchResult) Len() int {
	return len(a.Chunks) + len(a.Graph) + len(a.Web) + len(a.ContextDocuments)
}

// ResultCollector accumulates the results of one run under a single global
// numbering. The Nth result ever added has Index N; indices are never reused.
type ResultCollector struct {
	mu      sync.Mutex
	results []SearchResult
}

func NewResultCollector() *ResultCollector {
	return &ResultCollector{}
}

// AddAggregate appends every result of agg in the fixed variant order chunk,
// graph, web, context document, and returns the appended results with their
// global indices.
func (c *ResultCollector) AddAggregate(agg AggregateSearchResult) SearchResults {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := len(c.results)
	next := func() int { return len(c.results) + 1 }
	for i := range agg.Chunks {
		v := agg.Chunks[i]
		c.results = append(c.results, SearchResult{Type: ResultChunk, Index: next(), Chunk: &v})
	}
	for i := range agg.Graph {
		v := agg.Graph[i]
		c.results = append(c.results, SearchResult{Type: ResultGraph, Index: next(), Graph: &v})
	}
	for i := range agg.Web {
		v := agg.Web[i]
		c.results = append(c.results, SearchResult{Type: ResultWeb, Index: next(), Web: &v})
	}
	for i := range agg.ContextDocuments {
		v := agg.ContextDocuments[i]
		c.results = append(c.results, SearchResult{Type: ResultContextDocument, Index: next(), ContextDocument: &v})
	}
	return append(SearchResults(nil), c.results[start:]...)
}

// AllResults returns every result in global-index order.
func (c *ResultCollector) AllResults() SearchResults {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(SearchResults(nil), c.results...)
}

// Resolve returns the result with global index n (1-based).
func (c *ResultCollector) Resolve(n int) (SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.results) {
		return SearchResult{}, false
	}
	return c.results[n-1], true
}

func (c *ResultCollector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.results)
}
