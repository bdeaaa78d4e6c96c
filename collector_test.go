package ragcore

import (
	"strings"
	"sync"
	"testing"
)

func TestResultCollector_AddAggregateOrder(t *testing.T) {
	c := NewResultCollector()
	got := c.AddAggregate(AggregateSearchResult{
		Web:              []WebSearchResult{{Title: "w1", URL: "https://example.com"}},
		ContextDocuments: []ContextDocumentResult{{Title: "d1"}},
		Graph:            []GraphSearchResult{{Name: "g1"}},
		Chunks:           []ChunkSearchResult{{Title: "c1"}, {Title: "c2"}},
	})

	want := []struct {
		typ   ResultType
		title string
	}{
		{ResultChunk, "c1"},
		{ResultChunk, "c2"},
		{ResultGraph, "g1"},
		{ResultWeb, "w1"},
		{ResultContextDocument, "d1"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].Type != w.typ || got[i].Title() != w.title || got[i].Index != i+1 {
			t.Errorf("result %d = %s/%s/#%d, want %s/%s/#%d",
				i, got[i].Type, got[i].Title(), got[i].Index, w.typ, w.title, i+1)
		}
	}
}

func TestResultCollector_IndicesAreGlobal(t *testing.T) {
	c := NewResultCollector()
	c.AddAggregate(AggregateSearchResult{Chunks: []ChunkSearchResult{{Title: "a"}, {Title: "b"}}})
	second := c.AddAggregate(AggregateSearchResult{Web: []WebSearchResult{{Title: "c"}}})

	if second[0].Index != 3 {
		t.Errorf("second batch index = %d, want 3", second[0].Index)
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	r, ok := c.Resolve(3)
	if !ok || r.Title() != "c" {
		t.Errorf("Resolve(3) = %+v, %v", r, ok)
	}
	for _, n := range []int{0, -1, 4} {
		if _, ok := c.Resolve(n); ok {
			t.Errorf("Resolve(%d) should fail", n)
		}
	}
}

func TestResultCollector_ConcurrentAdds(t *testing.T) {
	c := NewResultCollector()
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.AddAggregate(AggregateSearchResult{Chunks: []ChunkSearchResult{{Title: "x"}, {Title: "y"}}})
		}()
	}
	wg.Wait()

	all := c.AllResults()
	if len(all) != 40 {
		t.Fatalf("got %d results, want 40", len(all))
	}
	for i, r := range all {
		if r.Index != i+1 {
			t.Fatalf("result %d has index %d", i, r.Index)
		}
	}
}

func TestResultCollector_EmptyAggregate(t *testing.T) {
	c := NewResultCollector()
	got := c.AddAggregate(AggregateSearchResult{})
	if len(got) != 0 || c.Len() != 0 {
		t.Errorf("empty aggregate added %d results", len(got))
	}
}

func TestSearchResults_Format(t *testing.T) {
	if got := SearchResults(nil).Format(); got != "No results found." {
		t.Errorf("empty format = %q", got)
	}

	c := NewResultCollector()
	rs := c.AddAggregate(AggregateSearchResult{
		Chunks: []ChunkSearchResult{{DocumentID: "doc-1", Text: "alpha"}},
		Web:    []WebSearchResult{{Title: "Go", URL: "https://go.dev", Snippet: "the go language"}},
	})
	got := rs.Format()
	if !strings.Contains(got, "[1] doc-1\nalpha") {
		t.Errorf("missing chunk entry in %q", got)
	}
	if !strings.Contains(got, "[2] Go\nthe go language\nhttps://go.dev") {
		t.Errorf("missing web entry in %q", got)
	}
}
