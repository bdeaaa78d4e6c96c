package document

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nevindra/ragcore"
)

type mockStore struct {
	docs map[string]ragcore.Document
}

func (m *mockStore) StoreDocument(context.Context, ragcore.Document, []ragcore.Chunk) error {
	return nil
}

func (m *mockStore) GetDocument(_ context.Context, id string) (ragcore.Document, error) {
	d, ok := m.docs[id]
	if !ok {
		return ragcore.Document{}, ragcore.ErrNotFound
	}
	return d, nil
}

func (m *mockStore) SearchChunks(context.Context, string, int) ([]ragcore.ChunkSearchResult, error) {
	return nil, nil
}

func contextDoc(t *testing.T, raw any) ragcore.ContextDocumentResult {
	t.Helper()
	agg, ok := raw.(ragcore.AggregateSearchResult)
	if !ok || len(agg.ContextDocuments) != 1 {
		t.Fatalf("raw = %#v, want one context document", raw)
	}
	return agg.ContextDocuments[0]
}

func TestExecuteDocumentID(t *testing.T) {
	store := &mockStore{docs: map[string]ragcore.Document{
		"d1": {ID: "d1", Title: "Guide", Source: "guide.md", Content: "All about Go."},
	}}
	tool := New(WithStore(store))

	raw, err := tool.Execute(context.Background(), map[string]any{"document_id": "d1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	doc := contextDoc(t, raw)
	if doc.DocumentID != "d1" || doc.Title != "Guide" || doc.Content != "All about Go." {
		t.Errorf("doc = %+v", doc)
	}

	_, err = tool.Execute(context.Background(), map[string]any{"document_id": "missing"})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("missing document err = %v", err)
	}
}

func TestExecuteURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/notes.md":
			w.Header().Set("Content-Type", "text/plain")
			fmt.Fprint(w, "# Release Notes\n\nVersion **two** is out.")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	tool := New()

	raw, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL + "/notes.md"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	doc := contextDoc(t, raw)
	if doc.Title != "Release Notes" {
		t.Errorf("Title = %q", doc.Title)
	}
	if !strings.Contains(doc.Content, "Version two is out.") {
		t.Errorf("Content = %q", doc.Content)
	}

	if _, err := tool.Execute(context.Background(), map[string]any{"url": srv.URL + "/gone"}); err == nil {
		t.Error("expected error for 404")
	}
	if _, err := tool.Execute(context.Background(), map[string]any{"url": "file:///etc/passwd"}); err == nil {
		t.Error("expected error for non-http URL")
	}
}

func TestExecutePath(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	content := strings.Repeat("lorem ipsum ", 20)
	if err := os.WriteFile(filepath.Join(root, "sub", "a.txt"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tool := New(WithRoot(root), WithMaxChars(30))

	raw, err := tool.Execute(context.Background(), map[string]any{"path": "sub/a.txt"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	doc := contextDoc(t, raw)
	if doc.Title != "a.txt" {
		t.Errorf("Title = %q", doc.Title)
	}
	if !strings.HasSuffix(doc.Content, "(truncated)") || len(doc.Content) > 30+len("\n... (truncated)") {
		t.Errorf("Content = %q, want truncated", doc.Content)
	}

	for _, bad := range []string{"../escape.txt", "sub/../../escape.txt", "/etc/passwd", "sub"} {
		if _, err := tool.Execute(context.Background(), map[string]any{"path": bad}); err == nil {
			t.Errorf("path %q: expected error", bad)
		}
	}
}

func TestExecuteArgumentValidation(t *testing.T) {
	tool := New(WithStore(&mockStore{}), WithRoot(t.TempDir()))
	tests := []map[string]any{
		{},
		{"document_id": "d1", "url": "https://example.com"},
		{"path": "  "},
	}
	for _, args := range tests {
		if _, err := tool.Execute(context.Background(), args); err == nil {
			t.Errorf("args %v: expected error", args)
		}
	}

	// Sources without their option are rejected.
	if _, err := New().Execute(context.Background(), map[string]any{"document_id": "d1"}); err == nil {
		t.Error("document_id without store: expected error")
	}
	if _, err := New().Execute(context.Background(), map[string]any{"path": "a.txt"}); err == nil {
		t.Error("path without root: expected error")
	}
}

func TestFormatForLLM(t *testing.T) {
	c := ragcore.NewResultCollector()
	rs := c.AddAggregate(ragcore.AggregateSearchResult{ContextDocuments: []ragcore.ContextDocumentResult{
		{Title: "Guide", Content: "Body"},
	}})
	if got := New().FormatForLLM(rs); got != "[1] Guide\nBody" {
		t.Errorf("FormatForLLM = %q", got)
	}
}
