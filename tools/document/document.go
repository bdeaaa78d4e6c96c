// Package document provides the get_file_content tool, which places a whole
// document into the model's context. The document comes from the knowledge
// store by id, from a URL, or from a file under a configured root.
package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nevindra/ragcore"
	"github.com/nevindra/ragcore/ingest"
)

// Name is the tool name advertised to the model.
const Name = "get_file_content"

const maxDownloadBytes = 1 << 20

// Tool loads full documents. Each source is enabled by its option: the
// store for document_id, a root directory for path. URLs are always
// allowed.
type Tool struct {
	store    ragcore.KnowledgeStore
	root     string
	client   *http.Client
	maxChars int
	logger   *slog.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithStore enables lookups by document_id.
func WithStore(s ragcore.KnowledgeStore) Option {
	return func(t *Tool) { t.store = s }
}

// WithRoot enables local files under dir. Paths are resolved relative to
// dir and may not escape it.
func WithRoot(dir string) Option {
	return func(t *Tool) { t.root = dir }
}

// WithHTTPClient sets the client used for URL fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// WithMaxChars sets the content length limit. Default is 8000 bytes.
func WithMaxChars(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.maxChars = n
		}
	}
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// New creates a document tool.
func New(opts ...Option) *Tool {
	t := &Tool{
		client:   &http.Client{Timeout: 15 * time.Second},
		maxChars: 8000,
	}
	for _, o := range opts {
		o(t)
	}
	if t.root != "" {
		if abs, err := filepath.Abs(t.root); err == nil {
			t.root = abs
		}
	}
	if t.logger == nil {
		t.logger = nopLogger
	}
	return t
}

func (t *Tool) Definition() ragcore.ToolDefinition {
	return ragcore.ToolDefinition{
		Name:        Name,
		Description: "Read the full content of one document. Provide exactly one of document_id (from a knowledge search result), url, or path.",
		Parameters: json.RawMessage(`{"type":"object","properties":{` +
			`"document_id":{"type":"string","description":"ID of a stored document"},` +
			`"url":{"type":"string","description":"http(s) URL to fetch"},` +
			`"path":{"type":"string","description":"Relative path of a local file"}}}`),
	}
}

// Execute returns a ragcore.AggregateSearchResult with one context document.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	id := stringArg(args, "document_id")
	rawURL := stringArg(args, "url")
	path := stringArg(args, "path")

	set := 0
	for _, v := range []string{id, rawURL, path} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("provide exactly one of document_id, url, or path")
	}

	var (
		doc ragcore.ContextDocumentResult
		err error
	)
	switch {
	case id != "":
		doc, err = t.fromStore(ctx, id)
	case rawURL != "":
		doc, err = t.fromURL(ctx, rawURL)
	default:
		doc, err = t.fromFile(path)
	}
	if err != nil {
		return nil, err
	}

	full := len(doc.Content)
	doc.Content = truncate(doc.Content, t.maxChars)
	t.logger.Debug("document loaded", "source", doc.Source, "bytes", full, "truncated", full > len(doc.Content))
	return ragcore.AggregateSearchResult{ContextDocuments: []ragcore.ContextDocumentResult{doc}}, nil
}

func (t *Tool) FormatForLLM(raw any) string { return ragcore.DefaultFormat(raw) }

func (t *Tool) fromStore(ctx context.Context, id string) (ragcore.ContextDocumentResult, error) {
	if t.store == nil {
		return ragcore.ContextDocumentResult{}, errors.New("document lookup is not configured")
	}
	d, err := t.store.GetDocument(ctx, id)
	if errors.Is(err, ragcore.ErrNotFound) {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("document %q not found", id)
	}
	if err != nil {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("get document: %w", err)
	}
	return ragcore.ContextDocumentResult{DocumentID: d.ID, Title: d.Title, Source: d.Source, Content: d.Content}, nil
}

func (t *Tool) fromURL(ctx context.Context, rawURL string) (ragcore.ContextDocumentResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("invalid URL: %s", rawURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ragcore/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("read error: %w", err)
	}
	ct := ingest.ContentTypeFromMIME(resp.Header.Get("Content-Type"))
	if ct == "" || ct == ingest.TypePlainText {
		if byPath := ingest.ContentTypeFromPath(u.Path); byPath != ingest.TypePlainText {
			ct = byPath
		}
	}
	if ct == "" {
		ct = ingest.TypeHTML
	}
	return extract(ct, body, rawURL, u.Host+u.Path)
}

func (t *Tool) fromFile(path string) (ragcore.ContextDocumentResult, error) {
	if t.root == "" {
		return ragcore.ContextDocumentResult{}, errors.New("local files are not enabled")
	}
	resolved, err := t.resolvePath(path)
	if err != nil {
		return ragcore.ContextDocumentResult{}, err
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > maxDownloadBytes*10 {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("%s is too large (%d bytes)", path, info.Size())
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("read error: %w", err)
	}
	return extract(ingest.ContentTypeFromPath(resolved), data, path, filepath.Base(path))
}

// resolvePath maps a model-supplied path into root, rejecting absolute
// paths and anything that would leave root.
func (t *Tool) resolvePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute paths not allowed: %s", path)
	}
	resolved := filepath.Join(t.root, path)
	rel, err := filepath.Rel(t.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", path)
	}
	return resolved, nil
}

func extract(ct ingest.ContentType, data []byte, source, fallbackTitle string) (ragcore.ContextDocumentResult, error) {
	ex, err := ingest.Extract(ct, data, source)
	if err != nil {
		return ragcore.ContextDocumentResult{}, fmt.Errorf("extract %s: %w", source, err)
	}
	title := ex.Title
	if title == "" {
		title = fallbackTitle
	}
	return ragcore.ContextDocumentResult{Title: title, Source: source, Content: ex.Text}, nil
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "\n... (truncated)"
}

var _ ragcore.Tool = (*Tool)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
