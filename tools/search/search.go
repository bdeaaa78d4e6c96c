// Package search provides the web_search tool backed by the Brave Search API.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/nevindra/ragcore"
	"github.com/nevindra/ragcore/ingest"
)

// Name is the tool name advertised to the model.
const Name = "web_search"

const (
	defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"
	maxPageBytes    = 512 << 10
	maxFetchWorkers = 4
)

// Tool performs web searches via the Brave API. With WithPageFetch, the
// result pages are downloaded and their readable text replaces the search
// engine's snippet.
type Tool struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	count      int
	fetchChars int
	logger     *slog.Logger
}

// Option configures a Tool.
type Option func(*Tool)

// WithEndpoint overrides the Brave API URL.
func WithEndpoint(u string) Option {
	return func(t *Tool) { t.endpoint = u }
}

// WithHTTPClient sets the client used for API calls and page fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Tool) { t.httpClient = c }
}

// WithCount sets how many results to request. Default is 8.
func WithCount(n int) Option {
	return func(t *Tool) {
		if n > 0 {
			t.count = n
		}
	}
}

// WithPageFetch downloads each result page and keeps up to maxChars of its
// extracted text. Pages that fail to load keep the search snippet.
func WithPageFetch(maxChars int) Option {
	return func(t *Tool) { t.fetchChars = maxChars }
}

// WithLogger sets the logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tool) { t.logger = l }
}

// New creates a web search tool authenticated with a Brave API key.
func New(apiKey string, opts ...Option) *Tool {
	t := &Tool{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		count:      8,
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
		Description: "Search the web for current/real-time information. Use for recent events, news, prices, or anything that requires up-to-date data. Cite results as [N].",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query optimized for search engines"}},"required":["query"]}`),
	}
}

// Execute returns a ragcore.AggregateSearchResult holding web results.
func (t *Tool) Execute(ctx context.Context, args map[string]any) (any, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("query is required")
	}

	results, err := t.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if t.fetchChars > 0 {
		t.fetchPages(ctx, results)
	}
	return ragcore.AggregateSearchResult{Web: results}, nil
}

func (t *Tool) FormatForLLM(raw any) string { return ragcore.DefaultFormat(raw) }

// Search queries Brave and returns the organic web results.
func (t *Tool) Search(ctx context.Context, query string) ([]ragcore.WebSearchResult, error) {
	u := fmt.Sprintf("%s?q=%s&count=%d", t.endpoint, url.QueryEscape(query), t.count)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", t.apiKey)

	start := time.Now()
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("brave search: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &ragcore.ErrHTTP{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var data struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("brave parse: %w", err)
	}

	results := make([]ragcore.WebSearchResult, 0, len(data.Web.Results))
	for _, r := range data.Web.Results {
		results = append(results, ragcore.WebSearchResult{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: stripTags(r.Description),
		})
	}
	t.logger.Debug("brave search", "query", query, "results", len(results), "duration", time.Since(start))
	return results, nil
}

// fetchPages replaces snippets with page text in place. Failures are
// logged and leave the snippet untouched.
func (t *Tool) fetchPages(ctx context.Context, results []ragcore.WebSearchResult) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFetchWorkers)
	for i := range results {
		g.Go(func() error {
			text, err := t.fetchPage(gctx, results[i].URL)
			if err != nil {
				t.logger.Debug("page fetch failed", "url", results[i].URL, "error", err)
				return nil
			}
			results[i].Snippet = truncate(text, t.fetchChars)
			return nil
		})
	}
	_ = g.Wait()
}

func (t *Tool) fetchPage(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; ragcore/1.0)")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", err
	}
	ct := ingest.ContentTypeFromMIME(resp.Header.Get("Content-Type"))
	if ct == "" {
		ct = ingest.TypeHTML
	}
	ex, err := ingest.Extract(ct, body, pageURL)
	if err != nil {
		return "", err
	}
	return ex.Text, nil
}

// stripTags removes the <strong> highlighting Brave puts in descriptions.
func stripTags(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	var b bytes.Buffer
	in := false
	for _, r := range s {
		switch {
		case r == '<':
			in = true
		case r == '>' && in:
			in = false
		case !in:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

var _ ragcore.Tool = (*Tool)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
