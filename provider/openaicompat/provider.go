package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/ragcore"
)

// Provider implements ragcore.Provider for any OpenAI-compatible API using
// the helpers in this package (BuildBody, StreamSSE, ParseResponse).
//
// Works with OpenAI, OpenRouter, Groq, Together, DeepSeek, Mistral, Ollama,
// vLLM, LM Studio, and any other server that implements the chat
// completions API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	headers http.Header
	opts    []Option
}

// NewProvider creates an OpenAI-compatible chat provider.
//
// baseURL is the API base (e.g. "https://api.openai.com/v1",
// "http://localhost:11434/v1"). The /chat/completions path is appended.
func NewProvider(apiKey, model, baseURL string, opts ...ProviderOption) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable via WithName).
func (p *Provider) Name() string { return p.name }

// mergeGenParams returns the provider's base options with any per-request
// GenerationParams appended. Options apply in order, so request params win.
func (p *Provider) mergeGenParams(params *ragcore.GenerationParams) []Option {
	if params == nil {
		return p.opts
	}
	opts := make([]Option, len(p.opts), len(p.opts)+4)
	copy(opts, p.opts)
	if params.Temperature != nil {
		opts = append(opts, WithTemperature(*params.Temperature))
	}
	if params.TopP != nil {
		opts = append(opts, WithTopP(*params.TopP))
	}
	if params.MaxTokens != nil {
		opts = append(opts, WithMaxTokens(*params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, WithStop(params.Stop...))
	}
	return opts
}

// Chat sends a non-streaming chat request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req ragcore.ChatRequest) (ragcore.ChatResponse, error) {
	body := BuildBody(req.Messages, req.Tools, p.model, p.mergeGenParams(req.GenerationParams)...)

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		return ragcore.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ragcore.ChatResponse{}, p.httpErr(resp)
	}

	var chatResp ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return ragcore.ChatResponse{}, &ragcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return ParseResponse(chatResp), nil
}

// ChatStream streams chunks into ch. ch is closed before returning, on
// success and on error.
func (p *Provider) ChatStream(ctx context.Context, req ragcore.ChatRequest, ch chan<- ragcore.ChatChunk) error {
	body := BuildBody(req.Messages, req.Tools, p.model, p.mergeGenParams(req.GenerationParams)...)
	body.Stream = true
	body.StreamOptions = &StreamOptions{IncludeUsage: true}

	resp, err := p.sendHTTP(ctx, body)
	if err != nil {
		close(ch)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		close(ch)
		return p.httpErr(resp)
	}

	// StreamSSE closes ch when done.
	if err := StreamSSE(ctx, resp.Body, ch); err != nil {
		return &ragcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("read stream: %v", err)}
	}
	return nil
}

// sendHTTP marshals the request body and posts it to the chat completions endpoint.
func (p *Provider) sendHTTP(ctx context.Context, body ChatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &ragcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, &ragcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, vs := range p.headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &ragcore.ErrLLM{Provider: p.name, Message: fmt.Sprintf("send request: %v", err)}
	}
	return resp, nil
}

// httpErr reads the response body and returns an ErrHTTP for the retry
// wrapper, including the Retry-After header when present.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return &ragcore.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       string(body),
		RetryAfter: ragcore.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// Compile-time interface check.
var _ ragcore.Provider = (*Provider)(nil)
