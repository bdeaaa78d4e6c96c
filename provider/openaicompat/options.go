package openaicompat

import "net/http"

// Option sets a field of the outgoing chat completions body.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

// WithTopP sets nucleus sampling top-p.
func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

func WithStop(s ...string) Option {
	return func(r *ChatRequest) { r.Stop = s }
}

// WithSeed requests deterministic sampling where the server supports it.
func WithSeed(s int) Option {
	return func(r *ChatRequest) { r.Seed = &s }
}

// WithToolChoice controls tool selection: "none", "auto", "required", or
// an object naming one function.
func WithToolChoice(choice any) Option {
	return func(r *ChatRequest) { r.ToolChoice = choice }
}

// WithParallelToolCalls allows or forbids several tool calls in one turn.
// Servers that do not know the field ignore it.
func WithParallelToolCalls(on bool) Option {
	return func(r *ChatRequest) { r.ParallelToolCalls = &on }
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithName sets the name returned by Name (default "openai"). Observability
// and logs use it to tell providers apart.
func WithName(name string) ProviderOption {
	return func(p *Provider) { p.name = name }
}

func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) { p.client = c }
}

// WithHeader adds a header to every request, e.g. OpenRouter's
// HTTP-Referer or an api-key header for gateways.
func WithHeader(key, value string) ProviderOption {
	return func(p *Provider) {
		if p.headers == nil {
			p.headers = make(http.Header)
		}
		p.headers.Add(key, value)
	}
}

// WithOptions applies request options to every request. Per-request
// GenerationParams are applied after them and win.
func WithOptions(opts ...Option) ProviderOption {
	return func(p *Provider) { p.opts = append(p.opts, opts...) }
}
