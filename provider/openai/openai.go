// Package openai implements ragcore.Provider on top of the go-openai client.
//
// Use it when talking to api.openai.com or Azure OpenAI and the SDK's
// request handling is preferred over the raw HTTP transport in
// provider/openaicompat.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	sdk "github.com/sashabaranov/go-openai"

	"github.com/nevindra/ragcore"
)

// Provider is a ragcore.Provider backed by *sdk.Client.
type Provider struct {
	client *sdk.Client
	model  string
	name   string
}

// Option configures a Provider.
type Option func(*config)

type config struct {
	sdk  sdk.ClientConfig
	name string
}

// WithBaseURL points the client at an alternative endpoint.
func WithBaseURL(u string) Option {
	return func(c *config) { c.sdk.BaseURL = u }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *config) { c.sdk.HTTPClient = h }
}

// WithName sets the name returned by Name (default "openai").
func WithName(name string) Option {
	return func(c *config) { c.name = name }
}

// New creates a provider for model authenticated with apiKey.
func New(apiKey, model string, opts ...Option) *Provider {
	c := config{sdk: sdk.DefaultConfig(apiKey), name: "openai"}
	for _, opt := range opts {
		opt(&c)
	}
	return &Provider{
		client: sdk.NewClientWithConfig(c.sdk),
		model:  model,
		name:   c.name,
	}
}

func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming completion request.
func (p *Provider) Chat(ctx context.Context, req ragcore.ChatRequest) (ragcore.ChatResponse, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req))
	if err != nil {
		return ragcore.ChatResponse{}, p.wrapErr(err)
	}

	out := ragcore.ChatResponse{Usage: ragcore.Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}}
	if len(resp.Choices) == 0 {
		return out, nil
	}
	choice := resp.Choices[0]
	out.Content = choice.Message.Content
	out.FinishReason = ragcore.NormalizeFinishReason(string(choice.FinishReason))
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ragcore.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

// ChatStream streams chunks into ch and closes it before returning.
func (p *Provider) ChatStream(ctx context.Context, req ragcore.ChatRequest, ch chan<- ragcore.ChatChunk) error {
	defer close(ch)

	r := p.buildRequest(req)
	r.Stream = true
	r.StreamOptions = &sdk.StreamOptions{IncludeUsage: true}

	stream, err := p.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return p.wrapErr(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return p.wrapErr(err)
		}

		var chunk ragcore.ChatChunk
		if resp.Usage != nil {
			chunk.Usage = &ragcore.Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
			}
		}
		if len(resp.Choices) > 0 {
			choice := resp.Choices[0]
			chunk.Content = choice.Delta.Content
			chunk.FinishReason = ragcore.NormalizeFinishReason(string(choice.FinishReason))
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				chunk.ToolCalls = append(chunk.ToolCalls, ragcore.ToolCallDelta{
					Index:     idx,
					ID:        tc.ID,
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Provider) buildRequest(req ragcore.ChatRequest) sdk.ChatCompletionRequest {
	out := sdk.ChatCompletionRequest{Model: p.model}
	for _, m := range req.Messages {
		if m.IsThinking() {
			continue
		}
		msg := sdk.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for i, tc := range m.ToolCalls {
			idx := i
			args := tc.Arguments
			if args == "" {
				args = "{}"
			}
			msg.ToolCalls = append(msg.ToolCalls, sdk.ToolCall{
				Index:    &idx,
				ID:       tc.ID,
				Type:     sdk.ToolTypeFunction,
				Function: sdk.FunctionCall{Name: tc.Name, Arguments: args},
			})
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		var params any = json.RawMessage(`{"type":"object","properties":{}}`)
		if len(t.Parameters) > 0 {
			params = t.Parameters
		}
		out.Tools = append(out.Tools, sdk.Tool{
			Type: sdk.ToolTypeFunction,
			Function: &sdk.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}

	if gp := req.GenerationParams; gp != nil {
		if gp.Temperature != nil {
			out.Temperature = float32(*gp.Temperature)
		}
		if gp.TopP != nil {
			out.TopP = float32(*gp.TopP)
		}
		if gp.MaxTokens != nil {
			out.MaxCompletionTokens = *gp.MaxTokens
		}
		if len(gp.Stop) > 0 {
			out.Stop = gp.Stop
		}
	}
	return out
}

// wrapErr maps SDK errors onto ragcore's error types so the retry wrapper
// can recognize transient failures.
func (p *Provider) wrapErr(err error) error {
	var apiErr *sdk.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &ragcore.ErrHTTP{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *sdk.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &ragcore.ErrHTTP{Status: reqErr.HTTPStatusCode, Body: fmt.Sprint(reqErr.Err)}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ragcore.ErrLLM{Provider: p.name, Message: err.Error()}
}

var _ ragcore.Provider = (*Provider)(nil)
