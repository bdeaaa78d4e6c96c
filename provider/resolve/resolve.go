// Package resolve builds a ragcore.Provider from provider-agnostic settings.
package resolve

import (
	"fmt"
	"time"

	"github.com/nevindra/ragcore"
	"github.com/nevindra/ragcore/provider/openai"
	"github.com/nevindra/ragcore/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat Provider.
type Config struct {
	Provider string // "openai", "openai-sdk", "gemini", "groq", "deepseek", "together", "mistral", "ollama", "vllm"
	APIKey   string
	Model    string
	BaseURL  string // required for vllm; auto-filled for known providers

	// Common cross-provider options (nil = use provider default).
	Temperature *float64
	TopP        *float64

	// RetryAttempts wraps the provider with ragcore.WithRetry when > 1.
	RetryAttempts int
	RetryTimeout  time.Duration

	// RequestsPerMinute and TokensPerMinute wrap the provider with
	// ragcore.WithRateLimit when > 0.
	RequestsPerMinute int
	TokensPerMinute   int
}

// Provider creates a ragcore.Provider from cfg.
func Provider(cfg Config) (ragcore.Provider, error) {
	var p ragcore.Provider
	switch cfg.Provider {
	case "openai-sdk":
		p = sdkProvider(cfg)
	case "openai", "gemini", "groq", "deepseek", "together", "mistral", "ollama", "vllm":
		if cfg.BaseURL == "" && defaultBaseURL(cfg.Provider) == "" {
			return nil, fmt.Errorf("resolve: provider %q requires a base URL", cfg.Provider)
		}
		p = openaiCompatProvider(cfg)
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}

	if cfg.RetryAttempts > 1 {
		opts := []ragcore.RetryOption{ragcore.RetryMaxAttempts(cfg.RetryAttempts)}
		if cfg.RetryTimeout > 0 {
			opts = append(opts, ragcore.RetryTimeout(cfg.RetryTimeout))
		}
		p = ragcore.WithRetry(p, opts...)
	}

	var limits []ragcore.RateLimitOption
	if cfg.RequestsPerMinute > 0 {
		limits = append(limits, ragcore.RPM(cfg.RequestsPerMinute))
	}
	if cfg.TokensPerMinute > 0 {
		limits = append(limits, ragcore.TPM(cfg.TokensPerMinute))
	}
	if len(limits) > 0 {
		p = ragcore.WithRateLimit(p, limits...)
	}
	return p, nil
}

func sdkProvider(cfg Config) ragcore.Provider {
	opts := []openai.Option{openai.WithName("openai")}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	return openai.New(cfg.APIKey, cfg.Model, opts...)
}

func openaiCompatProvider(cfg Config) ragcore.Provider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL(cfg.Provider)
	}
	provOpts := []openaicompat.ProviderOption{openaicompat.WithName(cfg.Provider)}

	var reqOpts []openaicompat.Option
	if cfg.Temperature != nil {
		reqOpts = append(reqOpts, openaicompat.WithTemperature(*cfg.Temperature))
	}
	if cfg.TopP != nil {
		reqOpts = append(reqOpts, openaicompat.WithTopP(*cfg.TopP))
	}
	if len(reqOpts) > 0 {
		provOpts = append(provOpts, openaicompat.WithOptions(reqOpts...))
	}
	return openaicompat.NewProvider(cfg.APIKey, cfg.Model, baseURL, provOpts...)
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta/openai"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}
