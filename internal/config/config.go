// Package config loads ragcore settings: defaults, then a TOML file, then
// RAGCORE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/nevindra/ragcore"
	"github.com/nevindra/ragcore/provider/resolve"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Agent     AgentConfig     `toml:"agent"`
	Database  DatabaseConfig  `toml:"database"`
	Knowledge KnowledgeConfig `toml:"knowledge"`
	Search    SearchConfig    `toml:"search"`
	Document  DocumentConfig  `toml:"document"`
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider          string   `toml:"provider"`
	Model             string   `toml:"model"`
	APIKey            string   `toml:"api_key"`
	BaseURL           string   `toml:"base_url"`
	Temperature       *float64 `toml:"temperature"`
	TopP              *float64 `toml:"top_p"`
	RetryAttempts     int      `toml:"retry_attempts"`
	RetryTimeout      int      `toml:"retry_timeout_seconds"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	TokensPerMinute   int      `toml:"tokens_per_minute"`
}

type AgentConfig struct {
	Name           string `toml:"name"`
	Mode           string `toml:"mode"` // "tool_calls" or "xml"
	SystemPrompt   string `toml:"system_prompt"`
	MaxSteps       int    `toml:"max_steps"`
	MaxTurns       int    `toml:"max_turns"`
	RecursiveTools bool   `toml:"recursive_tools"`
	ArgumentRepair bool   `toml:"argument_repair"`
}

type DatabaseConfig struct {
	Driver           string `toml:"driver"` // "sqlite" or "postgres"
	Path             string `toml:"path"`
	DSN              string `toml:"dsn"`
	TextSearchConfig string `toml:"text_search_config"`
}

type KnowledgeConfig struct {
	TopK      int `toml:"top_k"`
	GraphTopK int `toml:"graph_top_k"`
}

type SearchConfig struct {
	BraveAPIKey string `toml:"brave_api_key"`
	Count       int    `toml:"count"`
	FetchChars  int    `toml:"fetch_chars"`
}

type DocumentConfig struct {
	Root     string `toml:"root"`
	MaxChars int    `toml:"max_chars"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type LogConfig struct {
	Level string `toml:"level"`
}

type ObserverConfig struct {
	Enabled     bool                       `toml:"enabled"`
	ServiceName string                     `toml:"service_name"`
	Pricing     map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "openai", Model: "gpt-4o-mini", RetryAttempts: 3},
		Agent:     AgentConfig{Name: "ragcore", Mode: "tool_calls", MaxSteps: 10},
		Database:  DatabaseConfig{Path: "ragcore.db"},
		Knowledge: KnowledgeConfig{TopK: 5, GraphTopK: 3},
		Search:    SearchConfig{Count: 8},
		Document:  DocumentConfig{MaxChars: 8000},
		Server:    ServerConfig{Addr: ":8080"},
		Log:       LogConfig{Level: "info"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = "ragcore.toml"
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}

	// Env overrides
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("RAGCORE_LLM_PROVIDER", &cfg.LLM.Provider)
	setString("RAGCORE_LLM_MODEL", &cfg.LLM.Model)
	setString("RAGCORE_LLM_API_KEY", &cfg.LLM.APIKey)
	setString("RAGCORE_LLM_BASE_URL", &cfg.LLM.BaseURL)
	setString("RAGCORE_AGENT_MODE", &cfg.Agent.Mode)
	setString("RAGCORE_DATABASE_PATH", &cfg.Database.Path)
	setString("RAGCORE_DATABASE_DSN", &cfg.Database.DSN)
	setString("RAGCORE_BRAVE_API_KEY", &cfg.Search.BraveAPIKey)
	setString("RAGCORE_DOCUMENT_ROOT", &cfg.Document.Root)
	setString("RAGCORE_SERVER_ADDR", &cfg.Server.Addr)
	setString("RAGCORE_LOG_LEVEL", &cfg.Log.Level)
	if v := os.Getenv("RAGCORE_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
		if cfg.Database.DSN != "" {
			cfg.Database.Driver = "postgres"
		}
	}

	return cfg, cfg.Validate()
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	if _, err := c.Agent.ParseMode(); err != nil {
		return err
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("config: database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("config: database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if c.Agent.MaxSteps < 0 || c.Agent.MaxTurns < 0 {
		return errors.New("config: agent step limits must not be negative")
	}
	return nil
}

// ParseMode maps the mode name onto a ragcore.Mode.
func (a AgentConfig) ParseMode() (ragcore.Mode, error) {
	switch strings.ToLower(a.Mode) {
	case "", "tool_calls":
		return ragcore.ModeToolCalls, nil
	case "xml":
		return ragcore.ModeXML, nil
	}
	return 0, fmt.Errorf("config: unknown agent mode %q", a.Mode)
}

// ProviderConfig converts the [llm] section for provider/resolve.
func (l LLMConfig) ProviderConfig() resolve.Config {
	return resolve.Config{
		Provider:      l.Provider,
		APIKey:        l.APIKey,
		Model:         l.Model,
		BaseURL:       l.BaseURL,
		Temperature:   l.Temperature,
		TopP:          l.TopP,
		RetryAttempts: l.RetryAttempts,
		RetryTimeout:  time.Duration(l.RetryTimeout) * time.Second,

		RequestsPerMinute: l.RequestsPerMinute,
		TokensPerMinute:   l.TokensPerMinute,
	}
}

// SlogLevel parses the log level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
