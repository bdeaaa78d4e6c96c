package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nevindra/ragcore"
	"github.com/nevindra/ragcore/internal/config"
	"github.com/nevindra/ragcore/observer"
	"github.com/nevindra/ragcore/provider/resolve"
	"github.com/nevindra/ragcore/store/postgres"
	"github.com/nevindra/ragcore/store/sqlite"
	"github.com/nevindra/ragcore/tools/document"
	"github.com/nevindra/ragcore/tools/knowledge"
	"github.com/nevindra/ragcore/tools/search"
)

const defaultSystemPrompt = `You are a research assistant. Answer using the tools available to you.
Search results are numbered; cite every fact you take from them with its number in square brackets, like [1].
If the results do not contain the answer, say so instead of guessing.`

// app holds the collaborators shared by every command.
type app struct {
	store    ragcore.Store
	agent    ragcore.StreamingAgent
	shutdown func(context.Context) error
}

// openStore connects to the configured database and initializes its schema.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (ragcore.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		var opts []postgres.Option
		if cfg.Database.TextSearchConfig != "" {
			opts = append(opts, postgres.WithTextSearchConfig(cfg.Database.TextSearchConfig))
		}
		return postgres.Open(ctx, cfg.Database.DSN, opts...)
	case "sqlite":
		return sqlite.Open(ctx, cfg.Database.Path, sqlite.WithLogger(logger))
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
}

// newApp wires store, provider, tools, and agent from cfg. When the
// observer is enabled every layer is wrapped with OTEL instrumentation.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	provider, err := resolve.Provider(cfg.LLM.ProviderConfig())
	if err != nil {
		store.Close()
		return nil, err
	}

	tools := buildTools(cfg, store, logger)

	mode, err := cfg.Agent.ParseMode()
	if err != nil {
		store.Close()
		return nil, err
	}
	prompt := cfg.Agent.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	opts := []ragcore.AgentOption{
		ragcore.WithSystemPrompt(prompt),
		ragcore.WithMode(mode),
		ragcore.WithMaxSteps(cfg.Agent.MaxSteps),
		ragcore.WithMaxTurns(cfg.Agent.MaxTurns),
		ragcore.WithMessageStore(store),
		ragcore.WithLogger(logger),
	}
	if cfg.Agent.RecursiveTools {
		opts = append(opts, ragcore.WithRecursiveTools())
	}
	if cfg.Agent.ArgumentRepair {
		opts = append(opts, ragcore.WithArgumentRepair())
	}

	a := &app{store: store, shutdown: func(context.Context) error { return nil }}

	if !cfg.Observer.Enabled {
		opts = append(opts, ragcore.WithTools(tools...))
		a.agent = ragcore.New(cfg.Agent.Name, provider, opts...)
		return a, nil
	}

	pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
	for model, p := range cfg.Observer.Pricing {
		pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
	}
	inst, shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName, pricing)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init observer: %w", err)
	}
	a.shutdown = shutdown

	provider = observer.WrapProvider(provider, cfg.LLM.Model, inst)
	opts = append(opts,
		ragcore.WithTools(observer.WrapTools(tools, inst)...),
		ragcore.WithTracer(observer.NewTracer()),
	)
	a.agent = observer.WrapAgent(ragcore.New(cfg.Agent.Name, provider, opts...), inst)
	logger.Info("observer enabled", "service", cfg.Observer.ServiceName)
	return a, nil
}

func buildTools(cfg config.Config, store ragcore.Store, logger *slog.Logger) []ragcore.Tool {
	tools := []ragcore.Tool{
		knowledge.New(store,
			knowledge.WithTopK(cfg.Knowledge.TopK),
			knowledge.WithGraphTopK(cfg.Knowledge.GraphTopK),
			knowledge.WithLogger(logger)),
	}

	docOpts := []document.Option{
		document.WithStore(store),
		document.WithMaxChars(cfg.Document.MaxChars),
		document.WithLogger(logger),
	}
	if cfg.Document.Root != "" {
		docOpts = append(docOpts, document.WithRoot(cfg.Document.Root))
	}
	tools = append(tools, document.New(docOpts...))

	if cfg.Search.BraveAPIKey != "" {
		searchOpts := []search.Option{search.WithCount(cfg.Search.Count), search.WithLogger(logger)}
		if cfg.Search.FetchChars > 0 {
			searchOpts = append(searchOpts, search.WithPageFetch(cfg.Search.FetchChars))
		}
		tools = append(tools, search.New(cfg.Search.BraveAPIKey, searchOpts...))
	}
	return tools
}

// Close flushes telemetry and closes the store.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.shutdown(ctx), a.store.Close())
}
