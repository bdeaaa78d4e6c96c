package ragcore

import (
	"context"
	"log/slog"
	"strings"
)

// Mode selects the run-loop strategy of an Agent.
type Mode int

const (
	// ModeToolCalls drives the model through native structured tool calls.
	ModeToolCalls Mode = iota
	// ModeXML drives the model through <Thought>/<Action>/<Response> tags in
	// plain text, bounded by a step budget.
	ModeXML
)

func (m Mode) String() string {
	switch m {
	case ModeToolCalls:
		return "tool_calls"
	case ModeXML:
		return "xml"
	default:
		return "unknown"
	}
}

// DefaultMaxSteps is the step budget of the XML reasoning loop.
const DefaultMaxSteps = 10

// FallbackAnswer is the final answer of an XML run that exhausts its step
// budget without producing a response.
const FallbackAnswer = "I'm sorry, I ran out of compute budget before I could finish answering. Please try again or narrow the question."

// Task is the input to an agent run.
type Task struct {
	// ConversationID keys persisted messages. Empty disables persistence
	// for this run even when a MessageStore is configured.
	ConversationID string
	// Messages are appended to the log after the system prompt.
	Messages []ChatMessage
	// ToolDefaults are per-tool argument defaults; model-supplied arguments
	// take precedence.
	ToolDefaults map[string]map[string]any
}

// Result is the output of an agent run.
type Result struct {
	// Messages is the tail of the conversation produced by the run,
	// oldest first.
	Messages []ChatMessage
	// Answer is the final answer with citation markers relabeled.
	Answer    string
	Citations []Citation
	// SearchResults are all results collected during the run.
	SearchResults SearchResults
	Usage         Usage
}

// Agent drives a conversation between a model and a set of tools. An Agent
// is immutable after construction and safe for concurrent runs; each run
// owns its own conversation, collector, and citation tracker.
type Agent struct {
	name           string
	provider       Provider
	registry       *ToolRegistry
	systemPrompt   string
	mode           Mode
	maxSteps       int
	maxTurns       int
	params         *GenerationParams
	store          MessageStore
	repairArgs     bool
	recursiveTools bool
	maxParallel    int
	toolDefaults   map[string]map[string]any
	tracer         Tracer
	logger         *slog.Logger
}

type agentConfig struct {
	tools          []Tool
	systemPrompt   string
	mode           Mode
	maxSteps       int
	maxTurns       int
	params         *GenerationParams
	store          MessageStore
	repairArgs     bool
	recursiveTools bool
	maxParallel    int
	toolDefaults   map[string]map[string]any
	tracer         Tracer
	logger         *slog.Logger
}

// AgentOption configures an Agent.
type AgentOption func(*agentConfig)

// WithTools registers tools. Later tools shadow earlier ones of the same name.
func WithTools(tools ...Tool) AgentOption {
	return func(c *agentConfig) { c.tools = append(c.tools, tools...) }
}

// WithSystemPrompt sets the system instruction that seeds every run.
func WithSystemPrompt(s string) AgentOption {
	return func(c *agentConfig) { c.systemPrompt = s }
}

// WithMode selects the run-loop strategy (default ModeToolCalls).
func WithMode(m Mode) AgentOption {
	return func(c *agentConfig) { c.mode = m }
}

// WithMaxSteps sets the step budget of the XML reasoning loop
// (default DefaultMaxSteps).
func WithMaxSteps(n int) AgentOption {
	return func(c *agentConfig) { c.maxSteps = n }
}

// WithMaxTurns bounds the number of model calls in tool-call mode. The zero
// value leaves the loop bounded only by the model's stop signal.
func WithMaxTurns(n int) AgentOption {
	return func(c *agentConfig) { c.maxTurns = n }
}

// WithGenerationParams sets sampling parameters sent with every model call.
func WithGenerationParams(p GenerationParams) AgentOption {
	return func(c *agentConfig) { c.params = &p }
}

// WithMessageStore forwards every message a run appends to s.
func WithMessageStore(s MessageStore) AgentOption {
	return func(c *agentConfig) { c.store = s }
}

// WithArgumentRepair enables a JSON repair pass over malformed tool
// arguments before they are rejected.
func WithArgumentRepair() AgentOption {
	return func(c *agentConfig) { c.repairArgs = true }
}

// WithRecursiveTools keeps tools advertised on the turn right after tool
// results. By default they are withheld on that turn so the model answers
// instead of calling tools again.
func WithRecursiveTools() AgentOption {
	return func(c *agentConfig) { c.recursiveTools = true }
}

// WithMaxParallelTools caps how many tool calls of one turn run at once.
// By default every call of a turn starts immediately.
func WithMaxParallelTools(n int) AgentOption {
	return func(c *agentConfig) { c.maxParallel = n }
}

// WithToolDefaults sets per-tool argument defaults for every run. Task-level
// defaults are merged over these.
func WithToolDefaults(d map[string]map[string]any) AgentOption {
	return func(c *agentConfig) { c.toolDefaults = d }
}

// WithTracer sets the tracer. Use observer.NewTracer() for an OTEL-backed
// implementation.
func WithTracer(t Tracer) AgentOption {
	return func(c *agentConfig) { c.tracer = t }
}

// WithLogger sets the structured logger. If not set, a no-op logger is used.
func WithLogger(l *slog.Logger) AgentOption {
	return func(c *agentConfig) { c.logger = l }
}

// nopLogger is a logger that discards all output. Used when WithLogger is not set.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates an agent named name that talks to provider.
func New(name string, provider Provider, opts ...AgentOption) *Agent {
	var c agentConfig
	for _, opt := range opts {
		opt(&c)
	}
	if c.logger == nil {
		c.logger = nopLogger
	}
	if c.maxSteps <= 0 {
		c.maxSteps = DefaultMaxSteps
	}
	reg := NewToolRegistry()
	for _, t := range c.tools {
		reg.Register(t)
	}
	return &Agent{
		name:           name,
		provider:       provider,
		registry:       reg,
		systemPrompt:   c.systemPrompt,
		mode:           c.mode,
		maxSteps:       c.maxSteps,
		maxTurns:       c.maxTurns,
		params:         c.params,
		store:          c.store,
		repairArgs:     c.repairArgs,
		recursiveTools: c.recursiveTools,
		maxParallel:    c.maxParallel,
		toolDefaults:   c.toolDefaults,
		tracer:         c.tracer,
		logger:         c.logger,
	}
}

func (a *Agent) Name() string { return a.name }

// Mode returns the run-loop strategy of the agent.
func (a *Agent) Mode() Mode { return a.mode }

// Tools returns the definitions of the agent's tools.
func (a *Agent) Tools() []ToolDefinition { return a.registry.Definitions() }

// Execute runs the agent to completion without streaming. In ModeXML the
// XML loop runs with its events discarded.
func (a *Agent) Execute(ctx context.Context, task Task) (Result, error) {
	if a.mode == ModeXML {
		ch := make(chan Event, 64)
		go func() {
			for range ch {
			}
		}()
		return a.runXML(ctx, task, ch)
	}
	return a.runBlocking(ctx, task)
}

// ExecuteStream runs the agent and emits protocol events to ch. The last
// event is always EventDone unless ctx is cancelled first. ch is closed
// before ExecuteStream returns.
func (a *Agent) ExecuteStream(ctx context.Context, task Task, ch chan<- Event) (Result, error) {
	if a.mode == ModeXML {
		return a.runXML(ctx, task, ch)
	}
	return a.runStreaming(ctx, task, ch)
}

// run is the per-execution state shared by all strategies.
type run struct {
	agent     *Agent
	conv      *Conversation
	collector *ResultCollector
	tracker   *CitationTracker
	dispatch  *dispatcher
	lastInput string
	usage     Usage
}

// newRun seeds a conversation with the system prompt and the task messages
// and wires persistence for everything appended afterwards.
func (a *Agent) newRun(ctx context.Context, task Task) *run {
	prompt := a.systemPrompt
	if a.mode == ModeXML {
		prompt = strings.TrimSpace(prompt + "\n\n" + xmlInstructions(a.registry.Definitions()))
	}
	var seed []ChatMessage
	if prompt != "" {
		seed = append(seed, SystemMessage(prompt))
	}
	seed = append(seed, task.Messages...)
	conv := NewConversation(seed...)

	var lastInput string
	if m, ok := conv.Last(); ok {
		lastInput = m.ID
	}

	if a.store != nil && task.ConversationID != "" {
		persistCtx := context.WithoutCancel(ctx)
		convID := task.ConversationID
		conv.setHook(func(m ChatMessage) {
			if err := a.store.SaveMessage(persistCtx, convID, m); err != nil {
				a.logger.Error("persist message failed", "agent", a.name, "conversation", convID, "error", err)
			}
		})
	}

	defaults := a.toolDefaults
	if len(task.ToolDefaults) > 0 {
		defaults = mergeDefaults(a.toolDefaults, task.ToolDefaults)
	}

	collector := NewResultCollector()
	return &run{
		agent:     a,
		conv:      conv,
		collector: collector,
		tracker:   NewCitationTracker(collector),
		dispatch: &dispatcher{
			registry:  a.registry,
			collector: collector,
			conv:      conv,
			defaults:  defaults,
			repair:    a.repairArgs,
			parallel:  a.maxParallel,
			tracer:    a.tracer,
			logger:    a.logger,
		},
		lastInput: lastInput,
	}
}

func mergeDefaults(base, over map[string]map[string]any) map[string]map[string]any {
	out := make(map[string]map[string]any, len(base)+len(over))
	for name, args := range base {
		m := make(map[string]any, len(args))
		for k, v := range args {
			m[k] = v
		}
		out[name] = m
	}
	for name, args := range over {
		m := out[name]
		if m == nil {
			m = make(map[string]any, len(args))
			out[name] = m
		}
		for k, v := range args {
			m[k] = v
		}
	}
	return out
}

// request builds the next model request. Tools are withheld when the last
// message is a tool result, unless recursive tool use is enabled.
func (r *run) request(withTools bool) ChatRequest {
	msgs := r.conv.Snapshot()
	req := ChatRequest{Messages: msgs, GenerationParams: r.agent.params}
	if !withTools || r.agent.registry.Len() == 0 {
		return req
	}
	if len(msgs) > 0 && !r.agent.recursiveTools {
		if role := msgs[len(msgs)-1].Role; role == RoleTool || role == RoleFunction {
			return req
		}
	}
	req.Tools = r.agent.registry.Definitions()
	return req
}

func (r *run) addUsage(u Usage) {
	r.usage.InputTokens += u.InputTokens
	r.usage.OutputTokens += u.OutputTokens
}

// result assembles the Result for a finished run. raw is the unrewritten
// final answer text.
func (r *run) result(raw string) Result {
	answer := r.tracker.FinalizeAllCitations(raw)
	return Result{
		Messages:      r.conv.Tail(r.lastInput),
		Answer:        answer,
		Citations:     r.tracker.ExtractCitations(raw),
		SearchResults: r.collector.AllResults(),
		Usage:         r.usage,
	}
}
