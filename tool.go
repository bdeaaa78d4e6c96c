package ragcore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is a capability the model can call by name.
//
// When Execute returns an AggregateSearchResult, the dispatcher records it in
// the run's ResultCollector and passes the recorded SearchResults (carrying
// global indices) to FormatForLLM instead of the aggregate itself.
type Tool interface {
	Definition() ToolDefinition
	Execute(ctx context.Context, args map[string]any) (any, error)
	// FormatForLLM renders a raw result as the text appended to the
	// conversation for the model to read.
	FormatForLLM(raw any) string
}

// ResultStreamer is an optional Tool capability. When implemented, the value
// it returns replaces the raw result in tool_result events.
type ResultStreamer interface {
	StreamResult(raw any) any
}

// ToolResult is the outcome of one dispatched tool call. Raw is kept for
// programmatic consumers; Content is what the model reads.
type ToolResult struct {
	Raw     any    `json:"raw,omitempty"`
	Content string `json:"content"`
	Stream  any    `json:"stream,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// ToolRegistry resolves tools by name. Registering a name twice replaces
// the earlier tool, which lets callers shadow built-in tools.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds t under its definition name.
func (r *ToolRegistry) Register(t Tool) {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

func (r *ToolRegistry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the definitions of all tools in first-registration order.
func (r *ToolRegistry) Definitions() []ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// FuncTool adapts a typed Go function into a Tool. The parameter schema is
// derived from T.
type FuncTool[T any] struct {
	def    ToolDefinition
	fn     func(ctx context.Context, args T) (any, error)
	format func(raw any) string
}

// NewFuncTool builds a FuncTool. format may be nil, in which case search
// results are rendered with SearchResults.Format, strings are passed through
// and anything else is JSON-encoded.
func NewFuncTool[T any](name, description string, fn func(ctx context.Context, args T) (any, error), format func(raw any) string) (*FuncTool[T], error) {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", name, err)
	}
	params, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("schema for %s: %w", name, err)
	}
	if format == nil {
		format = DefaultFormat
	}
	return &FuncTool[T]{
		def:    ToolDefinition{Name: name, Description: description, Parameters: params},
		fn:     fn,
		format: format,
	}, nil
}

// MustNewFuncTool is like NewFuncTool but panics on error.
func MustNewFuncTool[T any](name, description string, fn func(ctx context.Context, args T) (any, error), format func(raw any) string) *FuncTool[T] {
	t, err := NewFuncTool(name, description, fn, format)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *FuncTool[T]) Definition() ToolDefinition { return t.def }

func (t *FuncTool[T]) Execute(ctx context.Context, args map[string]any) (any, error) {
	b, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return t.fn(ctx, v)
}

func (t *FuncTool[T]) FormatForLLM(raw any) string { return t.format(raw) }

// DefaultFormat renders a raw tool result for the model.
func DefaultFormat(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case SearchResults:
		return v.Format()
	case fmt.Stringer:
		return v.String()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(b)
}
