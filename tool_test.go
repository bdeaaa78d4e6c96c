package ragcore

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestToolRegistry_LastRegistrationWins(t *testing.T) {
	reg := NewToolRegistry()
	reg.Register(stubTool{name: "search", fn: func(context.Context, map[string]any) (any, error) { return "first", nil }})
	reg.Register(echoTool("echo"))
	reg.Register(stubTool{name: "search", fn: func(context.Context, map[string]any) (any, error) { return "second", nil }})

	if reg.Len() != 2 {
		t.Errorf("Len = %d, want 2", reg.Len())
	}
	defs := reg.Definitions()
	if defs[0].Name != "search" || defs[1].Name != "echo" {
		t.Errorf("definitions = %+v", defs)
	}
	tool, ok := reg.Resolve("search")
	if !ok {
		t.Fatal("search not found")
	}
	out, _ := tool.Execute(context.Background(), nil)
	if out != "second" {
		t.Errorf("resolved %v, want the later registration", out)
	}
	if _, ok := reg.Resolve("nope"); ok {
		t.Error("Resolve(nope) should fail")
	}
}

type weatherArgs struct {
	City  string `json:"city" jsonschema:"city name"`
	Units string `json:"units,omitempty"`
}

func TestFuncTool(t *testing.T) {
	tool := MustNewFuncTool("weather", "Current weather", func(_ context.Context, a weatherArgs) (any, error) {
		return "sunny in " + a.City, nil
	}, nil)

	def := tool.Definition()
	if def.Name != "weather" || def.Description != "Current weather" {
		t.Errorf("definition = %+v", def)
	}
	var schema map[string]any
	if err := json.Unmarshal(def.Parameters, &schema); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
	props, _ := schema["properties"].(map[string]any)
	if _, ok := props["city"]; !ok {
		t.Errorf("schema missing city: %s", def.Parameters)
	}

	out, err := tool.Execute(context.Background(), map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := tool.FormatForLLM(out); got != "sunny in Oslo" {
		t.Errorf("formatted = %q", got)
	}
}

func TestFuncTool_BadArgumentType(t *testing.T) {
	tool := MustNewFuncTool("weather", "", func(_ context.Context, a weatherArgs) (any, error) {
		return a.City, nil
	}, nil)
	if _, err := tool.Execute(context.Background(), map[string]any{"city": 42}); err == nil {
		t.Error("expected decode error")
	}
}

func TestDefaultFormat(t *testing.T) {
	c := NewResultCollector()
	rs := c.AddAggregate(AggregateSearchResult{Chunks: []ChunkSearchResult{{Title: "t", Text: "body"}}})

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "plain", "plain"},
		{"results", rs, "[1] t\nbody"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := DefaultFormat(tt.in); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestToolResultEvent_PrefersStreamValue(t *testing.T) {
	ev := toolResultEvent(ToolCall{ID: "c"}, ToolResult{Raw: "raw", Content: "content", Stream: map[string]string{"k": "v"}})
	p := ev.Payload.(ToolResultPayload)
	if p.Content != `{"k":"v"}` || p.Role != RoleTool {
		t.Errorf("payload = %+v", p)
	}
	ev = toolResultEvent(ToolCall{ID: "c"}, ToolResult{Content: "error: x", IsError: true})
	if p := ev.Payload.(ToolResultPayload); !strings.Contains(p.Content, "error: x") {
		t.Errorf("payload = %+v", p)
	}
}
