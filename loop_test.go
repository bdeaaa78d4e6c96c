package ragcore

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestExecute_NoTools(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{Content: "hello there", FinishReason: FinishStop, Usage: Usage{InputTokens: 3, OutputTokens: 2}},
	}}
	a := New("t", p, WithSystemPrompt("be brief"))

	res, err := a.Execute(context.Background(), userTask("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "hello there" {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Messages) != 1 || res.Messages[0].Role != RoleAssistant {
		t.Errorf("messages = %+v", res.Messages)
	}
	if res.Usage.InputTokens != 3 || res.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", res.Usage)
	}
	req := p.request(0)
	if req.Messages[0].Role != RoleSystem || req.Messages[0].Content != "be brief" {
		t.Errorf("first message = %+v", req.Messages[0])
	}
	if len(req.Tools) != 0 {
		t.Errorf("tools advertised without registered tools: %v", req.Tools)
	}
}

func TestExecute_ToolRoundTrip(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "search", Arguments: `{"query":"go"}`}}, FinishReason: FinishToolCalls},
		{Content: "Go is a language [1].", FinishReason: FinishStop},
	}}
	a := New("t", p, WithTools(searchTool("search", "Go FAQ")))

	res, err := a.Execute(context.Background(), userTask("what is go?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls() != 2 {
		t.Fatalf("provider called %d times, want 2", p.calls())
	}
	if len(p.request(0).Tools) != 1 {
		t.Error("first turn should advertise tools")
	}
	if len(p.request(1).Tools) != 0 {
		t.Error("turn after tool results should withhold tools")
	}

	roles := make([]string, len(res.Messages))
	for i, m := range res.Messages {
		roles[i] = m.Role
	}
	if strings.Join(roles, ",") != "assistant,tool,assistant" {
		t.Errorf("roles = %v", roles)
	}
	if len(res.Citations) != 1 || res.Citations[0].SourceTitle != "Go FAQ" {
		t.Errorf("citations = %+v", res.Citations)
	}
	if len(res.SearchResults) != 1 {
		t.Errorf("search results = %d, want 1", len(res.SearchResults))
	}
}

func TestExecute_RecursiveToolsKeepsTools(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "echo"}}},
		{Content: "done"},
	}}
	a := New("t", p, WithTools(echoTool("echo")), WithRecursiveTools())
	if _, err := a.Execute(context.Background(), userTask("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.request(1).Tools) != 1 {
		t.Error("recursive mode should keep tools after tool results")
	}
}

func TestExecute_MalformedArgumentsContinues(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "echo", Arguments: "{bad json"}}},
		{Content: "recovered"},
	}}
	a := New("t", p, WithTools(echoTool("echo")))

	res, err := a.Execute(context.Background(), userTask("hi"))
	if err != nil {
		t.Fatalf("run should continue after a bad tool call: %v", err)
	}
	if res.Answer != "recovered" {
		t.Errorf("answer = %q", res.Answer)
	}
	second := p.request(1).Messages
	toolMsg := second[len(second)-1]
	if toolMsg.Role != RoleTool || !strings.HasPrefix(toolMsg.Content, "error:") {
		t.Errorf("model should see the error tool message, got %+v", toolMsg)
	}
}

func TestExecute_ProviderError(t *testing.T) {
	p := &scriptedProvider{chatErr: &ErrHTTP{Status: 500, Body: "boom"}}
	a := New("t", p)
	_, err := a.Execute(context.Background(), userTask("hi"))
	var httpErr *ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %v, want ErrHTTP", err)
	}
}

func TestExecute_ThinkingStoredSeparately(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{Content: "answer", Thinking: "let me think"},
	}}
	a := New("t", p)
	res, err := a.Execute(context.Background(), userTask("hi"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Messages) != 2 || !res.Messages[0].IsThinking() || res.Messages[1].Content != "answer" {
		t.Errorf("messages = %+v", res.Messages)
	}
}

func TestExecute_MaxTurns(t *testing.T) {
	call := ChatResponse{ToolCalls: []ToolCall{{ID: "c", Name: "echo"}}}
	p := &scriptedProvider{responses: []ChatResponse{call, call, call}}
	a := New("t", p, WithTools(echoTool("echo")), WithMaxTurns(2), WithRecursiveTools())

	if _, err := a.Execute(context.Background(), userTask("hi")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls() != 2 {
		t.Errorf("provider called %d times, want 2", p.calls())
	}
}

func TestExecute_PersistsRunMessages(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "echo"}}},
		{Content: "final"},
	}}
	store := &recordingStore{}
	a := New("t", p, WithTools(echoTool("echo")), WithMessageStore(store), WithSystemPrompt("sys"))

	task := userTask("hi")
	task.ConversationID = "conv-1"
	if _, err := a.Execute(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	saved := store.saved("conv-1")
	if len(saved) != 3 {
		t.Fatalf("saved %d messages, want 3", len(saved))
	}
	if saved[2].Content != "final" {
		t.Errorf("last saved = %+v", saved[2])
	}
}

func TestExecute_PersistErrorDoesNotFailRun(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{{Content: "ok"}}}
	store := &recordingStore{err: errors.New("disk full")}
	a := New("t", p, WithMessageStore(store))

	task := userTask("hi")
	task.ConversationID = "conv"
	if _, err := a.Execute(context.Background(), task); err != nil {
		t.Fatalf("store failure should not fail the run: %v", err)
	}
}

func TestExecute_TaskToolDefaults(t *testing.T) {
	p := &scriptedProvider{responses: []ChatResponse{
		{ToolCalls: []ToolCall{{ID: "c1", Name: "echo", Arguments: `{"q":"x"}`}}},
		{Content: "ok"},
	}}
	a := New("t", p,
		WithTools(echoTool("echo")),
		WithToolDefaults(map[string]map[string]any{"echo": {"limit": 1.0, "scope": "all"}}))

	task := userTask("hi")
	task.ToolDefaults = map[string]map[string]any{"echo": {"scope": "mine"}}
	res, err := a.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.Messages[1].Content; got != `{"limit":1,"q":"x","scope":"mine"}` {
		t.Errorf("tool saw %s", got)
	}
}
