package ragcore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// --- Provider mocks (shared across loop_test.go, stream_test.go, xmlloop_test.go) ---

// scriptedProvider replays one scripted turn per call. Chat uses responses,
// ChatStream uses streams; both record the request they saw.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []ChatResponse
	streams   []streamScript
	chatErr   error
	requests  []ChatRequest
}

type streamScript struct {
	chunks []ChatChunk
	err    error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) record(req ChatRequest) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return len(p.requests) - 1
}

func (p *scriptedProvider) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	i := p.record(req)
	if p.chatErr != nil {
		return ChatResponse{}, p.chatErr
	}
	if i >= len(p.responses) {
		return ChatResponse{}, fmt.Errorf("unexpected call %d", i)
	}
	return p.responses[i], nil
}

func (p *scriptedProvider) ChatStream(ctx context.Context, req ChatRequest, ch chan<- ChatChunk) error {
	defer close(ch)
	i := p.record(req)
	if i >= len(p.streams) {
		return fmt.Errorf("unexpected stream %d", i)
	}
	s := p.streams[i]
	for _, c := range s.chunks {
		select {
		case ch <- c:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

// textStream splits text into one content chunk per piece and ends the
// turn with finish.
func textStream(finish FinishReason, pieces ...string) streamScript {
	var s streamScript
	for _, p := range pieces {
		s.chunks = append(s.chunks, ChatChunk{Content: p})
	}
	s.chunks = append(s.chunks, ChatChunk{FinishReason: finish})
	return s
}

// toolStream streams a single tool call split into name and argument
// fragments, ending with tool_calls.
func toolStream(index int, id, name string, argPieces ...string) streamScript {
	s := streamScript{chunks: []ChatChunk{{ToolCalls: []ToolCallDelta{{Index: index, ID: id, Name: name}}}}}
	for _, a := range argPieces {
		s.chunks = append(s.chunks, ChatChunk{ToolCalls: []ToolCallDelta{{Index: index, Arguments: a}}})
	}
	s.chunks = append(s.chunks, ChatChunk{FinishReason: FinishToolCalls})
	return s
}

// --- Tool mocks ---

// stubTool is a Tool backed by a function.
type stubTool struct {
	name string
	fn   func(ctx context.Context, args map[string]any) (any, error)
}

func (t stubTool) Definition() ToolDefinition {
	return ToolDefinition{Name: t.name, Description: "stub " + t.name, Parameters: json.RawMessage(`{"type":"object"}`)}
}

func (t stubTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

func (t stubTool) FormatForLLM(raw any) string { return DefaultFormat(raw) }

// echoTool returns its arguments as JSON.
func echoTool(name string) stubTool {
	return stubTool{name: name, fn: func(_ context.Context, args map[string]any) (any, error) {
		return args, nil
	}}
}

// searchTool returns a fixed aggregate of chunk results titled by titles.
func searchTool(name string, titles ...string) stubTool {
	return stubTool{name: name, fn: func(_ context.Context, _ map[string]any) (any, error) {
		var agg AggregateSearchResult
		for _, t := range titles {
			agg.Chunks = append(agg.Chunks, ChunkSearchResult{
				ID:    "chunk-" + t,
				Title: t,
				Text:  "text of " + t,
			})
		}
		return agg, nil
	}}
}

// --- Store mocks ---

type recordingStore struct {
	mu       sync.Mutex
	messages map[string][]ChatMessage
	err      error
}

func (s *recordingStore) SaveMessage(_ context.Context, conversationID string, msg ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.messages == nil {
		s.messages = make(map[string][]ChatMessage)
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	return s.err
}

func (s *recordingStore) saved(conversationID string) []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ChatMessage(nil), s.messages[conversationID]...)
}

// --- Event helpers ---

// runStream executes the agent and collects every event it emits.
func runStream(ctx context.Context, a *Agent, task Task) ([]Event, Result, error) {
	ch := make(chan Event, 16)
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			events = append(events, ev)
		}
	}()
	res, err := a.ExecuteStream(ctx, task, ch)
	<-done
	return events, res, err
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// messageText concatenates the text of every message event.
func messageText(events []Event) string {
	var sb strings.Builder
	for _, ev := range events {
		if ev.Type == EventMessage {
			sb.WriteString(ev.Payload.(DeltaPayload).Text())
		}
	}
	return sb.String()
}

func eventsOf(events []Event, typ EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func userTask(text string) Task {
	return Task{Messages: []ChatMessage{UserMessage(text)}}
}
