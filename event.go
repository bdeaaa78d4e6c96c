package ragcore

import "encoding/json"

// EventType is the wire name of a streamed event.
type EventType string

const (
	EventMessage     EventType = "message"
	EventThinking    EventType = "thinking"
	EventCitation    EventType = "citation"
	EventToolCall    EventType = "tool_call"
	EventToolResult  EventType = "tool_result"
	EventFinalAnswer EventType = "final_answer"
	EventError       EventType = "error"
	EventDone        EventType = "done"
)

// DoneData is the literal payload of the done event.
const DoneData = "[DONE]"

// Event is one unit of the streaming protocol. Payload is one of the
// *Payload types below, or DoneData for EventDone.
type Event struct {
	Type    EventType
	Payload any
}

// DeltaPayload carries a text delta for message and thinking events.
type DeltaPayload struct {
	Delta MessageDelta `json:"delta"`
}

type MessageDelta struct {
	Content []DeltaContent `json:"content"`
}

type DeltaContent struct {
	Type    string    `json:"type"`
	Payload TextValue `json:"payload"`
}

type TextValue struct {
	Value string `json:"value"`
}

// Text returns the concatenated text of the delta.
func (p DeltaPayload) Text() string {
	var s string
	for _, c := range p.Delta.Content {
		s += c.Payload.Value
	}
	return s
}

type ToolCallPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

// ToolResultPayload carries a tool's raw result. Content is the JSON
// serialization of the raw result, not the text shown to the model.
type ToolResultPayload struct {
	ToolCallID string `json:"tool_call_id"`
	Role       string `json:"role"`
	Content    string `json:"content"`
}

type FinalAnswerPayload struct {
	GeneratedAnswer string     `json:"generated_answer"`
	Citations       []Citation `json:"citations"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

func messageEvent(text string) Event {
	return Event{Type: EventMessage, Payload: textDelta(text)}
}

func thinkingEvent(text string) Event {
	return Event{Type: EventThinking, Payload: textDelta(text)}
}

func textDelta(text string) DeltaPayload {
	return DeltaPayload{Delta: MessageDelta{Content: []DeltaContent{{
		Type:    "text",
		Payload: TextValue{Value: text},
	}}}}
}

func toolCallEvent(tc ToolCall) Event {
	return Event{Type: EventToolCall, Payload: ToolCallPayload{
		ToolCallID: tc.ID,
		Name:       tc.Name,
		Arguments:  tc.Arguments,
	}}
}

func toolResultEvent(tc ToolCall, res ToolResult) Event {
	v := res.Stream
	if v == nil {
		v = res.Raw
	}
	if v == nil {
		v = res.Content
	}
	content, err := json.Marshal(v)
	if err != nil {
		content, _ = json.Marshal(res.Content)
	}
	return Event{Type: EventToolResult, Payload: ToolResultPayload{
		ToolCallID: tc.ID,
		Role:       RoleTool,
		Content:    string(content),
	}}
}

func doneEvent() Event {
	return Event{Type: EventDone, Payload: DoneData}
}
