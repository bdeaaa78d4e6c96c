package ragcore

import "encoding/json"

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	RoleFunction  = "function"
)

// Content block types carried in ChatMessage.Blocks.
const (
	BlockText     = "text"
	BlockThinking = "thinking"
)

// --- LLM protocol types ---

// ChatMessage is one entry of the conversation log. Messages are never
// mutated after they are appended; corrections are new messages.
type ChatMessage struct {
	ID         string         `json:"id,omitempty"`
	Role       string         `json:"role"` // "system", "user", "assistant", "tool", "function"
	Content    string         `json:"content"`
	Blocks     []ContentBlock `json:"blocks,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

// ContentBlock is a structured piece of assistant output.
type ContentBlock struct {
	Type string `json:"type"` // "text" or "thinking"
	Text string `json:"text"`
}

// IsThinking reports whether the message carries model reasoning rather
// than user-facing text.
func (m ChatMessage) IsThinking() bool {
	return len(m.Blocks) > 0 && m.Blocks[0].Type == BlockThinking
}

func (m ChatMessage) clone() ChatMessage {
	if m.Blocks != nil {
		m.Blocks = append([]ContentBlock(nil), m.Blocks...)
	}
	if m.ToolCalls != nil {
		m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	return m
}

// ToolCall is a function invocation requested by the model. Arguments is the
// raw JSON text exactly as the model produced it and may be malformed.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition advertises a tool to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"` // JSON Schema
}

// GenerationParams overrides provider sampling defaults. Nil fields keep the
// provider default.
type GenerationParams struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ChatRequest struct {
	Messages         []ChatMessage     `json:"messages"`
	Tools            []ToolDefinition  `json:"tools,omitempty"`
	GenerationParams *GenerationParams `json:"generation_params,omitempty"`
}

type ChatResponse struct {
	Content      string       `json:"content"`
	Thinking     string       `json:"thinking,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Usage        Usage        `json:"usage"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// FinishReason is the normalized stop signal of a model turn.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishNone      FinishReason = ""
)

// NormalizeFinishReason maps provider-specific stop reasons onto the three
// values the run-loops understand.
func NormalizeFinishReason(s string) FinishReason {
	switch s {
	case "stop", "length", "end_turn", "content_filter", "eos":
		return FinishStop
	case "tool_calls", "function_call", "tool_use":
		return FinishToolCalls
	default:
		return FinishNone
	}
}

// ChatChunk is one token delta of a streamed completion.
type ChatChunk struct {
	Content      string          `json:"content,omitempty"`
	Thinking     string          `json:"thinking,omitempty"`
	ToolCalls    []ToolCallDelta `json:"tool_calls,omitempty"`
	FinishReason FinishReason    `json:"finish_reason,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
}

// ToolCallDelta is a fragment of a tool call. Fragments sharing an Index
// belong to the same call; Name and Arguments are concatenated in order.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// --- ChatMessage constructors ---

func UserMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: text}
}

func SystemMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: text}
}

func AssistantMessage(text string) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: text}
}

// ThinkingMessage wraps model reasoning as its own assistant message so it
// can be rendered independently of the answer text.
func ThinkingMessage(text string) ChatMessage {
	return ChatMessage{
		Role:    RoleAssistant,
		Content: text,
		Blocks:  []ContentBlock{{Type: BlockThinking, Text: text}},
	}
}

// ToolResultMessage builds the log entry for a tool result. Calls without an
// id use the legacy "function" role.
func ToolResultMessage(callID, name, content string) ChatMessage {
	role := RoleTool
	if callID == "" {
		role = RoleFunction
	}
	return ChatMessage{Role: role, Content: content, Name: name, ToolCallID: callID}
}
