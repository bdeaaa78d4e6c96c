package openaicompat

import (
	"encoding/json"

	"github.com/nevindra/ragcore"
)

// BuildBody converts ragcore messages and tools into a ChatRequest for model.
// Thinking messages are not sent back to the model. Options configure
// generation parameters and are applied in order.
func BuildBody(messages []ragcore.ChatMessage, tools []ragcore.ToolDefinition, model string, opts ...Option) ChatRequest {
	msgs := make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.IsThinking() {
			continue
		}
		switch {
		case m.Role == ragcore.RoleAssistant && len(m.ToolCalls) > 0:
			tcs := make([]ToolCallRequest, 0, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == "" {
					args = "{}"
				}
				tcs = append(tcs, ToolCallRequest{
					Index:    i,
					ID:       tc.ID,
					Type:     "function",
					Function: FunctionCall{Name: tc.Name, Arguments: args},
				})
			}
			msg := Message{Role: ragcore.RoleAssistant, ToolCalls: tcs}
			if m.Content != "" {
				msg.Content = m.Content
			}
			msgs = append(msgs, msg)

		case m.Role == ragcore.RoleTool:
			msgs = append(msgs, Message{
				Role:       ragcore.RoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})

		case m.Role == ragcore.RoleFunction:
			msgs = append(msgs, Message{
				Role:    ragcore.RoleFunction,
				Content: m.Content,
				Name:    m.Name,
			})

		default:
			msgs = append(msgs, Message{Role: m.Role, Content: m.Content})
		}
	}

	req := ChatRequest{Model: model, Messages: msgs}
	if len(tools) > 0 {
		req.Tools = BuildToolDefs(tools)
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

// BuildToolDefs converts tool definitions to the function tool format.
func BuildToolDefs(tools []ragcore.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
