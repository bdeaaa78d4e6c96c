package openaicompat

import "github.com/nevindra/ragcore"

// ParseResponse converts a ChatResponse into a ragcore.ChatResponse using
// choices[0].
func ParseResponse(resp ChatResponse) ragcore.ChatResponse {
	var out ragcore.ChatResponse
	if resp.Usage != nil {
		out.Usage = parseUsage(resp.Usage)
	}
	if len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	if choice.Message != nil {
		out.Content = choice.Message.Content
		out.Thinking = choice.Message.ReasoningContent
		out.ToolCalls = ParseToolCalls(choice.Message.ToolCalls)
	}
	if choice.FinishReason != nil {
		out.FinishReason = ragcore.NormalizeFinishReason(*choice.FinishReason)
	}
	return out
}

// ParseToolCalls converts tool call requests to ragcore ToolCalls. Arguments
// are passed through untouched, even when they are not valid JSON; the
// dispatcher reports malformed arguments back to the model.
func ParseToolCalls(tcs []ToolCallRequest) []ragcore.ToolCall {
	if len(tcs) == 0 {
		return nil
	}
	out := make([]ragcore.ToolCall, 0, len(tcs))
	for _, tc := range tcs {
		out = append(out, ragcore.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func parseUsage(u *Usage) ragcore.Usage {
	return ragcore.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
}
