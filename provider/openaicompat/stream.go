package openaicompat

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/nevindra/ragcore"
)

// StreamSSE reads a chat completion SSE stream from body and forwards every
// delta to ch as a ragcore.ChatChunk. Tool call fragments are forwarded as
// they arrive, keyed by index; reassembly is the consumer's job.
//
// ch is closed before StreamSSE returns. Sends are abandoned when ctx is done.
//
// SSE format expected:
//
//	data: {"id":"...","choices":[...]}\n
//	data: [DONE]\n
func StreamSSE(ctx context.Context, body io.Reader, ch chan<- ragcore.ChatChunk) error {
	defer close(ch)

	scanner := bufio.NewScanner(body)
	// Increase buffer for large SSE payloads.
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	send := func(c ragcore.ChatChunk) error {
		select {
		case ch <- c:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var resp ChatResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			// Skip malformed chunks.
			continue
		}

		var chunk ragcore.ChatChunk
		if resp.Usage != nil {
			u := parseUsage(resp.Usage)
			chunk.Usage = &u
		}
		if len(resp.Choices) > 0 {
			choice := resp.Choices[0]
			if d := choice.Delta; d != nil {
				chunk.Content = d.Content
				chunk.Thinking = d.ReasoningContent
				for _, tc := range d.ToolCalls {
					chunk.ToolCalls = append(chunk.ToolCalls, ragcore.ToolCallDelta{
						Index:     tc.Index,
						ID:        tc.ID,
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					})
				}
			}
			if choice.FinishReason != nil {
				chunk.FinishReason = ragcore.NormalizeFinishReason(*choice.FinishReason)
			}
		}

		if isEmpty(chunk) {
			continue
		}
		if err := send(chunk); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func isEmpty(c ragcore.ChatChunk) bool {
	return c.Content == "" && c.Thinking == "" && len(c.ToolCalls) == 0 &&
		c.FinishReason == ragcore.FinishNone && c.Usage == nil
}
