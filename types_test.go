package ragcore

import "testing"

func TestNormalizeFinishReason(t *testing.T) {
	tests := []struct {
		in   string
		want FinishReason
	}{
		{"stop", FinishStop},
		{"length", FinishStop},
		{"end_turn", FinishStop},
		{"tool_calls", FinishToolCalls},
		{"function_call", FinishToolCalls},
		{"tool_use", FinishToolCalls},
		{"", FinishNone},
		{"null", FinishNone},
	}
	for _, tt := range tests {
		if got := NormalizeFinishReason(tt.in); got != tt.want {
			t.Errorf("NormalizeFinishReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestToolResultMessage(t *testing.T) {
	m := ToolResultMessage("call_1", "search", "ok")
	if m.Role != RoleTool || m.ToolCallID != "call_1" || m.Name != "search" {
		t.Errorf("with id = %+v", m)
	}
	legacy := ToolResultMessage("", "search", "ok")
	if legacy.Role != RoleFunction {
		t.Errorf("role = %q, want %q", legacy.Role, RoleFunction)
	}
}

func TestThinkingMessage(t *testing.T) {
	m := ThinkingMessage("because")
	if !m.IsThinking() || m.Role != RoleAssistant {
		t.Errorf("message = %+v", m)
	}
	if AssistantMessage("x").IsThinking() {
		t.Error("plain assistant message reported as thinking")
	}
}

func TestChatMessageClone(t *testing.T) {
	m := ChatMessage{Blocks: []ContentBlock{{Type: BlockText, Text: "a"}}}
	c := m.clone()
	c.Blocks[0].Text = "b"
	if m.Blocks[0].Text != "a" {
		t.Error("clone shares Blocks backing array")
	}
}
