package ragcore

import (
	"context"
	"strings"
	"testing"
)

const xmlSearchTurn = `<Thought>I should search.</Thought><Action><ToolCalls><ToolCall><Name>search</Name><Parameters>{"query":"go"}</Parameters></ToolCall></ToolCalls></Action>`

// chop splits s into n-byte pieces.
func chop(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	return append(out, s)
}

func TestRunXML_ToolThenResponse(t *testing.T) {
	p := &scriptedProvider{streams: []streamScript{
		textStream(FinishStop, chop(xmlSearchTurn, 7)...),
		textStream(FinishStop, chop(`<Action><Response>Go is simple [1].</Response></Action>`, 5)...),
	}}
	a := New("t", p, WithMode(ModeXML), WithTools(searchTool("search", "Go FAQ")))

	events, res, err := runStream(context.Background(), a, userTask("what is go?"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	thinking := eventsOf(events, EventThinking)
	if len(thinking) == 0 {
		t.Fatal("expected thinking events")
	}
	var thought strings.Builder
	for _, ev := range thinking {
		thought.WriteString(ev.Payload.(DeltaPayload).Text())
	}
	if thought.String() != "I should search." {
		t.Errorf("thought = %q", thought.String())
	}

	if len(eventsOf(events, EventToolCall)) != 1 || len(eventsOf(events, EventToolResult)) != 1 {
		t.Errorf("event types = %v", eventTypes(events))
	}
	if got := messageText(events); got != "Go is simple [1]." {
		t.Errorf("streamed text = %q", got)
	}
	if strings.Contains(messageText(events), "<") {
		t.Error("tags leaked into message events")
	}
	if res.Answer != "Go is simple [1]." || len(res.Citations) != 1 {
		t.Errorf("answer = %q citations = %+v", res.Answer, res.Citations)
	}

	// The second turn sees the tool result inline, never as a tool message.
	second := p.request(1)
	if len(second.Tools) != 0 {
		t.Error("xml mode must not advertise native tools")
	}
	last := second.Messages[len(second.Messages)-1]
	if last.Role != RoleAssistant || !strings.Contains(last.Content, "<Result>[1] Go FAQ") {
		t.Errorf("last message = %+v", last)
	}
	for _, m := range second.Messages {
		if m.Role == RoleTool {
			t.Error("xml mode appended a tool-role message")
		}
	}
	if !strings.Contains(second.Messages[0].Content, "search") {
		t.Error("system prompt should list the tools")
	}

	types := eventTypes(events)
	if types[len(types)-2] != EventFinalAnswer || types[len(types)-1] != EventDone {
		t.Errorf("event types = %v", types)
	}
}

func TestRunXML_FallbackAfterMaxSteps(t *testing.T) {
	thinkOnly := textStream(FinishStop, "<Thought>still thinking</Thought>")
	p := &scriptedProvider{streams: []streamScript{thinkOnly, thinkOnly, thinkOnly, thinkOnly}}
	a := New("t", p, WithMode(ModeXML), WithMaxSteps(3))

	events, res, err := runStream(context.Background(), a, userTask("q"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls() != 3 {
		t.Errorf("model called %d times, want exactly 3", p.calls())
	}
	if res.Answer != FallbackAnswer {
		t.Errorf("answer = %q", res.Answer)
	}
	final := eventsOf(events, EventFinalAnswer)
	if len(final) != 1 || final[0].Payload.(FinalAnswerPayload).GeneratedAnswer != FallbackAnswer {
		t.Errorf("final answer events = %+v", final)
	}
}

func TestRunXML_BareResponse(t *testing.T) {
	p := &scriptedProvider{streams: []streamScript{
		textStream(FinishStop, "<Response>", "plain answer", "</Response>"),
	}}
	a := New("t", p, WithMode(ModeXML))

	events, res, err := runStream(context.Background(), a, userTask("q"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "plain answer" {
		t.Errorf("answer = %q", res.Answer)
	}
	if got := messageText(events); got != "plain answer" {
		t.Errorf("streamed text = %q", got)
	}
}

func TestRunXML_TextOutsideTagsIsKept(t *testing.T) {
	p := &scriptedProvider{streams: []streamScript{
		textStream(FinishStop, "Let me check. ", "<Thought>hm</Thought>"),
		textStream(FinishStop, "<Action><Response>Done.</Response></Action>"),
	}}
	a := New("t", p, WithMode(ModeXML))

	events, res, err := runStream(context.Background(), a, userTask("q"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := messageText(events); got != "Let me check. Done." {
		t.Errorf("streamed text = %q", got)
	}
	if res.Answer != "Let me check. Done." {
		t.Errorf("answer = %q", res.Answer)
	}
	second := p.request(1).Messages
	if last := second[len(second)-1]; last.Content != "Let me check. " {
		t.Errorf("persisted step text = %q", last.Content)
	}
}

func TestRunXML_TextBeforeResponseIsSeparated(t *testing.T) {
	p := &scriptedProvider{streams: []streamScript{
		textStream(FinishStop, "Intro:", "<Response>Answer.</Response>"),
	}}
	a := New("t", p, WithMode(ModeXML))

	events, res, err := runStream(context.Background(), a, userTask("q"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "Intro:\n\nAnswer."
	if got := messageText(events); got != want {
		t.Errorf("streamed text = %q, want %q", got, want)
	}
	if res.Answer != want {
		t.Errorf("answer = %q, want %q", res.Answer, want)
	}
}

func TestResponseSeparator(t *testing.T) {
	tests := []struct {
		prefix, response, want string
	}{
		{"", "Answer", ""},
		{"Intro:", "", ""},
		{"  ", "Answer", ""},
		{"Intro: ", "Answer", ""},
		{"Intro:", "\nAnswer", ""},
		{"Intro:", "Answer", "\n\n"},
	}
	for _, tt := range tests {
		if got := responseSeparator(tt.prefix, tt.response); got != tt.want {
			t.Errorf("responseSeparator(%q, %q) = %q, want %q", tt.prefix, tt.response, got, tt.want)
		}
	}
}

func TestRunXML_NonJSONParameters(t *testing.T) {
	var got map[string]any
	tool := stubTool{name: "lookup", fn: func(_ context.Context, args map[string]any) (any, error) {
		got = args
		return "found", nil
	}}
	p := &scriptedProvider{streams: []streamScript{
		textStream(FinishStop, `<Action><ToolCalls><ToolCall><Name>lookup</Name><Parameters>not json</Parameters></ToolCall></ToolCalls></Action>`),
		textStream(FinishStop, `<Action><Response>ok</Response></Action>`),
	}}
	a := New("t", p, WithMode(ModeXML), WithTools(tool))

	if _, _, err := runStream(context.Background(), a, userTask("q")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["raw_params"] != "not json" {
		t.Errorf("args = %v", got)
	}
}

func TestRunXML_ExecuteDiscardsEvents(t *testing.T) {
	p := &scriptedProvider{streams: []streamScript{
		textStream(FinishStop, "<Action><Response>quiet</Response></Action>"),
	}}
	a := New("t", p, WithMode(ModeXML))
	res, err := a.Execute(context.Background(), userTask("q"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Answer != "quiet" {
		t.Errorf("answer = %q", res.Answer)
	}
}

func TestTagSplitter_PartialTags(t *testing.T) {
	var s tagSplitter
	var segs []segment
	for _, piece := range []string{"ab<Tho", "ught>th", "</Tho", "ught>cd<Act", "ion>hidden</Action>"} {
		segs = append(segs, s.Write(piece)...)
	}
	segs = append(segs, s.Flush()...)

	want := []segment{
		{segText, "ab"},
		{segThought, "th"},
		{segText, "cd"},
		{segStructural, "hidden"},
	}
	if len(segs) != len(want) {
		t.Fatalf("segments = %+v, want %+v", segs, want)
	}
	for i := range want {
		if segs[i] != want[i] {
			t.Errorf("segment %d = %+v, want %+v", i, segs[i], want[i])
		}
	}
}

func TestTagSplitter_FlushReleasesHeldText(t *testing.T) {
	var s tagSplitter
	out := s.Write("price <Th")
	if len(out) != 1 || out[0].text != "price " {
		t.Errorf("write = %+v", out)
	}
	rest := s.Flush()
	if len(rest) != 1 || rest[0].text != "<Th" || rest[0].kind != segText {
		t.Errorf("flush = %+v", rest)
	}
}

func TestTagSplitter_ThinkTag(t *testing.T) {
	var s tagSplitter
	segs := append(s.Write("<think>r</think>x"), s.Flush()...)
	if len(segs) != 2 || segs[0] != (segment{segThought, "r"}) || segs[1] != (segment{segText, "x"}) {
		t.Errorf("segments = %+v", segs)
	}
}

func TestParseActions(t *testing.T) {
	text := `<Action><ToolCalls>
<ToolCall><Name> a </Name><Parameters>{"x":1}</Parameters></ToolCall>
<ToolCall><Name>b</Name></ToolCall>
</ToolCalls></Action><Action><Response> final </Response></Action>`

	acts := parseActions(text)
	if len(acts) != 2 {
		t.Fatalf("got %d actions, want 2", len(acts))
	}
	calls := acts[0].ToolCalls
	if len(calls) != 2 || calls[0].Name != "a" || calls[0].Arguments != `{"x":1}` || calls[1].Arguments != "{}" {
		t.Errorf("calls = %+v", calls)
	}
	if calls[0].ID == calls[1].ID || !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("ids = %q, %q", calls[0].ID, calls[1].ID)
	}
	if !acts[1].HasResponse || acts[1].Response != "final" {
		t.Errorf("response = %+v", acts[1])
	}
	if resp, ok := findResponse(acts, text); !ok || resp != "final" {
		t.Errorf("findResponse = %q, %v", resp, ok)
	}
}
