package ragcore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	actionRe     = regexp.MustCompile(`(?s)<Action>(.*?)</Action>`)
	toolCallRe   = regexp.MustCompile(`(?s)<ToolCall>(.*?)</ToolCall>`)
	nameRe       = regexp.MustCompile(`(?s)<Name>\s*(.*?)\s*</Name>`)
	parametersRe = regexp.MustCompile(`(?s)<Parameters>\s*(.*?)\s*</Parameters>`)
	responseRe   = regexp.MustCompile(`(?s)<Response>(.*?)</Response>`)
)

// xmlAction is one parsed <Action> block.
type xmlAction struct {
	ToolCalls   []ToolCall
	Response    string
	HasResponse bool
}

// parseActions extracts every <Action> block of a model turn. Tool calls get
// fresh ids; parameters that are not a JSON object are kept verbatim under
// a "raw_params" key.
func parseActions(text string) []xmlAction {
	var out []xmlAction
	for _, m := range actionRe.FindAllStringSubmatch(text, -1) {
		body := m[1]
		var act xmlAction
		for _, tc := range toolCallRe.FindAllStringSubmatch(body, -1) {
			name := ""
			if nm := nameRe.FindStringSubmatch(tc[1]); nm != nil {
				name = strings.TrimSpace(nm[1])
			}
			params := ""
			if pm := parametersRe.FindStringSubmatch(tc[1]); pm != nil {
				params = pm[1]
			}
			act.ToolCalls = append(act.ToolCalls, ToolCall{
				ID:        newCallID(),
				Name:      name,
				Arguments: normalizeParams(params),
			})
		}
		if rm := responseRe.FindStringSubmatch(body); rm != nil {
			act.Response = strings.TrimSpace(rm[1])
			act.HasResponse = true
		}
		out = append(out, act)
	}
	return out
}

// parseBareResponse finds a <Response> outside any <Action> block.
func parseBareResponse(text string) (string, bool) {
	m := responseRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

func normalizeParams(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "{}"
	}
	var obj map[string]any
	if json.Unmarshal([]byte(raw), &obj) == nil {
		return raw
	}
	b, _ := json.Marshal(map[string]string{"raw_params": raw})
	return string(b)
}

// toolResultFragment renders an executed call so later turns can read it.
func toolResultFragment(tc ToolCall, result string) string {
	return fmt.Sprintf("<Action><ToolCalls><ToolCall><Name>%s</Name><Parameters>%s</Parameters><Result>%s</Result></ToolCall></ToolCalls></Action>",
		tc.Name, tc.Arguments, result)
}

// xmlInstructions describes the tag protocol and the available tools. It is
// appended to the system prompt of agents running in ModeXML.
func xmlInstructions(defs []ToolDefinition) string {
	var sb strings.Builder
	sb.WriteString(`You reason step by step using XML tags.
Wrap private reasoning in <Thought>...</Thought>.
To call tools, emit:
<Action><ToolCalls><ToolCall><Name>tool_name</Name><Parameters>{"arg": "value"}</Parameters></ToolCall></ToolCalls></Action>
Tool results are returned inside <Result> tags in the next turn.
When you can answer, emit <Action><Response>your answer</Response></Action>.
Cite sources with their bracketed number, e.g. [1].`)
	if len(defs) == 0 {
		return sb.String()
	}
	sb.WriteString("\n\nAvailable tools:")
	for _, d := range defs {
		params := string(d.Parameters)
		if params == "" {
			params = "{}"
		}
		fmt.Fprintf(&sb, "\n- %s: %s\n  parameters: %s", d.Name, d.Description, params)
	}
	return sb.String()
}

// segKind classifies a piece of streamed XML-protocol text.
type segKind int

const (
	segText       segKind = iota // user-facing text
	segThought                   // <Thought> or <think> content
	segStructural                // <Action> or bare <Response> content
)

type segment struct {
	kind segKind
	text string
}

type tagPair struct {
	open, close string
	kind        segKind
}

var xmlTags = []tagPair{
	{"<Thought>", "</Thought>", segThought},
	{"<think>", "</think>", segThought},
	{"<Action>", "</Action>", segStructural},
	{"<Response>", "</Response>", segStructural},
}

// tagSplitter splits streamed text into segments by the tags above. A tag
// may arrive split across fragments; any suffix that could still complete a
// tag is held until the next Write or Flush. Segments never include tags.
type tagSplitter struct {
	pending string
	open    *tagPair
}

func (s *tagSplitter) Write(fragment string) []segment {
	s.pending += fragment
	var out []segment
	emit := func(kind segKind, text string) {
		if text != "" {
			out = append(out, segment{kind: kind, text: text})
		}
	}
	for {
		if s.open == nil {
			idx, tp := -1, (*tagPair)(nil)
			for i := range xmlTags {
				if j := strings.Index(s.pending, xmlTags[i].open); j >= 0 && (idx < 0 || j < idx) {
					idx, tp = j, &xmlTags[i]
				}
			}
			if idx >= 0 {
				emit(segText, s.pending[:idx])
				s.pending = s.pending[idx+len(tp.open):]
				s.open = tp
				continue
			}
			keep := partialTagSuffix(s.pending, openTags())
			emit(segText, s.pending[:len(s.pending)-keep])
			s.pending = s.pending[len(s.pending)-keep:]
			return out
		}

		if j := strings.Index(s.pending, s.open.close); j >= 0 {
			emit(s.open.kind, s.pending[:j])
			s.pending = s.pending[j+len(s.open.close):]
			s.open = nil
			continue
		}
		keep := partialTagSuffix(s.pending, []string{s.open.close})
		emit(s.open.kind, s.pending[:len(s.pending)-keep])
		s.pending = s.pending[len(s.pending)-keep:]
		return out
	}
}

// Flush releases held text as the current segment kind and resets state.
func (s *tagSplitter) Flush() []segment {
	var out []segment
	if s.pending != "" {
		kind := segText
		if s.open != nil {
			kind = s.open.kind
		}
		out = append(out, segment{kind: kind, text: s.pending})
	}
	s.pending = ""
	s.open = nil
	return out
}

func openTags() []string {
	out := make([]string, len(xmlTags))
	for i, t := range xmlTags {
		out[i] = t.open
	}
	return out
}

// partialTagSuffix returns the length of the longest suffix of s that is a
// proper prefix of one of tags.
func partialTagSuffix(s string, tags []string) int {
	maxLen := 0
	for _, t := range tags {
		maxLen = max(maxLen, len(t))
	}
	for i := max(0, len(s)-maxLen+1); i < len(s); i++ {
		if s[i] != '<' {
			continue
		}
		for _, t := range tags {
			if strings.HasPrefix(t, s[i:]) {
				return len(s) - i
			}
		}
	}
	return 0
}
