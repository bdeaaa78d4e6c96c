package ragcore

import (
	"regexp"
	"strconv"
	"strings"
)

// Citation announces that the answer cites a collected search result.
// RawIndex is the number the model wrote, NewIndex the number shown to the
// reader, AggIndex the result's global index in the collector.
type Citation struct {
	ID          string        `json:"id"`
	RawIndex    int           `json:"raw_index"`
	NewIndex    int           `json:"new_index"`
	AggIndex    int           `json:"agg_index"`
	SourceType  ResultType    `json:"source_type"`
	SourceTitle string        `json:"source_title,omitempty"`
	Source      *SearchResult `json:"source,omitempty"`
}

var (
	// markerRe matches a bracketed integer. The "not followed by a digit"
	// condition is checked by hand since RE2 has no lookahead.
	markerRe = regexp.MustCompile(`\[(\d+)\]`)
	// partialMarkerRe matches a buffer suffix that may still grow into a
	// marker or change meaning once the next byte arrives.
	partialMarkerRe = regexp.MustCompile(`\[\d*\]?$`)
)

// marker is one citation marker located in a text.
type marker struct {
	start, end int // byte offsets of "[" and one past "]"
	ref        int
}

// findMarkers returns all markers in s in textual order. A bracketed integer
// followed directly by a digit is not a marker.
func findMarkers(s string) []marker {
	locs := markerRe.FindAllStringSubmatchIndex(s, -1)
	out := make([]marker, 0, len(locs))
	for _, loc := range locs {
		if loc[1] < len(s) && isDigit(s[loc[1]]) {
			continue
		}
		n, err := strconv.Atoi(s[loc[2]:loc[3]])
		if err != nil {
			continue
		}
		out = append(out, marker{start: loc[0], end: loc[1], ref: n})
	}
	return out
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// CitationTracker relabels citation markers in streamed model output. It
// assigns reader-facing numbers in order of first appearance, announces each
// cited result at most once per run, and rewrites text in place.
//
// A tracker belongs to exactly one run and is not safe for concurrent use.
type CitationTracker struct {
	collector *ResultCollector
	mapping   map[int]int
	announced map[int]bool

	// streaming state for the current turn
	raw       strings.Builder
	committed int
}

func NewCitationTracker(c *ResultCollector) *CitationTracker {
	return &CitationTracker{
		collector: c,
		mapping:   make(map[int]int),
		announced: make(map[int]bool),
	}
}

// GetOrAssignNewRef returns the reader-facing number for oldRef, assigning
// the next free number the first time oldRef is seen.
func (t *CitationTracker) GetOrAssignNewRef(oldRef int) int {
	if n, ok := t.mapping[oldRef]; ok {
		return n
	}
	n := len(t.mapping) + 1
	t.mapping[oldRef] = n
	return n
}

// NewRef returns the current mapping for oldRef without assigning one.
func (t *CitationTracker) NewRef(oldRef int) (int, bool) {
	n, ok := t.mapping[oldRef]
	return n, ok
}

// RewriteWithNewRefs replaces every mapped marker in text with its new
// number. Markers without a mapping are left as written.
func (t *CitationTracker) RewriteWithNewRefs(text string) string {
	ms := findMarkers(text)
	if len(ms) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, m := range ms {
		n, ok := t.mapping[m.ref]
		if !ok {
			continue
		}
		sb.WriteString(text[last:m.start])
		sb.WriteByte('[')
		sb.WriteString(strconv.Itoa(n))
		sb.WriteByte(']')
		last = m.end
	}
	sb.WriteString(text[last:])
	return sb.String()
}

// Scan announces every marker in text whose raw number has not been
// announced yet. A reference that resolves to a collected result is mapped
// and returned as a Citation; an out-of-range reference is marked announced
// and produces nothing.
func (t *CitationTracker) Scan(text string) []Citation {
	var out []Citation
	for _, m := range findMarkers(text) {
		if t.announced[m.ref] {
			continue
		}
		t.announced[m.ref] = true
		res, ok := t.collector.Resolve(m.ref)
		if !ok {
			continue
		}
		out = append(out, t.citation(m.ref, res))
	}
	return out
}

func (t *CitationTracker) citation(oldRef int, res SearchResult) Citation {
	return Citation{
		ID:          "cit_" + strconv.Itoa(oldRef),
		RawIndex:    oldRef,
		NewIndex:    t.GetOrAssignNewRef(oldRef),
		AggIndex:    res.Index,
		SourceType:  res.Type,
		SourceTitle: res.Title(),
	}
}

// Feed appends a streamed fragment to the current turn and returns the
// rewritten text that is now safe to emit together with any new citations.
//
// The tracker keeps an explicit committed offset into the cumulative raw
// text. A trailing fragment that could still be, or extend, a marker is held
// back until the next fragment or Flush decides it, so every byte is scanned
// and rewritten exactly once regardless of how the text was chunked.
func (t *CitationTracker) Feed(fragment string) (string, []Citation) {
	t.raw.WriteString(fragment)
	raw := t.raw.String()
	end := len(raw)
	if loc := partialMarkerRe.FindStringIndex(raw[t.committed:]); loc != nil {
		end = t.committed + loc[0]
	}
	return t.commit(raw, end)
}

// Flush emits whatever the current turn still holds back and resets the
// turn buffer. The mapping and announced set are kept for the rest of the run.
func (t *CitationTracker) Flush() (string, []Citation) {
	raw := t.raw.String()
	out, cites := t.commit(raw, len(raw))
	t.raw.Reset()
	t.committed = 0
	return out, cites
}

func (t *CitationTracker) commit(raw string, end int) (string, []Citation) {
	if end <= t.committed {
		return "", nil
	}
	seg := raw[t.committed:end]
	t.committed = end
	cites := t.Scan(seg)
	return t.RewriteWithNewRefs(seg), cites
}

// Pending returns the raw text of the current turn, including any held-back
// suffix.
func (t *CitationTracker) Pending() string {
	return t.raw.String()
}

// FinalizeAllCitations maps every marker in text that has no mapping yet,
// in textual order, and returns the fully rewritten text. Calling it again
// on the same input returns the same output.
func (t *CitationTracker) FinalizeAllCitations(text string) string {
	for _, m := range findMarkers(text) {
		t.GetOrAssignNewRef(m.ref)
	}
	return t.RewriteWithNewRefs(text)
}

// ExtractCitations lists the distinct citations of a raw (not yet rewritten)
// answer in order of first appearance, resolved against the collector.
// Markers that do not resolve to a collected result are skipped.
func (t *CitationTracker) ExtractCitations(rawText string) []Citation {
	seen := make(map[int]bool)
	var out []Citation
	for _, m := range findMarkers(rawText) {
		if seen[m.ref] {
			continue
		}
		seen[m.ref] = true
		res, ok := t.collector.Resolve(m.ref)
		if !ok {
			continue
		}
		c := t.citation(m.ref, res)
		src := res
		c.Source = &src
		out = append(out, c)
	}
	return out
}
