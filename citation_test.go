package ragcore

import (
	"strings"
	"testing"
)

func collectorWith(n int) *ResultCollector {
	c := NewResultCollector()
	var agg AggregateSearchResult
	for i := 1; i <= n; i++ {
		agg.Chunks = append(agg.Chunks, ChunkSearchResult{
			ID:    "c" + string(rune('0'+i)),
			Title: "doc " + string(rune('0'+i)),
			Text:  "text",
		})
	}
	c.AddAggregate(agg)
	return c
}

func TestCitationTracker_GetOrAssignNewRef(t *testing.T) {
	tr := NewCitationTracker(collectorWith(3))
	if got := tr.GetOrAssignNewRef(3); got != 1 {
		t.Errorf("first ref = %d, want 1", got)
	}
	if got := tr.GetOrAssignNewRef(1); got != 2 {
		t.Errorf("second ref = %d, want 2", got)
	}
	if got := tr.GetOrAssignNewRef(3); got != 1 {
		t.Errorf("repeat ref = %d, want 1", got)
	}
	if _, ok := tr.NewRef(2); ok {
		t.Error("NewRef(2) should not be assigned")
	}
}

func TestCitationTracker_RewriteWithNewRefs(t *testing.T) {
	tr := NewCitationTracker(collectorWith(3))
	tr.GetOrAssignNewRef(2)
	tr.GetOrAssignNewRef(1)

	tests := []struct {
		in, want string
	}{
		{"see [2] and [1]", "see [1] and [2]"},
		{"unmapped [3] stays", "unmapped [3] stays"},
		{"[2][2][1]", "[1][1][2]"},
		{"no markers", "no markers"},
		{"[12] is not [1]", "[12] is not [2]"},
		{"array[1]0 is not a marker", "array[1]0 is not a marker"},
	}
	for _, tt := range tests {
		if got := tr.RewriteWithNewRefs(tt.in); got != tt.want {
			t.Errorf("RewriteWithNewRefs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCitationTracker_RewriteIsSinglePass(t *testing.T) {
	// 1 -> 2 and 2 -> 1: a chained replace would map [1] back to [1].
	tr := NewCitationTracker(collectorWith(2))
	tr.GetOrAssignNewRef(2)
	tr.GetOrAssignNewRef(1)
	if got := tr.RewriteWithNewRefs("[1] [2]"); got != "[2] [1]" {
		t.Errorf("got %q, want %q", got, "[2] [1]")
	}
}

// feedAll streams text through a fresh tracker in the given pieces and
// returns the emitted text and citations.
func feedAll(c *ResultCollector, pieces []string) (string, []Citation, *CitationTracker) {
	tr := NewCitationTracker(c)
	var sb strings.Builder
	var cites []Citation
	for _, p := range pieces {
		s, cs := tr.Feed(p)
		sb.WriteString(s)
		cites = append(cites, cs...)
	}
	s, cs := tr.Flush()
	sb.WriteString(s)
	cites = append(cites, cs...)
	return sb.String(), cites, tr
}

func TestCitationTracker_StreamingRelabel(t *testing.T) {
	c := collectorWith(2)
	text, cites, _ := feedAll(c, []string{"see [", "2] and [1", "]"})

	if text != "see [1] and [2]" {
		t.Errorf("text = %q, want %q", text, "see [1] and [2]")
	}
	if len(cites) != 2 {
		t.Fatalf("got %d citations, want 2", len(cites))
	}
	if cites[0].RawIndex != 2 || cites[0].NewIndex != 1 {
		t.Errorf("cites[0] = %d->%d, want 2->1", cites[0].RawIndex, cites[0].NewIndex)
	}
	if cites[1].RawIndex != 1 || cites[1].NewIndex != 2 {
		t.Errorf("cites[1] = %d->%d, want 1->2", cites[1].RawIndex, cites[1].NewIndex)
	}
	if cites[0].ID != "cit_2" {
		t.Errorf("ID = %q, want cit_2", cites[0].ID)
	}
	if cites[0].SourceTitle != "doc 2" || cites[0].SourceType != ResultChunk {
		t.Errorf("source = %q/%q", cites[0].SourceTitle, cites[0].SourceType)
	}
}

func TestCitationTracker_ChunkingInvariance(t *testing.T) {
	const raw = "Per [3], the answer [1] holds; also [3] and [12] and x[2]9 [2]."
	c := collectorWith(3)
	whole, wholeCites, _ := feedAll(c, []string{raw})

	splits := [][]string{
		strings.Split(raw, ""),
		{raw[:5], raw[5:21], raw[21:]},
		{raw[:4], raw[4:]},
		{raw[:len(raw)-2], raw[len(raw)-2:]},
	}
	for i, pieces := range splits {
		got, cites, _ := feedAll(c, pieces)
		if got != whole {
			t.Errorf("split %d: text = %q, want %q", i, got, whole)
		}
		if len(cites) != len(wholeCites) {
			t.Errorf("split %d: %d citations, want %d", i, len(cites), len(wholeCites))
			continue
		}
		for j := range cites {
			if cites[j].RawIndex != wholeCites[j].RawIndex || cites[j].NewIndex != wholeCites[j].NewIndex {
				t.Errorf("split %d cite %d = %+v, want %+v", i, j, cites[j], wholeCites[j])
			}
		}
	}
}

func TestCitationTracker_AnnouncesAtMostOnce(t *testing.T) {
	c := collectorWith(2)
	tr := NewCitationTracker(c)

	_, first := tr.Feed("[1] [1] [2]")
	_, flushed := tr.Flush()
	_, second := tr.Feed("again [2] and [1]")
	_, flushed2 := tr.Flush()

	all := append(append(append(first, flushed...), second...), flushed2...)
	seen := map[int]int{}
	for _, c := range all {
		seen[c.RawIndex]++
	}
	if seen[1] != 1 || seen[2] != 1 {
		t.Errorf("announcements = %v, want each exactly once", seen)
	}
}

func TestCitationTracker_OutOfRange(t *testing.T) {
	c := collectorWith(1)
	text, cites, tr := feedAll(c, []string{"see [5] and [1]"})

	if len(cites) != 1 || cites[0].RawIndex != 1 {
		t.Fatalf("cites = %+v, want only [1]", cites)
	}
	// [5] has no result; it is left as written while streaming.
	if text != "see [5] and [1]" {
		t.Errorf("text = %q", text)
	}

	final := tr.FinalizeAllCitations("see [5] and [1]")
	if final != "see [2] and [1]" {
		t.Errorf("final = %q, want %q", final, "see [2] and [1]")
	}
	extracted := tr.ExtractCitations("see [5] and [1]")
	if len(extracted) != 1 || extracted[0].RawIndex != 1 {
		t.Errorf("extracted = %+v, want only [1]", extracted)
	}
}

func TestCitationTracker_FinalizeIdempotent(t *testing.T) {
	c := collectorWith(3)
	tr := NewCitationTracker(c)
	tr.Feed("first [3]")
	tr.Flush()

	raw := "first [3], then [2], then [3]"
	once := tr.FinalizeAllCitations(raw)
	twice := tr.FinalizeAllCitations(raw)
	if once != twice {
		t.Errorf("finalize not idempotent: %q vs %q", once, twice)
	}
	if once != "first [1], then [2], then [1]" {
		t.Errorf("final = %q", once)
	}
	if got := tr.RewriteWithNewRefs(raw); got != once {
		t.Errorf("rewrite after finalize = %q, want %q", got, once)
	}
}

func TestCitationTracker_ExtractCitations(t *testing.T) {
	c := collectorWith(3)
	tr := NewCitationTracker(c)
	got := tr.ExtractCitations("[3] then [1] then [3]")
	if len(got) != 2 {
		t.Fatalf("got %d citations, want 2", len(got))
	}
	if got[0].RawIndex != 3 || got[0].NewIndex != 1 || got[0].AggIndex != 3 {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[0].Source == nil || got[0].Source.Chunk.Title != "doc 3" {
		t.Errorf("got[0].Source = %+v", got[0].Source)
	}
	if got[1].RawIndex != 1 || got[1].NewIndex != 2 {
		t.Errorf("got[1] = %+v", got[1])
	}
}

func TestCitationTracker_HoldsPartialMarker(t *testing.T) {
	tr := NewCitationTracker(collectorWith(1))
	out, _ := tr.Feed("text [")
	if out != "text " {
		t.Errorf("out = %q, want %q", out, "text ")
	}
	out, _ = tr.Feed("1")
	if out != "" {
		t.Errorf("out = %q, want empty while marker is open", out)
	}
	out, cites := tr.Feed("] done")
	if out != "[1] done" || len(cites) != 1 {
		t.Errorf("out = %q cites = %d", out, len(cites))
	}
	if tr.Pending() != "text [1] done" {
		t.Errorf("pending = %q", tr.Pending())
	}
}

func TestFindMarkers(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"", nil},
		{"[1]", []int{1}},
		{"[1][22] [x] [3", []int{1, 22}},
		{"[4]5 [6]", []int{6}},
	}
	for _, tt := range tests {
		ms := findMarkers(tt.in)
		var got []int
		for _, m := range ms {
			got = append(got, m.ref)
		}
		if len(got) != len(tt.want) {
			t.Errorf("findMarkers(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("findMarkers(%q) = %v, want %v", tt.in, got, tt.want)
				break
			}
		}
	}
}
