package ingest

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Chunker splits text into passages for keyword indexing.
type Chunker interface {
	Chunk(text string) []string
}

// ChunkerOption configures a RecursiveChunker.
type ChunkerOption func(*RecursiveChunker)

// WithMaxChars sets the maximum size of a chunk in bytes. Default 2000.
func WithMaxChars(n int) ChunkerOption {
	return func(c *RecursiveChunker) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithOverlapChars sets how much trailing text of a chunk is repeated at
// the start of the next one. Default 200.
func WithOverlapChars(n int) ChunkerOption {
	return func(c *RecursiveChunker) {
		if n >= 0 {
			c.overlapChars = n
		}
	}
}

// RecursiveChunker splits on paragraphs, then sentences, then words, so a
// chunk boundary falls on the largest natural break that keeps the chunk
// under the size limit.
type RecursiveChunker struct {
	maxChars     int
	overlapChars int
}

// NewRecursiveChunker creates a RecursiveChunker.
func NewRecursiveChunker(opts ...ChunkerOption) *RecursiveChunker {
	c := &RecursiveChunker{maxChars: 2000, overlapChars: 200}
	for _, o := range opts {
		o(c)
	}
	if c.overlapChars >= c.maxChars {
		c.overlapChars = c.maxChars / 4
	}
	return c
}

// Chunk splits text into chunks of at most maxChars bytes (plus overlap).
func (c *RecursiveChunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.maxChars {
		return []string{text}
	}
	return c.merge(c.split(text, 0))
}

type splitLevel func(string) []string

var levels = []splitLevel{
	func(s string) []string { return strings.Split(s, "\n\n") },
	splitSentences,
	strings.Fields,
}

// split breaks text into segments no larger than maxChars, descending a
// level only for segments that are still too large.
func (c *RecursiveChunker) split(text string, level int) []string {
	if len(text) <= c.maxChars {
		return []string{text}
	}
	if level >= len(levels) {
		return hardSplit(text, c.maxChars)
	}
	var out []string
	for _, part := range levels[level](text) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, c.split(part, level+1)...)
	}
	return out
}

// merge packs consecutive segments into chunks and prefixes every chunk
// after the first with the tail of its predecessor.
func (c *RecursiveChunker) merge(segments []string) []string {
	var chunks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
	}
	for _, seg := range segments {
		if cur.Len() > 0 && cur.Len()+1+len(seg) > c.maxChars {
			prev := cur.String()
			flush()
			cur.WriteString(overlapTail(prev, c.overlapChars))
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(seg)
	}
	flush()
	return chunks
}

// overlapTail returns at most n trailing bytes of s, starting at a word
// boundary.
func overlapTail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return ""
	}
	tail := s[len(s)-n:]
	if i := strings.IndexFunc(tail, unicode.IsSpace); i >= 0 {
		return strings.TrimSpace(tail[i:])
	}
	return ""
}

// splitSentences splits after '.', '!', '?' and their CJK forms when
// followed by whitespace or end of text. Decimal points are not sentence
// ends because they are followed by a digit.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i, r := range s {
		switch r {
		case '.', '!', '?', '。', '！', '？':
		default:
			continue
		}
		end := i + utf8.RuneLen(r)
		if end < len(s) {
			next, _ := utf8.DecodeRuneInString(s[end:])
			if !unicode.IsSpace(next) && r < utf8.RuneSelf {
				continue
			}
		}
		out = append(out, s[start:end])
		start = end
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

// hardSplit cuts s into pieces of at most n bytes without splitting runes.
func hardSplit(s string, n int) []string {
	var out []string
	for len(s) > n {
		cut := n
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = n
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
