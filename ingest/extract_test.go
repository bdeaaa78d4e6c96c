package ingest

import (
	"errors"
	"strings"
	"testing"
)

func TestContentTypeFromPath(t *testing.T) {
	tests := []struct {
		path string
		want ContentType
	}{
		{"notes.md", TypeMarkdown},
		{"README.MARKDOWN", TypeMarkdown},
		{"/srv/page.html", TypeHTML},
		{"index.htm", TypeHTML},
		{"paper.pdf", TypePDF},
		{"data.txt", TypePlainText},
		{"noext", TypePlainText},
	}
	for _, tt := range tests {
		if got := ContentTypeFromPath(tt.path); got != tt.want {
			t.Errorf("ContentTypeFromPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestContentTypeFromMIME(t *testing.T) {
	tests := []struct {
		header string
		want   ContentType
	}{
		{"text/html; charset=utf-8", TypeHTML},
		{"application/pdf", TypePDF},
		{"text/markdown", TypeMarkdown},
		{"text/plain", TypePlainText},
		{"image/png", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := ContentTypeFromMIME(tt.header); got != tt.want {
			t.Errorf("ContentTypeFromMIME(%q) = %q, want %q", tt.header, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"fullwidth", "ｆｕｌｌｗｉｄｔｈ", "fullwidth"},
		{"ligature", "ﬁle", "file"},
		{"zero width", "pass\u200bword", "password"},
		{"spaces", "a  \t b\u00a0\u00a0c", "a b c"},
		{"blank lines", "a\n\n\n\n b \r\nc", "a\n\nb\nc"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("%s: Normalize(%q) = %q, want %q", tt.name, tt.in, got, tt.want)
		}
	}
}

func TestExtractMarkdown(t *testing.T) {
	md := "# Go Handbook\n\nSome **bold** text and `code`.\n\n- item one\n- item two\n\n```go\nfmt.Println(1)\n```\n"
	ex, err := Extract(TypeMarkdown, []byte(md), "handbook.md")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Title != "Go Handbook" {
		t.Errorf("Title = %q", ex.Title)
	}
	for _, want := range []string{"Some bold text and code.", "item one", "item two", "fmt.Println(1)"} {
		if !strings.Contains(ex.Text, want) {
			t.Errorf("text missing %q:\n%s", want, ex.Text)
		}
	}
	for _, bad := range []string{"**", "`", "# "} {
		if strings.Contains(ex.Text, bad) {
			t.Errorf("text still contains markup %q:\n%s", bad, ex.Text)
		}
	}
}

func TestExtractHTML(t *testing.T) {
	page := `<html><head><title>Page</title></head><body>
		<article><h1>Heading</h1>
		<p>Hello world paragraph with enough words to count as readable content for the extractor.</p>
		<script>var x = 1;</script></article></body></html>`
	ex, err := Extract(TypeHTML, []byte(page), "https://example.com/a")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(ex.Text, "Hello world paragraph") {
		t.Errorf("text = %q", ex.Text)
	}
	if strings.Contains(ex.Text, "var x") {
		t.Errorf("script leaked into text: %q", ex.Text)
	}
}

func TestStripHTML(t *testing.T) {
	page := `<html><head><title>T</title><style>x{}</style></head>` +
		`<body><p>A &amp; B</p><script>bad()</script><div>C</div><br/>D</body></html>`
	ex := stripHTML([]byte(page))
	if ex.Title != "T" {
		t.Errorf("Title = %q", ex.Title)
	}
	got := Normalize(ex.Text)
	if got != "A & B\n\nC\n\nD" {
		t.Errorf("text = %q", got)
	}
}

func TestExtractPlainTextEmpty(t *testing.T) {
	_, err := Extract(TypePlainText, []byte("  \n\t "), "x.txt")
	if !errors.Is(err, ErrEmpty) {
		t.Errorf("err = %v, want ErrEmpty", err)
	}
}

func TestExtractPDFInvalid(t *testing.T) {
	if _, err := Extract(TypePDF, []byte("not a pdf"), "x.pdf"); err == nil {
		t.Error("expected error for invalid PDF")
	}
	if _, err := Extract(TypePDF, nil, "x.pdf"); !errors.Is(err, ErrEmpty) {
		t.Errorf("empty pdf err = %v, want ErrEmpty", err)
	}
}
