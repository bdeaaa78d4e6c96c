// Package ingest turns files and web pages into knowledge-base documents:
// extract plain text, normalize it, split it into chunks, and store both.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// ContentType identifies the format of raw content.
type ContentType string

const (
	TypePlainText ContentType = "text/plain"
	TypeHTML      ContentType = "text/html"
	TypeMarkdown  ContentType = "text/markdown"
	TypePDF       ContentType = "application/pdf"
)

// ContentTypeFromPath maps a file name or URL path to a content type by
// extension. Unknown extensions are treated as plain text.
func ContentTypeFromPath(path string) ContentType {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "md", "markdown":
		return TypeMarkdown
	case "html", "htm":
		return TypeHTML
	case "pdf":
		return TypePDF
	default:
		return TypePlainText
	}
}

// ContentTypeFromMIME maps a Content-Type header to a content type.
// Returns "" when the media type is not one ingest understands.
func ContentTypeFromMIME(header string) ContentType {
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	switch mt {
	case "text/html", "application/xhtml+xml":
		return TypeHTML
	case "text/markdown", "text/x-markdown":
		return TypeMarkdown
	case "application/pdf":
		return TypePDF
	case "text/plain":
		return TypePlainText
	}
	return ""
}

// Extracted is the plain-text rendition of a document.
type Extracted struct {
	Title string
	Text  string
}

// ErrEmpty is returned when extraction yields no text.
var ErrEmpty = errors.New("ingest: no text extracted")

// Extract converts content of type ct to normalized plain text. source is
// used to resolve relative links in HTML and may be empty.
func Extract(ct ContentType, content []byte, source string) (Extracted, error) {
	var (
		out Extracted
		err error
	)
	switch ct {
	case TypeHTML:
		out = extractHTML(content, source)
	case TypeMarkdown:
		out = extractMarkdown(content)
	case TypePDF:
		out.Text, err = extractPDF(content)
	default:
		out.Text = string(content)
	}
	if err != nil {
		return Extracted{}, err
	}
	out.Text = Normalize(out.Text)
	out.Title = strings.TrimSpace(out.Title)
	if out.Text == "" {
		return Extracted{}, ErrEmpty
	}
	return out, nil
}

var (
	spaceRun  = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRun  = regexp.MustCompile(`\n{3,}`)
	zeroWidth = strings.NewReplacer("\u200b", "", "\u200c", "", "\u200d", "", "\ufeff", "")
)

// Normalize applies NFKC normalization, strips zero-width characters, and
// collapses runs of spaces and blank lines.
func Normalize(s string) string {
	s = zeroWidth.Replace(s)
	s = norm.NFKC.String(s)
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRun.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = blankRun.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func extractHTML(content []byte, source string) Extracted {
	var pageURL *url.URL
	if source != "" {
		pageURL, _ = url.Parse(source)
	}
	article, err := readability.FromReader(bytes.NewReader(content), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		return Extracted{Title: article.Title, Text: article.TextContent}
	}
	return stripHTML(content)
}

// stripHTML is the fallback for pages readability cannot parse. It keeps
// text nodes, drops script and style, and breaks lines at block elements.
func stripHTML(content []byte) Extracted {
	var out Extracted
	var b strings.Builder
	z := html.NewTokenizer(bytes.NewReader(content))
	skip := 0
	inTitle := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			out.Text = b.String()
			return out
		case html.StartTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "noscript":
				skip++
			case tag == "title":
				inTitle = true
			case blockTags[tag]:
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case tag == "script" || tag == "style" || tag == "noscript":
				if skip > 0 {
					skip--
				}
			case tag == "title":
				inTitle = false
			case blockTags[tag]:
				b.WriteByte('\n')
			}
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			if blockTags[string(name)] {
				b.WriteByte('\n')
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			t := string(z.Text())
			if inTitle {
				out.Title += t
				continue
			}
			b.WriteString(t)
		}
	}
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"table": true, "tr": true, "blockquote": true, "pre": true,
	"section": true, "article": true, "header": true, "footer": true, "main": true,
}

// extractMarkdown walks the goldmark AST and keeps the text of every
// block, so formatting markers never reach the model. The first level-one
// heading becomes the title.
func extractMarkdown(content []byte) Extracted {
	var out Extracted
	var b strings.Builder
	doc := goldmark.New().Parser().Parse(text.NewReader(content))
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument {
				b.WriteString("\n\n")
			}
			return ast.WalkContinue, nil
		}
		switch v := n.(type) {
		case *ast.Heading:
			if v.Level == 1 && out.Title == "" {
				out.Title = string(nodeText(v, content))
			}
		case *ast.Text:
			b.Write(v.Segment.Value(content))
			if v.SoftLineBreak() {
				b.WriteByte(' ')
			}
			if v.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(v.Value)
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				b.Write(seg.Value(content))
			}
		case *ast.AutoLink:
			b.Write(v.URL(content))
		}
		return ast.WalkContinue, nil
	})
	out.Text = b.String()
	return out
}

func nodeText(n ast.Node, src []byte) []byte {
	var b bytes.Buffer
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch v := c.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(src))
		case *ast.String:
			b.Write(v.Value)
		default:
			b.Write(nodeText(c, src))
		}
	}
	return b.Bytes()
}

func extractPDF(content []byte) (string, error) {
	if len(content) == 0 {
		return "", ErrEmpty
	}
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		t, err := page.GetPlainText(nil)
		if err != nil {
			continue // unreadable pages are skipped
		}
		if t = strings.TrimSpace(t); t == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(t)
	}
	return b.String(), nil
}
