package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/fumiama/go-docx"
	pdf "github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// DocumentPayload is a source file read into memory.
type DocumentPayload struct {
	Path   string
	Format DocumentFormat
	Data   []byte
}

// DocumentParser extracts the raw text of a payload.
type DocumentParser interface {
	Parse(ctx context.Context, payload DocumentPayload) (string, error)
}

// ReadPayload reads path and detects its format.
func ReadPayload(path string) (DocumentPayload, error) {
	format := DetectFormat(path)
	if format == FormatUnknown {
		return DocumentPayload{}, fmt.Errorf("unsupported source format: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DocumentPayload{}, fmt.Errorf("read source file: %w", err)
	}
	return DocumentPayload{Path: path, Format: format, Data: data}, nil
}

// ParserFor returns the parser for a format.
func ParserFor(format DocumentFormat) (DocumentParser, error) {
	switch format {
	case FormatPDF:
		return pdfParser{}, nil
	case FormatText:
		return textParser{}, nil
	case FormatDOCX:
		return docxParser{}, nil
	case FormatHTML:
		return htmlParser{}, nil
	default:
		return nil, fmt.Errorf("no parser for format %q", format)
	}
}

type textParser struct{}

func (textParser) Parse(_ context.Context, payload DocumentPayload) (string, error) {
	if !utf8.Valid(payload.Data) {
		return "", fmt.Errorf("%s is not valid UTF-8", payload.Path)
	}
	return normalizePlainText(string(payload.Data)), nil
}

type pdfParser struct{}

// Parse extracts page text in page order, one line break between pages.
func (pdfParser) Parse(ctx context.Context, payload DocumentPayload) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	pages := make([]string, 0, reader.NumPage())
	for i := 1; i <= reader.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract text of page %d: %w", i, err)
		}
		if strings.TrimSpace(text) != "" {
			pages = append(pages, text)
		}
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("pdf %s has no extractable text", payload.Path)
	}
	return normalizePlainText(strings.Join(pages, "\n")), nil
}

type docxParser struct{}

// Parse writes one line per body paragraph. Tables and drawings carry no
// statute text and are skipped.
func (docxParser) Parse(_ context.Context, payload DocumentPayload) (string, error) {
	doc, err := docx.Parse(bytes.NewReader(payload.Data), int64(len(payload.Data)))
	if err != nil {
		return "", fmt.Errorf("parse docx: %w", err)
	}

	var lines []string
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		if text := docxParagraphText(para); text != "" {
			lines = append(lines, text)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("docx %s has no text", payload.Path)
	}
	return strings.Join(lines, "\n"), nil
}

func docxParagraphText(para *docx.Paragraph) string {
	var buf strings.Builder
	for _, child := range para.Children {
		run, ok := child.(*docx.Run)
		if !ok {
			continue
		}
		for _, rc := range run.Children {
			if t, ok := rc.(*docx.Text); ok {
				buf.WriteString(t.Text)
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

var (
	htmlSkipped = map[string]bool{"head": true, "script": true, "style": true, "noscript": true, "nav": true}
	htmlBlocks  = map[string]bool{
		"p": true, "div": true, "br": true, "li": true, "tr": true, "table": true,
		"blockquote": true, "pre": true, "section": true, "article": true,
		"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	}
)

type htmlParser struct{}

// Parse keeps the visible body text with a line break at every block
// element boundary.
func (htmlParser) Parse(_ context.Context, payload DocumentPayload) (string, error) {
	if !utf8.Valid(payload.Data) {
		return "", fmt.Errorf("%s is not valid UTF-8", payload.Path)
	}
	doc, err := html.Parse(bytes.NewReader(payload.Data))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if htmlSkipped[n.Data] {
				return
			}
			if htmlBlocks[n.Data] {
				sb.WriteByte('\n')
				defer sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var lines []string
	for _, line := range strings.Split(normalizePlainText(sb.String()), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", fmt.Errorf("html %s has no text", payload.Path)
	}
	return strings.Join(lines, "\n"), nil
}

func normalizePlainText(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.Join(lines, "\n")
}
