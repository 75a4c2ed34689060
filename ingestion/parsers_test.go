package ingestion

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/fumiama/go-docx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	assert.Equal(t, FormatPDF, DetectFormat("data/criminal_code.PDF"))
	assert.Equal(t, FormatText, DetectFormat("dump.txt"))
	assert.Equal(t, FormatDOCX, DetectFormat("2341-14.docx"))
	assert.Equal(t, FormatHTML, DetectFormat("2341-14.htm"))
	assert.Equal(t, FormatUnknown, DetectFormat("notes.md"))
}

func TestLoadTextSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.txt")
	content := "ЗАГАЛЬНА ЧАСТИНА  \r\nСтаття 1. Текст\t\r\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	raw, sha, err := Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "ЗАГАЛЬНА ЧАСТИНА\nСтаття 1. Текст\n", raw)
	sum := sha256.Sum256([]byte(content))
	assert.Equal(t, hex.EncodeToString(sum[:]), sha)
}

func TestLoadRejectsUnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "code.odt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, _, err := Load(context.Background(), path)
	assert.ErrorContains(t, err, "unsupported source format")
}

func TestTextParserRejectsInvalidUTF8(t *testing.T) {
	_, err := textParser{}.Parse(context.Background(), DocumentPayload{Path: "bad.txt", Format: FormatText, Data: []byte{0xff, 0xfe}})
	assert.Error(t, err)
}

func TestPDFParserRejectsGarbage(t *testing.T) {
	parser, err := ParserFor(FormatPDF)
	require.NoError(t, err)

	_, err = parser.Parse(context.Background(), DocumentPayload{Path: "bad.pdf", Format: FormatPDF, Data: []byte("not a pdf")})
	assert.Error(t, err)
}

func TestHTMLParserKeepsBodyText(t *testing.T) {
	page := `<!DOCTYPE html>
<html><head><title>Кримінальний кодекс України</title><style>p { margin: 0 }</style></head>
<body>
  <nav>Головна</nav>
  <div class="rvts0">
    <p>ЗАГАЛЬНА ЧАСТИНА</p>
    <p>Стаття 1. Текст <b>статті</b></p>
    <script>var counter = 1;</script>
  </div>
</body></html>`

	parser, err := ParserFor(FormatHTML)
	require.NoError(t, err)
	text, err := parser.Parse(context.Background(), DocumentPayload{Path: "code.html", Format: FormatHTML, Data: []byte(page)})
	require.NoError(t, err)

	assert.Equal(t, "ЗАГАЛЬНА ЧАСТИНА\nСтаття 1. Текст статті", text)
}

func TestHTMLParserRejectsEmptyPage(t *testing.T) {
	_, err := htmlParser{}.Parse(context.Background(), DocumentPayload{Path: "empty.html", Data: []byte("<html><body><script>x()</script></body></html>")})
	assert.ErrorContains(t, err, "has no text")
}

func TestDOCXParserReadsParagraphs(t *testing.T) {
	w := docx.New().WithDefaultTheme()
	w.AddParagraph().AddText("ЗАГАЛЬНА ЧАСТИНА")
	w.AddParagraph().AddText("Стаття 1. Текст статті")
	var buf bytes.Buffer
	_, err := w.WriteTo(&buf)
	require.NoError(t, err)

	text, err := docxParser{}.Parse(context.Background(), DocumentPayload{Path: "code.docx", Format: FormatDOCX, Data: buf.Bytes()})
	require.NoError(t, err)

	assert.Equal(t, "ЗАГАЛЬНА ЧАСТИНА\nСтаття 1. Текст статті", text)
}

func TestDOCXParserRejectsGarbage(t *testing.T) {
	_, err := docxParser{}.Parse(context.Background(), DocumentPayload{Path: "bad.docx", Data: []byte("not a zip")})
	assert.Error(t, err)
}

func TestParserForUnknownFormat(t *testing.T) {
	_, err := ParserFor(FormatUnknown)
	assert.Error(t, err)
}
