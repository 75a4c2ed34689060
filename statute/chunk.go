package statute

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ErrChunkTooLarge is the defensive assertion raised when a computed chunk
// exceeds the configured maximum size.
var ErrChunkTooLarge = errors.New("chunk exceeds maximum size")

// MinChunkSize is the smallest accepted maximum chunk size; it must exceed
// the longest heading token so a heading is never cut.
const MinChunkSize = 64

// Wire-level metadata keys.
const (
	KeyPart          = "part"
	KeySection       = "section"
	KeyArticleNumber = "articleNumber"
	KeyChunkIndex    = "chunkIndex"
	KeyTotalChunks   = "totalChunksInUnit"

	KeyActType       = "actType"
	KeyActName       = "actName"
	KeySignedBy      = "signedBy"
	KeyNumberAndDate = "numberAndDate"
	KeyEdition       = "edition"
	KeyStatus        = "status"
	KeyPermanentLink = "permanentLink"
)

// Metadata is stamped on every chunk. Empty Section and ArticleNumber mean
// the field is absent; Extra is only set on the footer unit's chunks.
type Metadata struct {
	Part          string
	Section       string
	ArticleNumber string
	ChunkIndex    int
	TotalChunks   int
	Extra         map[string]string
}

// Map renders the metadata with the wire-level keys.
func (m Metadata) Map() map[string]any {
	out := map[string]any{
		KeyPart:        m.Part,
		KeyChunkIndex:  m.ChunkIndex,
		KeyTotalChunks: m.TotalChunks,
	}
	if m.Section != "" {
		out[KeySection] = m.Section
	}
	if m.ArticleNumber != "" {
		out[KeyArticleNumber] = m.ArticleNumber
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

func (m Metadata) String() string {
	return fmt.Sprintf("part=%q section=%q article=%q chunk=%d/%d", m.Part, m.Section, m.ArticleNumber, m.ChunkIndex, m.TotalChunks)
}

// Chunk is a size-bounded slice of a unit's text.
type Chunk struct {
	Metadata
	Text string
}

// Footer is the trailing metadata unit in the fixed schema produced by the
// footer normalization capability.
type Footer struct {
	Text          string `json:"text"`
	ActType       string `json:"act_type"`
	ActName       string `json:"act_name"`
	SignedBy      string `json:"signed_by"`
	NumberAndDate string `json:"number_and_date"`
	Edition       string `json:"edition"`
	Status        string `json:"status"`
	PermanentLink string `json:"permanent_link"`
}

// Extra returns the fields stamped on every footer chunk.
func (f Footer) Extra() map[string]string {
	return map[string]string{
		KeyActType:       f.ActType,
		KeyActName:       f.ActName,
		KeySignedBy:      f.SignedBy,
		KeyNumberAndDate: f.NumberAndDate,
		KeyEdition:       f.Edition,
		KeyStatus:        f.Status,
		KeyPermanentLink: f.PermanentLink,
	}
}

// Chunker splits unit text into chunks of at most MaxSize characters.
type Chunker struct {
	maxSize int
	guard   *regexp.Regexp
}

// NewChunker builds a chunker that never cuts inside a heading token of m.
func NewChunker(maxSize int, m Markers) (*Chunker, error) {
	if maxSize < MinChunkSize {
		return nil, fmt.Errorf("max chunk size %d is below the minimum of %d", maxSize, MinChunkSize)
	}
	return &Chunker{maxSize: maxSize, guard: regexp.MustCompile(headingTokenPattern(m))}, nil
}

// MaxSize returns the configured chunk size limit in characters.
func (c *Chunker) MaxSize() int { return c.maxSize }

// ChunkUnit splits a leaf unit and stamps its hierarchy metadata.
func (c *Chunker) ChunkUnit(u Unit) ([]Chunk, error) {
	base := Metadata{}
	switch u.Level {
	case LevelArticle:
		if len(u.ParentPath) != 2 {
			return nil, fmt.Errorf("article %s: expected part and section ancestors, got %v", u.Label, u.ParentPath)
		}
		base.Part, base.Section, base.ArticleNumber = u.ParentPath[0], u.ParentPath[1], u.Number
	case LevelSection:
		if len(u.ParentPath) != 1 {
			return nil, fmt.Errorf("section %s: expected a part ancestor, got %v", u.Label, u.ParentPath)
		}
		base.Part, base.Section = u.ParentPath[0], u.Label
	default:
		return nil, fmt.Errorf("unit %s at level %s cannot be chunked", u.Label, u.Level)
	}

	texts, err := c.Split(u.Text)
	if err != nil {
		return nil, fmt.Errorf("split %s %s (offsets %d-%d): %w", u.Level, u.Label, u.Start, u.End, err)
	}
	return AssignMetadata(texts, base), nil
}

// ChunkFooter splits the footer text and stamps the fixed extra fields.
func (c *Chunker) ChunkFooter(f Footer) ([]Chunk, error) {
	texts, err := c.Split(f.Text)
	if err != nil {
		return nil, fmt.Errorf("split footer: %w", err)
	}
	return AssignMetadata(texts, Metadata{Extra: f.Extra()}), nil
}

// AssignMetadata stamps base metadata plus a contiguous chunk index on texts.
func AssignMetadata(texts []string, base Metadata) []Chunk {
	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		meta := base
		meta.ChunkIndex = i
		meta.TotalChunks = len(texts)
		if base.Extra != nil {
			meta.Extra = make(map[string]string, len(base.Extra))
			for k, v := range base.Extra {
				meta.Extra[k] = v
			}
		}
		chunks[i] = Chunk{Metadata: meta, Text: text}
	}
	return chunks
}

type splitLevel int

const (
	byParagraph splitLevel = iota
	bySentence
	byWord
	byLength
)

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n\s*`)
	sentenceBreak  = regexp.MustCompile(`[.!?;…]+[»”")]*\s+`)
	wordBreak      = regexp.MustCompile(`\s+`)
)

// Split breaks body into ordered, non-overlapping pieces of at most MaxSize
// characters, preferring paragraph, then sentence, then word boundaries and
// cutting by length only when no boundary fits.
func (c *Chunker) Split(body string) ([]string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}
	s := splitter{text: body, max: c.maxSize, guards: c.guard.FindAllStringIndex(body, -1)}
	s.split(0, len(body), byParagraph)

	for i, piece := range s.out {
		if n := utf8.RuneCountInString(piece); n > c.maxSize {
			return nil, fmt.Errorf("%w: piece %d has %d characters, limit %d", ErrChunkTooLarge, i, n, c.maxSize)
		}
	}
	return s.out, nil
}

type splitter struct {
	text   string
	max    int
	guards [][]int
	out    []string
}

func (s *splitter) fits(lo, hi int) bool {
	return utf8.RuneCountInString(s.text[lo:hi]) <= s.max
}

func (s *splitter) emit(lo, hi int) {
	if piece := strings.TrimSpace(s.text[lo:hi]); piece != "" {
		s.out = append(s.out, piece)
	}
}

func (s *splitter) split(lo, hi int, level splitLevel) {
	if s.fits(lo, hi) {
		s.emit(lo, hi)
		return
	}
	if level > byLength {
		s.emit(lo, hi)
		return
	}

	var cuts []int
	if level == byLength {
		cuts = s.lengthCuts(lo, hi)
	} else {
		cuts = s.boundaries(lo, hi, level)
	}
	cuts = append(cuts, hi)

	start, last := lo, lo
	for _, end := range cuts {
		if s.fits(start, end) {
			last = end
			continue
		}
		if last > start {
			s.emit(start, last)
			start = last
			if s.fits(start, end) {
				last = end
				continue
			}
		}
		s.split(start, end, level+1)
		start, last = end, end
	}
	if last > start {
		s.emit(start, last)
	}
}

// boundaries returns the cut positions in (lo, hi) that end a segment at the
// given level and do not fall inside a heading token.
func (s *splitter) boundaries(lo, hi int, level splitLevel) []int {
	var re *regexp.Regexp
	switch level {
	case byParagraph:
		re = paragraphBreak
	case bySentence:
		re = sentenceBreak
	default:
		re = wordBreak
	}
	var cuts []int
	for _, loc := range re.FindAllStringIndex(s.text[lo:hi], -1) {
		pos := lo + loc[1]
		if pos <= lo || pos >= hi || s.guarded(pos) {
			continue
		}
		cuts = append(cuts, pos)
	}
	return cuts
}

// lengthCuts cuts every max characters, moving a cut that lands inside a
// heading token to the token's start, or past it when the token opens the
// range.
func (s *splitter) lengthCuts(lo, hi int) []int {
	var cuts []int
	pos := lo
	for {
		p := advanceRunes(s.text, pos, s.max)
		if p >= hi {
			return cuts
		}
		for _, g := range s.guards {
			if g[0] < p && p < g[1] {
				if g[0] > pos {
					p = g[0]
				} else {
					p = g[1]
				}
				break
			}
		}
		if p >= hi {
			return cuts
		}
		cuts = append(cuts, p)
		pos = p
	}
}

func (s *splitter) guarded(pos int) bool {
	for _, g := range s.guards {
		if g[0] < pos && pos < g[1] {
			return true
		}
	}
	return false
}

func advanceRunes(text string, pos, n int) int {
	for i := 0; i < n && pos < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[pos:])
		pos += size
	}
	return pos
}
