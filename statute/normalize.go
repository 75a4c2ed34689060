package statute

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Apostrophe is the canonical apostrophe used across the normalized text.
const Apostrophe = "’"

var apostropheReplacer = strings.NewReplacer(
	"'", Apostrophe,
	"ʼ", Apostrophe,
	"‘", Apostrophe,
	"`", Apostrophe,
	"´", Apostrophe,
)

var (
	lineEndings   = strings.NewReplacer("\r\n", "\n", "\r", "\n")
	horizontalRun = regexp.MustCompile(`[ \t\x{00A0}]+`)
	spaceAtBreak  = regexp.MustCompile(` ?\n ?`)
	breakRun      = regexp.MustCompile(`[ \t\x{00A0}]*\n[\s\x{00A0}]*`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

// NormalizeQuotes maps every apostrophe-like code point to Apostrophe.
func NormalizeQuotes(text string) string {
	return apostropheReplacer.Replace(text)
}

// Normalizer canonicalizes whitespace and line-wrap artifacts around the
// headings of one vocabulary. It never alters the characters of a heading
// label or of a body sentence.
type Normalizer struct {
	heading       *regexp.Regexp
	atHeading     *regexp.Regexp
	article       *regexp.Regexp
	section       *regexp.Regexp
	articlePrefix string
	sectionPrefix string
}

// NewNormalizer compiles the heading patterns for the given markers.
func NewNormalizer(m Markers) *Normalizer {
	token := headingTokenPattern(m)
	return &Normalizer{
		heading:       regexp.MustCompile(token),
		atHeading:     regexp.MustCompile(`^(?:` + token + `)`),
		article:       regexp.MustCompile(regexp.QuoteMeta(m.ArticlePrefix) + `\s+(\d+(?:[ \t]*-[ \t]*\d+)?)\.`),
		section:       regexp.MustCompile(regexp.QuoteMeta(m.SectionPrefix) + `\s+(` + sectionNumeral + `)\b`),
		articlePrefix: m.ArticlePrefix,
		sectionPrefix: m.SectionPrefix,
	}
}

// Normalize applies NormalizeQuotes, RepairLineBreaks and EnforceHeadings in
// sequence. Normalize(Normalize(s)) == Normalize(s).
func (n *Normalizer) Normalize(text string) string {
	return n.EnforceHeadings(n.RepairLineBreaks(NormalizeQuotes(text)))
}

// RepairLineBreaks moves every heading onto a fresh line preceded by a blank
// line, rejoins words hyphenated across a line break and turns every other
// line break into a single space.
func (n *Normalizer) RepairLineBreaks(text string) string {
	text = lineEndings.Replace(text)
	text = n.heading.ReplaceAllString(text, "\n\n$0\n\n")

	var sb strings.Builder
	sb.Grow(len(text))
	last := 0
	for _, loc := range breakRun.FindAllStringIndex(text, -1) {
		start, end := loc[0], loc[1]
		sb.WriteString(text[last:start])
		last = end
		rest := text[end:]
		switch {
		case n.atHeading.MatchString(rest):
			sb.WriteString("\n\n")
		case hyphenatedAt(text[:start], rest):
			// word-\nword joins without a space; the hyphen stays.
		default:
			sb.WriteByte(' ')
		}
	}
	sb.WriteString(text[last:])

	out := horizontalRun.ReplaceAllString(sb.String(), " ")
	return spaceAtBreak.ReplaceAllString(out, "\n")
}

// EnforceHeadings re-asserts that every heading starts a fresh line and is
// set off from the text after it, writes composite article and section
// numbers as N-M and collapses runs of blank lines. Headings that only
// appear once a hyphenated line break is rejoined are handled here.
func (n *Normalizer) EnforceHeadings(text string) string {
	text = n.heading.ReplaceAllString(text, "\n\n$0")
	text = n.article.ReplaceAllStringFunc(text, func(token string) string {
		return n.articlePrefix + " " + canonicalNumber(n.article.FindStringSubmatch(token)[1]) + "."
	})
	text = n.section.ReplaceAllStringFunc(text, func(token string) string {
		return n.sectionPrefix + " " + canonicalNumber(n.section.FindStringSubmatch(token)[1])
	})
	text = n.separateHeadings(text)
	text = spaceAtBreak.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// separateHeadings puts a space after every heading glued to the next
// character.
func (n *Normalizer) separateHeadings(text string) string {
	var sb strings.Builder
	last := 0
	for _, loc := range n.heading.FindAllStringIndex(text, -1) {
		end := loc[1]
		if end >= len(text) {
			continue
		}
		if next, _ := utf8.DecodeRuneInString(text[end:]); unicode.IsSpace(next) {
			continue
		}
		sb.WriteString(text[last:end])
		sb.WriteByte(' ')
		last = end
	}
	if last == 0 {
		return text
	}
	sb.WriteString(text[last:])
	return sb.String()
}

func hyphenatedAt(before, after string) bool {
	if !strings.HasSuffix(before, "-") {
		return false
	}
	prev, _ := utf8.DecodeLastRuneInString(strings.TrimSuffix(before, "-"))
	next, _ := utf8.DecodeRuneInString(after)
	return isWordRune(prev) && isWordRune(next)
}

func isWordRune(r rune) bool {
	return r != utf8.RuneError && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
