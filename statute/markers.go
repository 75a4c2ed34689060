// Package statute recovers the Part/Section/Article structure of a statute,
// splits structural units into size-bounded chunks and rebuilds retrieval
// context from stored chunks.
package statute

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Markers is the heading vocabulary of the source document. Every marker is a
// literal, case-sensitive string in the document's own language.
type Markers struct {
	// Parts lists the top-level part labels in document order.
	Parts []string `yaml:"parts"`
	// GeneralPart marks the start of the statute body; everything before it is header.
	GeneralPart string `yaml:"general_part"`
	// TransitionalPart is the part organized as paragraph-form sections.
	TransitionalPart string `yaml:"transitional_part"`
	SectionPrefix    string `yaml:"section_prefix"`
	ArticlePrefix    string `yaml:"article_prefix"`
	// FooterMarker opens the trailing signature/status block.
	FooterMarker string `yaml:"footer_marker"`
	// TerminalHeading closes the last real article of the main region.
	TerminalHeading string `yaml:"terminal_heading"`
}

// DefaultMarkers returns the vocabulary of the Criminal Code of Ukraine.
func DefaultMarkers() Markers {
	return Markers{
		Parts: []string{
			"ЗАГАЛЬНА ЧАСТИНА",
			"ОСОБЛИВА ЧАСТИНА",
			"ПРИКІНЦЕВІ ТА ПЕРЕХІДНІ ПОЛОЖЕННЯ",
		},
		GeneralPart:      "ЗАГАЛЬНА ЧАСТИНА",
		TransitionalPart: "ПРИКІНЦЕВІ ТА ПЕРЕХІДНІ ПОЛОЖЕННЯ",
		SectionPrefix:    "Розділ",
		ArticlePrefix:    "Стаття",
		FooterMarker:     "Президент України Л.КУЧМА",
		TerminalHeading:  "Стаття 999. Кінець документа",
	}
}

// Validate reports the first missing or inconsistent marker.
func (m Markers) Validate() error {
	if len(m.Parts) == 0 {
		return errors.New("markers: at least one part label is required")
	}
	for _, part := range m.Parts {
		if strings.TrimSpace(part) == "" {
			return errors.New("markers: part labels must not be blank")
		}
	}
	switch {
	case m.GeneralPart == "":
		return errors.New("markers: general_part is required")
	case m.TransitionalPart == "":
		return errors.New("markers: transitional_part is required")
	case m.SectionPrefix == "":
		return errors.New("markers: section_prefix is required")
	case m.ArticlePrefix == "":
		return errors.New("markers: article_prefix is required")
	case m.FooterMarker == "":
		return errors.New("markers: footer_marker is required")
	case m.TerminalHeading == "":
		return errors.New("markers: terminal_heading is required")
	}
	if !contains(m.Parts, m.TransitionalPart) {
		return fmt.Errorf("markers: transitional_part %q is not one of the part labels", m.TransitionalPart)
	}
	if !ArticleMatcher(m).re.MatchString(m.TerminalHeading) {
		return fmt.Errorf("markers: terminal_heading %q is not an article heading", m.TerminalHeading)
	}
	return nil
}

// Occurrence is one heading found in a document.
type Occurrence struct {
	Start  int
	End    int
	Label  string
	Number string
}

// Matcher finds every heading of one hierarchy level, in document order.
type Matcher interface {
	FindAll(text string) []Occurrence
}

// RegexpMatcher matches headings that start a line. Group 1 is the label and
// the optional group 2 is the heading number.
type RegexpMatcher struct {
	re *regexp.Regexp
}

// FindAll implements Matcher.
func (m *RegexpMatcher) FindAll(text string) []Occurrence {
	locs := m.re.FindAllStringSubmatchIndex(text, -1)
	out := make([]Occurrence, 0, len(locs))
	for _, loc := range locs {
		occ := Occurrence{
			Start: loc[2],
			End:   loc[3],
			Label: canonicalNumber(collapseSpaces(text[loc[2]:loc[3]])),
		}
		if len(loc) >= 6 && loc[4] >= 0 {
			occ.Number = canonicalNumber(collapseSpaces(text[loc[4]:loc[5]]))
		}
		out = append(out, occ)
	}
	return out
}

// PartMatcher matches part labels at the start of a line.
func PartMatcher(m Markers) *RegexpMatcher {
	return &RegexpMatcher{re: regexp.MustCompile(`(?m)^[ \t]*(` + partAlternation(m) + `)`)}
}

// SectionMatcher matches "<prefix> <roman numeral>" or "<prefix> <numeral>-N"
// at the start of a line.
func SectionMatcher(m Markers) *RegexpMatcher {
	return &RegexpMatcher{re: regexp.MustCompile(`(?m)^[ \t]*(` + regexp.QuoteMeta(m.SectionPrefix) + `[ \t]+(` + sectionNumeral + `))\b`)}
}

// ArticleMatcher matches "<prefix> N." or "<prefix> N-M." at the start of a line.
func ArticleMatcher(m Markers) *RegexpMatcher {
	return &RegexpMatcher{re: regexp.MustCompile(`(?m)^[ \t]*(` + regexp.QuoteMeta(m.ArticlePrefix) + `[ \t]+(\d+(?:-\d+)?)\.)`)}
}

// headingTokenPattern matches a heading token anywhere in running text,
// tolerating stray whitespace inside composite article numbers.
func headingTokenPattern(m Markers) string {
	return partAlternation(m) +
		`|` + regexp.QuoteMeta(m.SectionPrefix) + `\s+` + sectionNumeral + `\b\.?` +
		`|` + regexp.QuoteMeta(m.ArticlePrefix) + `\s+\d+(?:[ \t]*-[ \t]*\d+)?\.`
}

// sectionNumeral is a roman numeral with an optional inserted-section
// suffix, as in "XIV-1".
const sectionNumeral = `[IVXLC]+(?:[ \t]*-[ \t]*\d+)?`

var compositeNum = regexp.MustCompile(`([0-9IVXLC]+)[ \t]*-[ \t]*(\d+)`)

// canonicalNumber writes composite heading numbers as N-M.
func canonicalNumber(s string) string {
	return compositeNum.ReplaceAllString(s, "$1-$2")
}

func partAlternation(m Markers) string {
	quoted := make([]string, 0, len(m.Parts))
	for _, part := range m.Parts {
		quoted = append(quoted, regexp.QuoteMeta(part))
	}
	return strings.Join(quoted, "|")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
