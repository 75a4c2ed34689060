package statute

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMarkerNotFound is returned when a mandatory boundary marker is absent.
var ErrMarkerNotFound = errors.New("mandatory marker not found")

// MarkerError names the missing marker and the document region searched.
type MarkerError struct {
	Marker string
	Region string
}

func (e *MarkerError) Error() string {
	return fmt.Sprintf("%s: %q in %s region", ErrMarkerNotFound, e.Marker, e.Region)
}

func (e *MarkerError) Unwrap() error { return ErrMarkerNotFound }

// Level is a hierarchy level of the statute.
type Level int

const (
	LevelPart Level = iota
	LevelSection
	LevelArticle
)

func (l Level) String() string {
	switch l {
	case LevelPart:
		return "part"
	case LevelSection:
		return "section"
	case LevelArticle:
		return "article"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// Unit is one structural unit. Start/End is the unit's span in the parsed
// text including its heading; BodyStart is where the heading ends.
type Unit struct {
	Level      Level
	Label      string
	Number     string
	ParentPath []string
	Parent     int
	Start      int
	BodyStart  int
	End        int
	// Title is the folded text between the heading and the first child.
	Title string
	// Text is the folded content of a leaf unit: heading-qualified for
	// articles, body only for paragraph-form sections.
	Text string
	// Children is the half-open index range of child units in Tree.Units.
	ChildStart int
	ChildEnd   int
}

// Leaf reports whether the unit has no children.
func (u Unit) Leaf() bool { return u.ChildStart == u.ChildEnd }

// Tree is a flat arena of units. Units are stored level by level, so the
// children of every unit form a contiguous range.
type Tree struct {
	Text  string
	Units []Unit
}

// Children returns the child units of Units[i].
func (t *Tree) Children(i int) []Unit {
	u := t.Units[i]
	return t.Units[u.ChildStart:u.ChildEnd]
}

// Level returns the units of one level in document order.
func (t *Tree) Level(level Level) []Unit {
	var out []Unit
	for _, u := range t.Units {
		if u.Level == level {
			out = append(out, u)
		}
	}
	return out
}

// Leaves returns units without children that carry text, in document order.
func (t *Tree) Leaves(level Level) []Unit {
	var out []Unit
	for _, u := range t.Level(level) {
		if u.Leaf() {
			out = append(out, u)
		}
	}
	return out
}

// ParseMain resolves the Part/Section/Article hierarchy of the article-form
// region and emits one leaf unit per Article.
func ParseMain(text string, part, section, article Matcher) (*Tree, error) {
	b, err := newTreeBuilder(text, part, section, "main")
	if err != nil {
		return nil, err
	}

	articles := article.FindAll(text)
	sectionIdx := b.sectionRange()
	b.beginLevel()
	for si := sectionIdx[0]; si < sectionIdx[1]; si++ {
		sec := &b.tree.Units[si]
		sec.ChildStart = len(b.tree.Units)
		for ai, occ := range articles {
			if occ.Start < sec.Start {
				continue
			}
			if occ.Start >= sec.End {
				break
			}
			end := sec.End
			if ai+1 < len(articles) && articles[ai+1].Start < end {
				end = articles[ai+1].Start
			}
			unit := Unit{
				Level:      LevelArticle,
				Label:      occ.Label,
				Number:     occ.Number,
				ParentPath: append(append([]string(nil), sec.ParentPath...), sec.Label),
				Parent:     si,
				Start:      occ.Start,
				BodyStart:  occ.End,
				End:        end,
			}
			unit.Text = joinHeading(unit.Label, fold(text[unit.BodyStart:unit.End]))
			b.tree.Units = append(b.tree.Units, unit)
			sec = &b.tree.Units[si]
		}
		sec.ChildEnd = len(b.tree.Units)
		sec.Title = b.titleOf(si)
	}

	if len(b.tree.Level(LevelArticle)) == 0 {
		return nil, &MarkerError{Marker: "article heading", Region: "main"}
	}
	return b.tree, nil
}

// ParseAdditional resolves Part/Section boundaries only; each Section body up
// to the next Section or Part boundary is a leaf unit.
func ParseAdditional(text string, part, section Matcher) (*Tree, error) {
	b, err := newTreeBuilder(text, part, section, "additional")
	if err != nil {
		return nil, err
	}
	sectionIdx := b.sectionRange()
	for si := sectionIdx[0]; si < sectionIdx[1]; si++ {
		sec := &b.tree.Units[si]
		sec.ChildStart, sec.ChildEnd = len(b.tree.Units), len(b.tree.Units)
		sec.Text = fold(text[sec.BodyStart:sec.End])
	}
	if sectionIdx[0] == sectionIdx[1] {
		return nil, &MarkerError{Marker: "section heading", Region: "additional"}
	}
	return b.tree, nil
}

// ParseMainWithTerminal appends the terminal heading so the last real article
// has a closing boundary, parses the result and discards the synthetic unit.
func ParseMainWithTerminal(text string, m Markers) (*Tree, error) {
	sentinel := len(text) + len("\n\n")
	tree, err := ParseMain(text+"\n\n"+m.TerminalHeading, PartMatcher(m), SectionMatcher(m), ArticleMatcher(m))
	if err != nil {
		return nil, err
	}
	for i := len(tree.Units) - 1; i >= 0; i-- {
		u := tree.Units[i]
		if u.Level != LevelArticle || u.Start < sentinel {
			continue
		}
		tree.Units = append(tree.Units[:i], tree.Units[i+1:]...)
		parent := &tree.Units[u.Parent]
		parent.ChildEnd--
		for j := u.Parent + 1; j < len(tree.Units); j++ {
			if tree.Units[j].Level == LevelSection {
				tree.Units[j].ChildStart--
				tree.Units[j].ChildEnd--
			}
		}
	}
	tree.Text = text
	for i := range tree.Units {
		u := &tree.Units[i]
		if u.End > len(text) {
			u.End = len(text)
		}
	}
	if len(tree.Level(LevelArticle)) == 0 {
		return nil, &MarkerError{Marker: "article heading", Region: "main"}
	}
	return tree, nil
}

type treeBuilder struct {
	tree       *Tree
	levelStart int
}

func newTreeBuilder(text string, part, section Matcher, region string) (*treeBuilder, error) {
	parts := part.FindAll(text)
	if len(parts) == 0 {
		return nil, &MarkerError{Marker: "part heading", Region: region}
	}
	b := &treeBuilder{tree: &Tree{Text: text}}

	for pi, occ := range parts {
		end := len(text)
		if pi+1 < len(parts) {
			end = parts[pi+1].Start
		}
		b.tree.Units = append(b.tree.Units, Unit{
			Level:     LevelPart,
			Label:     occ.Label,
			Parent:    -1,
			Start:     occ.Start,
			BodyStart: occ.End,
			End:       end,
		})
	}

	sections := section.FindAll(text)
	b.beginLevel()
	for pi := range parts {
		p := &b.tree.Units[pi]
		p.ChildStart = len(b.tree.Units)
		for si, occ := range sections {
			// Sections are attributed starting from the part's own start.
			if occ.Start < p.Start {
				continue
			}
			if occ.Start >= p.End {
				break
			}
			end := p.End
			if si+1 < len(sections) && sections[si+1].Start < end {
				end = sections[si+1].Start
			}
			b.tree.Units = append(b.tree.Units, Unit{
				Level:      LevelSection,
				Label:      occ.Label,
				Number:     occ.Number,
				ParentPath: []string{p.Label},
				Parent:     pi,
				Start:      occ.Start,
				BodyStart:  skipHeadingDot(text, occ.End),
				End:        end,
			})
			p = &b.tree.Units[pi]
		}
		p.ChildEnd = len(b.tree.Units)
		p.Title = b.titleOf(pi)
	}
	return b, nil
}

func (b *treeBuilder) beginLevel() { b.levelStart = len(b.tree.Units) }

// sectionRange is the arena range holding the section level.
func (b *treeBuilder) sectionRange() [2]int {
	return [2]int{b.levelStart, len(b.tree.Units)}
}

func (b *treeBuilder) titleOf(i int) string {
	u := b.tree.Units[i]
	end := u.End
	if u.ChildStart < len(b.tree.Units) && u.ChildStart < u.ChildEnd {
		end = b.tree.Units[u.ChildStart].Start
	}
	return fold(b.tree.Text[u.BodyStart:end])
}

// fold trims a body, joins wrapped lines with a space and keeps paragraph
// breaks as a single blank line.
func fold(body string) string {
	body = lineEndings.Replace(body)
	paragraphs := strings.Split(body, "\n\n")
	out := paragraphs[:0]
	for _, p := range paragraphs {
		if p = collapseSpaces(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}

// skipHeadingDot steps over the period some editions put after a section
// numeral ("Розділ I. ...").
func skipHeadingDot(text string, pos int) int {
	if pos < len(text) && text[pos] == '.' {
		return pos + 1
	}
	return pos
}

func joinHeading(label, body string) string {
	if body == "" {
		return label
	}
	return label + " " + body
}
