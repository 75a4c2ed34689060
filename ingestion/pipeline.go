package ingestion

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fabfab/statute-rag/knowledge"
	"github.com/fabfab/statute-rag/statute"
)

// Prepared is a statute structured and chunked, ready to be embedded.
type Prepared struct {
	Document     statute.Document
	Footer       statute.Footer
	Main         *statute.Tree
	Transitional *statute.Tree
	// Chunks are in document order: main parts, transitional part, footer.
	Chunks []statute.Chunk
	// Titles holds part and section titles keyed by knowledge.TitleKey.
	Titles map[string]string
}

// Preparer runs the pure structuring pipeline on extracted text.
type Preparer struct {
	markers    statute.Markers
	normalizer *statute.Normalizer
	chunker    *statute.Chunker
	footer     FooterNormalizer
	logger     *zap.Logger
}

func NewPreparer(m statute.Markers, maxChunkSize int, footer FooterNormalizer, logger *zap.Logger) (*Preparer, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	chunker, err := statute.NewChunker(maxChunkSize, m)
	if err != nil {
		return nil, err
	}
	if footer == nil {
		footer = PassthroughFooter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preparer{
		markers:    m,
		normalizer: statute.NewNormalizer(m),
		chunker:    chunker,
		footer:     footer,
		logger:     logger,
	}, nil
}

// Prepare splits raw into regions, normalizes and parses them and chunks
// every leaf unit. Parts are chunked concurrently; output order does not
// depend on scheduling.
func (p *Preparer) Prepare(ctx context.Context, raw string) (*Prepared, error) {
	doc, err := statute.Split(raw, p.markers)
	if err != nil {
		return nil, fmt.Errorf("split document: %w", err)
	}

	footer, err := p.footer.NormalizeFooter(ctx, doc.Footer)
	if err != nil {
		p.logger.Warn("footer normalization failed, keeping raw footer", zap.Error(err))
		footer = statute.Footer{Text: doc.Footer}
	}
	footer.Text = statute.NormalizeQuotes(footer.Text)

	mainTree, err := statute.ParseMainWithTerminal(p.normalizer.Normalize(doc.Main), p.markers)
	if err != nil {
		return nil, fmt.Errorf("parse main region: %w", err)
	}
	transitional, err := statute.ParseAdditional(
		p.normalizer.Normalize(doc.Transitional),
		statute.PartMatcher(p.markers),
		statute.SectionMatcher(p.markers),
	)
	if err != nil {
		return nil, fmt.Errorf("parse transitional region: %w", err)
	}

	type job struct {
		tree *statute.Tree
		part int
	}
	var jobs []job
	for _, tree := range []*statute.Tree{mainTree, transitional} {
		for i, u := range tree.Units {
			if u.Level == statute.LevelPart {
				jobs = append(jobs, job{tree: tree, part: i})
			}
		}
	}

	results := make([][]statute.Chunk, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	for i, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			chunks, err := p.chunkPart(j.tree, j.part)
			if err != nil {
				return err
			}
			results[i] = chunks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var chunks []statute.Chunk
	for _, r := range results {
		chunks = append(chunks, r...)
	}
	footerChunks, err := p.chunker.ChunkFooter(footer)
	if err != nil {
		return nil, err
	}
	chunks = append(chunks, footerChunks...)

	p.logger.Info("statute prepared",
		zap.Int("articles", len(mainTree.Leaves(statute.LevelArticle))),
		zap.Int("transitional_sections", len(transitional.Level(statute.LevelSection))),
		zap.Int("chunks", len(chunks)),
	)

	return &Prepared{
		Document:     doc,
		Footer:       footer,
		Main:         mainTree,
		Transitional: transitional,
		Chunks:       chunks,
		Titles:       titles(mainTree, transitional),
	}, nil
}

// chunkPart chunks the leaf descendants of tree.Units[part] in order.
func (p *Preparer) chunkPart(tree *statute.Tree, part int) ([]statute.Chunk, error) {
	var out []statute.Chunk
	for _, section := range tree.Children(part) {
		var leaves []statute.Unit
		if section.Leaf() {
			leaves = []statute.Unit{section}
		} else {
			leaves = tree.Units[section.ChildStart:section.ChildEnd]
		}
		for _, u := range leaves {
			if strings.TrimSpace(u.Text) == "" {
				continue
			}
			chunks, err := p.chunker.ChunkUnit(u)
			if err != nil {
				return nil, err
			}
			out = append(out, chunks...)
		}
	}
	return out, nil
}

func titles(trees ...*statute.Tree) map[string]string {
	out := map[string]string{}
	for _, tree := range trees {
		for _, u := range tree.Units {
			switch u.Level {
			case statute.LevelPart:
				if u.Title != "" {
					out[knowledge.TitleKey(u.Label, "")] = u.Title
				}
			case statute.LevelSection:
				if u.Title != "" {
					out[knowledge.TitleKey(u.ParentPath[0], u.Label)] = u.Title
				}
			}
		}
	}
	return out
}
