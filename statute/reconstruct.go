package statute

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrIncompleteUnit is returned when the store does not hold every chunk a
// reconstruction policy needs.
var ErrIncompleteUnit = errors.New("incomplete unit in chunk store")

// ReconstructError carries the metadata of the retrieved item whose
// reconstruction failed.
type ReconstructError struct {
	Metadata Metadata
	Err      error
}

func (e *ReconstructError) Error() string {
	return fmt.Sprintf("reconstruct %s: %v", e.Metadata, e.Err)
}

func (e *ReconstructError) Unwrap() error { return e.Err }

// Predicate is an exact-match filter over chunk metadata. Empty fields do
// not constrain.
type Predicate struct {
	Part          string
	Section       string
	ArticleNumber string
}

// Matches reports whether meta satisfies every set field.
func (p Predicate) Matches(meta Metadata) bool {
	return (p.Part == "" || p.Part == meta.Part) &&
		(p.Section == "" || p.Section == meta.Section) &&
		(p.ArticleNumber == "" || p.ArticleNumber == meta.ArticleNumber)
}

// Fetcher returns every stored chunk whose metadata satisfies the predicate.
type Fetcher interface {
	FetchChunks(ctx context.Context, pred Predicate) ([]Chunk, error)
}

// RetrievedItem is one chunk returned by similarity retrieval.
type RetrievedItem struct {
	Chunk
	Score float64
}

// Reconstructor expands retrieved chunks into the complete structural units
// they belong to.
type Reconstructor struct {
	fetcher          Fetcher
	transitionalPart string
	logger           *zap.Logger
}

// NewReconstructor builds a reconstructor over the given chunk store.
func NewReconstructor(fetcher Fetcher, m Markers, logger *zap.Logger) *Reconstructor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconstructor{fetcher: fetcher, transitionalPart: m.TransitionalPart, logger: logger}
}

// Build reconstructs every item and joins the blocks with "\n" in item order.
// Any failure aborts the whole call; no partial context is returned.
func (r *Reconstructor) Build(ctx context.Context, items []RetrievedItem) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	blocks := make([]string, len(items))
	g, ctx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			block, err := r.reconstruct(ctx, item.Metadata, item.Text)
			if err != nil {
				return &ReconstructError{Metadata: item.Metadata, Err: err}
			}
			blocks[i] = block
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	r.logger.Debug("context reconstructed", zap.Int("items", len(items)))
	return strings.Join(blocks, "\n"), nil
}

func (r *Reconstructor) reconstruct(ctx context.Context, meta Metadata, text string) (string, error) {
	switch {
	case meta.ArticleNumber != "":
		return r.article(ctx, meta, text)
	case meta.Section != "" && meta.Part == r.transitionalPart:
		return r.transitional(ctx, meta)
	default:
		return text, nil
	}
}

func (r *Reconstructor) article(ctx context.Context, meta Metadata, text string) (string, error) {
	if meta.TotalChunks <= 1 {
		return prefix(meta) + text, nil
	}
	chunks, err := r.fetcher.FetchChunks(ctx, Predicate{ArticleNumber: meta.ArticleNumber})
	if err != nil {
		return "", fmt.Errorf("fetch article %s: %w", meta.ArticleNumber, err)
	}
	byIndex, err := indexChunks(chunks, meta.TotalChunks)
	if err != nil {
		return "", err
	}
	texts := make([]string, 0, meta.TotalChunks)
	for i := 0; i < meta.TotalChunks; i++ {
		c, ok := byIndex[i]
		if !ok {
			return "", fmt.Errorf("%w: article %s is missing chunk %d of %d", ErrIncompleteUnit, meta.ArticleNumber, i, meta.TotalChunks)
		}
		texts = append(texts, c.Text)
	}
	return prefix(meta) + strings.TrimSpace(strings.Join(texts, " ")), nil
}

func (r *Reconstructor) transitional(ctx context.Context, meta Metadata) (string, error) {
	chunks, err := r.fetcher.FetchChunks(ctx, Predicate{Part: meta.Part, Section: meta.Section})
	if err != nil {
		return "", fmt.Errorf("fetch section %s: %w", meta.Section, err)
	}
	total := meta.TotalChunks
	byIndex, err := indexChunks(chunks, total)
	if err != nil {
		return "", err
	}
	window := NeighborWindow(meta.ChunkIndex, total)
	texts := make([]string, 0, len(window))
	for _, i := range window {
		c, ok := byIndex[i]
		if !ok {
			return "", fmt.Errorf("%w: section %s is missing chunk %d of %d", ErrIncompleteUnit, meta.Section, i, total)
		}
		texts = append(texts, c.Text)
	}
	return prefix(meta) + strings.TrimSpace(strings.Join(texts, " ")), nil
}

// NeighborWindow returns the sorted indices {idx-1, idx, idx+1} clipped to
// [0, total). Only the target and its immediate neighbours are included.
func NeighborWindow(idx, total int) []int {
	var out []int
	for i := idx - 1; i <= idx+1; i++ {
		if i >= 0 && i < total {
			out = append(out, i)
		}
	}
	return out
}

// indexChunks keys chunks by index, rejecting chunk sets whose unit size
// disagrees with the retrieved item.
func indexChunks(chunks []Chunk, total int) (map[int]Chunk, error) {
	sort.SliceStable(chunks, func(a, b int) bool { return chunks[a].ChunkIndex < chunks[b].ChunkIndex })
	byIndex := make(map[int]Chunk, len(chunks))
	for _, c := range chunks {
		if c.TotalChunks != total {
			return nil, fmt.Errorf("%w: chunk %d reports %d chunks in unit, expected %d", ErrIncompleteUnit, c.ChunkIndex, c.TotalChunks, total)
		}
		if _, dup := byIndex[c.ChunkIndex]; !dup {
			byIndex[c.ChunkIndex] = c
		}
	}
	return byIndex, nil
}

func prefix(meta Metadata) string {
	var sb strings.Builder
	if meta.Part != "" {
		sb.WriteString(meta.Part)
		sb.WriteString(". ")
	}
	if meta.Section != "" {
		sb.WriteString(meta.Section)
		sb.WriteString(". ")
	}
	return sb.String()
}
