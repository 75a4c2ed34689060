package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/statute-rag/statute"
)

type VectorStore interface {
	SimilarChunks(ctx context.Context, embedding []float32, limit int) ([]ChunkResult, error)
}

// PostgresVectorStore serves similarity search and metadata fetches from the
// statute_chunks table.
type PostgresVectorStore struct {
	pool *pgxpool.Pool
}

func NewPostgresVectorStore(pool *pgxpool.Pool) *PostgresVectorStore {
	return &PostgresVectorStore{pool: pool}
}

const chunkColumns = `
	sc.id::text, sc.document_id::text, sc.part, sc.section, sc.article_number,
	sc.chunk_index, sc.total_chunks, sc.extra, sc.content`

func (s *PostgresVectorStore) SimilarChunks(ctx context.Context, embedding []float32, limit int) ([]ChunkResult, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if len(embedding) == 0 {
		return nil, fmt.Errorf("embedding is empty")
	}
	if limit <= 0 {
		limit = defaultSimilarityLimit
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	probes := limit * 10
	if probes < 10 {
		probes = 10
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET ivfflat.probes = %d", probes)); err != nil {
		return nil, fmt.Errorf("set ivfflat probes: %w", err)
	}

	rows, err := conn.Query(ctx, `
		SELECT`+chunkColumns+`,
			(sc.embedding <-> $1::vector) AS distance
		FROM statute_chunks sc
		ORDER BY sc.embedding <-> $1::vector
		LIMIT $2
	`, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	results := make([]ChunkResult, 0, limit)
	for rows.Next() {
		var distance float64
		item, err := scanChunk(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		item.Score = 1 / (1 + distance)
		results = append(results, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar chunks: %w", err)
	}

	return results, nil
}

// FetchChunks returns every chunk whose metadata matches the predicate.
func (s *PostgresVectorStore) FetchChunks(ctx context.Context, pred statute.Predicate) ([]statute.Chunk, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	where, args := predicateClause(pred)
	rows, err := s.pool.Query(ctx, `SELECT`+chunkColumns+` FROM statute_chunks sc`+where+` ORDER BY sc.chunk_index`, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks by metadata: %w", err)
	}
	defer rows.Close()

	var chunks []statute.Chunk
	for rows.Next() {
		item, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, item.Chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// predicateClause renders the set predicate fields as an exact-match WHERE
// clause with positional arguments.
func predicateClause(pred statute.Predicate) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("sc.%s = $%d", column, len(args)))
	}
	add("part", pred.Part)
	add("section", pred.Section)
	add("article_number", pred.ArticleNumber)

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanChunk(row pgx.Row, extraDest ...any) (ChunkResult, error) {
	var (
		item  ChunkResult
		extra []byte
	)
	dest := []any{
		&item.ChunkID, &item.DocumentID, &item.Part, &item.Section, &item.ArticleNumber,
		&item.ChunkIndex, &item.TotalChunks, &extra, &item.Text,
	}
	if err := row.Scan(append(dest, extraDest...)...); err != nil {
		return ChunkResult{}, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &item.Extra); err != nil {
			return ChunkResult{}, fmt.Errorf("decode extra metadata: %w", err)
		}
	}
	return item, nil
}

var (
	_ VectorStore     = (*PostgresVectorStore)(nil)
	_ statute.Fetcher = (*PostgresVectorStore)(nil)
)
