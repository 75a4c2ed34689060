package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the part of pgxpool.Pool and pgx.Tx used for schema management.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func EnsureStatuteSchema(ctx context.Context, db Execer, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS statute_documents (
			id UUID PRIMARY KEY,
			source_path TEXT UNIQUE NOT NULL,
			law_name TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS statute_chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES statute_documents(id) ON DELETE CASCADE,
			ordinal INT NOT NULL,
			part TEXT NOT NULL DEFAULT '',
			section TEXT NOT NULL DEFAULT '',
			article_number TEXT NOT NULL DEFAULT '',
			chunk_index INT NOT NULL,
			total_chunks INT NOT NULL,
			extra JSONB,
			content TEXT NOT NULL,
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE(document_id, ordinal)
		)`, dimension),
		"CREATE INDEX IF NOT EXISTS idx_statute_chunks_document ON statute_chunks(document_id)",
		"CREATE INDEX IF NOT EXISTS idx_statute_chunks_article ON statute_chunks(article_number) WHERE article_number <> ''",
		"CREATE INDEX IF NOT EXISTS idx_statute_chunks_section ON statute_chunks(part, section)",
		"CREATE INDEX IF NOT EXISTS idx_statute_chunks_embedding ON statute_chunks USING ivfflat (embedding vector_l2_ops)",
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// TruncateStatute removes every stored document and chunk.
func TruncateStatute(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, "TRUNCATE statute_chunks, statute_documents"); err != nil {
		return fmt.Errorf("truncate statute tables: %w", err)
	}
	return nil
}
