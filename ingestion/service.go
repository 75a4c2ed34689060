package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/fabfab/statute-rag/database"
	"github.com/fabfab/statute-rag/embeddings"
	"github.com/fabfab/statute-rag/knowledge"
	"github.com/fabfab/statute-rag/statute"
)

type Options struct {
	LawName   string
	Dimension int
	BatchSize int
}

// Result summarizes one ingestion run.
type Result struct {
	DocumentID string
	SHA        string
	Chunks     int
	// Skipped is set when the stored copy already has the same content hash.
	Skipped bool
}

type Service struct {
	pool     *pgxpool.Pool
	driver   neo4j.DriverWithContext
	embedder embeddings.Embedder
	preparer *Preparer
	opts     Options
	logger   *zap.Logger
}

func NewService(pool *pgxpool.Pool, driver neo4j.DriverWithContext, embedder embeddings.Embedder, preparer *Preparer, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = embeddings.DefaultBatchSize
	}
	return &Service{
		pool:     pool,
		driver:   driver,
		embedder: embedder,
		preparer: preparer,
		opts:     opts,
		logger:   logger,
	}
}

// IngestFile loads, structures, embeds and stores the statute at path,
// replacing any previous copy from the same path. A file whose hash matches
// the stored copy is skipped.
func (s *Service) IngestFile(ctx context.Context, path string) (Result, error) {
	if s.embedder == nil {
		return Result{}, fmt.Errorf("embedder not configured")
	}
	if s.preparer == nil {
		return Result{}, fmt.Errorf("preparer not configured")
	}

	source := filepath.ToSlash(filepath.Clean(path))
	raw, sha, err := Load(ctx, path)
	if err != nil {
		return Result{}, err
	}
	log := s.logger.With(zap.String("source", source), zap.String("sha256", sha))

	if err := database.EnsureStatuteSchema(ctx, s.pool, s.opts.Dimension); err != nil {
		return Result{}, fmt.Errorf("ensure schema: %w", err)
	}

	existingID, existingSHA, err := lookupDocument(ctx, s.pool, source)
	if err != nil {
		return Result{}, err
	}
	if existingSHA == sha {
		log.Info("statute unchanged, skipping", zap.String("document_id", existingID))
		return Result{DocumentID: existingID, SHA: sha, Skipped: true}, nil
	}

	prepared, err := s.preparer.Prepare(ctx, raw)
	if err != nil {
		return Result{}, fmt.Errorf("prepare statute: %w", err)
	}

	texts := make([]string, len(prepared.Chunks))
	for i, c := range prepared.Chunks {
		texts[i] = c.Text
	}
	vectors, err := embeddings.EmbedBatches(ctx, s.embedder, texts, s.opts.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("generate embeddings: %w", err)
	}

	rows, err := newChunkRows(prepared.Chunks, vectors)
	if err != nil {
		return Result{}, err
	}

	docID, err := s.store(ctx, existingID, source, sha, rows)
	if err != nil {
		return Result{}, err
	}

	if s.driver != nil {
		nodes := make([]knowledge.Chunk, len(rows))
		for i, row := range rows {
			nodes[i] = knowledge.Chunk{ID: row.id.String(), Chunk: row.chunk}
		}
		st := knowledge.BuildStatute(docID.String(), s.opts.LawName, sha, source, nodes, prepared.Titles)
		if err := knowledge.SyncStatute(ctx, s.driver, st); err != nil {
			return Result{}, fmt.Errorf("sync knowledge graph: %w", err)
		}
	}

	log.Info("statute ingested", zap.String("document_id", docID.String()), zap.Int("chunks", len(rows)))
	return Result{DocumentID: docID.String(), SHA: sha, Chunks: len(rows)}, nil
}

// Clear removes every stored statute from both databases.
func (s *Service) Clear(ctx context.Context) error {
	if err := database.EnsureStatuteSchema(ctx, s.pool, s.opts.Dimension); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := database.TruncateStatute(ctx, s.pool); err != nil {
		return err
	}
	if s.driver != nil {
		if err := knowledge.PurgeStatutes(ctx, s.driver); err != nil {
			return fmt.Errorf("purge knowledge graph: %w", err)
		}
	}
	s.logger.Info("statute storage cleared")
	return nil
}

// Load extracts the raw text of a source file and hashes its bytes.
func Load(ctx context.Context, path string) (raw, sha string, err error) {
	payload, err := ReadPayload(path)
	if err != nil {
		return "", "", err
	}
	parser, err := ParserFor(payload.Format)
	if err != nil {
		return "", "", err
	}
	raw, err = parser.Parse(ctx, payload)
	if err != nil {
		return "", "", fmt.Errorf("parse %s: %w", payload.Path, err)
	}
	sum := sha256.Sum256(payload.Data)
	return raw, hex.EncodeToString(sum[:]), nil
}

type chunkRow struct {
	id      uuid.UUID
	ordinal int
	chunk   statute.Chunk
	extra   []byte
	vector  pgvector.Vector
}

func newChunkRows(chunks []statute.Chunk, vectors [][]float32) ([]chunkRow, error) {
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedding count mismatch: have %d chunks, %d embeddings", len(chunks), len(vectors))
	}
	rows := make([]chunkRow, len(chunks))
	for i, c := range chunks {
		var extra []byte
		if len(c.Extra) > 0 {
			b, err := json.Marshal(c.Extra)
			if err != nil {
				return nil, fmt.Errorf("encode chunk %d metadata: %w", i, err)
			}
			extra = b
		}
		rows[i] = chunkRow{
			id:      uuid.New(),
			ordinal: i,
			chunk:   c,
			extra:   extra,
			vector:  pgvector.NewVector(vectors[i]),
		}
	}
	return rows, nil
}

func (s *Service) store(ctx context.Context, existingID, source, sha string, rows []chunkRow) (docID uuid.UUID, err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if existingID == "" {
		docID = uuid.New()
		if _, err = tx.Exec(ctx, `
			INSERT INTO statute_documents (id, source_path, law_name, sha256, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
		`, docID, source, s.opts.LawName, sha); err != nil {
			return uuid.Nil, fmt.Errorf("insert document: %w", err)
		}
	} else {
		if docID, err = uuid.Parse(existingID); err != nil {
			return uuid.Nil, fmt.Errorf("parse document id: %w", err)
		}
		if _, err = tx.Exec(ctx, `
			UPDATE statute_documents
			SET law_name = $2,
			    sha256 = $3,
			    updated_at = NOW()
			WHERE id = $1
		`, docID, s.opts.LawName, sha); err != nil {
			return uuid.Nil, fmt.Errorf("update document: %w", err)
		}
		if _, err = tx.Exec(ctx, "DELETE FROM statute_chunks WHERE document_id = $1", docID); err != nil {
			return uuid.Nil, fmt.Errorf("clear existing chunks: %w", err)
		}
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`
			INSERT INTO statute_chunks (id, document_id, ordinal, part, section, article_number, chunk_index, total_chunks, extra, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, row.id, docID, row.ordinal, row.chunk.Part, row.chunk.Section, row.chunk.ArticleNumber,
			row.chunk.ChunkIndex, row.chunk.TotalChunks, row.extra, row.chunk.Text, row.vector)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range rows {
		if _, err = br.Exec(); err != nil {
			_ = br.Close()
			return uuid.Nil, fmt.Errorf("insert chunk %d: %w", i, err)
		}
	}
	if err = br.Close(); err != nil {
		return uuid.Nil, fmt.Errorf("close chunk batch: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit transaction: %w", err)
	}
	return docID, nil
}

func lookupDocument(ctx context.Context, pool *pgxpool.Pool, source string) (id, sha string, err error) {
	err = pool.QueryRow(ctx, "SELECT id::text, sha256 FROM statute_documents WHERE source_path = $1", source).Scan(&id, &sha)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("query document: %w", err)
	}
	return id, sha, nil
}
