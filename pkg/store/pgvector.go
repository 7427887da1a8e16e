package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
)

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	Logger     *zap.Logger
}

// PGVectorIndex keeps the index in PostgreSQL. The table is the persisted
// form, so there is no separate save step.
type PGVectorIndex struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	count  int
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*PGVectorIndex, error) {
	if config.TableName == "" {
		config.TableName = "gita_documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 384 // all-MiniLM-L6-v2
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, types.NewError(types.KindIndexUnavailable, "connect", fmt.Errorf("failed to connect to database: %w", err))
	}

	vs := &PGVectorIndex{
		config: config,
		pool:   pool,
	}

	if err := vs.initialize(ctx); err != nil {
		pool.Close()
		return nil, types.NewError(types.KindIndexUnavailable, "initialize", err)
	}

	if err := vs.refreshCount(ctx); err != nil {
		pool.Close()
		return nil, types.NewError(types.KindIndexUnavailable, "count", err)
	}

	return vs, nil
}

func (vs *PGVectorIndex) initialize(ctx context.Context) error {
	// Enable pgvector extension
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		vs.config.TableName, vs.config.TableName)

	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

func (vs *PGVectorIndex) refreshCount(ctx context.Context) error {
	var n int
	query := fmt.Sprintf("SELECT count(*) FROM %s", vs.config.TableName)
	if err := vs.pool.QueryRow(ctx, query).Scan(&n); err != nil {
		return fmt.Errorf("failed to count documents: %w", err)
	}
	vs.count = n
	return nil
}

// Build embeds docs in one call and upserts them in batches inside a single
// transaction.
func (vs *PGVectorIndex) Build(ctx context.Context, docs []models.Document, embedder types.Embedder) error {
	if len(docs) == 0 {
		return ErrEmptyIndex
	}
	if embedder.Dimension() != vs.config.VectorDim {
		return fmt.Errorf("%w: table %s has %d, embedder produces %d",
			ErrDimensionMismatch, vs.config.TableName, vs.config.VectorDim, embedder.Dimension())
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to create embeddings: %w", err)
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		err := tx.SendBatch(ctx, batch).Close()
		batch = &pgx.Batch{}
		return err
	}

	for i, doc := range docs {
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("doc-%d", i)
		}
		batch.Queue(stmt, id, strings.ToValidUTF8(doc.Content, ""), pgvector.NewVector(vectors[i]), doc.Metadata)

		if batch.Len() >= vs.config.BatchSize {
			if err := flush(); err != nil {
				return fmt.Errorf("failed to insert documents: %w", err)
			}
		}
	}
	if err := flush(); err != nil {
		return fmt.Errorf("failed to insert documents: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	vs.config.Logger.Info("indexed documents",
		zap.String("table", vs.config.TableName),
		zap.Int("documents", len(docs)))

	return vs.refreshCount(ctx)
}

func (vs *PGVectorIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredDocument, error) {
	if len(vector) != vs.config.VectorDim {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(vector), vs.config.VectorDim)
	}

	k = clampK(k, vs.count)
	if k <= 0 {
		return []models.ScoredDocument{}, nil
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, id
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(vector), k)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []models.ScoredDocument
	for rows.Next() {
		var (
			doc   models.ScoredDocument
			score float64
		)
		if err := rows.Scan(&doc.ID, &doc.Content, &doc.Metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		doc.Score = float32(score)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return docs, nil
}

func (vs *PGVectorIndex) Count() int {
	return vs.count
}

func (vs *PGVectorIndex) Dimension() int {
	return vs.config.VectorDim
}

// Reset drops and recreates the table so a rebuild starts empty.
func (vs *PGVectorIndex) Reset(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", vs.config.TableName)); err != nil {
		return fmt.Errorf("failed to drop table: %w", err)
	}
	vs.count = 0
	return vs.initialize(ctx)
}

func (vs *PGVectorIndex) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
