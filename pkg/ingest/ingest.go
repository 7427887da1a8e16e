// Package ingest builds the vector index from a directory of record files.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/types"
	"github.com/xhad/gitagpt/pkg/processor"
	"github.com/xhad/gitagpt/pkg/store"
)

// Stage names passed to Options.OnStage.
const (
	StageNormalize = "normalize"
	StageEmbed     = "embed"
	StageSave      = "save"
)

type Options struct {
	DataDir        string
	IndexDir       string
	IndexName      string
	CitationPrefix string

	Embedder types.Embedder

	// PGVector, when set, receives the documents instead of a chromem index
	// written under IndexDir.
	PGVector *store.PGVectorIndex

	OnStage func(stage string)
	Logger  *zap.Logger
}

type Stats struct {
	Documents int           `json:"documents"`
	Skipped   int           `json:"skipped"`
	Dimension int           `json:"dimension"`
	Backend   string        `json:"backend"`
	Took      time.Duration `json:"took"`
}

// Run normalizes every record file in DataDir, embeds the documents and
// persists the index. Malformed records are skipped and counted.
func Run(ctx context.Context, opts Options) (Stats, error) {
	if opts.Embedder == nil {
		return Stats{}, errors.New("embedder is required")
	}
	if opts.IndexName == "" {
		opts.IndexName = "index"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.OnStage == nil {
		opts.OnStage = func(string) {}
	}

	log := opts.Logger.With(zap.String("data_dir", opts.DataDir))
	begin := time.Now()

	opts.OnStage(StageNormalize)
	p := processor.NewWithConfig(processor.ProcessorConfig{
		CitationPrefix: opts.CitationPrefix,
		Logger:         opts.Logger,
	})

	docs, skipped, err := p.LoadDir(opts.DataDir)
	if err != nil {
		return Stats{}, err
	}
	if len(docs) == 0 {
		return Stats{Skipped: len(skipped)}, fmt.Errorf("%w in %s", store.ErrEmptyIndex, opts.DataDir)
	}

	stats := Stats{
		Documents: len(docs),
		Skipped:   len(skipped),
		Dimension: opts.Embedder.Dimension(),
	}

	opts.OnStage(StageEmbed)
	if opts.PGVector != nil {
		stats.Backend = "pgvector"
		// A rebuild replaces the table so removed records and an old
		// vector column do not survive.
		if err := opts.PGVector.Reset(ctx); err != nil {
			return stats, fmt.Errorf("failed to reset pgvector index: %w", err)
		}
		if err := opts.PGVector.Build(ctx, docs, opts.Embedder); err != nil {
			return stats, fmt.Errorf("failed to build pgvector index: %w", err)
		}
		opts.OnStage(StageSave)
	} else {
		stats.Backend = "chromem"
		index, err := store.BuildChromemIndex(ctx, docs, opts.Embedder)
		if err != nil {
			return stats, fmt.Errorf("failed to build index: %w", err)
		}

		opts.OnStage(StageSave)
		if err := index.Save(opts.IndexDir, opts.IndexName); err != nil {
			return stats, fmt.Errorf("failed to save index: %w", err)
		}
	}

	stats.Took = time.Since(begin)
	log.Info("index built",
		zap.String("backend", stats.Backend),
		zap.Int("documents", stats.Documents),
		zap.Int("skipped", stats.Skipped),
		zap.Int("dimension", stats.Dimension),
		zap.Duration("took", stats.Took))

	return stats, nil
}
