package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/pkg/config"
	"github.com/xhad/gitagpt/pkg/ingest"
	"github.com/xhad/gitagpt/pkg/llm"
	"github.com/xhad/gitagpt/pkg/scraper"
	"github.com/xhad/gitagpt/pkg/store"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Build the verse index from the record files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory of JSON record files (overrides ingest.data_dir)",
			},
			&cli.StringFlag{
				Name:  "source-url",
				Usage: "Fetch record files from this URL into the data directory first",
			},
		},
		Action: runIngest,
	}
}

func runIngest(ctx context.Context, cmd *cli.Command) error {
	cfg := configFrom(ctx)
	log := zap.L()

	if dir := cmd.String("data-dir"); dir != "" {
		cfg.Ingest.DataDir = dir
	}
	if u := cmd.String("source-url"); u != "" {
		cfg.Ingest.SourceURL = u
	}

	if cfg.Ingest.SourceURL != "" {
		if err := fetchRecords(ctx, cfg, log); err != nil {
			return err
		}
	}

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return err
	}
	defer embedder.Close()

	opts := ingest.Options{
		DataDir:        cfg.Ingest.DataDir,
		IndexDir:       cfg.Index.Path,
		IndexName:      cfg.Index.Name,
		CitationPrefix: cfg.Retrieval.CitationPrefix,
		Embedder:       embedder,
		Logger:         log,
	}

	if cfg.Index.Backend == "pgvector" {
		pg, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Index.DatabaseURL,
			TableName:  cfg.Index.TableName,
			VectorDim:  embedder.Dimension(),
			BatchSize:  cfg.Index.BatchSize,
			Logger:     log,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize vector store: %w", err)
		}
		defer pg.Close()

		opts.PGVector = pg
	}

	spinner := getSpinner(" Normalizing records...")
	opts.OnStage = func(stage string) {
		switch stage {
		case ingest.StageEmbed:
			spinner.Describe(color.CyanString(" Embedding documents..."))
		case ingest.StageSave:
			spinner.Describe(color.CyanString(" Saving index..."))
		}
		spinner.Add(1)
	}

	stats, err := ingest.Run(ctx, opts)
	spinner.Finish()
	if err != nil {
		color.Red("\nIngestion failed: %v", err)
		return err
	}

	color.Green("\n✓ Indexed %d documents (%d skipped) in %s", stats.Documents, stats.Skipped, stats.Took.Round(time.Millisecond))
	color.Cyan("  backend: %s, dimension: %d", stats.Backend, stats.Dimension)
	return nil
}

func fetchRecords(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	var fetched int32
	bar := getProgressBar(-1, " Fetching records...")

	s, err := scraper.NewWithConfig(scraper.ScraperConfig{
		BaseURL:   cfg.Ingest.SourceURL,
		DestDir:   cfg.Ingest.DataDir,
		MaxDepth:  cfg.Ingest.MaxDepth,
		RateLimit: cfg.Ingest.RateLimit,
		OnProgress: func(string) {
			bar.Set(int(atomic.AddInt32(&fetched, 1)))
		},
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize scraper: %w", err)
	}

	result, err := s.Fetch(ctx)
	bar.Finish()
	if err != nil {
		color.Red("\nFailed to fetch records: %v", err)
		return err
	}

	color.Green("\n✓ Fetched %d record files from %d pages (%d skipped)", len(result.Files), result.Pages, result.Skipped)
	return nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (llm.EmbeddingProvider, error) {
	embedder, err := llm.NewEmbedder(ctx, llm.EmbedderConfig{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		CacheDir:  cfg.Embedding.CacheDir,
		BatchSize: cfg.Embedding.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	return embedder, nil
}
