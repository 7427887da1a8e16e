package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/gitagpt/internal/types"
)

var (
	ErrEmptyInput        = errors.New("empty input")
	ErrInvalidConfig     = errors.New("invalid embedder config")
	ErrEmbeddingFailed   = errors.New("embedding failed")
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// EmbedderConfig selects and configures an embedding backend.
type EmbedderConfig struct {
	Provider  string // fastembed, ollama or openai
	Model     string
	BaseURL   string
	APIKey    string
	CacheDir  string // fastembed model cache
	BatchSize int
}

// EmbeddingProvider is an Embedder that holds releasable resources.
type EmbeddingProvider interface {
	types.Embedder
	Model() string
	Close() error
}

// NewEmbedder builds the configured provider. The model is loaded and
// probed before returning, so a nil error means the embedder is usable.
func NewEmbedder(ctx context.Context, config EmbedderConfig) (EmbeddingProvider, error) {
	if config.BatchSize == 0 {
		config.BatchSize = 256
	}

	switch config.Provider {
	case "fastembed", "":
		if config.Model == "" {
			config.Model = "sentence-transformers/all-MiniLM-L6-v2"
		}
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:     config.Model,
			CacheDir:  config.CacheDir,
			BatchSize: config.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		return p, nil

	case "ollama":
		if config.Model == "" {
			config.Model = "nomic-embed-text:latest"
		}
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
		client, err := ollama.New(ollama.WithModel(config.Model), ollama.WithServerURL(config.BaseURL))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedder: %w", err)
		}
		return newLangchainProvider(ctx, client, config.Model, config.BatchSize)

	case "openai":
		if config.APIKey == "" {
			return nil, fmt.Errorf("%w: api key required for openai", ErrInvalidConfig)
		}
		if config.Model == "" {
			config.Model = "text-embedding-3-small"
		}
		opts := []openai.Option{
			openai.WithEmbeddingModel(config.Model),
			openai.WithToken(config.APIKey),
		}
		if config.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(config.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedder: %w", err)
		}
		return newLangchainProvider(ctx, client, config.Model, config.BatchSize)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q", ErrInvalidConfig, config.Provider)
	}
}

func newLangchainProvider(ctx context.Context, client embeddings.EmbedderClient, model string, batchSize int) (EmbeddingProvider, error) {
	e, err := NewLangchainEmbedder(ctx, client, model, batchSize)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// LangchainEmbedder adapts any langchaingo embedding client.
type LangchainEmbedder struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

// NewLangchainEmbedder wraps client and embeds a probe string to learn the
// vector length. Every later vector must have that length.
func NewLangchainEmbedder(ctx context.Context, client embeddings.EmbedderClient, model string, batchSize int) (*LangchainEmbedder, error) {
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(batchSize))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	probe, err := embedder.EmbedQuery(ctx, "dimension probe")
	if err != nil {
		return nil, fmt.Errorf("%w: loading model %s: %v", ErrEmbeddingFailed, model, err)
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("%w: model %s returned an empty vector", ErrEmbeddingFailed, model)
	}

	return &LangchainEmbedder{
		embedder:  embedder,
		model:     model,
		dimension: len(probe),
	}, nil
}

func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(v), e.dimension)
		}
	}

	return vectors, nil
}

func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrDimensionMismatch, len(vector), e.dimension)
	}

	return vector, nil
}

func (e *LangchainEmbedder) Dimension() int {
	return e.dimension
}

func (e *LangchainEmbedder) Model() string {
	return e.model
}

func (e *LangchainEmbedder) Close() error {
	return nil
}
