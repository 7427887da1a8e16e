// Package retriever finds the passages most relevant to a question.
package retriever

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
)

type RetrieverConfig struct {
	TopK   int
	Logger *zap.Logger
}

// Retriever embeds a query and searches the index. A Retriever without an
// index is valid and always returns no documents.
type Retriever struct {
	config   RetrieverConfig
	embedder types.Embedder
	index    types.VectorIndex
}

func NewWithConfig(config RetrieverConfig, embedder types.Embedder, index types.VectorIndex) *Retriever {
	if config.TopK <= 0 {
		config.TopK = 4
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Retriever{
		config:   config,
		embedder: embedder,
		index:    index,
	}
}

// Available reports whether an index and embedder were supplied.
func (r *Retriever) Available() bool {
	return r.index != nil && r.embedder != nil
}

// Retrieve returns up to TopK documents for query.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.Document, error) {
	return r.RetrieveK(ctx, query, r.config.TopK)
}

// RetrieveK is Retrieve with an explicit k.
func (r *Retriever) RetrieveK(ctx context.Context, query string, k int) ([]models.Document, error) {
	if !r.Available() {
		return []models.Document{}, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, types.NewError(types.KindRetrieval, "embed query", err)
	}

	hits, err := r.index.Search(ctx, vector, k)
	if err != nil {
		return nil, types.NewError(types.KindRetrieval, "search", err)
	}

	docs := make([]models.Document, len(hits))
	for i, h := range hits {
		docs[i] = h.Document
	}

	r.config.Logger.Debug("retrieved documents",
		zap.Int("k", k),
		zap.Int("hits", len(docs)),
		zap.Strings("citations", citations(docs)))

	return docs, nil
}

func citations(docs []models.Document) []string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.CitationID(i)
	}
	return ids
}

// String is used in startup logs.
func (r *Retriever) String() string {
	if !r.Available() {
		return "retriever(unavailable)"
	}
	return fmt.Sprintf("retriever(k=%d, documents=%d, dim=%d)", r.config.TopK, r.index.Count(), r.index.Dimension())
}
