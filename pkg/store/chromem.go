package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
)

const collectionName = "documents"

// Manifest describes a saved index. It is written next to the data file.
type Manifest struct {
	Name      string    `json:"name"`
	Model     string    `json:"model,omitempty"`
	Dimension int       `json:"dimension"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
}

// ChromemIndex is an exact cosine index kept in memory and persisted as a
// single compressed file.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	dimension  int
	model      string
}

// BuildChromemIndex embeds all documents in one batch call and indexes them.
func BuildChromemIndex(ctx context.Context, docs []models.Document, embedder types.Embedder) (*ChromemIndex, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyIndex
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding documents: %w", err)
	}
	if len(vectors) != len(docs) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(docs))
	}

	dim := embedder.Dimension()
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if len(vectors[i]) != dim {
			return nil, fmt.Errorf("%w: document %d has %d values, want %d", ErrDimensionMismatch, i, len(vectors[i]), dim)
		}
		id := doc.ID
		if id == "" {
			id = fmt.Sprintf("doc-%d", i)
		}
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Metadata:  doc.Metadata,
			Embedding: vectors[i],
			Content:   doc.Content,
		}
	}

	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection(collectionName, nil, queryFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}

	if err := collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	return &ChromemIndex{
		db:         db,
		collection: collection,
		dimension:  dim,
		model:      modelName(embedder),
	}, nil
}

// LoadChromemIndex reads an index saved with Save. The embedder must
// produce vectors of the dimension recorded at build time.
func LoadChromemIndex(dir, name string, embedder types.Embedder) (*ChromemIndex, error) {
	manifest, err := ReadManifest(dir, name)
	if err != nil {
		return nil, types.NewError(types.KindIndexUnavailable, "load index", err)
	}

	if embedder.Dimension() != manifest.Dimension {
		return nil, types.NewError(types.KindIndexUnavailable, "load index",
			fmt.Errorf("%w: index %s has %d, embedder produces %d", ErrDimensionMismatch, name, manifest.Dimension, embedder.Dimension()))
	}

	db := chromem.NewDB()
	if err := db.ImportFromFile(dataPath(dir, name), ""); err != nil {
		return nil, types.NewError(types.KindIndexUnavailable, "load index", fmt.Errorf("importing %s: %w", name, err))
	}

	collection := db.GetCollection(collectionName, queryFunc(embedder))
	if collection == nil {
		return nil, types.NewError(types.KindIndexUnavailable, "load index", fmt.Errorf("%w: %s has no document collection", ErrIndexNotFound, name))
	}

	return &ChromemIndex{
		db:         db,
		collection: collection,
		dimension:  manifest.Dimension,
		model:      manifest.Model,
	}, nil
}

// ReadManifest returns the manifest of a saved index.
func ReadManifest(dir, name string) (Manifest, error) {
	var m Manifest

	data, err := os.ReadFile(manifestPath(dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return m, fmt.Errorf("%w: %s in %s", ErrIndexNotFound, name, dir)
	}
	if err != nil {
		return m, fmt.Errorf("reading manifest: %w", err)
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("parsing manifest: %w", err)
	}
	if m.Dimension < 1 {
		return m, fmt.Errorf("manifest for %s has no dimension", name)
	}

	return m, nil
}

// Save writes <name>.gob.gz and <name>.manifest.json into dir.
func (i *ChromemIndex) Save(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	if err := i.db.ExportToFile(dataPath(dir, name), true, "", collectionName); err != nil {
		return fmt.Errorf("exporting index: %w", err)
	}

	data, err := json.MarshalIndent(Manifest{
		Name:      name,
		Model:     i.model,
		Dimension: i.dimension,
		Count:     i.Count(),
		CreatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	if err := os.WriteFile(manifestPath(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	return nil
}

// tieSlack is how many results beyond k are fetched so documents tied with
// the k-th result can be ordered by id.
const tieSlack = 8

// Search returns up to k documents, most similar first. Score is cosine
// similarity; equal scores are ordered by ascending id.
func (i *ChromemIndex) Search(ctx context.Context, vector []float32, k int) ([]models.ScoredDocument, error) {
	if len(vector) != i.dimension {
		return nil, fmt.Errorf("%w: query has %d values, want %d", ErrDimensionMismatch, len(vector), i.dimension)
	}

	count := i.collection.Count()
	k = clampK(k, count)
	if k <= 0 {
		return []models.ScoredDocument{}, nil
	}

	// chromem orders equal similarities arbitrarily. Widen the window until
	// it ends below the k-th score, so the whole tie group is present.
	n := min(count, k+tieSlack)
	var results []chromem.Result
	for {
		var err error
		results, err = i.collection.QueryEmbedding(ctx, vector, n, nil, nil)
		if err != nil {
			return nil, fmt.Errorf("querying index: %w", err)
		}
		if n == count || results[n-1].Similarity < results[k-1].Similarity {
			break
		}
		n = min(count, n*2)
	}

	sort.SliceStable(results, func(a, b int) bool {
		if results[a].Similarity != results[b].Similarity {
			return results[a].Similarity > results[b].Similarity
		}
		return results[a].ID < results[b].ID
	})
	results = results[:k]

	docs := make([]models.ScoredDocument, len(results))
	for n, r := range results {
		docs[n] = models.ScoredDocument{
			Document: models.Document{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: r.Metadata,
			},
			Score: r.Similarity,
		}
	}

	return docs, nil
}

func (i *ChromemIndex) Count() int {
	return i.collection.Count()
}

func (i *ChromemIndex) Dimension() int {
	return i.dimension
}

func (i *ChromemIndex) Model() string {
	return i.model
}

func queryFunc(embedder types.Embedder) chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
}

func dataPath(dir, name string) string {
	return filepath.Join(dir, name+".gob.gz")
}

func manifestPath(dir, name string) string {
	return filepath.Join(dir, name+".manifest.json")
}
