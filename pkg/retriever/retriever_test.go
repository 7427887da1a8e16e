package retriever_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
	"github.com/xhad/gitagpt/pkg/retriever"
)

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, f.err
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

type fakeIndex struct {
	docs  []models.ScoredDocument
	err   error
	gotK  int
	calls int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]models.ScoredDocument, error) {
	f.calls++
	f.gotK = k
	if f.err != nil {
		return nil, f.err
	}
	if k > len(f.docs) {
		k = len(f.docs)
	}
	return f.docs[:k], nil
}

func (f *fakeIndex) Count() int     { return len(f.docs) }
func (f *fakeIndex) Dimension() int { return 2 }

func scored(ids ...string) []models.ScoredDocument {
	out := make([]models.ScoredDocument, len(ids))
	for i, id := range ids {
		out[i] = models.ScoredDocument{
			Document: models.Document{ID: id, Content: "content " + id, Metadata: map[string]string{"verse_id": "BG " + id}},
			Score:    1 - float32(i)*0.1,
		}
	}
	return out
}

func TestRetrieve(t *testing.T) {
	index := &fakeIndex{docs: scored("2.47", "3.8", "18.66", "9.26", "4.7")}
	r := retriever.NewWithConfig(retriever.RetrieverConfig{}, &fakeEmbedder{}, index)

	require.True(t, r.Available())

	docs, err := r.Retrieve(context.Background(), "What is dharma?")
	require.NoError(t, err)
	assert.Equal(t, 4, index.gotK)
	require.Len(t, docs, 4)
	assert.Equal(t, "2.47", docs[0].ID)
	assert.Equal(t, "BG 2.47", docs[0].Metadata["verse_id"])

	docs, err = r.RetrieveK(context.Background(), "duty", 2)
	require.NoError(t, err)
	assert.Len(t, docs, 2)
}

func TestRetrieveUnavailable(t *testing.T) {
	r := retriever.NewWithConfig(retriever.RetrieverConfig{TopK: 3}, &fakeEmbedder{}, nil)

	assert.False(t, r.Available())
	assert.Equal(t, "retriever(unavailable)", r.String())

	docs, err := r.Retrieve(context.Background(), "What is dharma?")
	assert.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestRetrieveErrors(t *testing.T) {
	t.Run("embedding", func(t *testing.T) {
		index := &fakeIndex{docs: scored("1.1")}
		r := retriever.NewWithConfig(retriever.RetrieverConfig{}, &fakeEmbedder{err: errors.New("onnx failure")}, index)

		_, err := r.Retrieve(context.Background(), "q")
		require.Error(t, err)
		assert.Equal(t, types.KindRetrieval, types.KindOf(err))
		assert.Equal(t, 0, index.calls)
	})

	t.Run("search", func(t *testing.T) {
		index := &fakeIndex{err: errors.New("corrupt")}
		r := retriever.NewWithConfig(retriever.RetrieverConfig{}, &fakeEmbedder{}, index)

		_, err := r.Retrieve(context.Background(), "q")
		require.Error(t, err)
		assert.Equal(t, types.KindRetrieval, types.KindOf(err))
	})
}
