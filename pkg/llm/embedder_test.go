package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/gitagpt/pkg/llm"
)

// fakeClient returns vectors derived from text length so order is checkable.
type fakeClient struct {
	dim   int
	err   error
	calls int
	short bool
}

func (f *fakeClient) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		n := f.dim
		if f.short && f.calls > 1 {
			n = f.dim - 1
		}
		v := make([]float32, n)
		v[0] = float32(len(text))
		out[i] = v
	}
	return out, nil
}

func TestNewLangchainEmbedder(t *testing.T) {
	emb, err := llm.NewLangchainEmbedder(context.Background(), &fakeClient{dim: 8}, "fake-model", 2)
	require.NoError(t, err)

	assert.Equal(t, 8, emb.Dimension())
	assert.Equal(t, "fake-model", emb.Model())
	assert.NoError(t, emb.Close())
}

func TestNewLangchainEmbedderLoadFailure(t *testing.T) {
	_, err := llm.NewLangchainEmbedder(context.Background(), &fakeClient{err: errors.New("model not found")}, "missing", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrEmbeddingFailed)
}

func TestEmbedDocuments(t *testing.T) {
	client := &fakeClient{dim: 4}
	emb, err := llm.NewLangchainEmbedder(context.Background(), client, "fake-model", 2)
	require.NoError(t, err)

	texts := []string{"a", "bbb", "cc", "dddddd", "e"}
	vectors, err := emb.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, v := range vectors {
		assert.Len(t, v, 4)
		assert.Equal(t, float32(len(texts[i])), v[0], "order must follow input")
	}

	_, err = emb.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, llm.ErrEmptyInput)
}

func TestEmbedQuery(t *testing.T) {
	emb, err := llm.NewLangchainEmbedder(context.Background(), &fakeClient{dim: 4}, "fake-model", 2)
	require.NoError(t, err)

	v, err := emb.EmbedQuery(context.Background(), "What is dharma?")
	require.NoError(t, err)
	assert.Len(t, v, 4)

	_, err = emb.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, llm.ErrEmptyInput)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	emb, err := llm.NewLangchainEmbedder(context.Background(), &fakeClient{dim: 4, short: true}, "drifting", 2)
	require.NoError(t, err)

	_, err = emb.EmbedQuery(context.Background(), "later")
	assert.ErrorIs(t, err, llm.ErrDimensionMismatch)
}

func TestNewEmbedderUnsupported(t *testing.T) {
	_, err := llm.NewEmbedder(context.Background(), llm.EmbedderConfig{Provider: "word2vec"})
	assert.ErrorIs(t, err, llm.ErrInvalidConfig)

	_, err = llm.NewEmbedder(context.Background(), llm.EmbedderConfig{Provider: "openai"})
	assert.ErrorIs(t, err, llm.ErrInvalidConfig)
}
