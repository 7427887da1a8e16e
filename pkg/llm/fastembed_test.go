//go:build cgo

package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubONNX returns vectors of a fixed length regardless of input.
type stubONNX struct {
	length int
}

func (s stubONNX) vector() []float32 {
	return make([]float32, s.length)
}

func (s stubONNX) PassageEmbed(input []string, _ int) ([][]float32, error) {
	out := make([][]float32, len(input))
	for i := range out {
		out[i] = s.vector()
	}
	return out, nil
}

func (s stubONNX) QueryEmbed(string) ([]float32, error) {
	return s.vector(), nil
}

func (stubONNX) Destroy() error { return nil }

func TestFastEmbedDimensionCheck(t *testing.T) {
	ctx := context.Background()

	ok := &FastEmbedProvider{model: stubONNX{length: 384}, dimension: 384, batchSize: 8}

	vec, err := ok.EmbedQuery(ctx, "What is dharma?")
	require.NoError(t, err)
	assert.Len(t, vec, 384)

	vecs, err := ok.EmbedDocuments(ctx, []string{"duty", "devotion"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)

	short := &FastEmbedProvider{model: stubONNX{length: 128}, dimension: 384, batchSize: 8}

	_, err = short.EmbedQuery(ctx, "What is dharma?")
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = short.EmbedDocuments(ctx, []string{"duty"})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = ok.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	require.NoError(t, ok.Close())
	assert.Nil(t, ok.model)
}
