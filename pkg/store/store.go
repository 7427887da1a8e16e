// Package store holds the vector index backends.
package store

import (
	"errors"

	"github.com/xhad/gitagpt/internal/types"
)

var (
	ErrIndexNotFound     = errors.New("index not found")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrEmptyIndex        = errors.New("no documents to index")
)

type modelNamer interface {
	Model() string
}

func modelName(e types.Embedder) string {
	if m, ok := e.(modelNamer); ok {
		return m.Model()
	}
	return ""
}

func clampK(k, count int) int {
	if k > count {
		return count
	}
	return k
}
