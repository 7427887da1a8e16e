package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"plain error", base, KindUnknown},
		{"direct", NewError(KindRetrieval, "retrieve", base), KindRetrieval},
		{"wrapped", fmt.Errorf("turn: %w", NewError(KindGeneration, "generate", base)), KindGeneration},
		{"nil", nil, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNewErrorNil(t *testing.T) {
	assert.Nil(t, NewError(KindStorage, "append", nil))
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("index missing")
	err := NewError(KindIndexUnavailable, "load index", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "load index: index missing", err.Error())
}

func TestFatal(t *testing.T) {
	assert.True(t, KindGeneration.Fatal())
	assert.True(t, KindStorage.Fatal())
	assert.False(t, KindRetrieval.Fatal())
	assert.False(t, KindIngestionRecord.Fatal())
	assert.False(t, KindIndexUnavailable.Fatal())
	assert.False(t, KindValidation.Fatal())
}
