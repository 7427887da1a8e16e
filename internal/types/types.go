package types

import (
	"context"

	"github.com/xhad/gitagpt/internal/models"
)

// Core interfaces

// Embedder turns text into fixed-length vectors. All vectors produced by one
// Embedder have length Dimension().
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// VectorIndex is a read-only nearest-neighbour index over documents.
type VectorIndex interface {
	// Search returns at most k documents, most similar first.
	Search(ctx context.Context, query []float32, k int) ([]models.ScoredDocument, error)
	Count() int
	Dimension() int
}

// Generator invokes a generative chat model. When onChunk is non-nil the
// reply is streamed to it as it is produced; the full reply is still returned.
type Generator interface {
	Generate(ctx context.Context, messages []models.Message, onChunk func(chunk string) error) (string, error)
}

// ConversationStore holds ordered message history keyed by thread id.
// Entries are only ever appended.
type ConversationStore interface {
	Load(ctx context.Context, threadID string) ([]models.Message, error)
	Append(ctx context.Context, threadID string, messages ...models.Message) error
}

// ConditionalAppender is implemented by stores that can detect a concurrent
// writer: AppendAt fails unless the thread holds exactly expected messages.
type ConditionalAppender interface {
	AppendAt(ctx context.Context, threadID string, expected int, messages ...models.Message) error
}

// ThreadLister is implemented by stores able to enumerate threads.
type ThreadLister interface {
	ListThreads(ctx context.Context) ([]models.ThreadSummary, error)
}

// ThreadDeleter is implemented by stores supporting explicit thread removal.
type ThreadDeleter interface {
	DeleteThread(ctx context.Context, threadID string) error
}
