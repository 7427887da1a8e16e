// Package conversation stores chat threads.
//
// MemoryStore is for development and tests: history is lost on restart.
// SQLiteStore keeps threads on disk.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/xhad/gitagpt/internal/models"
)

var (
	ErrThreadNotFound   = errors.New("thread not found")
	ErrConcurrentAppend = errors.New("concurrent append to thread")
	ErrEmptyThreadID    = errors.New("thread id is required")
)

type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string][]models.Message)}
}

// Load returns a copy of the thread's history. Unknown threads are empty.
func (s *MemoryStore) Load(_ context.Context, threadID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.threads[threadID]
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, threadID string, messages ...models.Message) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}
	if len(messages) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.threads[threadID] = append(s.threads[threadID], messages...)
	return nil
}

// AppendAt appends only if the thread currently holds exactly expected
// messages.
func (s *MemoryStore) AppendAt(_ context.Context, threadID string, expected int, messages ...models.Message) error {
	if threadID == "" {
		return ErrEmptyThreadID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.threads[threadID]); n != expected {
		return fmt.Errorf("%w: %s has %d messages, expected %d", ErrConcurrentAppend, threadID, n, expected)
	}
	if len(messages) == 0 {
		return nil
	}

	s.threads[threadID] = append(s.threads[threadID], messages...)
	return nil
}

func (s *MemoryStore) ListThreads(_ context.Context) ([]models.ThreadSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ThreadSummary, 0, len(s.threads))
	for id, msgs := range s.threads {
		if len(msgs) == 0 {
			continue
		}
		last := msgs[len(msgs)-1]
		out = append(out, models.ThreadSummary{
			ThreadID:     id,
			MessageCount: len(msgs),
			LastMessage:  last.Content,
			UpdatedAt:    last.CreatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteThread(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[threadID]; !ok {
		return ErrThreadNotFound
	}
	delete(s.threads, threadID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
