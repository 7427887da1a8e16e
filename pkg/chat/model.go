package chat

import (
	"errors"

	"github.com/xhad/gitagpt/internal/models"
)

// Reply texts shown to the user.
const (
	ValidationReply = "Please enter a valid message."
	FallbackReply   = "🙏 Forgive me, dear devotee. An error occurred. Please try again."
	EmptyReply      = "No response generated."
)

const (
	StatusSuccess = "success"
	StatusInvalid = "invalid"
	StatusError   = "error"
	StatusInfo    = "info"
)

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrEmptyThreadID = errors.New("thread id is required")
	ErrNotSupported  = errors.New("not supported by the conversation store")
)

type ChatRequest struct {
	Message  string `json:"message"`
	ThreadID string `json:"thread_id,omitempty"`
}

type ChatResponse struct {
	Reply    string   `json:"reply"`
	ThreadID string   `json:"thread_id"`
	Status   string   `json:"status"`
	Sources  []string `json:"sources,omitempty"`
}

type HistoryRequest struct {
	ThreadID string `json:"thread_id"`
}

type HistoryResponse struct {
	ThreadID string           `json:"thread_id"`
	Messages []models.Message `json:"messages"`
	Status   string           `json:"status"`
}

type DeleteThreadRequest struct {
	ThreadID string `json:"thread_id"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Retrieval string `json:"retrieval"`
}

// NotSupportedResponse is returned by transports when the store cannot list
// or delete threads.
type NotSupportedResponse struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NotSupported() NotSupportedResponse {
	return NotSupportedResponse{
		Message: "History feature not implemented yet",
		Status:  StatusInfo,
	}
}

// TurnState is the progress of a single chat turn.
type TurnState int

const (
	StateReceivedInput TurnState = iota
	StateHistoryLoaded
	StateContextRetrieved
	StatePromptAssembled
	StateResponseGenerated
	StatePersisted
	StateFailed
)

func (s TurnState) String() string {
	switch s {
	case StateReceivedInput:
		return "received_input"
	case StateHistoryLoaded:
		return "history_loaded"
	case StateContextRetrieved:
		return "context_retrieved"
	case StatePromptAssembled:
		return "prompt_assembled"
	case StateResponseGenerated:
		return "response_generated"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
