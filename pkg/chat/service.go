// Package chat runs chat turns: load the thread, retrieve verses, assemble
// the prompt, generate a reply and persist it.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
	"github.com/xhad/gitagpt/pkg/prompt"
)

// Service defines the chat operations exposed to every transport.
type Service interface {

	// Chat runs one turn and returns the complete reply. The response is
	// always safe to show; a non-nil error is for operational logging only.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)

	// ChatStream is Chat with the reply streamed to onChunk as it is produced.
	ChatStream(ctx context.Context, req ChatRequest, onChunk func(chunk string) error) (ChatResponse, error)

	// History returns the user and assistant messages of a thread.
	History(ctx context.Context, threadID string) (HistoryResponse, error)

	// ListThreads enumerates stored threads, most recently updated first.
	ListThreads(ctx context.Context) ([]models.ThreadSummary, error)

	// DeleteThread removes a thread and all its messages.
	DeleteThread(ctx context.Context, threadID string) error

	// Health returns a fixed liveness payload.
	Health(ctx context.Context) HealthResponse
}

type ServiceMiddleware func(Service) Service

// Retriever is the subset of retriever.Retriever used by the service.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.Document, error)
	Available() bool
}

// ServiceConfig holds the dependencies of a Service. Everything except
// Retriever is required; a nil Retriever means retrieval is unavailable.
type ServiceConfig struct {
	Retriever   Retriever
	Generator   types.Generator
	Store       types.ConversationStore
	Assembler   *prompt.Assembler
	Logger      *zap.Logger
	NewThreadID func() string
}

func NewService(cfg ServiceConfig) (Service, error) {
	if cfg.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("conversation store is required")
	}
	if cfg.Assembler == nil {
		cfg.Assembler = prompt.NewWithConfig(prompt.AssemblerConfig{})
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.NewThreadID == nil {
		cfg.NewThreadID = uuid.NewString
	}

	return &service{
		cfg: cfg,
		log: cfg.Logger.With(zap.String("service", "chat")),
	}, nil
}

type service struct {
	cfg ServiceConfig
	log *zap.Logger
}

func (svc *service) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return svc.ChatStream(ctx, req, nil)
}

func (svc *service) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string) error) (ChatResponse, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		resp := ChatResponse{
			Reply:    ValidationReply,
			ThreadID: req.ThreadID,
			Status:   StatusInvalid,
		}
		return resp, types.NewError(types.KindValidation, "chat", ErrEmptyMessage)
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = svc.cfg.NewThreadID()
	}

	t := &turn{
		log:   svc.log.With(zap.String("thread_id", threadID)),
		state: StateReceivedInput,
	}

	reply, sources, err := svc.run(ctx, t, threadID, message, onChunk)
	if err != nil {
		t.advance(StateFailed)
		return ChatResponse{
			Reply:    FallbackReply,
			ThreadID: threadID,
			Status:   StatusError,
		}, err
	}

	return ChatResponse{
		Reply:    reply,
		ThreadID: threadID,
		Status:   StatusSuccess,
		Sources:  sources,
	}, nil
}

func (svc *service) run(ctx context.Context, t *turn, threadID, message string, onChunk func(string) error) (string, []string, error) {
	history, err := svc.cfg.Store.Load(ctx, threadID)
	if err != nil {
		return "", nil, types.NewError(types.KindStorage, "load history", err)
	}

	pending := make([]models.Message, 0, 2)
	if !prompt.HasPersona(history) {
		pending = append(pending, models.SystemMessage(svc.cfg.Assembler.Persona()))
	}
	pending = append(pending, models.UserMessage(message))

	if err := svc.append(ctx, threadID, len(history), pending); err != nil {
		return "", nil, types.NewError(types.KindStorage, "append user message", err)
	}
	history = append(history, pending...)
	t.advance(StateHistoryLoaded)

	docs := svc.retrieve(ctx, t, message)
	t.advance(StateContextRetrieved)

	msgs := svc.cfg.Assembler.Assemble(history, docs)
	t.advance(StatePromptAssembled)

	reply, err := svc.cfg.Generator.Generate(ctx, msgs, onChunk)
	if err != nil {
		if types.KindOf(err) == types.KindUnknown {
			err = types.NewError(types.KindGeneration, "generate", err)
		}
		return "", nil, err
	}
	if strings.TrimSpace(reply) == "" {
		reply = EmptyReply
	}
	t.advance(StateResponseGenerated)

	if err := svc.append(ctx, threadID, len(history), []models.Message{models.AssistantMessage(reply)}); err != nil {
		return "", nil, types.NewError(types.KindStorage, "append reply", err)
	}
	t.advance(StatePersisted)

	sources := make([]string, len(docs))
	for i, d := range docs {
		sources[i] = d.CitationID(i)
	}
	return reply, sources, nil
}

// retrieve never fails the turn; errors degrade to an empty context.
func (svc *service) retrieve(ctx context.Context, t *turn, query string) []models.Document {
	if svc.cfg.Retriever == nil || !svc.cfg.Retriever.Available() {
		return nil
	}

	docs, err := svc.cfg.Retriever.Retrieve(ctx, query)
	if err != nil {
		t.log.Warn("retrieval failed, continuing without context",
			zap.String("error_kind", types.KindOf(err).String()),
			zap.Error(err))
		return nil
	}
	return docs
}

// append uses the store's conditional append when it has one, so a
// concurrent writer on the same thread is detected instead of interleaved.
func (svc *service) append(ctx context.Context, threadID string, expected int, msgs []models.Message) error {
	if ca, ok := svc.cfg.Store.(types.ConditionalAppender); ok {
		return ca.AppendAt(ctx, threadID, expected, msgs...)
	}
	return svc.cfg.Store.Append(ctx, threadID, msgs...)
}

func (svc *service) History(ctx context.Context, threadID string) (HistoryResponse, error) {
	if threadID == "" {
		return HistoryResponse{}, types.NewError(types.KindValidation, "history", ErrEmptyThreadID)
	}

	msgs, err := svc.cfg.Store.Load(ctx, threadID)
	if err != nil {
		return HistoryResponse{}, types.NewError(types.KindStorage, "history", err)
	}

	visible := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		visible = append(visible, m)
	}

	return HistoryResponse{
		ThreadID: threadID,
		Messages: visible,
		Status:   StatusSuccess,
	}, nil
}

func (svc *service) ListThreads(ctx context.Context) ([]models.ThreadSummary, error) {
	lister, ok := svc.cfg.Store.(types.ThreadLister)
	if !ok {
		return nil, ErrNotSupported
	}

	threads, err := lister.ListThreads(ctx)
	if err != nil {
		return nil, types.NewError(types.KindStorage, "list threads", err)
	}
	return threads, nil
}

func (svc *service) DeleteThread(ctx context.Context, threadID string) error {
	if threadID == "" {
		return types.NewError(types.KindValidation, "delete thread", ErrEmptyThreadID)
	}

	deleter, ok := svc.cfg.Store.(types.ThreadDeleter)
	if !ok {
		return ErrNotSupported
	}

	if err := deleter.DeleteThread(ctx, threadID); err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

func (svc *service) Health(_ context.Context) HealthResponse {
	retrieval := "unavailable"
	if svc.cfg.Retriever != nil && svc.cfg.Retriever.Available() {
		retrieval = "available"
	}

	return HealthResponse{
		Status:    "healthy",
		Message:   "Backend is online",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Retrieval: retrieval,
	}
}

type turn struct {
	log   *zap.Logger
	state TurnState
}

func (t *turn) advance(next TurnState) {
	t.log.Debug("turn state",
		zap.Stringer("from", t.state),
		zap.Stringer("to", next))
	t.state = next
}
