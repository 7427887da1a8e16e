package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
)

func LoggingMiddleware(log *zap.Logger) ServiceMiddleware {
	log = log.With(
		zap.String("service", "chat"),
	)

	return func(next Service) Service {
		log.Info("service initialized")

		return &loggingMiddleware{
			log:  log,
			next: next,
		}
	}
}

type loggingMiddleware struct {
	log  *zap.Logger
	next Service
}

func (mw *loggingMiddleware) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	return mw.logTurn("chat", req, func() (ChatResponse, error) {
		return mw.next.Chat(ctx, req)
	})
}

func (mw *loggingMiddleware) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string) error) (ChatResponse, error) {
	return mw.logTurn("chat_stream", req, func() (ChatResponse, error) {
		return mw.next.ChatStream(ctx, req, onChunk)
	})
}

func (mw *loggingMiddleware) logTurn(action string, req ChatRequest, next func() (ChatResponse, error)) (ChatResponse, error) {
	begin := time.Now()

	resp, err := next()

	log := mw.log.With(
		zap.String("action", action),
		zap.String("thread_id", resp.ThreadID),
		zap.String("status", resp.Status),
		zap.Int("message_chars", len([]rune(req.Message))),
		zap.Duration("took", time.Since(begin)),
	)

	if err != nil {
		kind := types.KindOf(err)
		log = log.With(zap.String("error_kind", kind.String()))

		if kind.Fatal() {
			log.Error(err.Error())
		} else {
			log.Warn(err.Error())
		}
		return resp, err
	}

	log.Info("turn completed", zap.Int("sources", len(resp.Sources)))
	return resp, nil
}

func (mw *loggingMiddleware) History(ctx context.Context, threadID string) (HistoryResponse, error) {
	log := mw.log.With(
		zap.String("action", "history"),
		zap.String("thread_id", threadID),
	)

	resp, err := mw.next.History(ctx, threadID)
	if err != nil {
		log.Error(err.Error())
		return resp, err
	}

	log.Info("history loaded", zap.Int("count", len(resp.Messages)))
	return resp, nil
}

func (mw *loggingMiddleware) ListThreads(ctx context.Context) ([]models.ThreadSummary, error) {
	log := mw.log.With(
		zap.String("action", "list_threads"),
	)

	threads, err := mw.next.ListThreads(ctx)
	if err != nil {
		log.Error(err.Error())
		return nil, err
	}

	log.Info("threads listed", zap.Int("count", len(threads)))
	return threads, nil
}

func (mw *loggingMiddleware) DeleteThread(ctx context.Context, threadID string) error {
	log := mw.log.With(
		zap.String("action", "delete_thread"),
		zap.String("thread_id", threadID),
	)

	err := mw.next.DeleteThread(ctx, threadID)
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("thread deleted")
	return nil
}

func (mw *loggingMiddleware) Health(ctx context.Context) HealthResponse {
	return mw.next.Health(ctx)
}
