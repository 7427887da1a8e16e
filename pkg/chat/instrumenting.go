package chat

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xhad/gitagpt/internal/models"
	"github.com/xhad/gitagpt/internal/types"
)

var (
	// TurnsTotal counts chat turns.
	// Labels: status (success, invalid, error)
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gitagpt",
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Total number of chat turns by status",
		},
		[]string{"status"},
	)

	// TurnDuration tracks end-to-end turn latency.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gitagpt",
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "Duration of chat turns in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"status"},
	)

	// TurnErrors counts failed or rejected turns.
	// Labels: kind (validation, retrieval, generation, storage, unknown)
	TurnErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "gitagpt",
			Subsystem: "chat",
			Name:      "turn_errors_total",
			Help:      "Total number of chat turn errors by kind",
		},
		[]string{"kind"},
	)

	// SourcesPerTurn tracks how many verses were injected into each prompt.
	SourcesPerTurn = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "gitagpt",
			Subsystem: "chat",
			Name:      "sources_per_turn",
			Help:      "Number of retrieved documents injected per successful turn",
			Buckets:   []float64{0, 1, 2, 4, 8, 16},
		},
	)
)

// InstrumentingMiddleware records prometheus metrics for chat turns.
func InstrumentingMiddleware() ServiceMiddleware {
	return func(next Service) Service {
		return &instrumentingMiddleware{next}
	}
}

type instrumentingMiddleware struct {
	next Service
}

func (mw *instrumentingMiddleware) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	begin := time.Now()
	resp, err := mw.next.Chat(ctx, req)
	observeTurn(begin, resp, err)
	return resp, err
}

func (mw *instrumentingMiddleware) ChatStream(ctx context.Context, req ChatRequest, onChunk func(string) error) (ChatResponse, error) {
	begin := time.Now()
	resp, err := mw.next.ChatStream(ctx, req, onChunk)
	observeTurn(begin, resp, err)
	return resp, err
}

func observeTurn(begin time.Time, resp ChatResponse, err error) {
	status := resp.Status
	if status == "" {
		status = StatusError
	}

	TurnsTotal.WithLabelValues(status).Inc()
	TurnDuration.WithLabelValues(status).Observe(time.Since(begin).Seconds())

	if err != nil {
		TurnErrors.WithLabelValues(types.KindOf(err).String()).Inc()
		return
	}
	SourcesPerTurn.Observe(float64(len(resp.Sources)))
}

func (mw *instrumentingMiddleware) History(ctx context.Context, threadID string) (HistoryResponse, error) {
	return mw.next.History(ctx, threadID)
}

func (mw *instrumentingMiddleware) ListThreads(ctx context.Context) ([]models.ThreadSummary, error) {
	return mw.next.ListThreads(ctx)
}

func (mw *instrumentingMiddleware) DeleteThread(ctx context.Context, threadID string) error {
	return mw.next.DeleteThread(ctx, threadID)
}

func (mw *instrumentingMiddleware) Health(ctx context.Context) HealthResponse {
	return mw.next.Health(ctx)
}
