package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/micro"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/xhad/gitagpt/internal/types"
	"github.com/xhad/gitagpt/pkg/chat"
	"github.com/xhad/gitagpt/pkg/config"
	"github.com/xhad/gitagpt/pkg/conversation"
	"github.com/xhad/gitagpt/pkg/llm"
	"github.com/xhad/gitagpt/pkg/prompt"
	"github.com/xhad/gitagpt/pkg/retriever"
	"github.com/xhad/gitagpt/pkg/store"
	"github.com/xhad/gitagpt/server"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat API over HTTP, WebSocket and NATS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "HTTP listen address (overrides server.addr)",
			},
			&cli.StringFlag{
				Name:    "nats",
				Usage:   "NATS server URL; empty disables the NATS transport",
				Sources: cli.EnvVars("NATS_URL"),
			},
		},
		Action: runServe,
	}
}

// backend is everything a chat turn depends on, plus what must be released
// on shutdown.
type backend struct {
	svc     chat.Service
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func newBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	b := new(backend)

	ok := false
	defer func() {
		if !ok {
			b.Close()
		}
	}()

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	b.closers = append(b.closers, func() { embedder.Close() })

	// A missing index leaves retrieval disabled; turns still succeed
	// without verse context.
	var index types.VectorIndex
	switch cfg.Index.Backend {
	case "pgvector":
		pg, err := store.NewWithConfig(ctx, store.VectorStoreConfig{
			ConnString: cfg.Index.DatabaseURL,
			TableName:  cfg.Index.TableName,
			VectorDim:  embedder.Dimension(),
			BatchSize:  cfg.Index.BatchSize,
			Logger:     log,
		})
		if err != nil {
			log.Warn("index unavailable", zap.String("error_kind", types.KindIndexUnavailable.String()), zap.Error(err))
			break
		}
		b.closers = append(b.closers, pg.Close)
		if pg.Count() == 0 {
			log.Warn("index unavailable", zap.String("error_kind", types.KindIndexUnavailable.String()), zap.Error(store.ErrEmptyIndex))
			break
		}
		index = pg

	default:
		chromemIndex, err := store.LoadChromemIndex(cfg.Index.Path, cfg.Index.Name, embedder)
		if err != nil {
			log.Warn("index unavailable", zap.String("error_kind", types.KindOf(err).String()), zap.Error(err))
			break
		}
		index = chromemIndex
	}

	r := retriever.NewWithConfig(retriever.RetrieverConfig{
		TopK:   cfg.Retrieval.TopK,
		Logger: log,
	}, embedder, index)

	engine, err := llm.NewWithConfig(ctx, llm.ChatConfig{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Timeout:     cfg.LLM.Timeout,
		RateLimit:   cfg.LLM.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chat engine: %w", err)
	}

	persona, err := cfg.PersonaPrompt()
	if err != nil {
		return nil, err
	}

	assembler := prompt.NewWithConfig(prompt.AssemblerConfig{
		Persona:         persona,
		MaxContextChars: cfg.Retrieval.MaxContextChars,
		CitationPrefix:  cfg.Retrieval.CitationPrefix,
	})

	var conversations types.ConversationStore
	switch cfg.Conversation.Store {
	case "sqlite":
		s, err := conversation.NewSQLiteStore(cfg.Conversation.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		b.closers = append(b.closers, func() { s.Close() })
		conversations = s

	default:
		conversations = conversation.NewMemoryStore()
	}

	svc, err := chat.NewService(chat.ServiceConfig{
		Retriever: r,
		Generator: engine,
		Store:     conversations,
		Assembler: assembler,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}

	svc = chat.LoggingMiddleware(log)(svc)
	svc = chat.InstrumentingMiddleware()(svc)

	log.Info("backend ready",
		zap.String("model", engine.Model()),
		zap.String("embedding_model", embedder.Model()),
		zap.Stringer("retriever", r),
		zap.String("conversation_store", cfg.Conversation.Store))

	b.svc = svc
	ok = true
	return b, nil
}

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg := configFrom(ctx)
	log := zap.L()
	defer log.Sync()

	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if natsURL := cmd.String("nats"); natsURL != "" {
		cfg.Server.NATSURL = natsURL
	}

	b, err := newBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	endpoints := chat.MakeEndpoints(b.svc)

	// Add NATS Transport
	if cfg.Server.NATSURL != "" {
		nc, err := nats.Connect(cfg.Server.NATSURL,
			nats.Name("GitaGPT Server"),
		)
		if err != nil {
			return err
		}
		defer nc.Drain()

		srv, err := micro.AddService(nc, micro.Config{
			Name:    "gitagpt",
			Version: version,
		})
		if err != nil {
			return err
		}
		defer srv.Stop()

		root := srv.AddGroup(cfg.Server.NATSSubject)
		if err := server.AddNATSEndpoints(root, endpoints); err != nil {
			return err
		}

		log.Info("nats transport enabled", zap.String("subject", cfg.Server.NATSSubject))
	}

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(endpoints, server.NewWSServer(b.svc, log))

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sign := <-quit:
		log.Info("graceful shutdown", zap.String("signal", sign.String()))
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return httpSrv.Shutdown(shutdownCtx)
}
