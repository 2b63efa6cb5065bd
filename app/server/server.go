package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"

	"ragserver/app/agent"
	"ragserver/app/api"
	"ragserver/config"
	"ragserver/engine"
	"ragserver/ingest"
	"ragserver/model"
	"ragserver/store"
)

// Server wires the configuration into the store, embedding service,
// ingestion orchestrator and query engine, and serves the HTTP API.
type Server struct {
	cfg    *config.Config
	app    *fiber.App
	store  store.VectorStorer
	ingest *ingest.Service
	logger *slog.Logger
}

func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: slog.Default().With("component", "server"),
	}
}

// Run assembles all components and blocks serving HTTP until Stop.
func (s *Server) Run(ctx context.Context) error {
	vs, err := s.buildStore(ctx)
	if err != nil {
		return fmt.Errorf("build vector store: %w", err)
	}
	if err := vs.Init(ctx); err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	s.store = vs

	embedder, err := s.buildEmbedder()
	if err != nil {
		return err
	}

	registry := ingest.NewRegistry(s.cfg.Data.StatusDir)
	if err := registry.Restore(); err != nil {
		return fmt.Errorf("restore document registry: %w", err)
	}
	s.ingest = ingest.NewService(s.cfg, registry, embedder, vs)
	s.ingest.Start(ctx)

	ranker := engine.NewRanker(vs,
		s.cfg.Retrieval.SimilarityThreshold,
		s.cfg.Retrieval.UseReranking,
		s.cfg.Retrieval.RerankMultiplier,
	)
	generator := agent.NewOllamaGenerator(
		s.cfg.Generation.URL,
		s.cfg.Generation.Model,
		time.Duration(s.cfg.Generation.TimeoutSecs)*time.Second,
	)
	synth := agent.NewSynthesizer(generator, s.cfg.Generation.SystemPrompt, s.cfg.Generation.MaxContextTokens)
	query := engine.NewQueryService(embedder, ranker, synth, s.cfg.Retrieval.TopK)

	s.app = s.buildApp(vs, query)

	s.logger.Info("server listening", slog.String("addr", s.cfg.Server.Addr))
	return s.app.Listen(s.cfg.Server.Addr)
}

// Stop shuts the HTTP listener, drains the ingestion workers and closes the
// store, in that order.
func (s *Server) Stop() {
	if s.app != nil {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Error("http shutdown", slog.Any("error", err))
		}
	}
	if s.ingest != nil {
		s.ingest.Stop()
	}
	if s.store != nil {
		s.store.Close()
	}
	s.logger.Info("server stopped")
}

func (s *Server) buildStore(ctx context.Context) (store.VectorStorer, error) {
	switch s.cfg.Store.Provider {
	case "memory":
		return store.NewMemoryStore(s.cfg.Embedding.Dimension), nil
	case "postgres":
		return store.NewPostgresStore(ctx, config.PostgresDSN(), s.cfg.Embedding.Dimension)
	default:
		return nil, fmt.Errorf("unknown store provider %q", s.cfg.Store.Provider)
	}
}

func (s *Server) buildEmbedder() (*model.EmbeddingService, error) {
	timeout := time.Duration(s.cfg.Embedding.TimeoutSecs) * time.Second
	var provider model.EmbeddingProvider
	switch s.cfg.Embedding.Provider {
	case "ollama":
		provider = model.NewOllamaProvider(s.cfg.Embedding.URL, s.cfg.Embedding.Model, timeout)
	case "openai":
		provider = model.NewOpenAIProvider(
			s.cfg.Embedding.URL,
			os.Getenv(s.cfg.Embedding.APIKeyEnv),
			s.cfg.Embedding.Model,
			timeout,
		)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", s.cfg.Embedding.Provider)
	}
	return model.NewEmbeddingService(provider,
		s.cfg.Embedding.Dimension,
		s.cfg.Embedding.BatchSize,
		s.cfg.Embedding.MaxAttempts,
	), nil
}

func (s *Server) buildApp(vs store.VectorStorer, query *engine.QueryService) *fiber.App {
	var (
		app = fiber.New(fiber.Config{
			ErrorHandler: api.ErrorHandler,
			BodyLimit:    64 << 20,
		})
		checkHandler  = api.NewCheckHandler()
		ingestHandler = api.NewIngestHandler(s.ingest)
		queryHandler  = api.NewQueryHandler(query)
		adminHandler  = api.NewAdminHandler(vs, s.ingest, query)
		check         = app.Group("/check")
		apiv1         = app.Group("/api/v1")
	)

	check.Get("/healthy", checkHandler.HandleHealthy)

	apiv1.Post("/ingest/upload", ingestHandler.HandleUpload)
	apiv1.Post("/ingest/url", ingestHandler.HandleIngestURL)
	apiv1.Get("/ingest/status/:id", ingestHandler.HandleStatus)
	apiv1.Get("/documents", ingestHandler.HandleListDocuments)
	apiv1.Delete("/documents/:id", ingestHandler.HandleDeleteDocument)
	apiv1.Post("/query", queryHandler.HandleQuery)
	apiv1.Get("/admin/stats", adminHandler.HandleStats)

	return app
}
