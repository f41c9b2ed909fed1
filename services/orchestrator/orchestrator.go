// Copyright (C) 2025 ReplyForge Labs (oss@replyforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator assembles the ReplyForge service: document store,
// vector index, ingestion and retrieval engines, webhook pipeline, and the
// HTTP surface on top of them.
//
// Hosted deployments inject their own extensions.ServiceOptions; the open
// source build runs with the no-op defaults and needs nothing beyond a
// Weaviate instance and an embedding backend.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/replyforge/replyforge/pkg/extensions"
	"github.com/replyforge/replyforge/pkg/weburl"
	"github.com/replyforge/replyforge/services/embedding"
	"github.com/replyforge/replyforge/services/llm"
	"github.com/replyforge/replyforge/services/orchestrator/config"
	"github.com/replyforge/replyforge/services/orchestrator/docstore"
	"github.com/replyforge/replyforge/services/orchestrator/ingest"
	"github.com/replyforge/replyforge/services/orchestrator/observability"
	"github.com/replyforge/replyforge/services/orchestrator/pipeline"
	"github.com/replyforge/replyforge/services/orchestrator/retrieval"
	"github.com/replyforge/replyforge/services/orchestrator/routes"
	"github.com/replyforge/replyforge/services/orchestrator/vectorstore"
)

// Service is the orchestrator lifecycle contract.
type Service interface {
	// Run starts the HTTP server and blocks until a shutdown signal or a
	// fatal error.
	Run() error
	// Router exposes the gin engine for integration tests.
	Router() *gin.Engine
}

type service struct {
	cfg           config.Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	store         *docstore.BadgerStore
	executor      *pipeline.Executor
	tracerCleanup func(context.Context)
}

// New wires all components. A nil opts means the open source defaults.
func New(cfg config.Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{cfg: cfg}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	if cfg.Telemetry.Enabled {
		cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			return nil, fmt.Errorf("initializing tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}
	metrics := observability.Init()

	store, err := docstore.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening document store: %w", err)
	}
	s.store = store

	weaviateClient, err := weaviate.NewClient(weaviate.Config{
		Scheme: cfg.Weaviate.Scheme,
		Host:   cfg.Weaviate.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}
	vectors := vectorstore.NewWeaviateStore(weaviateClient)

	embedder, err := buildEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("initializing embedder: %w", err)
	}
	llmClient, err := buildLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("initializing LLM client: %w", err)
	}

	validator := weburl.NewValidator()
	fetcher := ingest.NewFetcher(validator, cfg.Ingest.FetchTimeout(), int64(cfg.Ingest.MaxFetchBytes))
	robots := ingest.NewRobotsCache(fetcher, "ReplyForgeBot/1.0 (+https://replyforge.dev/bot)")
	crawler := ingest.NewCrawler(fetcher, robots, validator)

	ingestSvc := ingest.NewService(store, vectors, embedder, fetcher, crawler, validator)
	retrievalSvc := retrieval.NewService(store, vectors, embedder)
	executor := pipeline.NewExecutor(store, retrievalSvc, llmClient, pipeline.LogDeliverer{})
	s.executor = executor

	gin.SetMode(gin.ReleaseMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	routes.SetupRoutes(s.router, routes.Deps{
		Store:     store,
		Vectors:   vectors,
		Ingest:    ingestSvc,
		Retrieval: retrievalSvc,
		Pipeline:  executor,
		Options:   s.opts,
		Metrics:   metrics,
	})

	return s, nil
}

func (s *service) Router() *gin.Engine { return s.router }

// Run serves until SIGINT/SIGTERM, then drains in-flight requests.
func (s *service) Run() error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              s.cfg.Server.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting orchestrator server", "addr", s.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		slog.Info("Shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	// Webhook answers go out before main/post agents finish; let those
	// deferred stages drain before closing the stores under them.
	s.executor.Wait()
	return nil
}

func (s *service) cleanup() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("Document store close error", "error", err)
		}
	}
	if err := s.opts.Audit.Flush(context.Background()); err != nil {
		slog.Warn("Audit flush error", "error", err)
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}

func buildEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Backend {
	case "openai":
		return embedding.NewOpenAIEmbedder()
	case "http", "":
		return embedding.NewHTTPEmbedder(cfg.BaseURL, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Backend)
	}
}

// buildLLM selects the provider. The clients configure themselves from the
// environment, so config values are exported as defaults first.
func buildLLM(cfg config.LLMConfig) (llm.LLMClient, error) {
	switch cfg.Backend {
	case "openai":
		return llm.NewOpenAIClient()
	case "ollama", "":
		if os.Getenv("OLLAMA_BASE_URL") == "" && cfg.BaseURL != "" {
			os.Setenv("OLLAMA_BASE_URL", cfg.BaseURL)
		}
		if os.Getenv("OLLAMA_MODEL") == "" && cfg.Model != "" {
			os.Setenv("OLLAMA_MODEL", cfg.Model)
		}
		return llm.NewOllamaClient()
	default:
		return nil, fmt.Errorf("unknown LLM backend %q", cfg.Backend)
	}
}

// initTracer sets up the OTLP trace exporter. The gRPC connection is
// insecure, which is fine for a collector on the same network.
func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("creating gRPC connection: %w", err)
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("replyforge-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(sdktrace.NewBatchSpanProcessor(exporter)))

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("OTLP exporter shutdown failed", "error", err)
		}
	}, nil
}

var _ Service = (*service)(nil)
