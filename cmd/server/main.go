// cmd/server/main.go
package main

import (
	"context"
	"log"
	"log/slog"

	"github.com/joho/godotenv"

	"github.com/groundling/groundling/internal/analyzer"
	"github.com/groundling/groundling/internal/config"
	"github.com/groundling/groundling/internal/evallog"
	"github.com/groundling/groundling/internal/guardrails"
	"github.com/groundling/groundling/internal/ingest"
	"github.com/groundling/groundling/internal/llm"
	"github.com/groundling/groundling/internal/orchestrator"
	"github.com/groundling/groundling/internal/router"
	"github.com/groundling/groundling/internal/search"
	"github.com/groundling/groundling/internal/server"
	"github.com/groundling/groundling/internal/synthesizer"
	"github.com/groundling/groundling/internal/vectorstore"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	provider, err := llm.NewOpenAI(&cfg.OpenAI, cfg.Pipeline)
	if err != nil {
		log.Fatalf("failed to create LLM provider: %v", err)
	}

	store := vectorstore.NewQdrant(cfg.Qdrant, cfg.Pipeline, provider)
	if err := store.EnsureCollection(context.Background()); err != nil {
		log.Fatalf("failed to prepare vector store: %v", err)
	}

	evalLogger, err := evallog.New(cfg.EvalLog.Path)
	if err != nil {
		log.Fatalf("failed to open eval log: %v", err)
	}
	defer evalLogger.Close()

	orch := orchestrator.New(
		cfg.Pipeline,
		cfg.Guardrails,
		guardrails.NewValidator(cfg.Guardrails.MaxQueryLength, cfg.Guardrails.DenyPatterns),
		analyzer.New(provider),
		router.New(cfg.Guardrails.SpecificityThreshold),
		vectorstore.NewRetriever(store),
		search.NewClient(cfg.Serper, cfg.Pipeline),
		synthesizer.New(provider),
		guardrails.NewRelevanceScorer(provider, cfg.Guardrails.RelevanceThreshold),
		guardrails.NewHallucinationDetector(provider, cfg.Guardrails.HallucinationThreshold),
		evalLogger,
	)

	ingester := ingest.NewService(cfg.Ingest, store)

	srv := server.New(*cfg, orch, ingester)
	slog.Info("starting server", "host", cfg.Server.Host, "port", cfg.Server.Port)
	if err := srv.Run(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
