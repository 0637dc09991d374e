package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/rodinkim/ai-content-marketing-tool/internal/adapter/ai"
	"github.com/rodinkim/ai-content-marketing-tool/internal/adapter/index"
	"github.com/rodinkim/ai-content-marketing-tool/internal/adapter/store"
	"github.com/rodinkim/ai-content-marketing-tool/internal/handler"
	"github.com/rodinkim/ai-content-marketing-tool/internal/service"
	"github.com/rodinkim/ai-content-marketing-tool/pkg/config"

	_ "github.com/lib/pq"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting retrieval engine",
		"port", cfg.Port,
		"ollama_embed", cfg.OllamaEmbedURL,
		"embed_model", cfg.OllamaEmbedModel,
		"dimension", cfg.EmbeddingDimension,
	)

	// ── Database ─────────────────────────────────────────────────────────
	pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()

	if err := pgStore.EnsureSchema(context.Background(), cfg.EmbeddingDimension); err != nil {
		slog.Error("failed to prepare pgvector schema", "error", err)
		os.Exit(1)
	}

	vectorStore := store.NewVectorStore(pgStore, cfg.EmbeddingDimension)

	// ── Adapters ─────────────────────────────────────────────────────────
	embedder := ai.NewOllamaProvider(ai.OllamaConfig{
		BaseURL:   cfg.OllamaEmbedURL,
		Model:     cfg.OllamaEmbedModel,
		Token:     cfg.OllamaEmbedToken,
		Dimension: cfg.EmbeddingDimension,
		Timeout:   cfg.EmbedTimeout,
		RateLimit: cfg.EmbedRateLimit,
	})
	snapshotIndex := index.NewSnapshot()
	chunker := service.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)

	// ── Retrieval coordinator ────────────────────────────────────────────
	rag := service.NewRAGSystem(embedder, vectorStore, snapshotIndex, chunker, cfg.StoreTimeout)

	// A provider/config dimension mismatch would corrupt every ingest, so
	// it is fatal here rather than per call.
	verifyCtx, cancel := context.WithTimeout(context.Background(), cfg.EmbedTimeout)
	if err := rag.VerifyDimension(verifyCtx); err != nil {
		cancel()
		slog.Error("embedding provider verification failed", "error", err)
		os.Exit(1)
	}
	cancel()

	if err := rag.Rebuild(context.Background()); err != nil {
		slog.Warn("initial index build failed, serving from durable store only", "error", err)
	}

	go rag.RunPeriodicRefresh(context.Background(), cfg.IndexRefreshInterval)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New())

	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"app":    cfg.AppName,
			"model":  embedder.ModelName(),
		})
	})

	api := app.Group("/api/v1")

	knowledgeHandler := handler.NewKnowledgeHandler(rag, vectorStore)
	knowledgeHandler.Register(api)

	// ── Start ────────────────────────────────────────────────────────────
	slog.Info("🌐 Fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
