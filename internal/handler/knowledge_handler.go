package handler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rodinkim/ai-content-marketing-tool/internal/adapter/store"
	"github.com/rodinkim/ai-content-marketing-tool/internal/domain"
	"github.com/rodinkim/ai-content-marketing-tool/internal/service"
)

// KnowledgeHandler exposes the retrieval engine to the upstream document
// pipeline and the downstream content-generation service.
type KnowledgeHandler struct {
	rag     *service.RAGSystem
	vectors *store.VectorStore
}

// NewKnowledgeHandler creates a new knowledge-base handler.
func NewKnowledgeHandler(rag *service.RAGSystem, vectors *store.VectorStore) *KnowledgeHandler {
	return &KnowledgeHandler{rag: rag, vectors: vectors}
}

// Register sets up knowledge-base and retrieval routes.
func (h *KnowledgeHandler) Register(router fiber.Router) {
	kb := router.Group("/knowledge")
	kb.Post("/", h.Ingest)
	kb.Delete("/", h.Remove)
	kb.Delete("/owner/:id", h.RemoveByOwner)
	kb.Get("/stats", h.Stats)

	router.Post("/retrieve", h.Retrieve)
}

// Ingest chunks, embeds, and stores one document. When no source key is
// supplied (raw upload rather than re-ingestion), one is derived from the
// category and title the same way the upstream pipeline derives storage
// paths, so later re-ingestion under that key replaces instead of duplicates.
func (h *KnowledgeHandler) Ingest(c fiber.Ctx) error {
	var body struct {
		SourceKey string `json:"source_key"`
		OwnerID   *int64 `json:"owner_id"`
		Category  string `json:"category"`
		Title     string `json:"title"`
		Text      string `json:"text"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}
	if body.SourceKey == "" && body.Category == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source_key or category is required"})
	}

	sourceKey := body.SourceKey
	if sourceKey == "" {
		sourceKey = deriveSourceKey(body.Category, body.Title)
	}

	if err := h.rag.AddDocument(c.Context(), sourceKey, body.OwnerID, body.Category, body.Text); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{"source_key": sourceKey})
}

// Remove deletes every chunk of a document. Idempotent.
func (h *KnowledgeHandler) Remove(c fiber.Ctx) error {
	var body struct {
		SourceKey string `json:"source_key"`
	}
	if err := c.Bind().JSON(&body); err != nil || body.SourceKey == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "source_key is required"})
	}

	if err := h.rag.RemoveDocument(c.Context(), body.SourceKey); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"ok": true})
}

// RemoveByOwner deletes every record attributed to one owner and rebuilds
// the in-memory index.
func (h *KnowledgeHandler) RemoveByOwner(c fiber.Ctx) error {
	ownerID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid owner id"})
	}

	count, err := h.vectors.DeleteByOwner(c.Context(), ownerID)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.rag.Rebuild(c.Context()); err != nil {
		// Durable delete succeeded; the snapshot catches up on the next refresh.
		return c.JSON(fiber.Map{"deleted": count, "index": "stale"})
	}
	return c.JSON(fiber.Map{"deleted": count})
}

// Retrieve answers a similarity query with the top-k most relevant chunks.
// An empty result list is a normal outcome.
func (h *KnowledgeHandler) Retrieve(c fiber.Ctx) error {
	var body struct {
		Query   string `json:"query"`
		K       int    `json:"k"`
		OwnerID *int64 `json:"owner_id"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "query is required"})
	}

	results := h.rag.Retrieve(c.Context(), body.Query, body.K, body.OwnerID)
	if results == nil {
		results = []domain.RetrievedChunk{}
	}
	return c.JSON(fiber.Map{
		"results": results,
		"count":   len(results),
	})
}

// Stats reports knowledge-base size.
func (h *KnowledgeHandler) Stats(c fiber.Ctx) error {
	stats, err := h.vectors.Stats(c.Context())
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(stats)
}

// deriveSourceKey builds a stable storage-path-style key: Category/title_8hex.txt.
func deriveSourceKey(category, title string) string {
	slug := strings.Join(strings.Fields(title), "_")
	if slug == "" {
		slug = "untitled"
	}
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s/%s_%s.txt", category, slug, suffix)
}
