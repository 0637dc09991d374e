package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rodinkim/ai-content-marketing-tool/internal/adapter/store"
	"github.com/rodinkim/ai-content-marketing-tool/internal/domain"
	"github.com/rodinkim/ai-content-marketing-tool/internal/port"
)

// DefaultTopK is the number of chunks retrieved when the caller does not ask
// for a specific k.
const DefaultTopK = 3

// DefaultStoreTimeout bounds a single durable-store call when no explicit
// budget is configured.
const DefaultStoreTimeout = 10 * time.Second

// KnowledgeStore is the durable side of the retrieval engine, the single
// source of truth for persisted records.
type KnowledgeStore interface {
	UpsertBatch(ctx context.Context, records []domain.VectorRecord) (int, error)
	DeleteBySource(ctx context.Context, sourceKey string) (int64, error)
	Search(ctx context.Context, queryVector []float32, k int, filter store.SearchFilter) ([]domain.RetrievedChunk, error)
	AllRecords(ctx context.Context) ([]domain.VectorRecord, error)
}

// SnapshotIndex is the rebuildable in-memory fallback index.
type SnapshotIndex interface {
	Build(records []domain.VectorRecord)
	Search(queryVector []float32, k int) []domain.RetrievedChunk
	Len() int
}

// RAGSystem coordinates the retrieval engine: it chunks and embeds incoming
// documents, keeps the durable store authoritative, and rebuilds the
// in-memory snapshot index after every durable change. Construct one per
// process and inject it into callers.
type RAGSystem struct {
	embedder     port.EmbeddingProvider
	store        KnowledgeStore
	index        SnapshotIndex
	chunker      *Chunker
	storeTimeout time.Duration
}

// NewRAGSystem creates the retrieval coordinator. storeTimeout bounds every
// durable-store call; non-positive values fall back to DefaultStoreTimeout.
func NewRAGSystem(embedder port.EmbeddingProvider, knowledge KnowledgeStore, index SnapshotIndex, chunker *Chunker, storeTimeout time.Duration) *RAGSystem {
	if storeTimeout <= 0 {
		storeTimeout = DefaultStoreTimeout
	}
	return &RAGSystem{
		embedder:     embedder,
		store:        knowledge,
		index:        index,
		chunker:      chunker,
		storeTimeout: storeTimeout,
	}
}

// storeCtx derives a per-call deadline so a wedged database connection aborts
// the operation instead of hanging the caller.
func (s *RAGSystem) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// VerifyDimension embeds a probe string and checks the provider actually
// returns vectors of the configured size. A mismatch is a configuration
// error: callers should treat it as fatal at startup rather than discover it
// chunk by chunk.
func (s *RAGSystem) VerifyDimension(ctx context.Context) error {
	vec, err := s.embedder.Embed(ctx, "dimension probe")
	if err != nil {
		return fmt.Errorf("verify dimension: %w", err)
	}
	if len(vec) != s.embedder.Dimensions() {
		return fmt.Errorf("%w: provider %q returned %d, configured %d",
			port.ErrDimensionMismatch, s.embedder.ModelName(), len(vec), s.embedder.Dimensions())
	}
	return nil
}

// AddDocument chunks, embeds, and upserts one document, then rebuilds the
// in-memory index. Chunks whose embedding fails are skipped with a warning;
// the document is ingested from the surviving chunks. A durable-store
// failure aborts the whole call with an IngestionError and leaves both
// stores untouched.
func (s *RAGSystem) AddDocument(ctx context.Context, sourceKey string, ownerID *int64, category, rawText string) error {
	chunks := s.chunker.Chunk(rawText)
	if len(chunks) == 0 {
		slog.Info("document produced no chunks, nothing to ingest", "source_key", sourceKey)
		return nil
	}

	vectors := s.embedChunks(ctx, sourceKey, chunks)

	records := make([]domain.VectorRecord, 0, len(chunks))
	for i, chunk := range chunks {
		if vectors[i] == nil {
			continue
		}
		r := domain.VectorRecord{
			SourceKey: sourceKey,
			Category:  category,
			// Survivors are renumbered so chunk indexes stay contiguous from 0.
			ChunkIndex: len(records),
			Text:       chunk,
			Embedding:  vectors[i],
		}
		if ownerID != nil {
			r.OwnerID.Valid = true
			r.OwnerID.Int64 = *ownerID
		}
		records = append(records, r)
	}

	if len(records) == 0 {
		slog.Warn("no chunks survived embedding, document not ingested", "source_key", sourceKey, "chunks", len(chunks))
		return nil
	}

	upsertCtx, cancel := s.storeCtx(ctx)
	count, err := s.store.UpsertBatch(upsertCtx, records)
	cancel()
	if err != nil {
		return &port.IngestionError{SourceKey: sourceKey, Err: err}
	}
	slog.Info("document ingested", "source_key", sourceKey, "chunks", count, "skipped", len(chunks)-count)

	if err := s.Rebuild(ctx); err != nil {
		// The durable write already succeeded; the index stays on its
		// previous snapshot until the next rebuild.
		slog.Error("index rebuild after ingest failed", "source_key", sourceKey, "error", err)
	}
	return nil
}

// embedChunks embeds all chunks of a document, batch-first with a per-chunk
// fallback so one bad chunk does not sink the batch. vectors[i] is nil when
// chunk i failed.
func (s *RAGSystem) embedChunks(ctx context.Context, sourceKey string, chunks []string) [][]float32 {
	if batch, err := s.embedder.EmbedBatch(ctx, chunks); err == nil {
		return batch
	} else {
		slog.Warn("batch embedding failed, retrying per chunk", "source_key", sourceKey, "error", err)
	}

	vectors := make([][]float32, len(chunks))
	for i, chunk := range chunks {
		vec, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			slog.Warn("embedding failed, skipping chunk", "source_key", sourceKey, "chunk_index", i, "error", err)
			continue
		}
		vectors[i] = vec
	}
	return vectors
}

// RemoveDocument deletes every chunk of the given source and rebuilds the
// in-memory index. Removing a source that does not exist is a no-op.
func (s *RAGSystem) RemoveDocument(ctx context.Context, sourceKey string) error {
	deleteCtx, cancel := s.storeCtx(ctx)
	count, err := s.store.DeleteBySource(deleteCtx, sourceKey)
	cancel()
	if err != nil {
		return fmt.Errorf("remove document %q: %w", sourceKey, err)
	}
	slog.Info("document removed", "source_key", sourceKey, "chunks", count)

	if err := s.Rebuild(ctx); err != nil {
		slog.Error("index rebuild after remove failed", "source_key", sourceKey, "error", err)
	}
	return nil
}

// Retrieve embeds the query and returns the top-k most similar chunks,
// scoped to ownerID when given. The durable store is authoritative and
// filterable; if it is degraded or empty for this query, the unfiltered
// in-memory snapshot answers instead (with empty metadata). Retrieval never
// fails: callers get an empty slice when nothing relevant exists.
func (s *RAGSystem) Retrieve(ctx context.Context, queryText string, k int, ownerID *int64) []domain.RetrievedChunk {
	if k <= 0 {
		k = DefaultTopK
	}

	queryVector, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		slog.Warn("query embedding failed, returning no results", "error", err)
		return nil
	}

	searchCtx, cancel := s.storeCtx(ctx)
	results, err := s.store.Search(searchCtx, queryVector, k, store.SearchFilter{OwnerID: ownerID})
	cancel()
	if err != nil {
		slog.Warn("durable store search failed, falling back to in-memory index", "error", err)
	}
	if len(results) > 0 {
		return results
	}

	return s.index.Search(queryVector, k)
}

// Rebuild replaces the in-memory snapshot with the durable store's current
// contents. On failure the previous snapshot keeps serving.
func (s *RAGSystem) Rebuild(ctx context.Context) error {
	scanCtx, cancel := s.storeCtx(ctx)
	records, err := s.store.AllRecords(scanCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	s.index.Build(records)
	slog.Info("in-memory index rebuilt", "chunks", s.index.Len())
	return nil
}

// RunPeriodicRefresh rebuilds the index on a fixed interval until ctx is
// cancelled, bounding how stale the snapshot can get if a rebuild was missed
// (e.g. a crash between upsert and rebuild). Blocks; run it in a goroutine.
func (s *RAGSystem) RunPeriodicRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Rebuild(ctx); err != nil {
				slog.Error("periodic index refresh failed", "error", err)
			}
		}
	}
}
