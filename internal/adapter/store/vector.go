package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/rodinkim/ai-content-marketing-tool/internal/domain"
	"github.com/rodinkim/ai-content-marketing-tool/internal/port"
)

// VectorStore handles pgvector-specific operations for knowledge records.
// It is the system of record: the in-memory index is rebuilt from it and
// never mutated directly.
type VectorStore struct {
	store     *PostgresStore
	dimension int
}

// NewVectorStore creates a vector store backed by the given Postgres store.
func NewVectorStore(store *PostgresStore, dimension int) *VectorStore {
	return &VectorStore{store: store, dimension: dimension}
}

// SearchFilter narrows a similarity search to an owner and/or category.
// Nil/empty fields match everything.
type SearchFilter struct {
	OwnerID  *int64
	Category string
}

// UpsertBatch writes all records in a single transaction: existing rows
// sharing (source_key, chunk_index) are replaced, new ones inserted, and any
// stale tail chunks beyond the new chunk count are removed so chunk indexes
// stay contiguous from 0. The whole batch rolls back on failure.
func (v *VectorStore) UpsertBatch(ctx context.Context, records []domain.VectorRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := v.store.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: begin tx: %v", port.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO knowledge_base_vectors (source_key, owner_id, category, chunk_index, text_content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6::vector)
		 ON CONFLICT (source_key, chunk_index) DO UPDATE SET
			owner_id     = EXCLUDED.owner_id,
			category     = EXCLUDED.category,
			text_content = EXCLUDED.text_content,
			embedding    = EXCLUDED.embedding,
			updated_at   = NOW()`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare: %v", port.ErrStoreUnavailable, err)
	}
	defer stmt.Close()

	chunkCounts := make(map[string]int)
	for _, r := range records {
		if len(r.Embedding) != v.dimension {
			return 0, fmt.Errorf("record %s/%d: embedding has %d dimensions, store expects %d",
				r.SourceKey, r.ChunkIndex, len(r.Embedding), v.dimension)
		}
		if _, err := stmt.ExecContext(ctx,
			r.SourceKey, r.OwnerID, r.Category, r.ChunkIndex, r.Text, vectorToString(r.Embedding),
		); err != nil {
			return 0, fmt.Errorf("%w: insert record: %v", port.ErrStoreUnavailable, err)
		}
		if r.ChunkIndex >= chunkCounts[r.SourceKey] {
			chunkCounts[r.SourceKey] = r.ChunkIndex + 1
		}
	}

	// A re-ingested document may have shrunk; drop chunks past the new end.
	for sourceKey, count := range chunkCounts {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM knowledge_base_vectors WHERE source_key = $1 AND chunk_index >= $2`,
			sourceKey, count,
		); err != nil {
			return 0, fmt.Errorf("%w: trim stale chunks: %v", port.ErrStoreUnavailable, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", port.ErrStoreUnavailable, err)
	}
	return len(records), nil
}

// DeleteBySource removes every record for the given source. Deleting a
// non-existent source returns count 0, not an error.
func (v *VectorStore) DeleteBySource(ctx context.Context, sourceKey string) (int64, error) {
	res, err := v.store.db.ExecContext(ctx,
		`DELETE FROM knowledge_base_vectors WHERE source_key = $1`, sourceKey)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by source: %v", port.ErrStoreUnavailable, err)
	}
	count, _ := res.RowsAffected()
	return count, nil
}

// DeleteByOwner removes every record attributed to the given owner.
func (v *VectorStore) DeleteByOwner(ctx context.Context, ownerID int64) (int64, error) {
	res, err := v.store.db.ExecContext(ctx,
		`DELETE FROM knowledge_base_vectors WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("%w: delete by owner: %v", port.ErrStoreUnavailable, err)
	}
	count, _ := res.RowsAffected()
	return count, nil
}

// Search returns up to k records ordered by ascending L2 distance to the
// query vector, reported as descending 1/(1+d) similarity. An empty result
// set is a normal outcome, not an error.
func (v *VectorStore) Search(ctx context.Context, queryVector []float32, k int, filter SearchFilter) ([]domain.RetrievedChunk, error) {
	vectorStr := vectorToString(queryVector)

	query := `SELECT source_key, owner_id, category, chunk_index, text_content,
	                 embedding <-> $1::vector AS distance
	          FROM knowledge_base_vectors`
	args := []interface{}{vectorStr}

	var conds []string
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		conds = append(conds, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY embedding <-> $1::vector LIMIT $%d", len(args))

	rows, err := v.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", port.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var results []domain.RetrievedChunk
	for rows.Next() {
		var (
			rc       domain.RetrievedChunk
			owner    sql.NullInt64
			distance float64
		)
		if err := rows.Scan(
			&rc.Metadata.SourceKey, &owner, &rc.Metadata.Category, &rc.Metadata.ChunkIndex,
			&rc.Text, &distance,
		); err != nil {
			return nil, fmt.Errorf("%w: scan result: %v", port.ErrStoreUnavailable, err)
		}
		if owner.Valid {
			id := owner.Int64
			rc.Metadata.OwnerID = &id
		}
		rc.Score = 1 / (1 + distance)
		results = append(results, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate results: %v", port.ErrStoreUnavailable, err)
	}
	return results, nil
}

// AllRecords scans the whole table, used only to rebuild the in-memory index.
// Concurrent upserts are fine: the scan sees a consistent snapshot of
// committed rows.
func (v *VectorStore) AllRecords(ctx context.Context) ([]domain.VectorRecord, error) {
	query := `SELECT id, source_key, owner_id, category, chunk_index, text_content, embedding::text, created_at, updated_at
	          FROM knowledge_base_vectors ORDER BY source_key, chunk_index`

	rows, err := v.store.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: all records: %v", port.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []domain.VectorRecord
	for rows.Next() {
		var (
			r         domain.VectorRecord
			embedding string
		)
		if err := rows.Scan(
			&r.ID, &r.SourceKey, &r.OwnerID, &r.Category, &r.ChunkIndex,
			&r.Text, &embedding, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", port.ErrStoreUnavailable, err)
		}
		vec, err := parseVector(embedding)
		if err != nil {
			return nil, fmt.Errorf("parse embedding for %s/%d: %w", r.SourceKey, r.ChunkIndex, err)
		}
		r.Embedding = vec
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", port.ErrStoreUnavailable, err)
	}
	return records, nil
}

// Stats returns record and distinct-source counts.
func (v *VectorStore) Stats(ctx context.Context) (domain.StoreStats, error) {
	var stats domain.StoreStats
	err := v.store.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT source_key) FROM knowledge_base_vectors`,
	).Scan(&stats.Records, &stats.Sources)
	if err != nil {
		return domain.StoreStats{}, fmt.Errorf("%w: stats: %v", port.ErrStoreUnavailable, err)
	}
	return stats, nil
}

// vectorToString converts a float32 slice to pgvector string format: [0.1,0.2,0.3].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = strconv.FormatFloat(float64(val), 'g', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector converts a pgvector string back into a float32 slice.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	s = s[1 : len(s)-1]
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector component %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}
