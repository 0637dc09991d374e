package domain

import (
	"database/sql"
	"time"
)

// VectorRecord is one embedded chunk of a knowledge-base document as stored
// in pgvector. (SourceKey, ChunkIndex) is the natural key: re-ingesting a
// document replaces its chunks instead of duplicating them.
type VectorRecord struct {
	ID         int64         `json:"id"           db:"id"`
	SourceKey  string        `json:"source_key"   db:"source_key"`
	OwnerID    sql.NullInt64 `json:"owner_id"     db:"owner_id"`
	Category   string        `json:"category"     db:"category"`
	ChunkIndex int           `json:"chunk_index"  db:"chunk_index"`
	Text       string        `json:"text_content" db:"text_content"`
	Embedding  []float32     `json:"-"            db:"embedding"`
	CreatedAt  time.Time     `json:"created_at"   db:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"   db:"updated_at"`
}

// ChunkMetadata accompanies a retrieval result. The in-memory fallback path
// returns it zero-valued.
type ChunkMetadata struct {
	SourceKey  string `json:"source_key"`
	OwnerID    *int64 `json:"owner_id,omitempty"`
	Category   string `json:"category"`
	ChunkIndex int    `json:"chunk_index"`
}

// RetrievedChunk is a similarity-search hit. Score is 1/(1+d) over L2
// distance d, so higher is more similar.
type RetrievedChunk struct {
	Text     string        `json:"text"`
	Score    float64       `json:"score"`
	Metadata ChunkMetadata `json:"metadata"`
}

// StoreStats summarizes the durable knowledge base.
type StoreStats struct {
	Records int `json:"records"`
	Sources int `json:"sources"`
}
