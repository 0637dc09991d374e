package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// PostgresStore owns the pgvector database connection.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// EnsureSchema creates the vector table, its uniqueness constraint, the
// owner/category filter indexes, and the HNSW similarity index if they do not
// exist yet. The embedding column dimension is fixed here; changing it
// requires a re-embed of the whole knowledge base.
func (s *PostgresStore) EnsureSchema(ctx context.Context, dimension int) error {
	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS knowledge_base_vectors (
			id           BIGSERIAL PRIMARY KEY,
			source_key   TEXT NOT NULL,
			owner_id     BIGINT,
			category     TEXT NOT NULL DEFAULT '',
			chunk_index  INTEGER NOT NULL DEFAULT 0,
			text_content TEXT NOT NULL,
			embedding    VECTOR(%d) NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT knowledge_base_vectors_source_chunk_uc UNIQUE (source_key, chunk_index)
		)`, dimension),
		`CREATE INDEX IF NOT EXISTS idx_knowledge_base_vectors_owner ON knowledge_base_vectors (owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_base_vectors_category ON knowledge_base_vectors (category)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_base_vectors_embedding_hnsw
			ON knowledge_base_vectors USING hnsw (embedding vector_l2_ops) WITH (m = 16, ef_construction = 64)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}

	slog.Info("pgvector schema ready", "table", "knowledge_base_vectors", "dimension", dimension)
	return nil
}
