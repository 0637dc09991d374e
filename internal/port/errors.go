package port

import (
	"errors"
	"fmt"
)

// Sentinel errors used across ports.
var (
	// ErrEmbeddingUnavailable marks a provider/network failure, a malformed
	// provider response, or blank input. Always recoverable by skipping the
	// affected chunk or query.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrStoreUnavailable marks a durable-store connectivity failure. Fatal
	// to the current ingestion call, never to the process.
	ErrStoreUnavailable = errors.New("vector store unavailable")

	// ErrDimensionMismatch means the provider returned vectors of a different
	// size than the system was configured for. Fatal at startup.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// IngestionError reports which document failed to ingest and why, so the
// upstream pipeline can retry or alert.
type IngestionError struct {
	SourceKey string
	Err       error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingestion failed for %q: %v", e.SourceKey, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
