package port

import "context"

// EmbeddingProvider abstracts the external embedding service.
// Implementations can target Ollama, OpenAI, or any compatible API.
type EmbeddingProvider interface {
	// ModelName returns the identifier of the embedding model being used.
	ModelName() string

	// Dimensions returns the fixed vector size the provider is configured for.
	Dimensions() int

	// Embed generates a vector embedding for the given text. It performs one
	// outbound call and does not retry; callers decide whether a failure is
	// fatal. Failures satisfy errors.Is(err, ErrEmbeddingUnavailable).
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
