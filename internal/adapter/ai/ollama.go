package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/rodinkim/ai-content-marketing-tool/internal/port"
)

// Ensure OllamaProvider implements the port.
var _ port.EmbeddingProvider = (*OllamaProvider)(nil)

// OllamaConfig holds the configuration for the Ollama embed endpoint.
type OllamaConfig struct {
	BaseURL   string  // e.g. http://localhost:11434 or https://api.ollama.com
	Model     string  // e.g. bge-m3
	Token     string  // Bearer token for Ollama Cloud (empty = no auth)
	Dimension int     // expected vector size
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 = unlimited
}

// OllamaProvider implements port.EmbeddingProvider using the Ollama REST API.
// Every call carries an explicit timeout and passes through an optional
// client-side rate limiter. The provider never retries; a failed call is the
// caller's decision to skip or abort.
type OllamaProvider struct {
	cfg        OllamaConfig
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewOllamaProvider creates a new Ollama-backed embedding provider.
func NewOllamaProvider(cfg OllamaConfig) *OllamaProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &OllamaProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// ModelName returns the embedding model identifier.
func (o *OllamaProvider) ModelName() string {
	return o.cfg.Model
}

// Dimensions returns the configured embedding vector size.
func (o *OllamaProvider) Dimensions() int {
	return o.cfg.Dimension
}

// Embed generates a vector embedding for the given text.
func (o *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty input", port.ErrEmbeddingUnavailable)
	}

	embeddings, err := o.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("%w: empty response", port.ErrEmbeddingUnavailable)
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one call. The result
// is positional: embeddings[i] belongs to texts[i].
func (o *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings, err := o.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", port.ErrEmbeddingUnavailable, len(embeddings), len(texts))
	}
	return embeddings, nil
}

// embed posts to /api/embed with either a single string or a slice of strings.
func (o *OllamaProvider) embed(ctx context.Context, input interface{}) ([][]float32, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrEmbeddingUnavailable, err)
	}

	payload := map[string]interface{}{
		"model": o.cfg.Model,
		"input": input,
	}

	body, err := o.post(ctx, "/api/embed", payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", port.ErrEmbeddingUnavailable, err)
	}

	var resp struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", port.ErrEmbeddingUnavailable, err)
	}

	return resp.Embeddings, nil
}

// post is a helper for POST requests to the Ollama endpoint (with optional bearer token).
func (o *OllamaProvider) post(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+path, bytes.NewReader(payloadBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if o.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+o.cfg.Token)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama API error (%d): %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
