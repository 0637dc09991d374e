package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rodinkim/ai-content-marketing-tool/internal/adapter/store"
	"github.com/rodinkim/ai-content-marketing-tool/internal/domain"
	"github.com/rodinkim/ai-content-marketing-tool/internal/port"
	"github.com/rodinkim/ai-content-marketing-tool/internal/service"
)

// --- Stubs behind the coordinator ---

type stubEmbedder struct{}

func (stubEmbedder) ModelName() string { return "stub-embed" }
func (stubEmbedder) Dimensions() int   { return 4 }

func (stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, port.ErrEmbeddingUnavailable
	}
	return []float32{1, 0, 0, 0}, nil
}

func (s stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

type stubKnowledgeStore struct {
	upsertErr error
	upserted  []domain.VectorRecord
	deleted   []string
	hits      []domain.RetrievedChunk
}

func (s *stubKnowledgeStore) UpsertBatch(_ context.Context, records []domain.VectorRecord) (int, error) {
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserted = append(s.upserted, records...)
	return len(records), nil
}

func (s *stubKnowledgeStore) DeleteBySource(_ context.Context, sourceKey string) (int64, error) {
	s.deleted = append(s.deleted, sourceKey)
	return 0, nil
}

func (s *stubKnowledgeStore) Search(_ context.Context, _ []float32, k int, _ store.SearchFilter) ([]domain.RetrievedChunk, error) {
	if k > len(s.hits) {
		return s.hits, nil
	}
	return s.hits[:k], nil
}

func (s *stubKnowledgeStore) AllRecords(_ context.Context) ([]domain.VectorRecord, error) {
	return nil, nil
}

type stubIndex struct{}

func (stubIndex) Build([]domain.VectorRecord)                   {}
func (stubIndex) Search([]float32, int) []domain.RetrievedChunk { return nil }
func (stubIndex) Len() int                                      { return 0 }

func newTestApp(knowledge *stubKnowledgeStore) *fiber.App {
	rag := service.NewRAGSystem(stubEmbedder{}, knowledge, stubIndex{}, service.NewChunker(10, 2), time.Second)
	h := NewKnowledgeHandler(rag, nil)

	app := fiber.New()
	h.Register(app.Group("/api/v1"))
	return app
}

func jsonRequest(method, target string, body interface{}) *http.Request {
	b, _ := json.Marshal(body)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

// --- Ingest ---

func TestIngestRejectsMissingText(t *testing.T) {
	app := newTestApp(&stubKnowledgeStore{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/knowledge", fiber.Map{
		"source_key": "IT/a.txt",
		"category":   "IT",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestRejectsMissingKeyAndCategory(t *testing.T) {
	app := newTestApp(&stubKnowledgeStore{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/knowledge", fiber.Map{
		"text": "Some article text.",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIngestStoresDocument(t *testing.T) {
	knowledge := &stubKnowledgeStore{}
	app := newTestApp(knowledge)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/knowledge", fiber.Map{
		"source_key": "IT/a.txt",
		"category":   "IT",
		"text":       "Vector search enables fast retrieval.",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		SourceKey string `json:"source_key"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, "IT/a.txt", body.SourceKey)

	require.NotEmpty(t, knowledge.upserted)
	assert.Equal(t, "IT/a.txt", knowledge.upserted[0].SourceKey)
}

func TestIngestDerivesSourceKeyWhenAbsent(t *testing.T) {
	app := newTestApp(&stubKnowledgeStore{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/knowledge", fiber.Map{
		"category": "IT",
		"title":    "Vector Databases",
		"text":     "Vector search enables fast retrieval.",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		SourceKey string `json:"source_key"`
	}
	decodeBody(t, resp, &body)
	assert.Regexp(t, regexp.MustCompile(`^IT/Vector_Databases_[0-9a-f]{8}\.txt$`), body.SourceKey)
}

func TestIngestStoreFailureMapsToBadGateway(t *testing.T) {
	knowledge := &stubKnowledgeStore{upsertErr: port.ErrStoreUnavailable}
	app := newTestApp(knowledge)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/knowledge", fiber.Map{
		"source_key": "IT/a.txt",
		"category":   "IT",
		"text":       "Vector search enables fast retrieval.",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

// --- Remove ---

func TestRemoveRejectsMissingSourceKey(t *testing.T) {
	app := newTestApp(&stubKnowledgeStore{})

	resp, err := app.Test(jsonRequest(http.MethodDelete, "/api/v1/knowledge", fiber.Map{}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRemoveDeletesDocument(t *testing.T) {
	knowledge := &stubKnowledgeStore{}
	app := newTestApp(knowledge)

	resp, err := app.Test(jsonRequest(http.MethodDelete, "/api/v1/knowledge", fiber.Map{
		"source_key": "IT/a.txt",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"IT/a.txt"}, knowledge.deleted)
}

// --- Retrieve ---

func TestRetrieveRejectsMissingQuery(t *testing.T) {
	app := newTestApp(&stubKnowledgeStore{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/retrieve", fiber.Map{}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRetrieveEmptyResultIsOK(t *testing.T) {
	app := newTestApp(&stubKnowledgeStore{})

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/retrieve", fiber.Map{
		"query": "anything",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []domain.RetrievedChunk `json:"results"`
		Count   int                     `json:"count"`
	}
	decodeBody(t, resp, &body)
	assert.Zero(t, body.Count)
	assert.NotNil(t, body.Results)
	assert.Empty(t, body.Results)
}

func TestRetrieveReturnsStoreHits(t *testing.T) {
	knowledge := &stubKnowledgeStore{hits: []domain.RetrievedChunk{
		{Text: "durable hit", Score: 0.9, Metadata: domain.ChunkMetadata{SourceKey: "IT/a.txt"}},
	}}
	app := newTestApp(knowledge)

	resp, err := app.Test(jsonRequest(http.MethodPost, "/api/v1/retrieve", fiber.Map{
		"query": "how does vector search work",
		"k":     3,
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Results []domain.RetrievedChunk `json:"results"`
		Count   int                     `json:"count"`
	}
	decodeBody(t, resp, &body)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "durable hit", body.Results[0].Text)
	assert.Equal(t, "IT/a.txt", body.Results[0].Metadata.SourceKey)
}

// --- Source key derivation ---

func TestDeriveSourceKeyFormat(t *testing.T) {
	key := deriveSourceKey("IT", "Vector Databases in Production")

	pattern := regexp.MustCompile(`^IT/Vector_Databases_in_Production_[0-9a-f]{8}\.txt$`)
	assert.Regexp(t, pattern, key)
}

func TestDeriveSourceKeyUntitled(t *testing.T) {
	key := deriveSourceKey("Marketing", "   ")
	assert.True(t, strings.HasPrefix(key, "Marketing/untitled_"))
	assert.True(t, strings.HasSuffix(key, ".txt"))
}

func TestDeriveSourceKeyUnique(t *testing.T) {
	a := deriveSourceKey("IT", "Same Title")
	b := deriveSourceKey("IT", "Same Title")
	require.NotEqual(t, a, b, "suffix must disambiguate identical titles")
}
