package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/statute-rag/config"
)

func TestNewEmbedderDefaults(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOllama,
			Model:     "nomic-embed-text",
			Dimension: 3,
		},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := NewEmbedder(cfg)
	require.NoError(t, err)
	assert.NotNil(t, embedder)
}

func TestNewEmbedderOpenAIMissingKey(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}

	_, err := NewEmbedder(cfg)
	assert.Error(t, err)
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	_, err := NewEmbedder(config.Config{Embeddings: config.EmbeddingConfig{Provider: "bedrock"}})
	assert.Error(t, err)
}

func TestOllamaEmbedderEmbedsEachText(t *testing.T) {
	var prompts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompts = append(prompts, req.Prompt)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{1, 2, 3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{OllamaHost: srv.URL + "/", Model: "m", Dimension: 3})
	vectors, err := e.Embed(context.Background(), []string{"Стаття 185.", "Стаття 186."})
	require.NoError(t, err)

	assert.Equal(t, []string{"Стаття 185.", "Стаття 186."}, prompts)
	assert.Equal(t, [][]float32{{1, 2, 3}, {1, 2, 3}}, vectors)
}

func TestOllamaEmbedderDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{1, 2}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{OllamaHost: srv.URL, Dimension: 3})
	_, err := e.Embed(context.Background(), []string{"текст"})
	assert.Error(t, err)
}

func TestOllamaEmbedderHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{OllamaHost: srv.URL})
	_, err := e.Embed(context.Background(), []string{"текст"})
	assert.Error(t, err)
}

type countingEmbedder struct {
	batches [][]string
	err     error
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.batches = append(c.batches, append([]string(nil), texts...))
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(c.batches)), float32(i)}
	}
	return out, nil
}

func TestEmbedBatchesKeepsOrder(t *testing.T) {
	e := &countingEmbedder{}

	vectors, err := EmbedBatches(context.Background(), e, []string{"a", "b", "c", "d", "e"}, 2)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, e.batches)
	assert.Equal(t, [][]float32{{1, 0}, {1, 1}, {2, 0}, {2, 1}, {3, 0}}, vectors)
}

func TestEmbedBatchesPropagatesError(t *testing.T) {
	boom := errors.New("quota exceeded")

	_, err := EmbedBatches(context.Background(), &countingEmbedder{err: boom}, []string{"a"}, 0)
	assert.ErrorIs(t, err, boom)
}

func openAIServer(t *testing.T, seen *map[string]any, data string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":` + data + `}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	var req map[string]any
	srv := openAIServer(t, &req, `[
		{"object":"embedding","index":1,"embedding":[0,1]},
		{"object":"embedding","index":0,"embedding":[1,0]}
	]`)

	e := NewOpenAIEmbedder(Options{OpenAIAPIKey: "key", OpenAIBaseURL: srv.URL + "/v1", Model: "text-embedding-3-small", Dimension: 2})
	vectors, err := e.Embed(context.Background(), []string{"Стаття 1.", "Стаття 2."})
	require.NoError(t, err)

	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
	assert.EqualValues(t, 2, req["dimensions"])
}

func TestOpenAIEmbedderRejectsShortResponse(t *testing.T) {
	srv := openAIServer(t, nil, `[{"object":"embedding","index":0,"embedding":[1,0]}]`)

	e := NewOpenAIEmbedder(Options{OpenAIAPIKey: "key", OpenAIBaseURL: srv.URL + "/v1", Model: "text-embedding-3-small", Dimension: 2})
	_, err := e.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "returned 1 embeddings for 2 texts")
}

func TestOpenAIEmbedderDimensionMismatch(t *testing.T) {
	srv := openAIServer(t, nil, `[{"object":"embedding","index":0,"embedding":[1,0,0]}]`)

	e := NewOpenAIEmbedder(Options{OpenAIAPIKey: "key", OpenAIBaseURL: srv.URL + "/v1", Model: "custom", Dimension: 2})
	_, err := e.Embed(context.Background(), []string{"a"})
	assert.ErrorContains(t, err, "dimension mismatch")
}
