package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
)

func fakeEmbeddingsServer(t *testing.T, dim int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var resp embeddingsResponse
		resp.Data = make([]struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}, len(req.Input))
		for i, text := range req.Input {
			v := make([]float32, dim)
			v[len(text)%dim] = 2
			resp.Data[i].Index = i
			resp.Data[i].Embedding = v
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPEmbedder_EmbedBatch(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingsServer(t, 4, &calls)
	t.Setenv("TEST_EMBED_KEY", "secret")

	e, err := NewHTTPEmbedder(config.ModelConfig{
		ID:         "remote",
		Dimensions: 4,
		Endpoint:   srv.URL + "/v1/",
		APIKeyEnv:  "TEST_EMBED_KEY",
		BatchSize:  2,
	}, srv.Client())
	require.NoError(t, err)
	defer e.Close()

	texts := []string{"a", "bb", "ccc", "dddd", "e"}
	out, err := e.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, out, len(texts))
	assert.Equal(t, int32(3), calls.Load())
	for i, text := range texts {
		require.Len(t, out[i], 4)
		assert.InDelta(t, 1.0, out[i][len(text)%4], 1e-6, "text %q should be normalized", text)
	}

	one, err := e.Embed(context.Background(), "ccc")
	require.NoError(t, err)
	assert.Equal(t, out[2], one)
	assert.Equal(t, 4, e.Dimensions())
}

func TestHTTPEmbedder_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := fakeEmbeddingsServer(t, 4, &calls)

	_, err := NewHTTPEmbedder(config.ModelConfig{ID: "x", Dimensions: 4}, nil)
	assert.Error(t, err, "missing endpoint")

	noKey, err := NewHTTPEmbedder(config.ModelConfig{ID: "x", Dimensions: 4, Endpoint: srv.URL + "/v1"}, srv.Client())
	require.NoError(t, err)
	_, err = noKey.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")

	t.Setenv("TEST_EMBED_KEY", "secret")
	wrongDim, err := NewHTTPEmbedder(config.ModelConfig{ID: "x", Dimensions: 8, Endpoint: srv.URL + "/v1", APIKeyEnv: "TEST_EMBED_KEY"}, srv.Client())
	require.NoError(t, err)
	_, err = wrongDim.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}
