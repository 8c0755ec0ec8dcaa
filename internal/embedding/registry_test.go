package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/errs"
)

func testEmbeddingConfig() config.EmbeddingConfig {
	return config.EmbeddingConfig{
		DefaultModel: "hash-8",
		CacheSize:    16,
		Models: []config.ModelConfig{
			{ID: "hash-8", Backend: config.BackendHash, Dimensions: 8},
			{ID: "hash-4", Backend: config.BackendHash, Dimensions: 4},
			{ID: "missing-onnx", Backend: config.BackendONNX, Dimensions: 6, ModelPath: "/nonexistent/model.onnx", MaxTokens: 16},
		},
	}
}

func TestRegistry_GetAndEmbed(t *testing.T) {
	r := NewRegistry(testEmbeddingConfig())
	defer r.Close()

	assert.Equal(t, "hash-8", r.Default())

	e, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, 8, e.Dimensions())

	again, err := r.Get("hash-8")
	require.NoError(t, err)
	assert.Same(t, e, again)

	vecs, err := r.Embed(context.Background(), "hash-4", []string{"one", "two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], 4)
}

func TestRegistry_UnknownModel(t *testing.T) {
	r := NewRegistry(testEmbeddingConfig())
	defer r.Close()

	_, err := r.Get("nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))

	_, err = r.Dimensions("nope")
	assert.True(t, errors.Is(err, errs.ErrInvalidArgument))
}

func TestRegistry_ONNXFallback(t *testing.T) {
	r := NewRegistry(testEmbeddingConfig())
	defer r.Close()

	e, err := r.Get("missing-onnx")
	require.NoError(t, err)
	assert.Equal(t, 6, e.Dimensions())

	var backend string
	for _, m := range r.Models() {
		if m.ID == "missing-onnx" {
			backend = m.Backend
		}
	}
	assert.Equal(t, config.BackendHash, backend)

	id, err := r.Resolve("missing-onnx")
	require.NoError(t, err)
	assert.Equal(t, "missing-onnx"+FallbackSuffix, id)
	id, err = r.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "hash-8", id)
	_, err = r.Resolve("nope")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	dim, err := r.Dimensions(id + FallbackSuffix)
	require.NoError(t, err)
	assert.Equal(t, 8, dim)
	fb, err := r.Get("missing-onnx" + FallbackSuffix)
	require.NoError(t, err)
	assert.Equal(t, 6, fb.Dimensions())
	a, err := r.Embed(context.Background(), "missing-onnx", []string{"same text"})
	require.NoError(t, err)
	b, err := r.Embed(context.Background(), "missing-onnx"+FallbackSuffix, []string{"same text"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Once a real embedder is installed the plain id is used again.
	r.Register("missing-onnx", NewHashEmbedder(6))
	id, err = r.Resolve("missing-onnx")
	require.NoError(t, err)
	assert.Equal(t, "missing-onnx", id)
}

func TestRegistry_RegisterAndModels(t *testing.T) {
	r := NewRegistry(testEmbeddingConfig())
	defer r.Close()

	r.Register("custom-3", NewHashEmbedder(3))
	dim, err := r.Dimensions("custom-3")
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	ms := r.Models()
	require.Len(t, ms, 4)
	ids := make([]string, len(ms))
	for i, m := range ms {
		ids[i] = m.ID
		if m.ID == "hash-8" {
			assert.True(t, m.Default)
		}
	}
	assert.Equal(t, []string{"custom-3", "hash-4", "hash-8", "missing-onnx"}, ids)
}
