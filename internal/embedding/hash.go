package embedding

import (
	"context"
	"math"

	"github.com/hyperjump/kioku/pkg/utils"
)

// HashEmbedder is a deterministic embedder: the same text always gets the
// same unit-length vector. It carries no semantics and serves tests and
// offline setups where no model is installed.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder returns a hash embedder of the given dimension (384 when unset).
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Embed returns the vector derived from the text hash.
func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	state := HashString(text)
	emb := make([]float32, e.dimensions)
	for i := range emb {
		state = splitmix64(state)
		// Map the top 53 bits to [-1, 1).
		emb[i] = float32(float64(state>>11)/float64(1<<53)*2 - 1)
	}
	utils.NormalizeL2(emb)
	if allZero(emb) {
		emb[0] = 1
	}
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *HashEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *HashEmbedder) Close() error {
	return nil
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	z := x
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}

func allZero(v []float32) bool {
	for _, x := range v {
		if x != 0 && !math.IsNaN(float64(x)) {
			return false
		}
	}
	return true
}
