package embedding

import (
	"context"
	"math"
	"testing"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(16)
	ctx := context.Background()
	a1, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := e.Embed(ctx, "hello")
	b, _ := e.Embed(ctx, "world")
	if len(a1) != 16 {
		t.Fatalf("len=%d", len(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("same text must give the same vector")
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
		}
	}
	if same {
		t.Error("different texts should give different vectors")
	}
	var norm float64
	for _, v := range a1 {
		norm += float64(v * v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("vector should be unit length, norm^2=%f", norm)
	}

	batch, err := e.EmbedBatch(ctx, []string{"hello", "world"})
	if err != nil || len(batch) != 2 || batch[0][0] != a1[0] {
		t.Errorf("EmbedBatch = %v, %v", batch, err)
	}
	if NewHashEmbedder(0).Dimensions() != 384 {
		t.Error("default dimension should be 384")
	}
}
