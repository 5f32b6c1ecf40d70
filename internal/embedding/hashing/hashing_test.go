package hashing

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbedder_Defaults(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())
	assert.Equal(t, "hashing", e.Name())
}

func TestEmbedder_DeterministicUnitVectors(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder(64)

	a, err := e.Embed(ctx, "Paris is the capital of France.")
	require.NoError(t, err)
	b, err := NewEmbedder(64).Embed(ctx, "Paris is the capital of France.")
	require.NoError(t, err)

	require.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, math.Sqrt(cosine(a, a)), 1e-5)
}

func TestEmbedder_RelatedTextScoresHigher(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder(DefaultDimension)

	query, _ := e.Embed(ctx, "What is the capital of France?")
	related, _ := e.Embed(ctx, "Paris is the capital of France.")
	unrelated, _ := e.Embed(ctx, "Photosynthesis converts light into chemical energy.")

	assert.Greater(t, cosine(query, related), cosine(query, unrelated))
}

func TestEmbedder_StopwordsOnlyIsZero(t *testing.T) {
	v, err := NewEmbedder(16).Embed(context.Background(), "the and of")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 16), v)
}

func TestEmbedder_Batch(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder(32)

	batch, err := e.EmbedBatch(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	single, _ := e.Embed(ctx, "beta")

	require.Len(t, batch, 2)
	assert.Equal(t, single, batch[1])
}

func TestEmbedder_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(8).Embed(ctx, "alpha")
	assert.ErrorIs(t, err, context.Canceled)
}
