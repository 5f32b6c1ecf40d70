package vectorstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func TestRank_OrdersByScoreAndKeepsTies(t *testing.T) {
	candidates := []Candidate{
		{Text: "first", Vector: []float32{1, 0}},
		{Text: "low", Vector: []float32{0, 1}},
		{Text: "second", Vector: []float32{1, 0}},
	}

	results := Rank([]float32{1, 0}, candidates, 3)

	require.Len(t, results, 3)
	assert.Equal(t, "first", results[0].Text)
	assert.Equal(t, "second", results[1].Text)
	assert.Equal(t, "low", results[2].Text)
	assert.InDelta(t, 1.0, results[0].Score, 1e-9)
}

func TestRank_TopK(t *testing.T) {
	candidates := []Candidate{{Vector: []float32{1}}, {Vector: []float32{1}}}

	assert.Len(t, Rank([]float32{1}, candidates, 1), 1)
	assert.Empty(t, Rank([]float32{1}, candidates, 0))
	assert.NotNil(t, Rank([]float32{1}, nil, 3))
}

func TestValidate(t *testing.T) {
	ok := domain.Record{Vector: []float32{1, 0}, Metadata: domain.Metadata{SourcePath: "data/a.txt"}}

	dim, err := Validate([]domain.Record{ok, ok}, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, dim)

	_, err = Validate([]domain.Record{{Vector: []float32{1}}}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)

	_, err = Validate([]domain.Record{ok}, 3)
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)

	mixed := domain.Record{Vector: []float32{1, 0, 0}, Metadata: domain.Metadata{SourcePath: "data/b.txt"}}
	_, err = Validate([]domain.Record{ok, mixed}, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidRecord)
}

func TestFilter(t *testing.T) {
	var all Filter
	assert.True(t, all.Allows("anything"))
	assert.Nil(t, NewFilter(nil))

	f := NewFilter([]string{"data/a.txt"})
	assert.True(t, f.Allows("data/a.txt"))
	assert.False(t, f.Allows("data/b.txt"))
}
