// Package vectorstore holds the ranking and validation rules shared by the
// vector index backends in its subpackages.
package vectorstore

import (
	"fmt"
	"sort"

	"docqa/internal/domain"
)

// Candidate is a stored record considered for a search, in insertion order.
type Candidate struct {
	Text     string
	Metadata domain.Metadata
	Vector   []float32
}

// Rank scores candidates against query and returns the best topK. Vectors
// are unit length, so the dot product is the cosine similarity. Equal scores
// keep the order of candidates, which callers supply in insertion order.
func Rank(query []float32, candidates []Candidate, topK int) []domain.SearchResult {
	if topK <= 0 || len(candidates) == 0 {
		return []domain.SearchResult{}
	}
	results := make([]domain.SearchResult, len(candidates))
	for i, c := range candidates {
		results[i] = domain.SearchResult{Text: c.Text, Metadata: c.Metadata, Score: Dot(query, c.Vector)}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}

// Dot returns the dot product over the shared prefix of a and b.
func Dot(a, b []float32) float64 {
	n := min(len(a), len(b))
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Validate checks a batch before anything is written. dimension is the
// dimension already held by the index, or 0 for an empty index; the
// dimension the index holds after the batch is returned.
func Validate(records []domain.Record, dimension int) (int, error) {
	for i, r := range records {
		if r.Metadata.SourcePath == "" {
			return dimension, fmt.Errorf("%w: record %d has no source path", domain.ErrInvalidRecord, i)
		}
		if len(r.Vector) == 0 {
			return dimension, fmt.Errorf("%w: record %d (%s) has an empty vector", domain.ErrInvalidRecord, i, r.Metadata.SourcePath)
		}
		if dimension == 0 {
			dimension = len(r.Vector)
		}
		if len(r.Vector) != dimension {
			return dimension, fmt.Errorf("%w: record %d (%s) has dimension %d, index holds %d",
				domain.ErrInvalidRecord, i, r.Metadata.SourcePath, len(r.Vector), dimension)
		}
	}
	return dimension, nil
}

// Filter is a membership test over allowed source paths. The zero value
// allows everything.
type Filter map[string]struct{}

// NewFilter builds a filter from sources. An empty slice yields an
// unrestricted filter.
func NewFilter(sources []string) Filter {
	if len(sources) == 0 {
		return nil
	}
	f := make(Filter, len(sources))
	for _, s := range sources {
		f[s] = struct{}{}
	}
	return f
}

// Allows reports whether sourcePath passes the filter.
func (f Filter) Allows(sourcePath string) bool {
	if f == nil {
		return true
	}
	_, ok := f[sourcePath]
	return ok
}
