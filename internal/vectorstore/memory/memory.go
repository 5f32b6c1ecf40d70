// Package memory provides an ephemeral vector index for tests and one-off
// runs.
package memory

import (
	"context"
	"sync"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	records   []domain.Record
}

func NewStorage() *Storage { return &Storage{} }

// Upsert appends records after validating the whole batch.
func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	dim, err := vectorstore.Validate(records, s.dimension)
	if err != nil {
		return err
	}
	s.dimension = dim
	for _, r := range records {
		r.Vector = append([]float32(nil), r.Vector...)
		s.records = append(s.records, r)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int, sources []string) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	filter := vectorstore.NewFilter(sources)
	candidates := make([]vectorstore.Candidate, 0, len(s.records))
	for _, r := range s.records {
		if !filter.Allows(r.Metadata.SourcePath) {
			continue
		}
		candidates = append(candidates, vectorstore.Candidate{Text: r.Text, Metadata: r.Metadata, Vector: r.Vector})
	}
	return vectorstore.Rank(vector, candidates, topK), nil
}

func (s *Storage) ListMetadata(ctx context.Context) ([]domain.Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Metadata, len(s.records))
	for i, r := range s.records {
		out[i] = r.Metadata
	}
	return out, nil
}

// Len reports the number of stored records.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Storage) Close() error { return nil }
