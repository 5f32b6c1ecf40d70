package service

import (
	"context"
	"fmt"

	"docqa/internal/domain"
)

// Retriever runs similarity search restricted to a fixed set of source
// paths. An empty set searches the whole index.
type Retriever struct {
	store   domain.VectorStore
	k       int
	sources []string
}

// NewRetriever binds a store, result count and source restriction.
func NewRetriever(store domain.VectorStore, k int, sources []string) *Retriever {
	return &Retriever{store: store, k: k, sources: sources}
}

// Retrieve returns the k nearest chunks to vector.
func (r *Retriever) Retrieve(ctx context.Context, vector []float32) ([]domain.SearchResult, error) {
	hits, err := r.store.Search(ctx, vector, r.k, r.sources)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", domain.ErrRetrieval, err)
	}
	return hits, nil
}

// Sources returns the source paths the retriever is restricted to.
func (r *Retriever) Sources() []string { return r.sources }
