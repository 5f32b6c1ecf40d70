package service

import (
	"slices"
	"strings"
	"sync"
)

// selectionCache reuses the retriever built for a document selection until
// the next successful ingest.
type selectionCache struct {
	mu         sync.Mutex
	retrievers map[string]*Retriever
	build      func(sources []string) *Retriever
}

func newSelectionCache(build func(sources []string) *Retriever) *selectionCache {
	return &selectionCache{retrievers: map[string]*Retriever{}, build: build}
}

// get returns the retriever for sources, which may be in any order.
func (c *selectionCache) get(sources []string) *Retriever {
	sorted := slices.Clone(sources)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)
	key := strings.Join(sorted, "\x00")

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.retrievers[key]; ok {
		return r
	}
	r := c.build(sorted)
	c.retrievers[key] = r
	return r
}

func (c *selectionCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.retrievers)
}

func (c *selectionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.retrievers)
}
