package chunker

import (
	"fmt"

	"docqa/internal/domain"
)

// New builds the chunker named by kind.
func New(kind string, chunkSize, overlap, sentencesPerChunk, overlapSentences int) (domain.Chunker, error) {
	switch kind {
	case "recursive", "":
		return NewRecursiveChunker(WithChunkSize(chunkSize), WithOverlap(overlap)), nil
	case "sentence":
		return NewSentenceChunker(sentencesPerChunk, overlapSentences, chunkSize), nil
	default:
		return nil, fmt.Errorf("%w: unknown chunker %q", domain.ErrConfiguration, kind)
	}
}

// Split chunks every document, keeping document order.
func Split(c domain.Chunker, documents []domain.Document) ([]domain.Chunk, error) {
	var all []domain.Chunk
	for _, d := range documents {
		chunks, err := c.Chunk(d)
		if err != nil {
			return nil, fmt.Errorf("chunk %s: %w", d.SourcePath, err)
		}
		all = append(all, chunks...)
	}
	return all, nil
}
