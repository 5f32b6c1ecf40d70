// Package chunker splits documents into overlapping chunks for embedding.
package chunker

import (
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// DefaultChunkSize is the default maximum number of characters per chunk.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default number of characters shared by
// consecutive chunks of the same document.
const DefaultChunkOverlap = 200

// defaultSeparators are tried in order: paragraph, line, word, character.
var defaultSeparators = []string{"\n\n", "\n", " ", ""}

var _ domain.Chunker = (*RecursiveChunker)(nil)

// RecursiveChunker splits text on the coarsest separator that yields pieces
// under the size limit, falling back to finer separators and finally to a
// hard character cut. Sizes are measured in runes.
type RecursiveChunker struct {
	chunkSize  int
	overlap    int
	separators []string
}

// Option configures the recursive chunker.
type Option func(*RecursiveChunker)

// WithChunkSize sets the maximum chunk size in characters.
func WithChunkSize(size int) Option {
	return func(c *RecursiveChunker) {
		if size > 0 {
			c.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between consecutive chunks in characters.
func WithOverlap(overlap int) Option {
	return func(c *RecursiveChunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// NewRecursiveChunker creates a chunker with the given options.
func NewRecursiveChunker(opts ...Option) *RecursiveChunker {
	c := &RecursiveChunker{
		chunkSize:  DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: defaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.chunkSize {
		c.overlap = c.chunkSize / 4
	}
	return c
}

// Chunk splits one document. Whitespace-only documents produce no chunks.
func (c *RecursiveChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	if strings.TrimSpace(document.Content) == "" {
		return nil, nil
	}
	texts := c.split(document.Content, c.separators)
	chunks := make([]domain.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, domain.Chunk{
			SourcePath: document.SourcePath,
			Text:       text,
			Index:      i,
		})
	}
	return chunks, nil
}

func (c *RecursiveChunker) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var rest []string
	for i, sep := range separators {
		if sep == "" || strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	var pieces []string
	if separator == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, separator)
	}

	var out, pending []string
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		if runeLen(piece) < c.chunkSize {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			out = append(out, c.merge(pending, separator)...)
			pending = nil
		}
		if len(rest) == 0 {
			out = append(out, piece)
			continue
		}
		out = append(out, c.split(piece, rest)...)
	}
	if len(pending) > 0 {
		out = append(out, c.merge(pending, separator)...)
	}
	return out
}

// merge packs small pieces into chunks no longer than chunkSize, keeping up
// to overlap characters of trailing pieces at the start of the next chunk.
func (c *RecursiveChunker) merge(pieces []string, separator string) []string {
	sepLen := runeLen(separator)
	var chunks, current []string
	total := 0
	joinCost := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n+joinCost() > c.chunkSize && len(current) > 0 {
			if text := strings.TrimSpace(strings.Join(current, separator)); text != "" {
				chunks = append(chunks, text)
			}
			for total > c.overlap || (total > 0 && total+n+joinCost() > c.chunkSize) {
				total -= runeLen(current[0])
				if len(current) > 1 {
					total -= sepLen
				}
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if text := strings.TrimSpace(strings.Join(current, separator)); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
