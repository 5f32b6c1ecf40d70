package chunker

import (
	"regexp"
	"strings"

	"docqa/internal/domain"
)

var _ domain.Chunker = (*SentenceChunker)(nil)

// SentenceChunker groups whole sentences into chunks with sentence overlap.
// A group that would exceed maxChars is closed early, so a chunk never
// splits a sentence unless that sentence alone is longer than maxChars.
type SentenceChunker struct {
	sentencesPerChunk int
	overlapSentences  int
	maxChars          int
	splitter          *regexp.Regexp
}

// NewSentenceChunker creates a sentence-based chunker. maxChars <= 0 disables
// the size cap.
func NewSentenceChunker(sentencesPerChunk, overlapSentences, maxChars int) *SentenceChunker {
	if sentencesPerChunk <= 0 {
		sentencesPerChunk = 5
	}
	if overlapSentences < 0 || overlapSentences >= sentencesPerChunk {
		overlapSentences = 0
	}
	return &SentenceChunker{
		sentencesPerChunk: sentencesPerChunk,
		overlapSentences:  overlapSentences,
		maxChars:          maxChars,
		splitter:          regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`),
	}
}

// Chunk splits a document into groups of sentences.
func (c *SentenceChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	sentences := c.sentences(document.Content)
	if len(sentences) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	start := 0
	for start < len(sentences) {
		end := start + 1
		size := runeLen(sentences[start])
		for end < len(sentences) && end-start < c.sentencesPerChunk {
			next := size + 1 + runeLen(sentences[end])
			if c.maxChars > 0 && next > c.maxChars {
				break
			}
			size = next
			end++
		}
		chunks = append(chunks, domain.Chunk{
			SourcePath: document.SourcePath,
			Text:       strings.Join(sentences[start:end], " "),
			Index:      len(chunks),
		})
		if end == len(sentences) {
			break
		}
		next := end - c.overlapSentences
		if next <= start {
			next = start + 1
		}
		start = next
	}
	return chunks, nil
}

func (c *SentenceChunker) sentences(text string) []string {
	var out []string
	end := 0
	for _, loc := range c.splitter.FindAllStringIndex(text, -1) {
		if t := strings.TrimSpace(text[loc[0]:loc[1]]); t != "" {
			out = append(out, t)
		}
		end = loc[1]
	}
	// trailing text without terminal punctuation is still content
	if tail := strings.TrimSpace(text[end:]); tail != "" {
		out = append(out, tail)
	}
	return out
}
