// Package summarizer builds short extractive summaries of ingested documents.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
)

// DefaultSentences is used when the caller asks for zero sentences.
const DefaultSentences = 2

// maxSentenceRunes bounds a single picked sentence; text without punctuation
// would otherwise come back whole.
const maxSentenceRunes = 300

var _ domain.Summarizer = (*FrequencySummarizer)(nil)

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered).
type FrequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern:    regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		sentencePattern: regexp.MustCompile(`[^.!?]+[.!?]+|[^.!?]+$`),
		stopwords:       defaultStopwords(),
	}
}

// Summarize picks up to maxSentences of the highest scoring sentences and
// returns them in document order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = DefaultSentences
	}
	sentences := s.sentences(text)
	if len(sentences) == 0 {
		return "", nil
	}

	freq := map[string]float64{}
	tokens := make([][]string, len(sentences))
	for i, sent := range sentences {
		tokens[i] = s.contentTokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, toks := range tokens {
		score := 0.0
		for _, tok := range toks {
			score += freq[tok] / maxF
		}
		// long sentences should not win on length alone
		if len(toks) > 0 {
			score /= math.Sqrt(float64(len(toks)))
		}
		ranked[i] = scored{i, score}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := min(maxSentences, len(ranked))
	picked := make([]int, n)
	for i := range picked {
		picked[i] = ranked[i].idx
	}
	sort.Ints(picked)

	out := make([]string, n)
	for i, idx := range picked {
		out[i] = truncate(sentences[idx], maxSentenceRunes)
	}
	return strings.Join(out, " "), nil
}

func (s *FrequencySummarizer) sentences(text string) []string {
	var out []string
	for _, raw := range s.sentencePattern.FindAllString(text, -1) {
		if sent := strings.Join(strings.Fields(raw), " "); sent != "" {
			out = append(out, sent)
		}
	}
	return out
}

func (s *FrequencySummarizer) contentTokens(text string) []string {
	all := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := all[:0]
	for _, tok := range all {
		if _, stop := s.stopwords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "…"
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
