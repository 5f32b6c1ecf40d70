package domain

import (
	"context"
	"time"
)

// Document represents a single file loaded from the data directory.
// SourcePath is its identity and the key used to diff disk against the index.
type Document struct {
	SourcePath string
	Content    string
}

// Chunk is a bounded slice of a document's text used for indexing.
type Chunk struct {
	SourcePath string
	Text       string
	Index      int
}

// Metadata is attached to every record in the vector index.
type Metadata struct {
	SourcePath string `json:"source_path"`
}

// Record is a single persisted vector with its text and metadata.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata Metadata
}

// SearchResult represents a matching record with a relevance score.
type SearchResult struct {
	Text     string
	Metadata Metadata
	Score    float64
}

// LogEntry is one answered question as stored by the query log.
type LogEntry struct {
	ID        int64
	Timestamp string
	Question  string
	Answer    string
}

// Loader reads documents from a directory.
type Loader interface {
	Load(ctx context.Context, dir string) ([]Document, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Embedder converts free text into a unit-length vector.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorStore persists vectors and supports filtered similarity search.
type VectorStore interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, vector []float32, topK int, sources []string) ([]SearchResult, error)
	ListMetadata(ctx context.Context) ([]Metadata, error)
	Close() error
}

// Generator produces a free-text completion for an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// QueryLog records answered questions.
type QueryLog interface {
	Append(ctx context.Context, question, answer string) error
}

// FileStamp identifies one version of a file on disk.
type FileStamp struct {
	Size    int64
	ModTime time.Time
}

// Matches reports whether o describes the same version of the file.
func (f FileStamp) Matches(o FileStamp) bool {
	return f.Size == o.Size && f.ModTime.Equal(o.ModTime)
}

// EmptyDocumentLog remembers documents that produced no indexable text, so
// they are not reported as unprocessed again until the file changes.
type EmptyDocumentLog interface {
	MarkEmpty(ctx context.Context, sourcePath string, stamp FileStamp) error
	EmptyDocuments(ctx context.Context) (map[string]FileStamp, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// IngestReport describes the outcome of one ingestion run.
type IngestReport struct {
	Documents int
	Chunks    int
	Skipped   []string
	Summaries map[string]string
	Duration  time.Duration
}

// Answer is the result of answering a question.
type Answer struct {
	Text    string
	Sources []SearchResult
}

// RAGService defines the operations exposed by the application core.
type RAGService interface {
	UnprocessedFiles(ctx context.Context) ([]string, error)
	ProcessedDocuments(ctx context.Context) ([]string, error)
	Ingest(ctx context.Context) (*IngestReport, error)
	Answer(ctx context.Context, question string, documents []string) (*Answer, error)
	Upload(ctx context.Context, paths []string) ([]string, error)
}
