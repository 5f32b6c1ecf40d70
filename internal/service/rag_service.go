// Package service wires the ingestion and answering pipelines together.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/loader"
)

var _ domain.RAGService = (*RAGServiceImpl)(nil)

// embedGroupSize is how many chunk texts share one embedder deadline during
// ingestion.
const embedGroupSize = 32

// Dependencies are the collaborators of the pipeline. Summarizer may be nil;
// a nil EmptyLog keeps empty documents in memory only.
type Dependencies struct {
	Loader     domain.Loader
	Chunker    domain.Chunker
	Embedder   domain.Embedder
	Store      domain.VectorStore
	Generator  domain.Generator
	QueryLog   domain.QueryLog
	Summarizer domain.Summarizer
	EmptyLog   domain.EmptyDocumentLog
}

// Options tune the pipeline.
type Options struct {
	DataDir          string
	K                int
	SkipProcessed    bool
	SummarySentences int
	EmbedTimeout     time.Duration
	GenerateTimeout  time.Duration
}

// RAGServiceImpl implements domain.RAGService. Ingest holds the write lock
// so a query never observes a half-written batch.
type RAGServiceImpl struct {
	deps   Dependencies
	opts   Options
	logger zerolog.Logger

	mu         sync.RWMutex
	retrievers *selectionCache
}

func NewRAGService(deps Dependencies, opts Options, logger zerolog.Logger) *RAGServiceImpl {
	if opts.K <= 0 {
		opts.K = 3
	}
	if deps.EmptyLog == nil {
		deps.EmptyLog = newMemoryEmptyLog()
	}
	s := &RAGServiceImpl{deps: deps, opts: opts, logger: logger}
	s.retrievers = newSelectionCache(func(sources []string) *Retriever {
		return NewRetriever(deps.Store, opts.K, sources)
	})
	return s
}

// DataDir returns the directory documents are uploaded to and loaded from.
func (s *RAGServiceImpl) DataDir() string { return s.opts.DataDir }

// UnprocessedFiles lists files on disk whose source path has no record in
// the index, relative to the data directory. Files that produced no text at
// their current size and modification time are not listed. An unreadable
// index counts as empty.
func (s *RAGServiceImpl) UnprocessedFiles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	files, err := s.diskFiles()
	if err != nil {
		return nil, err
	}
	processed, err := s.processedSet(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Index listing failed, treating every file as unprocessed")
		processed = map[string]struct{}{}
	}

	empty, err := s.deps.EmptyLog.EmptyDocuments(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Empty document listing failed")
		empty = map[string]domain.FileStamp{}
	}

	out := []string{}
	for _, name := range files {
		src := loader.SourcePath(s.opts.DataDir, name)
		if _, ok := processed[src]; ok {
			continue
		}
		if marked, ok := empty[src]; ok {
			if stamp, err := stampOf(src); err == nil && stamp.Matches(marked) {
				continue
			}
		}
		out = append(out, name)
	}
	return out, nil
}

// ProcessedDocuments lists the distinct indexed documents, sorted, as names
// relative to the data directory.
func (s *RAGServiceImpl) ProcessedDocuments(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	processed, err := s.processedSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
	}
	names := make([]string, 0, len(processed))
	for src := range processed {
		names = append(names, s.displayName(src))
	}
	sort.Strings(names)
	return names, nil
}

// Ingest loads, chunks and embeds the data directory and writes every record
// in one batch. Nothing is written when any step fails. Documents without
// text are remembered as empty and listed in the report as skipped.
func (s *RAGServiceImpl) Ingest(ctx context.Context) (*domain.IngestReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	report := &domain.IngestReport{Skipped: []string{}, Summaries: map[string]string{}}

	docs, err := s.deps.Loader.Load(ctx, s.opts.DataDir)
	if err != nil {
		return nil, ingestErr("load", err)
	}
	if s.opts.SkipProcessed {
		docs, report.Skipped, err = s.dropProcessed(ctx, docs)
		if err != nil {
			return nil, ingestErr("list index", err)
		}
	}

	chunks, err := chunker.Split(s.deps.Chunker, docs)
	if err != nil {
		return nil, ingestErr("chunk", err)
	}
	docs, empty := splitEmpty(docs, chunks)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, ingestErr("embed", err)
	}

	records := make([]domain.Record, len(chunks))
	for i, c := range chunks {
		records[i] = domain.Record{
			ID:       uuid.NewString(),
			Vector:   vectors[i],
			Text:     c.Text,
			Metadata: domain.Metadata{SourcePath: c.SourcePath},
		}
	}
	if len(records) > 0 {
		if err := s.deps.Store.Upsert(ctx, records); err != nil {
			return nil, ingestErr("persist", err)
		}
		s.retrievers.invalidate()
	}

	s.markEmpty(ctx, empty, report)
	report.Documents = len(docs)
	report.Chunks = len(chunks)
	s.summarize(docs, report)
	report.Duration = time.Since(start)

	s.logger.Info().
		Int("documents", report.Documents).
		Int("chunks", report.Chunks).
		Int("skipped", len(report.Skipped)).
		Dur("duration", report.Duration).
		Msg("Ingestion complete")
	return report, nil
}

// Answer retrieves context from the selected documents and asks the
// generator. An empty selection returns domain.ErrNoDocumentsSelected
// without touching the index or the generator.
func (s *RAGServiceImpl) Answer(ctx context.Context, question string, documents []string) (*domain.Answer, error) {
	if len(documents) == 0 {
		return nil, domain.ErrNoDocumentsSelected
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make([]string, len(documents))
	for i, name := range documents {
		sources[i] = s.resolve(name)
	}
	retriever := s.retrievers.get(sources)

	ectx, cancel := withTimeout(ctx, s.opts.EmbedTimeout)
	vector, err := s.deps.Embedder.Embed(ectx, question)
	cancel()
	if err != nil {
		return nil, withKind(domain.ErrRetrieval, "embed question", err)
	}

	hits, err := retriever.Retrieve(ctx, vector)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Strs("sources", retriever.Sources()).Int("hits", len(hits)).Msg("Context retrieved")

	gctx, cancel := withTimeout(ctx, s.opts.GenerateTimeout)
	text, err := s.deps.Generator.Generate(gctx, BuildPrompt(question, hits))
	cancel()
	if err != nil {
		return nil, withKind(domain.ErrGeneration, "generate", err)
	}

	if s.deps.QueryLog != nil {
		if err := s.deps.QueryLog.Append(ctx, question, text); err != nil {
			if !errors.Is(err, domain.ErrLogWrite) {
				err = fmt.Errorf("%w: %w", domain.ErrLogWrite, err)
			}
			s.logger.Error().Err(err).Msg("Failed to log query")
		}
	}
	return &domain.Answer{Text: text, Sources: hits}, nil
}

// Upload copies files into the data directory and returns the names saved.
// A file whose name already exists there is skipped, never overwritten.
func (s *RAGServiceImpl) Upload(ctx context.Context, paths []string) ([]string, error) {
	if err := os.MkdirAll(s.opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %w", domain.ErrIngestion, err)
	}
	saved := []string{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		name := filepath.Base(p)
		if !loader.Supported(p) {
			s.logger.Warn().Str("file", p).Msg("Unsupported file type, not uploaded")
			continue
		}
		ok, err := copyNew(p, filepath.Join(s.opts.DataDir, name))
		if err != nil {
			return saved, fmt.Errorf("%w: upload %s: %w", domain.ErrIngestion, p, err)
		}
		if !ok {
			s.logger.Info().Str("file", name).Msg("File already exists in data directory, skipped")
			continue
		}
		saved = append(saved, name)
	}
	return saved, nil
}

func (s *RAGServiceImpl) diskFiles() ([]string, error) {
	if _, err := os.Stat(s.opts.DataDir); errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	return loader.ListFiles(s.opts.DataDir)
}

func (s *RAGServiceImpl) processedSet(ctx context.Context) (map[string]struct{}, error) {
	meta, err := s.deps.Store.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(meta))
	for _, m := range meta {
		set[m.SourcePath] = struct{}{}
	}
	return set, nil
}

func (s *RAGServiceImpl) dropProcessed(ctx context.Context, docs []domain.Document) ([]domain.Document, []string, error) {
	processed, err := s.processedSet(ctx)
	if err != nil {
		return nil, nil, err
	}
	kept := docs[:0:0]
	skipped := []string{}
	for _, d := range docs {
		if _, ok := processed[d.SourcePath]; ok {
			skipped = append(skipped, s.displayName(d.SourcePath))
			continue
		}
		kept = append(kept, d)
	}
	return kept, skipped, nil
}

func (s *RAGServiceImpl) markEmpty(ctx context.Context, paths []string, report *domain.IngestReport) {
	for _, src := range paths {
		report.Skipped = append(report.Skipped, s.displayName(src))
		stamp, err := stampOf(src)
		if err == nil {
			err = s.deps.EmptyLog.MarkEmpty(ctx, src, stamp)
		}
		if err != nil {
			s.logger.Warn().Err(err).Str("file", src).Msg("Failed to remember empty document")
			continue
		}
		s.logger.Info().Str("file", src).Msg("No text to index, skipped")
	}
}

// splitEmpty separates documents that produced at least one chunk from the
// source paths of those that produced none.
func splitEmpty(docs []domain.Document, chunks []domain.Chunk) ([]domain.Document, []string) {
	chunked := make(map[string]struct{}, len(docs))
	for _, c := range chunks {
		chunked[c.SourcePath] = struct{}{}
	}
	kept := docs[:0:0]
	var empty []string
	for _, d := range docs {
		if _, ok := chunked[d.SourcePath]; ok {
			kept = append(kept, d)
		} else {
			empty = append(empty, d.SourcePath)
		}
	}
	return kept, empty
}

func (s *RAGServiceImpl) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += embedGroupSize {
		end := min(start+embedGroupSize, len(texts))
		ectx, cancel := withTimeout(ctx, s.opts.EmbedTimeout)
		out, err := s.deps.Embedder.EmbedBatch(ectx, texts[start:end])
		cancel()
		if err != nil {
			return nil, err
		}
		if len(out) != end-start {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(out), end-start)
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}

func (s *RAGServiceImpl) summarize(docs []domain.Document, report *domain.IngestReport) {
	if s.deps.Summarizer == nil {
		return
	}
	for _, d := range docs {
		summary, err := s.deps.Summarizer.Summarize(d.Content, s.opts.SummarySentences)
		if err != nil {
			s.logger.Warn().Err(err).Str("file", d.SourcePath).Msg("Summary failed")
			continue
		}
		if summary != "" {
			report.Summaries[s.displayName(d.SourcePath)] = summary
		}
	}
}

// displayName is the inverse of resolve for paths inside the data directory.
func (s *RAGServiceImpl) displayName(sourcePath string) string {
	rel, err := filepath.Rel(s.opts.DataDir, sourcePath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return sourcePath
	}
	return rel
}

func (s *RAGServiceImpl) resolve(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return loader.SourcePath(s.opts.DataDir, name)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// withKind wraps err with kind unless it already carries it, adding
// domain.ErrTimeout when a deadline expired.
func withKind(kind error, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, domain.ErrTimeout) {
		err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
	}
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", kind, op, err)
}

func ingestErr(op string, err error) error {
	return withKind(domain.ErrIngestion, op, err)
}

// copyNew copies src to dst unless dst exists. It reports whether a copy
// was made.
func copyNew(src, dst string) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		return false, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return false, err
	}
	return true, out.Close()
}
