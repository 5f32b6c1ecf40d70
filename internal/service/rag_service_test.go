package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	"docqa/internal/loader"
	"docqa/internal/summarizer"
	"docqa/internal/vectorstore/memory"
)

// echoGenerator returns the prompt it was given.
type echoGenerator struct {
	mu      sync.Mutex
	prompts []string
	err     error
}

func (g *echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if g.err != nil {
		return "", g.err
	}
	return prompt, nil
}

func (g *echoGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type recordingLog struct {
	entries []domain.LogEntry
	err     error
}

func (l *recordingLog) Append(_ context.Context, question, answer string) error {
	if l.err != nil {
		return l.err
	}
	l.entries = append(l.entries, domain.LogEntry{Question: question, Answer: answer})
	return nil
}

// failingStore wraps a store and fails writes or listing on demand.
type failingStore struct {
	domain.VectorStore
	upsertErr error
	listErr   error
}

func (f *failingStore) Upsert(ctx context.Context, records []domain.Record) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.VectorStore.Upsert(ctx, records)
}

func (f *failingStore) ListMetadata(ctx context.Context) ([]domain.Metadata, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.VectorStore.ListMetadata(ctx)
}

// failingEmbedder fails every batch.
type failingEmbedder struct {
	domain.Embedder
}

func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service unavailable")
}

type fixture struct {
	dir   string
	store *memory.Storage
	gen   *echoGenerator
	log   *recordingLog
	svc   *RAGServiceImpl
}

func newFixture(t *testing.T, files map[string]string, mutate ...func(*Dependencies, *Options)) *fixture {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "data")
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	f := &fixture{dir: dir, store: memory.NewStorage(), gen: &echoGenerator{}, log: &recordingLog{}}
	deps := Dependencies{
		Loader:     loader.NewDirectoryLoader(zerolog.Nop()),
		Chunker:    chunker.NewRecursiveChunker(),
		Embedder:   hashing.NewEmbedder(hashing.DefaultDimension),
		Store:      f.store,
		Generator:  f.gen,
		QueryLog:   f.log,
		Summarizer: summarizer.NewFrequencySummarizer(),
	}
	opts := Options{DataDir: dir, K: 3, SummarySentences: 1, EmbedTimeout: 5 * time.Second, GenerateTimeout: 5 * time.Second}
	for _, m := range mutate {
		m(&deps, &opts)
	}
	f.svc = NewRAGService(deps, opts, zerolog.Nop())
	return f
}

func TestUnprocessedFiles_BeforeAndAfterIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		"a.txt":        "Paris is the capital of France.",
		"b.md":         "Berlin is the capital of Germany.",
		"nested/c.txt": "Rome is the capital of Italy.",
	})

	before, err := f.svc.UnprocessedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.md", filepath.Join("nested", "c.txt")}, before)

	_, err = f.svc.Ingest(ctx)
	require.NoError(t, err)

	after, err := f.svc.UnprocessedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, after)

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "d.txt"), []byte("new"), 0o644))
	after, err = f.svc.UnprocessedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"d.txt"}, after)
}

func TestUnprocessedFiles_MissingDataDirectory(t *testing.T) {
	f := newFixture(t, nil)

	files, err := f.svc.UnprocessedFiles(context.Background())
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestUnprocessedFiles_IndexFailureMeansNothingProcessed(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "alpha"}, func(d *Dependencies, _ *Options) {
		d.Store = &failingStore{VectorStore: d.Store, listErr: errors.New("index never created")}
	})

	files, err := f.svc.UnprocessedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, files)
}

func TestProcessedDocuments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"b.txt": "beta text", "a.txt": "alpha text"})

	docs, err := f.svc.ProcessedDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = f.svc.Ingest(ctx)
	require.NoError(t, err)
	_, err = f.svc.Ingest(ctx)
	require.NoError(t, err)

	docs, err = f.svc.ProcessedDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "b.txt"}, docs)
}

func TestIngest_DuplicatesOnReingestByDefault(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "Paris is the capital of France."})

	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)
	report, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 2, f.store.Len())
}

func TestIngest_SkipProcessed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "alpha"}, func(_ *Dependencies, o *Options) {
		o.SkipProcessed = true
	})

	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "b.txt"), []byte("beta"), 0o644))

	report, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, []string{"a.txt"}, report.Skipped)
	assert.Equal(t, 2, f.store.Len())
}

func TestIngest_ReportAndSummaries(t *testing.T) {
	f := newFixture(t, map[string]string{"a.txt": "Paris is the capital of France.", "empty.txt": ""})

	report, err := f.svc.Ingest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Documents)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, []string{"empty.txt"}, report.Skipped)
	assert.Equal(t, map[string]string{"a.txt": "Paris is the capital of France."}, report.Summaries)
}

func TestIngest_EmptyFileIsNotUnprocessedAfterwards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		"a.txt":     "Paris is the capital of France.",
		"empty.txt": "",
		"blob.bin":  "\x00\x01\x02",
	})

	unprocessed, err := f.svc.UnprocessedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt", "blob.bin", "empty.txt"}, unprocessed)

	report, err := f.svc.Ingest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"blob.bin", "empty.txt"}, report.Skipped)
	assert.Equal(t, 1, f.store.Len())

	unprocessed, err = f.svc.UnprocessedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)

	processed, err := f.svc.ProcessedDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, processed)

	// once the file gains content it is new again
	path := filepath.Join(f.dir, "empty.txt")
	require.NoError(t, os.WriteFile(path, []byte("Now it has text."), 0o644))
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	unprocessed, err = f.svc.UnprocessedFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"empty.txt"}, unprocessed)
}

func TestIngest_EmptyFilesPersistAcrossServices(t *testing.T) {
	ctx := context.Background()
	emptyLog := newMemoryEmptyLog()
	files := map[string]string{"a.txt": "alpha", "empty.txt": "   \n"}
	f := newFixture(t, files, func(d *Dependencies, _ *Options) { d.EmptyLog = emptyLog })

	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	restarted := NewRAGService(Dependencies{
		Loader:   loader.NewDirectoryLoader(zerolog.Nop()),
		Chunker:  chunker.NewRecursiveChunker(),
		Embedder: hashing.NewEmbedder(hashing.DefaultDimension),
		Store:    f.store,
		EmptyLog: emptyLog,
	}, Options{DataDir: f.dir}, zerolog.Nop())

	unprocessed, err := restarted.UnprocessedFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, unprocessed)
}

func TestIngest_MissingDirectory(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Ingest(context.Background())
	assert.ErrorIs(t, err, domain.ErrIngestion)
}

func TestIngest_FailureLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"}, func(d *Dependencies, _ *Options) {
		d.Embedder = failingEmbedder{Embedder: d.Embedder}
	})
	_, err := f.svc.Ingest(ctx)
	assert.ErrorIs(t, err, domain.ErrIngestion)
	assert.Zero(t, f.store.Len())

	f = newFixture(t, map[string]string{"a.txt": "alpha"}, func(d *Dependencies, _ *Options) {
		d.Store = &failingStore{VectorStore: d.Store, upsertErr: errors.New("disk full")}
	})
	_, err = f.svc.Ingest(ctx)
	assert.ErrorIs(t, err, domain.ErrIngestion)
	assert.Zero(t, f.store.Len())
}

func TestAnswer_ParisEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		"a.txt": "Paris is the capital of France.",
		"b.txt": "Photosynthesis converts light into chemical energy.",
	})
	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	answer, err := f.svc.Answer(ctx, "What is the capital of France?", []string{"a.txt"})
	require.NoError(t, err)

	require.NotEmpty(t, answer.Sources)
	assert.Equal(t, "Paris is the capital of France.", answer.Sources[0].Text)
	assert.Equal(t, filepath.Join(f.dir, "a.txt"), answer.Sources[0].Metadata.SourcePath)
	for _, h := range answer.Sources {
		assert.Equal(t, filepath.Join(f.dir, "a.txt"), h.Metadata.SourcePath)
	}
	assert.Contains(t, answer.Text, "Paris is the capital of France.")
	assert.Contains(t, answer.Text, "Question: What is the capital of France?")

	require.Len(t, f.log.entries, 1)
	assert.Equal(t, "What is the capital of France?", f.log.entries[0].Question)
	assert.Equal(t, answer.Text, f.log.entries[0].Answer)
}

func TestAnswer_EmptySelectionNeverCallsGenerator(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "Paris is the capital of France."})
	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, "What is the capital of France?", nil)
	assert.ErrorIs(t, err, domain.ErrNoDocumentsSelected)

	_, err = f.svc.Answer(ctx, "What is the capital of France?", []string{})
	assert.ErrorIs(t, err, domain.ErrNoDocumentsSelected)

	assert.Zero(t, f.gen.calls())
	assert.Empty(t, f.log.entries)
}

func TestAnswer_UnindexedSelectionStillGenerates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "Paris is the capital of France."})
	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	answer, err := f.svc.Answer(ctx, "Anything?", []string{"missing.txt"})
	require.NoError(t, err)

	assert.Empty(t, answer.Sources)
	require.Equal(t, 1, f.gen.calls())
	assert.True(t, strings.HasSuffix(f.gen.prompts[0], "Context: \nAnswer:"), f.gen.prompts[0])
}

func TestAnswer_LogFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "alpha"}, func(d *Dependencies, _ *Options) {
		d.QueryLog = &recordingLog{err: errors.New("database is locked")}
	})
	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	answer, err := f.svc.Answer(ctx, "alpha?", []string{"a.txt"})
	require.NoError(t, err)
	assert.NotEmpty(t, answer.Text)
}

func TestAnswer_GenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	f.gen.err = errors.New("connection refused")

	_, err := f.svc.Answer(ctx, "alpha?", []string{"a.txt"})
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.Empty(t, f.log.entries)
}

func TestAnswer_GenerationTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "alpha"})
	f.gen.err = context.DeadlineExceeded

	_, err := f.svc.Answer(ctx, "alpha?", []string{"a.txt"})
	assert.ErrorIs(t, err, domain.ErrGeneration)
	assert.ErrorIs(t, err, domain.ErrTimeout)
}

func TestAnswer_SelectionCacheInvalidatedByIngest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	_, err := f.svc.Ingest(ctx)
	require.NoError(t, err)

	_, err = f.svc.Answer(ctx, "q", []string{"b.txt", "a.txt"})
	require.NoError(t, err)
	_, err = f.svc.Answer(ctx, "q", []string{"a.txt", "b.txt"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.retrievers.len())

	_, err = f.svc.Ingest(ctx)
	require.NoError(t, err)
	assert.Zero(t, f.svc.retrievers.len())
}

func TestUpload_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{"a.txt": "original"})
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.txt"), []byte("replacement"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.txt"), []byte("new"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "image.png"), []byte{0x89, 'P', 'N', 'G'}, 0o644))

	saved, err := f.svc.Upload(ctx, []string{
		filepath.Join(src, "a.txt"),
		filepath.Join(src, "b.txt"),
		filepath.Join(src, "image.png"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt"}, saved)

	data, err := os.ReadFile(filepath.Join(f.dir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
}

func TestUpload_CreatesDataDirectory(t *testing.T) {
	f := newFixture(t, nil)
	src := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(src, []byte("notes"), 0o644))

	saved, err := f.svc.Upload(context.Background(), []string{src})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, saved)

	unprocessed, err := f.svc.UnprocessedFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"notes.txt"}, unprocessed)
}

func TestUpload_MissingSource(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Upload(context.Background(), []string{filepath.Join(t.TempDir(), "nope.txt")})
	assert.ErrorIs(t, err, domain.ErrIngestion)
}
