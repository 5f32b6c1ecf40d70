package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	"docqa/internal/embedding/ollama"
	"docqa/internal/embedding/openai"
	generator "docqa/internal/generator/ollama"
	"docqa/internal/loader"
	"docqa/internal/logging"
	"docqa/internal/querylog"
	"docqa/internal/service"
	"docqa/internal/summarizer"
	"docqa/internal/vectorstore/badger"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the assembled pipeline for one command invocation.
type app struct {
	cfg     *config.AppConfig
	logger  zerolog.Logger
	service *service.RAGServiceImpl
	log     *querylog.Store
	closers []io.Closer
}

// openApp loads configuration and assembles components. When logTo is nil,
// logs go to a file next to the query log (the TUI owns the terminal).
func openApp(cfgPath string, logTo io.Writer) (*app, error) {
	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	if logTo != nil {
		a.logger = logging.New(logTo, cfg.Log.Level, cfg.Log.JSON)
	} else {
		logPath := filepath.Join(filepath.Dir(cfg.LogStore.Path), "docqa.log")
		if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
			return nil, err
		}
		logger, closer, err := logging.ToFile(logPath, cfg.Log.Level)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		a.logger = logger
		a.closers = append(a.closers, closer)
	}

	if err := a.assemble(); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) assemble() error {
	cfg := a.cfg

	emb, err := buildEmbedder(cfg.Embedder)
	if err != nil {
		return err
	}

	ch, err := chunker.New(cfg.Chunker.Type, cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap,
		cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	if err != nil {
		return err
	}

	var st domain.VectorStore
	switch cfg.VectorStore.Type {
	case "badger", "":
		bs, err := badger.Open(cfg.IndexDirectory, a.logger)
		if err != nil {
			return fmt.Errorf("%w: %w", domain.ErrRetrieval, err)
		}
		st = bs
	case "memory":
		st = memory.NewStorage()
	case "qdrant":
		q := cfg.VectorStore.Qdrant
		st = qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     q.APIKey,
			Collection: q.Collection,
			Timeout:    secs(q.TimeoutSecs),
		})
	default:
		return fmt.Errorf("%w: unknown vector store: %s", domain.ErrConfiguration, cfg.VectorStore.Type)
	}
	a.closers = append(a.closers, st)

	qlog, err := querylog.Open(cfg.LogStore.Path)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	a.log = qlog
	a.closers = append(a.closers, qlog)

	gen := generator.New(generator.Config{
		Endpoint:          cfg.Generator.Endpoint,
		Model:             cfg.Generator.Model,
		Timeout:           cfg.Generator.Timeout(),
		MaxRetries:        cfg.Generator.MaxRetries,
		RequestsPerSecond: cfg.Generator.RequestsPerSecond,
	}, a.logger)

	a.service = service.NewRAGService(service.Dependencies{
		Loader:     loader.NewDirectoryLoader(a.logger),
		Chunker:    ch,
		Embedder:   emb,
		Store:      st,
		Generator:  gen,
		QueryLog:   qlog,
		Summarizer: summarizer.NewFrequencySummarizer(),
		EmptyLog:   qlog,
	}, service.Options{
		DataDir:          cfg.DataDirectory,
		K:                cfg.Retrieval.K,
		SkipProcessed:    cfg.Ingest.SkipProcessed,
		SummarySentences: cfg.Ingest.SummarySentences,
		EmbedTimeout:     cfg.Embedder.Timeout(),
		GenerateTimeout:  cfg.Generator.Timeout(),
	}, a.logger)

	a.logger.Debug().
		Str("embedder", emb.Name()).
		Str("vector_store", cfg.VectorStore.Type).
		Str("model", cfg.Generator.Model).
		Str("data_dir", cfg.DataDirectory).
		Msg("Pipeline assembled")
	return nil
}

func buildEmbedder(cfg config.EmbedderConfig) (domain.Embedder, error) {
	switch cfg.Type {
	case "hashing", "":
		return hashing.NewEmbedder(cfg.Dimension), nil
	case "ollama":
		return ollama.New(ollama.Config{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Timeout:   cfg.Timeout(),
			Dimension: cfg.Dimension,
		}), nil
	case "openai":
		client, err := openai.NewClient(openai.Config{
			BaseURL:   cfg.BaseURL,
			APIKeyEnv: cfg.APIKeyEnv,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout(),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder init failed: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder: %s", domain.ErrConfiguration, cfg.Type)
	}
}

// Close releases stores and log files in reverse order of opening.
func (a *app) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}

func secs(n int) time.Duration { return time.Duration(n) * time.Second }
