package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string `yaml:"type"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Dimension   int    `yaml:"dimension"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	BatchSize   int    `yaml:"batch_size"`
}

// Timeout returns the per-call embedder deadline.
func (c EmbedderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// GeneratorConfig configures the language model service.
type GeneratorConfig struct {
	Model             string  `yaml:"model"`
	Endpoint          string  `yaml:"endpoint"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        int     `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Timeout returns the per-call generator deadline.
func (c GeneratorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      int    `yaml:"chunk_overlap"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig configures similarity search.
type RetrievalConfig struct {
	K int `yaml:"k"`
}

// LogStoreConfig locates the query log database.
type LogStoreConfig struct {
	Path string `yaml:"path"`
}

// IngestConfig controls re-ingestion behaviour.
type IngestConfig struct {
	// SkipProcessed skips documents whose source path is already indexed.
	// When false, re-ingesting a file adds duplicate records.
	SkipProcessed    bool `yaml:"skip_processed"`
	SummarySentences int  `yaml:"summary_sentences"`
}

// LogConfig configures application logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	DataDirectory  string            `yaml:"data_directory"`
	IndexDirectory string            `yaml:"index_directory"`
	Embedder       EmbedderConfig    `yaml:"embedder"`
	Generator      GeneratorConfig   `yaml:"generator"`
	Chunker        ChunkerConfig     `yaml:"chunker"`
	VectorStore    VectorStoreConfig `yaml:"vector_store"`
	Retrieval      RetrievalConfig   `yaml:"retrieval"`
	LogStore       LogStoreConfig    `yaml:"log_store"`
	Ingest         IngestConfig      `yaml:"ingest"`
	Log            LogConfig         `yaml:"log"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrConfiguration, path, err)
	}
	// Fields where zero is a meaningful choice are seeded before decoding so
	// an explicit 0 in the file survives applyConfigDefaults.
	cfg := AppConfig{
		Chunker:   ChunkerConfig{ChunkOverlap: defaultChunkOverlap},
		Generator: GeneratorConfig{MaxRetries: defaultMaxRetries},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrConfiguration, path, err)
	}
	applyConfigDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	applyEnvOverrides(cfg)
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate reports configuration that would make the pipeline unusable.
func (c *AppConfig) Validate() error {
	switch {
	case c.DataDirectory == "":
		return fmt.Errorf("%w: data_directory is required", domain.ErrConfiguration)
	case c.IndexDirectory == "" && c.VectorStore.Type == "badger":
		return fmt.Errorf("%w: index_directory is required for the badger vector store", domain.ErrConfiguration)
	case c.LogStore.Path == "":
		return fmt.Errorf("%w: log_store.path is required", domain.ErrConfiguration)
	case c.Chunker.ChunkSize <= 0:
		return fmt.Errorf("%w: chunker.chunk_size must be positive", domain.ErrConfiguration)
	case c.Chunker.ChunkOverlap < 0:
		return fmt.Errorf("%w: chunker.chunk_overlap must not be negative", domain.ErrConfiguration)
	case c.Retrieval.K <= 0:
		return fmt.Errorf("%w: retrieval.k must be positive", domain.ErrConfiguration)
	case c.Generator.Model == "":
		return fmt.Errorf("%w: generator.model is required", domain.ErrConfiguration)
	case c.Generator.Endpoint == "":
		return fmt.Errorf("%w: generator.endpoint is required", domain.ErrConfiguration)
	}
	switch c.Embedder.Type {
	case "hashing":
	case "ollama", "openai":
		if c.Embedder.Model == "" {
			return fmt.Errorf("%w: embedder.model is required for %s", domain.ErrConfiguration, c.Embedder.Type)
		}
	default:
		return fmt.Errorf("%w: unknown embedder %q", domain.ErrConfiguration, c.Embedder.Type)
	}
	switch c.VectorStore.Type {
	case "badger", "memory":
	case "qdrant":
		if c.VectorStore.Qdrant == nil || c.VectorStore.Qdrant.URL == "" {
			return fmt.Errorf("%w: vector_store.qdrant.url is required", domain.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown vector store %q", domain.ErrConfiguration, c.VectorStore.Type)
	}
	switch c.Chunker.Type {
	case "recursive", "sentence":
	default:
		return fmt.Errorf("%w: unknown chunker %q", domain.ErrConfiguration, c.Chunker.Type)
	}
	return nil
}

const (
	defaultChunkOverlap = 200
	defaultMaxRetries   = 2
)

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		DataDirectory:  "data",
		IndexDirectory: filepath.Join("db", "index"),
		Embedder:       EmbedderConfig{Type: "hashing"},
		Generator:      GeneratorConfig{Model: "phi3", Endpoint: "http://localhost:11434", MaxRetries: defaultMaxRetries},
		Chunker:        ChunkerConfig{Type: "recursive", ChunkOverlap: defaultChunkOverlap},
		VectorStore:    VectorStoreConfig{Type: "badger"},
		LogStore:       LogStoreConfig{Path: filepath.Join("db", "rag_log.db")},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.DataDirectory == "" {
		cfg.DataDirectory = "data"
	}
	if cfg.IndexDirectory == "" {
		cfg.IndexDirectory = filepath.Join("db", "index")
	}
	if cfg.LogStore.Path == "" {
		cfg.LogStore.Path = filepath.Join("db", "rag_log.db")
	}
	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "recursive"
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 3
	}
	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "badger"
	}
	if cfg.Ingest.SummarySentences == 0 {
		cfg.Ingest.SummarySentences = 2
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "phi3"
	}
	if cfg.Generator.Endpoint == "" {
		cfg.Generator.Endpoint = "http://localhost:11434"
	}
	if cfg.Generator.TimeoutSecs == 0 {
		cfg.Generator.TimeoutSecs = 120
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	switch cfg.Embedder.Type {
	case "hashing":
		if cfg.Embedder.Dimension == 0 {
			cfg.Embedder.Dimension = 384
		}
	case "ollama":
		if cfg.Embedder.BaseURL == "" {
			cfg.Embedder.BaseURL = "http://localhost:11434"
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "all-minilm"
		}
	case "openai":
		if cfg.Embedder.BaseURL == "" {
			cfg.Embedder.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.APIKeyEnv == "" {
			cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.Model == "" {
			cfg.Embedder.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.BatchSize == 0 {
			cfg.Embedder.BatchSize = 32
		}
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.Collection == "" {
			q.Collection = "docqa"
		}
		if q.TimeoutSecs == 0 {
			q.TimeoutSecs = 15
		}
	}
}

// applyEnvOverrides lets DOCQA_* variables (usually from .env) override the file.
func applyEnvOverrides(cfg *AppConfig) {
	if v := os.Getenv("DOCQA_DATA_DIRECTORY"); v != "" {
		cfg.DataDirectory = v
	}
	if v := os.Getenv("DOCQA_INDEX_DIRECTORY"); v != "" {
		cfg.IndexDirectory = v
	}
	if v := os.Getenv("DOCQA_LOG_STORE_PATH"); v != "" {
		cfg.LogStore.Path = v
	}
	if v := os.Getenv("DOCQA_EMBEDDING_MODEL"); v != "" {
		cfg.Embedder.Model = v
	}
	if v := os.Getenv("DOCQA_GENERATIVE_MODEL"); v != "" {
		cfg.Generator.Model = v
	}
	if v := os.Getenv("DOCQA_GENERATION_ENDPOINT"); v != "" {
		cfg.Generator.Endpoint = v
	}
	if v := os.Getenv("DOCQA_RETRIEVAL_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.K = k
		}
	}
	if v := os.Getenv("DOCQA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
