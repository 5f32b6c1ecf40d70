package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data", cfg.DataDirectory)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 3, cfg.Retrieval.K)
	assert.Equal(t, "badger", cfg.VectorStore.Type)
	assert.Equal(t, "hashing", cfg.Embedder.Type)
	assert.Equal(t, "phi3", cfg.Generator.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Generator.Endpoint)
	assert.False(t, cfg.Ingest.SkipProcessed)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_AppliesDefaultsToPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_directory: /srv/docs
embedder:
  type: ollama
retrieval:
  k: 5
ingest:
  skip_processed: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/docs", cfg.DataDirectory)
	assert.Equal(t, 5, cfg.Retrieval.K)
	assert.Equal(t, "all-minilm", cfg.Embedder.Model)
	assert.Equal(t, "http://localhost:11434", cfg.Embedder.BaseURL)
	assert.True(t, cfg.Ingest.SkipProcessed)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
}

func TestLoad_ExplicitZeroOverlapAndRetriesAreKept(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
chunker:
  chunk_size: 500
  chunk_overlap: 0
generator:
  max_retries: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 0, cfg.Generator.MaxRetries)
	assert.Equal(t, 500, cfg.Chunker.ChunkSize)
	assert.NoError(t, cfg.Validate())

	omitted := filepath.Join(dir, "omitted.yaml")
	require.NoError(t, os.WriteFile(omitted, []byte("chunker:\n  chunk_size: 500\n"), 0o644))
	cfg, err = Load(omitted)
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 2, cfg.Generator.MaxRetries)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("data_directory: [unclosed"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DOCQA_DATA_DIRECTORY", "/tmp/elsewhere")
	t.Setenv("DOCQA_RETRIEVAL_K", "7")
	t.Setenv("DOCQA_GENERATIVE_MODEL", "llama3.2")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/elsewhere", cfg.DataDirectory)
	assert.Equal(t, 7, cfg.Retrieval.K)
	assert.Equal(t, "llama3.2", cfg.Generator.Model)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := defaultConfig()
	cfg.Retrieval.K = 9

	require.NoError(t, Save(path, cfg))
	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9, loaded.Retrieval.K)
	assert.Equal(t, cfg.LogStore.Path, loaded.LogStore.Path)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"empty data directory", func(c *AppConfig) { c.DataDirectory = "" }},
		{"unknown embedder", func(c *AppConfig) { c.Embedder.Type = "word2vec" }},
		{"unknown vector store", func(c *AppConfig) { c.VectorStore.Type = "faiss" }},
		{"qdrant without url", func(c *AppConfig) { c.VectorStore.Type = "qdrant" }},
		{"zero k", func(c *AppConfig) { c.Retrieval.K = 0 }},
		{"missing generator model", func(c *AppConfig) { c.Generator.Model = "" }},
		{"remote embedder without model", func(c *AppConfig) {
			c.Embedder.Type = "ollama"
			c.Embedder.Model = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}
