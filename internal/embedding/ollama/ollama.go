// Package ollama provides an embedder backed by a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docqa/internal/domain"
	"docqa/internal/embedding"
)

var _ domain.Embedder = (*Embedder)(nil)

// Default configuration values.
const (
	DefaultBaseURL   = "http://localhost:11434"
	DefaultModel     = "all-minilm"
	DefaultTimeout   = 30 * time.Second
	DefaultDimension = 384
)

// Config holds configuration for the Ollama embedder.
type Config struct {
	BaseURL   string
	Model     string
	Timeout   time.Duration
	Dimension int
}

// Embedder calls Ollama's /api/embeddings endpoint.
type Embedder struct {
	client    *http.Client
	baseURL   string
	model     string
	dimension int
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// New creates an Ollama embedder, filling in defaults for empty fields.
func New(cfg Config) *Embedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = DefaultDimension
	}
	return &Embedder{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "ollama:" + e.model }

// Dimension returns the embedding vector size.
func (e *Embedder) Dimension() int { return e.dimension }

// Embed generates a unit-length vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("ollama returned an empty embedding for model %s", e.model)
	}
	if len(out.Embedding) != e.dimension {
		return nil, fmt.Errorf("ollama model %s returned %d dimensions, want %d", e.model, len(out.Embedding), e.dimension)
	}
	return embedding.FromFloat64(out.Embedding), nil
}

// EmbedBatch embeds each text in order; Ollama has no batch endpoint.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedding.EmbedEach(ctx, texts, e.Embed)
}
