// Package qdrant stores vectors in a remote Qdrant collection over its REST
// API.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"docqa/internal/domain"
	"docqa/internal/vectorstore"
)

var _ domain.VectorStore = (*Storage)(nil)

// errNotFound marks a 404 from Qdrant, which for a missing collection means
// an empty index.
var errNotFound = errors.New("qdrant: not found")

const scrollPageSize = 256

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection on first write.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.Mutex
	dimension int
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload payload   `json:"payload"`
}

type payload struct {
	SourcePath string `json:"source_path"`
	Text       string `json:"text"`
}

// Upsert sends the whole batch in one request with wait=true, so Qdrant
// applies it as a single update operation.
func (s *Storage) Upsert(ctx context.Context, records []domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dim, err := vectorstore.Validate(records, s.dimension)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, dim); err != nil {
		return err
	}

	points := make([]point, len(records))
	for i, r := range records {
		id := r.ID
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		points[i] = point{
			ID:      id,
			Vector:  r.Vector,
			Payload: payload{SourcePath: r.Metadata.SourcePath, Text: r.Text},
		}
	}
	body := map[string]any{"points": points}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("upsert %d points: %w", len(points), err)
	}
	s.dimension = dim
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int, sources []string) ([]domain.SearchResult, error) {
	if topK <= 0 {
		return []domain.SearchResult{}, nil
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := sourceFilter(sources); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp)
	if errors.Is(err, errNotFound) {
		return []domain.SearchResult{}, nil
	}
	if err != nil {
		return nil, err
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{
			Text:     r.Payload.Text,
			Metadata: domain.Metadata{SourcePath: r.Payload.SourcePath},
			Score:    r.Score,
		})
	}
	return results, nil
}

// ListMetadata pages through the collection with the scroll API.
func (s *Storage) ListMetadata(ctx context.Context) ([]domain.Metadata, error) {
	out := []domain.Metadata{}
	var offset any
	for {
		req := map[string]any{
			"limit":        scrollPageSize,
			"with_payload": []string{"source_path"},
			"with_vector":  false,
		}
		if offset != nil {
			req["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload payload `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		err := s.doJSON(ctx, http.MethodPost, s.collectionURL("/points/scroll"), req, &resp)
		if errors.Is(err, errNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			out = append(out, domain.Metadata{SourcePath: p.Payload.SourcePath})
		}
		if resp.Result.NextPageOffset == nil {
			return out, nil
		}
		offset = resp.Result.NextPageOffset
	}
}

func (s *Storage) Close() error { return nil }

func (s *Storage) ensureCollection(ctx context.Context, dimension int) error {
	err := s.doJSON(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errNotFound) {
		return err
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.doJSON(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	index := map[string]any{"field_name": "source_path", "field_schema": "keyword"}
	return s.doJSON(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil)
}

func sourceFilter(sources []string) map[string]any {
	if len(sources) == 0 {
		return nil
	}
	return map[string]any{
		"must": []any{
			map[string]any{
				"key":   "source_path",
				"match": map[string]any{"any": sources},
			},
		},
	}
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) doJSON(ctx context.Context, method, url string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("qdrant %s %s: %w", method, url, errNotFound)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
