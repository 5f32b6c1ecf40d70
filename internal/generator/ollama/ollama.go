// Package ollama implements the answer generator over a local Ollama server's
// /api/generate endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"docqa/internal/domain"
)

var _ domain.Generator = (*Generator)(nil)

// Default configuration values.
const (
	DefaultEndpoint = "http://localhost:11434"
	DefaultModel    = "phi3"
	DefaultTimeout  = 120 * time.Second
)

// Config holds configuration for the Ollama generator.
type Config struct {
	Endpoint   string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	// RequestsPerSecond throttles calls when positive.
	RequestsPerSecond float64
}

// Generator sends prompts to Ollama with bounded retries behind a circuit
// breaker.
type Generator struct {
	client     *http.Client
	endpoint   string
	model      string
	maxRetries int
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
	logger     zerolog.Logger
	retryDelay func(attempt int) time.Duration
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// statusError is a non-2xx reply. Client errors other than 429 are not
// retried.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("ollama returned status %d", e.code)
	}
	return fmt.Sprintf("ollama returned status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// New creates a generator, filling in defaults for empty fields.
func New(cfg Config, logger zerolog.Logger) *Generator {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	g := &Generator{
		client:     &http.Client{Timeout: cfg.Timeout},
		endpoint:   strings.TrimRight(cfg.Endpoint, "/"),
		model:      cfg.Model,
		maxRetries: cfg.MaxRetries,
		logger:     logger,
		retryDelay: retryDelay,
	}
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ollama-generate",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// a cancelled caller says nothing about the server
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
		},
	})
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return g
}

// Generate returns the model's completion for prompt. Failures wrap
// domain.ErrGeneration, and deadline expiry also wraps domain.ErrTimeout.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", classify(err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			g.logger.Debug().Int("attempt", attempt).Err(lastErr).Msg("Retrying generation")
			if err := sleep(ctx, g.retryDelay(attempt-1)); err != nil {
				return "", classify(err)
			}
		}
		out, err := g.breaker.Execute(func() (interface{}, error) {
			return g.call(ctx, prompt)
		})
		if err == nil {
			return out.(string), nil
		}
		lastErr = err
		if !retryable(ctx, err) {
			break
		}
	}
	return "", classify(lastErr)
}

func (g *Generator) call(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: g.model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(msg))}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s", out.Error)
	}
	return out.Response, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil || isTimeout(err) {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.retryable()
	}
	return true
}

func classify(err error) error {
	if isTimeout(err) {
		return fmt.Errorf("%w: %w: %w", domain.ErrGeneration, domain.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrGeneration, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryDelay(attempt int) time.Duration {
	// 200ms << 5 already exceeds the cap; larger shifts overflow
	attempt = min(max(attempt, 0), 5)
	base := 200 * time.Millisecond
	// exponential backoff capped at 5s
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
