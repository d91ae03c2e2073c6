// Package embedding calls an OpenAI-compatible embeddings endpoint.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/utafrali/catalogsync/internal/metrics"
	"github.com/utafrali/catalogsync/pkg/httpclient"
)

const serviceName = "embedding-service"

// ErrMalformedResponse is returned when the service answers with the wrong
// number of vectors or vectors of the wrong dimension.
var ErrMalformedResponse = errors.New("malformed embedding response")

// Config holds embedding client settings.
type Config struct {
	// BaseURL is the API root; requests go to BaseURL + "/embeddings".
	BaseURL string
	Model   string
	APIKey  string
	// Dimensions, when positive, is requested from the service and checked
	// on every returned vector.
	Dimensions int
	// RequestsPerSecond limits outgoing calls; zero disables the limit.
	RequestsPerSecond float64
	HTTP              httpclient.Config
}

type embeddingRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// Client turns texts into vectors. It is safe for concurrent use.
type Client struct {
	http     *httpclient.CircuitBreakerClient
	limiter  *rate.Limiter
	endpoint string
	cfg      Config
	logger   *slog.Logger
}

// New creates an embedding client. Transport errors, 429 and 5xx responses
// are retried by the underlying HTTP client; repeated failures open the
// circuit breaker.
func New(cfg Config, logger *slog.Logger) *Client {
	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		burst = max(1, int(cfg.RequestsPerSecond))
	}

	return &Client{
		http: httpclient.NewCircuitBreakerClient(
			httpclient.New(cfg.HTTP),
			httpclient.DefaultCircuitBreakerConfig(serviceName),
			logger,
		),
		limiter:  rate.NewLimiter(limit, burst),
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + "/embeddings",
		cfg:      cfg,
		logger:   logger,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.cfg.Model
}

// Check fails while the circuit breaker is open. It sends no request.
func (c *Client) Check(context.Context) error {
	if c.http.State() == gobreaker.StateOpen {
		return fmt.Errorf("%s: %w", serviceName, httpclient.ErrCircuitOpen)
	}
	return nil
}

// Embed returns one vector per text, in input order.
func (c *Client) Embed(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	if len(texts) == 0 {
		return nil, nil
	}

	start := time.Now()
	defer func() {
		metrics.EmbeddingRequestDuration.Observe(time.Since(start).Seconds())
		status := metrics.StatusSuccess
		if err != nil {
			status = metrics.StatusFailure
		}
		metrics.EmbeddingRequests.WithLabelValues(status).Inc()
	}()

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embed: wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(embeddingRequest{
		Model:      c.cfg.Model,
		Input:      texts,
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embed: %w", httpclient.ParseResponseError(resp, serviceName))
	}
	defer func() { _ = resp.Body.Close() }()

	var result embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}

	vectors, err = c.order(result, len(texts))
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}

	c.logger.DebugContext(ctx, "embedding batch completed",
		slog.Int("texts", len(texts)),
		slog.Int("total_tokens", result.Usage.TotalTokens),
	)
	return vectors, nil
}

// order places each returned vector at its input index and validates the
// count and dimension.
func (c *Client) order(result embeddingResponse, n int) ([][]float32, error) {
	if len(result.Data) != n {
		return nil, fmt.Errorf("%w: got %d vectors for %d inputs", ErrMalformedResponse, len(result.Data), n)
	}

	vectors := make([][]float32, n)
	for _, item := range result.Data {
		if item.Index < 0 || item.Index >= n || vectors[item.Index] != nil {
			return nil, fmt.Errorf("%w: bad or duplicate index %d", ErrMalformedResponse, item.Index)
		}
		if c.cfg.Dimensions > 0 && len(item.Embedding) != c.cfg.Dimensions {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d",
				ErrMalformedResponse, item.Index, len(item.Embedding), c.cfg.Dimensions)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
