package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Kocoro-lab/brandrag/internal/circuitbreaker"
	"github.com/Kocoro-lab/brandrag/internal/metrics"
	"github.com/Kocoro-lab/brandrag/internal/tracing"
)

// HTTPConfig configures the LLM-service embedding client
type HTTPConfig struct {
	// BaseURL points to the service exposing POST /embeddings/
	BaseURL string
	Timeout time.Duration
	// RequestsPerSecond throttles outbound calls; zero disables throttling
	RequestsPerSecond float64
	Burst             int
	// MaxRetries bounds retries on transport errors and 5xx responses
	MaxRetries uint64
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// HTTPClient calls the LLM service through a circuit breaker with throttling and retries
type HTTPClient struct {
	cfg     HTTPConfig
	http    *circuitbreaker.HTTPWrapper
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewHTTPClient creates an embedding client for cfg.BaseURL
func NewHTTPClient(cfg HTTPConfig, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &HTTPClient{
		cfg:     cfg,
		http:    circuitbreaker.NewHTTPWrapper(&http.Client{Timeout: cfg.Timeout}, "embeddings-http", "embeddings", logger),
		limiter: limiter,
		logger:  logger,
	}
}

// Embed returns the vector for text
func (c *HTTPClient) Embed(ctx context.Context, text, model string) ([]float32, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding throttle: %w", err)
	}

	url := c.cfg.BaseURL + "/embeddings/"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	start := time.Now()
	var out []float32
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries), ctx)
	err := backoff.RetryNotify(func() error {
		vec, err := c.post(ctx, url, text, model)
		if err != nil {
			return err
		}
		out = vec
		return nil
	}, policy, func(err error, wait time.Duration) {
		c.logger.Debug("Retrying embedding request", zap.String("model", model), zap.Duration("wait", wait), zap.Error(err))
	})
	if err != nil {
		tracing.RecordError(span, err)
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())
	return out, nil
}

// post performs one attempt. Errors wrapped in backoff.Permanent are not retried.
func (c *HTTPClient) post(ctx context.Context, url, text, model string) ([]float32, error) {
	buf, err := json.Marshal(embedRequest{Texts: []string{text}, Model: model})
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, statusErr
		}
		return nil, backoff.Permanent(statusErr)
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode embedding response: %w", err))
	}
	if len(er.Embeddings) == 0 {
		return nil, backoff.Permanent(errors.New("no embeddings returned"))
	}

	out := make([]float32, len(er.Embeddings[0]))
	for i, f := range er.Embeddings[0] {
		out[i] = float32(f)
	}
	return out, nil
}
