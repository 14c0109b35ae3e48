package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/metrics"
	"github.com/Kocoro-lab/brandrag/internal/tracing"
)

// OpenAIClient embeds through any OpenAI-compatible endpoint
type OpenAIClient struct {
	client *openai.Client
	logger *zap.Logger
}

// NewOpenAIClient creates a client; an empty baseURL means api.openai.com
func NewOpenAIClient(apiKey, baseURL string, logger *zap.Logger) *OpenAIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg), logger: logger}
}

// Embed returns the vector for text
func (c *OpenAIClient) Embed(ctx context.Context, text, model string) ([]float32, error) {
	ctx, span := tracing.StartSpan(ctx, "openai.embeddings")
	defer span.End()

	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			c.logger.Debug("OpenAI embedding error",
				zap.Int("status", apiErr.HTTPStatusCode),
				zap.String("type", apiErr.Type))
		}
		tracing.RecordError(span, err)
		metrics.RecordEmbeddingMetrics(model, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		metrics.RecordEmbeddingMetrics(model, "empty", time.Since(start).Seconds())
		return nil, errors.New("no embeddings returned")
	}
	metrics.RecordEmbeddingMetrics(model, "ok", time.Since(start).Seconds())
	return resp.Data[0].Embedding, nil
}
