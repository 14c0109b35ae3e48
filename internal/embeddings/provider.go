package embeddings

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/metrics"
	"github.com/Kocoro-lab/brandrag/internal/tracing"
)

// Provider turns text into a vector of the configured model and dimensions. Embed never fails:
// a provider error yields a zero vector, which matches nothing in similarity search.
type Provider struct {
	client Client
	source ConfigSource
	logger *zap.Logger
}

// NewProvider binds client to a config source; a nil source means the built-in defaults
func NewProvider(client Client, source ConfigSource, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{client: client, source: source, logger: logger}
}

// Embed returns the embedding of text, or a zero vector of the configured dimensions on failure.
// A vector of unexpected length is returned unchanged.
func (p *Provider) Embed(ctx context.Context, text string) []float32 {
	emb := p.resolve(ctx)

	ctx, span := tracing.StartSpan(ctx, "embeddings.embed",
		attribute.String("model", emb.Model),
		attribute.Int("dimensions", emb.Dimensions),
	)
	defer span.End()

	start := time.Now()
	vec, cached, err := p.call(ctx, text, emb.Model)
	if err != nil {
		tracing.RecordError(span, err)
		metrics.EmbeddingFallbacks.WithLabelValues(emb.Model).Inc()
		p.logger.Warn("Embedding failed, using zero vector",
			zap.String("model", emb.Model),
			zap.Int("dimensions", emb.Dimensions),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return make([]float32, emb.Dimensions)
	}

	if len(vec) != emb.Dimensions {
		mismatch := &DimensionMismatchError{Model: emb.Model, Expected: emb.Dimensions, Actual: len(vec)}
		metrics.EmbeddingDimensionMismatches.WithLabelValues(emb.Model).Inc()
		p.logger.Warn("Embedding dimension mismatch", zap.Error(mismatch))
	}
	if !cached {
		metrics.RecordEmbeddingCost(emb.Model, EstimateCost(text, emb.CostPer1K))
	}
	return vec
}

// Dimensions returns the configured vector length
func (p *Provider) Dimensions(ctx context.Context) int {
	return p.resolve(ctx).Dimensions
}

// resolve reads the embedding settings, falling back to defaults on any failure
func (p *Provider) resolve(ctx context.Context) (emb config.EmbeddingConfig) {
	emb = config.DefaultSystemConfig().Embedding
	if p.source == nil {
		return emb
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Config source panicked, using default embedding settings", zap.Any("panic", r))
			emb = config.DefaultSystemConfig().Embedding
		}
	}()

	cfg := p.source.Load(ctx).Embedding
	if cfg.Model != "" {
		emb.Model = cfg.Model
	}
	if cfg.Dimensions > 0 {
		emb.Dimensions = cfg.Dimensions
	}
	emb.CostPer1K = cfg.CostPer1K
	return emb
}

// cacheReporter is implemented by clients that can answer without calling the provider
type cacheReporter interface {
	Lookup(ctx context.Context, text, model string) ([]float32, bool, error)
}

func (p *Provider) call(ctx context.Context, text, model string) (vec []float32, cached bool, err error) {
	if p.client == nil {
		return nil, false, fmt.Errorf("no embedding client configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("embedding client panic: %v", r)
		}
	}()
	if c, ok := p.client.(cacheReporter); ok {
		return c.Lookup(ctx, text, model)
	}
	vec, err = p.client.Embed(ctx, text, model)
	return vec, false, err
}
