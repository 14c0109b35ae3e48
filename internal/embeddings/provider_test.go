package embeddings

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/metrics"
)

type stubClient struct {
	vec   []float32
	err   error
	panic bool
	calls atomic.Int32
	model string
}

func (s *stubClient) Embed(_ context.Context, _ string, model string) ([]float32, error) {
	s.calls.Add(1)
	s.model = model
	if s.panic {
		panic("provider exploded")
	}
	return s.vec, s.err
}

type staticSource struct {
	cfg   config.SystemConfig
	panic bool
	loads atomic.Int32
}

func (s *staticSource) Load(context.Context) config.SystemConfig {
	s.loads.Add(1)
	if s.panic {
		panic("config unavailable")
	}
	return s.cfg
}

func sourceWith(model string, dims int) *staticSource {
	cfg := config.DefaultSystemConfig()
	cfg.Embedding.Model = model
	cfg.Embedding.Dimensions = dims
	return &staticSource{cfg: cfg}
}

func TestProviderUsesConfiguredModel(t *testing.T) {
	client := &stubClient{vec: []float32{0.1, 0.2, 0.3}}
	p := NewProvider(client, sourceWith("custom-embed", 3), zaptest.NewLogger(t))

	vec := p.Embed(context.Background(), "summer campaign")
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
	assert.Equal(t, "custom-embed", client.model)
}

func TestProviderDefaultsWithoutSource(t *testing.T) {
	client := &stubClient{err: errors.New("boom")}
	p := NewProvider(client, nil, zaptest.NewLogger(t))

	vec := p.Embed(context.Background(), "hello")
	assert.Len(t, vec, config.DefaultEmbeddingDimensions)
	assert.Equal(t, config.DefaultEmbeddingModel, client.model)
	assert.Equal(t, config.DefaultEmbeddingDimensions, p.Dimensions(context.Background()))
}

func TestProviderFallsBackToZeroVector(t *testing.T) {
	tests := []struct {
		name   string
		client *stubClient
	}{
		{"error", &stubClient{err: errors.New("provider unavailable")}},
		{"panic", &stubClient{panic: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProvider(tt.client, sourceWith("m", 8), zaptest.NewLogger(t))
			vec := p.Embed(context.Background(), "text")
			require.Len(t, vec, 8)
			for _, f := range vec {
				assert.Zero(t, f)
			}
		})
	}
}

func TestProviderNilClient(t *testing.T) {
	p := NewProvider(nil, sourceWith("m", 4), zaptest.NewLogger(t))
	assert.Equal(t, []float32{0, 0, 0, 0}, p.Embed(context.Background(), "x"))
}

func TestProviderConfigPanicUsesDefaults(t *testing.T) {
	client := &stubClient{err: errors.New("down")}
	src := &staticSource{panic: true}
	p := NewProvider(client, src, zaptest.NewLogger(t))

	vec := p.Embed(context.Background(), "text")
	assert.Len(t, vec, 1536)
	assert.Equal(t, config.DefaultEmbeddingModel, client.model)
}

func TestProviderReturnsMismatchedVectorUnchanged(t *testing.T) {
	client := &stubClient{vec: []float32{1, 2}}
	p := NewProvider(client, sourceWith("m", 1536), zaptest.NewLogger(t))

	vec := p.Embed(context.Background(), "text")
	assert.Equal(t, []float32{1, 2}, vec)
}

func TestProviderIgnoresInvalidConfiguredDimensions(t *testing.T) {
	client := &stubClient{err: errors.New("down")}
	p := NewProvider(client, sourceWith("", 0), zaptest.NewLogger(t))

	assert.Len(t, p.Embed(context.Background(), "x"), config.DefaultEmbeddingDimensions)
	assert.Equal(t, config.DefaultEmbeddingModel, client.model)
}

func TestEstimateTokensAndCost(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens("   "))
	assert.Equal(t, 2, EstimateTokens("one"))
	assert.Equal(t, 13, EstimateTokens("a b c d e f g h i j"))
	assert.InDelta(t, 0.013*0.02, EstimateCost("a b c d e f g h i j", 0.02), 1e-12)
}

func TestDimensionMismatchError(t *testing.T) {
	err := &DimensionMismatchError{Model: "m", Expected: 3, Actual: 2}
	assert.Equal(t, "embedding dimension mismatch for m: expected 3, got 2", err.Error())
}

func costFor(t *testing.T, model string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, metrics.EmbeddingCostUSD.WithLabelValues(model).Write(&m))
	return m.GetCounter().GetValue()
}

func TestProviderCostCountsOnlyProviderCalls(t *testing.T) {
	const model = "cost-tracking-model"
	src := sourceWith(model, 3)
	src.cfg.Embedding.CostPer1K = 1
	next := &stubClient{vec: []float32{1, 2, 3}}
	p := NewProvider(NewCachedClient(next, NewLocalCache(16), nil, src), src, zaptest.NewLogger(t))
	ctx := context.Background()

	p.Embed(ctx, "quarterly brand voice guide")
	afterMiss := costFor(t, model)
	assert.Greater(t, afterMiss, 0.0)

	for i := 0; i < 3; i++ {
		p.Embed(ctx, "quarterly brand voice guide")
	}
	assert.EqualValues(t, 1, next.calls.Load())
	assert.Equal(t, afterMiss, costFor(t, model))
}
