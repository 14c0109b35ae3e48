package embeddings

import (
	"context"
	"fmt"
	"strings"

	"github.com/Kocoro-lab/brandrag/internal/config"
)

// Client is the embedding capability: one vector for one text with the named model.
// Implementations return an error on any transport or provider failure.
type Client interface {
	Embed(ctx context.Context, text, model string) ([]float32, error)
}

// ConfigSource yields the current SystemConfig; *config.ConfigCache satisfies it
type ConfigSource interface {
	Load(ctx context.Context) config.SystemConfig
}

// DimensionMismatchError describes a vector whose length differs from the configured dimensions
type DimensionMismatchError struct {
	Model    string
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch for %s: expected %d, got %d", e.Model, e.Expected, e.Actual)
}

// EstimateTokens approximates the token count of text (about 1.3 tokens per word)
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return (words*13 + 9) / 10
}

// EstimateCost returns the USD cost of embedding text at costPer1K
func EstimateCost(text string, costPer1K float64) float64 {
	return float64(EstimateTokens(text)) / 1000 * costPer1K
}
