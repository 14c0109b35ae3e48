package config

import (
	"encoding/json"
	"fmt"
)

// RateLimitingConfig holds the embedding quota ceilings
type RateLimitingConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	GlobalMaxPerHour int  `json:"globalMaxPerHour" yaml:"globalMaxPerHour"`
	GlobalMaxPerDay  int  `json:"globalMaxPerDay" yaml:"globalMaxPerDay"`
	UserMaxPerHour   int  `json:"userMaxPerHour" yaml:"userMaxPerHour"`
	UserMaxPerDay    int  `json:"userMaxPerDay" yaml:"userMaxPerDay"`
}

// VectorCleanupConfig is the retention policy for content vectors
type VectorCleanupConfig struct {
	Enabled                 bool    `json:"enabled" yaml:"enabled"`
	RetentionDays           int     `json:"retentionDays" yaml:"retentionDays"`
	MinPerformanceThreshold float64 `json:"minPerformanceThreshold" yaml:"minPerformanceThreshold"`
}

// EmbeddingConfig selects the embedding model
type EmbeddingConfig struct {
	Model      string  `json:"model" yaml:"model"`
	Dimensions int     `json:"dimensions" yaml:"dimensions"`
	CostPer1K  float64 `json:"costPer1K" yaml:"costPer1K"`
}

// PerformanceConfig holds retrieval and caching knobs
type PerformanceConfig struct {
	SimilarityThreshold float64 `json:"similarityThreshold" yaml:"similarityThreshold"`
	MaxContextLength    int     `json:"maxContextLength" yaml:"maxContextLength"`
	CacheEnabled        bool    `json:"cacheEnabled" yaml:"cacheEnabled"`
	CacheTTLSeconds     int     `json:"cacheTTLSeconds" yaml:"cacheTTLSeconds"`
}

// SystemConfig is the deployment-wide tunables record written by the admin surface.
// Field names are the persisted contract.
type SystemConfig struct {
	RateLimiting  RateLimitingConfig  `json:"rateLimiting" yaml:"rateLimiting"`
	VectorCleanup VectorCleanupConfig `json:"vectorCleanup" yaml:"vectorCleanup"`
	Embedding     EmbeddingConfig     `json:"embedding" yaml:"embedding"`
	Performance   PerformanceConfig   `json:"performance" yaml:"performance"`
}

const (
	DefaultEmbeddingModel      = "text-embedding-3-small"
	DefaultEmbeddingDimensions = 1536
)

// DefaultSystemConfig is used when no record exists
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		RateLimiting: RateLimitingConfig{
			Enabled:          false,
			GlobalMaxPerHour: 1000,
			GlobalMaxPerDay:  10000,
			UserMaxPerHour:   50,
			UserMaxPerDay:    500,
		},
		VectorCleanup: VectorCleanupConfig{
			Enabled:                 true,
			RetentionDays:           90,
			MinPerformanceThreshold: 0.3,
		},
		Embedding: EmbeddingConfig{
			Model:      DefaultEmbeddingModel,
			Dimensions: DefaultEmbeddingDimensions,
			CostPer1K:  0.00002,
		},
		Performance: PerformanceConfig{
			SimilarityThreshold: 0.7,
			MaxContextLength:    4000,
			CacheEnabled:        true,
			CacheTTLSeconds:     3600,
		},
	}
}

// DegradedSystemConfig is served while the store is unreachable: quotas and cleanup are off.
func DegradedSystemConfig() SystemConfig {
	cfg := DefaultSystemConfig()
	cfg.RateLimiting.Enabled = false
	cfg.VectorCleanup.Enabled = false
	return cfg
}

// DecodeSystemConfig decodes a stored record over the defaults, so absent fields keep their default.
func DecodeSystemConfig(record map[string]interface{}) (SystemConfig, error) {
	cfg := DefaultSystemConfig()
	raw, err := json.Marshal(record)
	if err != nil {
		return cfg, fmt.Errorf("encode config record: %w", err)
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return DefaultSystemConfig(), fmt.Errorf("decode config record: %w", err)
	}
	return cfg, nil
}

// Validate rejects values no component can work with
func (c SystemConfig) Validate() error {
	switch {
	case c.RateLimiting.UserMaxPerHour < 0 || c.RateLimiting.UserMaxPerDay < 0:
		return fmt.Errorf("rateLimiting: per-user ceilings must not be negative")
	case c.RateLimiting.GlobalMaxPerHour < 0 || c.RateLimiting.GlobalMaxPerDay < 0:
		return fmt.Errorf("rateLimiting: global ceilings must not be negative")
	case c.VectorCleanup.RetentionDays < 0:
		return fmt.Errorf("vectorCleanup.retentionDays must not be negative")
	case c.VectorCleanup.MinPerformanceThreshold < 0 || c.VectorCleanup.MinPerformanceThreshold > 1:
		return fmt.Errorf("vectorCleanup.minPerformanceThreshold must be within [0,1]")
	case c.Embedding.Model == "":
		return fmt.Errorf("embedding.model is required")
	case c.Embedding.Dimensions <= 0:
		return fmt.Errorf("embedding.dimensions must be positive")
	case c.Performance.SimilarityThreshold < 0 || c.Performance.SimilarityThreshold > 1:
		return fmt.Errorf("performance.similarityThreshold must be within [0,1]")
	}
	return nil
}
