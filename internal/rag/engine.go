// Package rag is the entry point the content flow and maintenance jobs use to manage
// content vectors. Only quota rejections escape StoreContentVector; update failures are
// logged; cleanup failures are returned.
package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/docstore"
	"github.com/Kocoro-lab/brandrag/internal/embeddings"
	"github.com/Kocoro-lab/brandrag/internal/ratecontrol"
	"github.com/Kocoro-lab/brandrag/internal/vectordb"
)

// Options tune the engine's collaborators
type Options struct {
	// Window makes quota reservations atomic in Redis
	Window          *ratecontrol.RedisWindow
	DuplicatePolicy vectordb.DuplicatePolicy
	// Now replaces time.Now
	Now func() time.Time
}

// Engine coordinates config, quota, embedding and vector storage
type Engine struct {
	cache    *config.ConfigCache
	provider *embeddings.Provider
	limiter  *ratecontrol.Limiter
	vectors  *vectordb.Store
	logger   *zap.Logger
}

// NewEngine wires the provider, limiter and vector store around cache and docs
func NewEngine(cache *config.ConfigCache, client embeddings.Client, docs docstore.Store, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	provider := embeddings.NewProvider(client, cache, logger.Named("embeddings"))

	limiterOpts := []ratecontrol.Option{ratecontrol.WithClock(now)}
	if opts.Window != nil {
		limiterOpts = append(limiterOpts, ratecontrol.WithWindow(opts.Window))
	}
	limiter := ratecontrol.NewLimiter(cache, vectordb.NewCounter(docs), docs, logger.Named("ratecontrol"), limiterOpts...)

	storeOpts := []vectordb.Option{vectordb.WithClock(now)}
	if opts.DuplicatePolicy != "" {
		storeOpts = append(storeOpts, vectordb.WithDuplicatePolicy(opts.DuplicatePolicy))
	}
	vectors := vectordb.NewStore(docs, limiter, provider, cache, logger.Named("vectordb"), storeOpts...)

	return &Engine{
		cache:    cache,
		provider: provider,
		limiter:  limiter,
		vectors:  vectors,
		logger:   logger,
	}
}

// StoreContentVector embeds and stores new content. The only error returned is a
// *vectordb.RateLimitError; anything else is logged.
func (e *Engine) StoreContentVector(ctx context.Context, in vectordb.CreateInput) error {
	err := e.vectors.Create(ctx, in)
	if err == nil {
		return nil
	}
	if errors.Is(err, vectordb.ErrRateLimitExceeded) {
		e.logger.Info("Content vector rejected by quota",
			zap.String("user_id", in.UserID),
			zap.String("reason", err.Error()))
		return err
	}
	e.logger.Error("Failed to store content vector",
		zap.String("user_id", in.UserID),
		zap.String("content_id", in.ContentID),
		zap.Error(err))
	return nil
}

// UpdateContentVector re-embeds existing content. It never fails; a missing vector is a no-op.
func (e *Engine) UpdateContentVector(ctx context.Context, userID, contentID, text string, metadata map[string]interface{}) {
	err := e.vectors.Update(ctx, userID, contentID, text, metadata)
	switch {
	case err == nil:
	case errors.Is(err, vectordb.ErrVectorNotFound):
		e.logger.Info("No content vector to update",
			zap.String("user_id", userID),
			zap.String("content_id", contentID))
	default:
		e.logger.Error("Failed to update content vector",
			zap.String("user_id", userID),
			zap.String("content_id", contentID),
			zap.Error(err))
	}
}

// CleanupOldVectors applies the retention policy to one user
func (e *Engine) CleanupOldVectors(ctx context.Context, userID string, keepDays *int) (int, error) {
	return e.vectors.Cleanup(ctx, userID, keepDays)
}

// CleanupAllUsers applies the retention policy to every user holding vectors.
// It continues past per-user failures and returns them joined.
func (e *Engine) CleanupAllUsers(ctx context.Context, keepDays *int) (int, error) {
	users, err := e.vectors.Owners(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	var errs []error
	for _, uid := range users {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := e.vectors.Cleanup(ctx, uid, keepDays)
		total += n
		if err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", uid, err))
		}
	}
	e.logger.Info("Vector cleanup pass finished",
		zap.Int("users", len(users)),
		zap.Int("deleted", total),
		zap.Int("failures", len(errs)))
	return total, errors.Join(errs...)
}

// LoadSystemConfig returns the current config; it never fails
func (e *Engine) LoadSystemConfig(ctx context.Context) config.SystemConfig {
	return e.cache.Load(ctx)
}

// CheckRateLimit reports whether userID may store another vector, without reserving quota
func (e *Engine) CheckRateLimit(ctx context.Context, userID string) ratecontrol.Decision {
	return e.limiter.CheckRateLimit(ctx, userID)
}
