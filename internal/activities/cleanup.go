// Package activities holds the Temporal activities behind scheduled maintenance.
package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/config"
	"github.com/Kocoro-lab/brandrag/internal/metrics"
)

// CleanupVectorsActivity is the registered activity name
const CleanupVectorsActivity = "CleanupVectors"

// Cleaner is the engine surface the cleanup activity drives
type Cleaner interface {
	CleanupOldVectors(ctx context.Context, userID string, keepDays *int) (int, error)
	CleanupAllUsers(ctx context.Context, keepDays *int) (int, error)
	LoadSystemConfig(ctx context.Context) config.SystemConfig
}

// VectorCleanupInput selects one user, or every user when UserID is empty
type VectorCleanupInput struct {
	UserID   string `json:"user_id,omitempty"`
	KeepDays *int   `json:"keep_days,omitempty"`
}

// VectorCleanupResult reports what a run removed
type VectorCleanupResult struct {
	Deleted  int           `json:"deleted"`
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// VectorCleanupActivities holds dependencies for cleanup activities
type VectorCleanupActivities struct {
	engine Cleaner
	logger *zap.Logger
}

// NewVectorCleanupActivities creates a new VectorCleanupActivities instance
func NewVectorCleanupActivities(engine Cleaner, logger *zap.Logger) *VectorCleanupActivities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorCleanupActivities{engine: engine, logger: logger}
}

// CleanupVectors applies the retention policy. Deletion is idempotent, so a retried
// attempt only removes what an earlier attempt left behind.
func (a *VectorCleanupActivities) CleanupVectors(ctx context.Context, in VectorCleanupInput) (VectorCleanupResult, error) {
	start := time.Now()
	attempt := int32(1)
	if activity.IsActivity(ctx) {
		attempt = activity.GetInfo(ctx).Attempt
	}

	if !a.engine.LoadSystemConfig(ctx).VectorCleanup.Enabled {
		a.logger.Info("Vector cleanup disabled, skipping run")
		metrics.CleanupRuns.WithLabelValues("skipped").Inc()
		return VectorCleanupResult{Skipped: true}, nil
	}

	var (
		deleted int
		err     error
	)
	if in.UserID != "" {
		deleted, err = a.engine.CleanupOldVectors(ctx, in.UserID, in.KeepDays)
	} else {
		deleted, err = a.engine.CleanupAllUsers(ctx, in.KeepDays)
	}
	metrics.CleanupDeleted.Add(float64(deleted))

	result := VectorCleanupResult{Deleted: deleted, Duration: time.Since(start)}
	if err != nil {
		metrics.CleanupRuns.WithLabelValues("failed").Inc()
		a.logger.Error("Vector cleanup run failed",
			zap.String("user_id", in.UserID),
			zap.Int32("attempt", attempt),
			zap.Int("deleted", deleted),
			zap.Error(err))
		return result, fmt.Errorf("vector cleanup: %w", err)
	}

	metrics.CleanupRuns.WithLabelValues("completed").Inc()
	a.logger.Info("Vector cleanup run completed",
		zap.String("user_id", in.UserID),
		zap.Int32("attempt", attempt),
		zap.Int("deleted", deleted),
		zap.Duration("duration", result.Duration))
	return result, nil
}
