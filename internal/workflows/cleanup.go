// Package workflows holds the Temporal workflows run by the maintenance worker.
package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/brandrag/internal/activities"
)

// VectorCleanupWorkflowName is the registered workflow type
const VectorCleanupWorkflowName = "VectorCleanupWorkflow"

// VectorCleanupWorkflow runs one retention pass
func VectorCleanupWorkflow(ctx workflow.Context, input activities.VectorCleanupInput) (activities.VectorCleanupResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Vector cleanup started", "user_id", input.UserID)

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Minute,
			BackoffCoefficient: 2.0,
			MaximumInterval:    10 * time.Minute,
			MaximumAttempts:    3,
		},
	})

	var result activities.VectorCleanupResult
	if err := workflow.ExecuteActivity(ctx, activities.CleanupVectorsActivity, input).Get(ctx, &result); err != nil {
		logger.Error("Vector cleanup failed", "error", err)
		return result, err
	}

	if result.Skipped {
		logger.Info("Vector cleanup disabled by system config")
	} else {
		logger.Info("Vector cleanup finished", "deleted", result.Deleted)
	}
	return result, nil
}
