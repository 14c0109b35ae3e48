package workflows

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"

	"github.com/Kocoro-lab/brandrag/internal/activities"
)

func TestVectorCleanupWorkflow(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	keep := 30
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.VectorCleanupInput) (activities.VectorCleanupResult, error) {
			assert.Equal(t, "u1", in.UserID)
			require.NotNil(t, in.KeepDays)
			assert.Equal(t, keep, *in.KeepDays)
			return activities.VectorCleanupResult{Deleted: 8}, nil
		},
		activity.RegisterOptions{Name: activities.CleanupVectorsActivity},
	)

	env.ExecuteWorkflow(VectorCleanupWorkflow, activities.VectorCleanupInput{UserID: "u1", KeepDays: &keep})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result activities.VectorCleanupResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, 8, result.Deleted)
}

func TestVectorCleanupWorkflowRetries(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	var calls int32
	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.VectorCleanupInput) (activities.VectorCleanupResult, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return activities.VectorCleanupResult{}, errors.New("store unavailable")
			}
			return activities.VectorCleanupResult{Deleted: 2}, nil
		},
		activity.RegisterOptions{Name: activities.CleanupVectorsActivity},
	)

	env.ExecuteWorkflow(VectorCleanupWorkflow, activities.VectorCleanupInput{})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestVectorCleanupWorkflowGivesUp(t *testing.T) {
	testSuite := &testsuite.WorkflowTestSuite{}
	env := testSuite.NewTestWorkflowEnvironment()

	env.RegisterActivityWithOptions(
		func(ctx context.Context, in activities.VectorCleanupInput) (activities.VectorCleanupResult, error) {
			return activities.VectorCleanupResult{}, errors.New("store unavailable")
		},
		activity.RegisterOptions{Name: activities.CleanupVectorsActivity},
	)

	env.ExecuteWorkflow(VectorCleanupWorkflow, activities.VectorCleanupInput{})

	require.True(t, env.IsWorkflowCompleted())
	assert.Error(t, env.GetWorkflowError())
}
