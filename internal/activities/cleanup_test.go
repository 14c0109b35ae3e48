package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/brandrag/internal/config"
)

type fakeCleaner struct {
	enabled  bool
	perUser  map[string]int
	allCount int
	err      error
	gotKeep  *int
}

func (f *fakeCleaner) CleanupOldVectors(_ context.Context, userID string, keepDays *int) (int, error) {
	f.gotKeep = keepDays
	return f.perUser[userID], f.err
}

func (f *fakeCleaner) CleanupAllUsers(_ context.Context, keepDays *int) (int, error) {
	f.gotKeep = keepDays
	return f.allCount, f.err
}

func (f *fakeCleaner) LoadSystemConfig(context.Context) config.SystemConfig {
	cfg := config.DefaultSystemConfig()
	cfg.VectorCleanup.Enabled = f.enabled
	return cfg
}

func TestCleanupVectorsSkipsWhenDisabled(t *testing.T) {
	a := NewVectorCleanupActivities(&fakeCleaner{allCount: 9}, zaptest.NewLogger(t))
	res, err := a.CleanupVectors(context.Background(), VectorCleanupInput{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Deleted)
}

func TestCleanupVectorsScope(t *testing.T) {
	keep := 14
	f := &fakeCleaner{enabled: true, perUser: map[string]int{"u1": 2}, allCount: 11}
	a := NewVectorCleanupActivities(f, zaptest.NewLogger(t))

	res, err := a.CleanupVectors(context.Background(), VectorCleanupInput{UserID: "u1", KeepDays: &keep})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Deleted)
	assert.Equal(t, &keep, f.gotKeep)

	res, err = a.CleanupVectors(context.Background(), VectorCleanupInput{})
	require.NoError(t, err)
	assert.Equal(t, 11, res.Deleted)
	assert.Nil(t, f.gotKeep)
}

func TestCleanupVectorsReportsPartialFailure(t *testing.T) {
	storeErr := errors.New("user u3: delete expired vectors: timeout")
	f := &fakeCleaner{enabled: true, allCount: 5, err: storeErr}
	a := NewVectorCleanupActivities(f, zaptest.NewLogger(t))

	res, err := a.CleanupVectors(context.Background(), VectorCleanupInput{})
	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Equal(t, 5, res.Deleted)
}
