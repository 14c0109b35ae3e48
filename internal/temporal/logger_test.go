package temporal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLogger(zap.New(core)).(log.WithLogger).With("workflow", "VectorCleanupWorkflow")

	l.Info("Vector cleanup finished", "deleted", 4, "error", errors.New("partial"), "cb", func() {}, "dangling")

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "VectorCleanupWorkflow", ctx["workflow"])
	assert.EqualValues(t, 4, ctx["deleted"])
	assert.Equal(t, "partial", ctx["error"])
	assert.Equal(t, "<func()>", ctx["cb"])
	assert.Equal(t, "dangling", ctx["extra"])
}

func TestLoggerNilSafe(t *testing.T) {
	assert.NotPanics(t, func() { NewLogger(nil).Warn("no logger", "k", "v") })
}
