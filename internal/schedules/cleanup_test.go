package schedules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap/zaptest"

	"github.com/Kocoro-lab/brandrag/internal/activities"
	"github.com/Kocoro-lab/brandrag/internal/workflows"
)

type fakeHandle struct {
	client.ScheduleHandle
	existing client.Schedule
	updated  *client.Schedule
}

func (h *fakeHandle) Update(_ context.Context, opts client.ScheduleUpdateOptions) error {
	u, err := opts.DoUpdate(client.ScheduleUpdateInput{
		Description: client.ScheduleDescription{Schedule: h.existing},
	})
	if err != nil {
		return err
	}
	h.updated = u.Schedule
	return nil
}

type fakeScheduleClient struct {
	client.ScheduleClient
	createErr error
	created   []client.ScheduleOptions
	handle    *fakeHandle
}

func (c *fakeScheduleClient) Create(_ context.Context, opts client.ScheduleOptions) (client.ScheduleHandle, error) {
	c.created = append(c.created, opts)
	return c.handle, c.createErr
}

func (c *fakeScheduleClient) GetHandle(context.Context, string) client.ScheduleHandle {
	return c.handle
}

func TestValidate(t *testing.T) {
	m := NewManager(nil, zaptest.NewLogger(t))
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		spec    CleanupSchedule
		wantErr error
	}{
		{name: "daily", spec: CleanupSchedule{CronExpression: "0 3 * * *"}},
		{name: "hourly", spec: CleanupSchedule{CronExpression: "0 * * * *", Timezone: "Europe/Berlin"}},
		{name: "every minute", spec: CleanupSchedule{CronExpression: "* * * * *"}, wantErr: ErrIntervalTooShort},
		{name: "garbage", spec: CleanupSchedule{CronExpression: "nightly"}, wantErr: ErrInvalidCronExpression},
		{name: "bad zone", spec: CleanupSchedule{CronExpression: "0 3 * * *", Timezone: "Mars/Olympus"}, wantErr: ErrInvalidTimezone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Validate(tt.spec, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}

	next, err := m.Validate(CleanupSchedule{CronExpression: "0 3 * * *"}, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC), next)
}

func TestEnsureCleanupScheduleCreates(t *testing.T) {
	keep := 60
	sc := &fakeScheduleClient{handle: &fakeHandle{}}
	m := NewManager(sc, zaptest.NewLogger(t))

	err := m.EnsureCleanupSchedule(context.Background(), CleanupSchedule{
		CronExpression: "0 3 * * *",
		TaskQueue:      "brandrag-maintenance",
		KeepDays:       &keep,
	})
	require.NoError(t, err)
	require.Len(t, sc.created, 1)

	opts := sc.created[0]
	assert.Equal(t, DefaultCleanupScheduleID, opts.ID)
	assert.Equal(t, []string{"0 3 * * *"}, opts.Spec.CronExpressions)
	action, ok := opts.Action.(*client.ScheduleWorkflowAction)
	require.True(t, ok)
	assert.Equal(t, workflows.VectorCleanupWorkflowName, action.Workflow)
	assert.Equal(t, "brandrag-maintenance", action.TaskQueue)
	assert.Equal(t, []interface{}{activities.VectorCleanupInput{KeepDays: &keep}}, action.Args)
}

func TestEnsureCleanupScheduleUpdatesExisting(t *testing.T) {
	h := &fakeHandle{existing: client.Schedule{
		Spec: &client.ScheduleSpec{CronExpressions: []string{"0 4 * * *"}},
	}}
	sc := &fakeScheduleClient{handle: h, createErr: temporal.ErrScheduleAlreadyRunning}
	m := NewManager(sc, zaptest.NewLogger(t))

	require.NoError(t, m.EnsureCleanupSchedule(context.Background(), CleanupSchedule{
		ID:             "cleanup",
		CronExpression: "30 2 * * *",
		TaskQueue:      "q",
	}))

	require.NotNil(t, h.updated)
	assert.Equal(t, []string{"30 2 * * *"}, h.updated.Spec.CronExpressions)
	assert.Equal(t, "UTC", h.updated.Spec.TimeZoneName)
}

func TestEnsureCleanupScheduleErrors(t *testing.T) {
	sc := &fakeScheduleClient{handle: &fakeHandle{}, createErr: errors.New("namespace not found")}
	m := NewManager(sc, zaptest.NewLogger(t))

	err := m.EnsureCleanupSchedule(context.Background(), CleanupSchedule{CronExpression: "0 3 * * *"})
	assert.ErrorContains(t, err, "namespace not found")

	err = m.EnsureCleanupSchedule(context.Background(), CleanupSchedule{CronExpression: "*/5 * * * *"})
	assert.ErrorIs(t, err, ErrIntervalTooShort)
	assert.Len(t, sc.created, 1)
}
