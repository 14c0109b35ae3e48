// Package schedules keeps the Temporal schedule that drives periodic vector cleanup.
package schedules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/brandrag/internal/activities"
	"github.com/Kocoro-lab/brandrag/internal/workflows"
)

var (
	ErrInvalidCronExpression = errors.New("invalid cron expression")
	ErrIntervalTooShort      = errors.New("cron interval too short")
	ErrInvalidTimezone       = errors.New("invalid timezone")
)

// DefaultCleanupScheduleID is the Temporal schedule id used for the cleanup job
const DefaultCleanupScheduleID = "brandrag-vector-cleanup"

// CleanupSchedule describes the periodic cleanup job
type CleanupSchedule struct {
	ID             string
	CronExpression string
	Timezone       string
	TaskQueue      string
	KeepDays       *int
}

// Manager creates or updates the cleanup schedule
type Manager struct {
	schedules   client.ScheduleClient
	logger      *zap.Logger
	cronParser  cron.Parser
	minInterval time.Duration
}

// NewManager creates a new schedule manager
func NewManager(sc client.ScheduleClient, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		schedules:   sc,
		logger:      logger,
		cronParser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		minInterval: time.Hour,
	}
}

// Validate checks the cron expression and timezone and returns the next run time
func (m *Manager) Validate(spec CleanupSchedule, now time.Time) (time.Time, error) {
	schedule, err := m.cronParser.Parse(spec.CronExpression)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidCronExpression, err)
	}
	tz, err := time.LoadLocation(timezoneOf(spec))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s", ErrInvalidTimezone, spec.Timezone)
	}

	next1 := schedule.Next(now.In(tz))
	next2 := schedule.Next(next1)
	if next2.Sub(next1) < m.minInterval {
		return time.Time{}, fmt.Errorf("%w: must be at least %s", ErrIntervalTooShort, m.minInterval)
	}
	return next1, nil
}

// EnsureCleanupSchedule creates the schedule, or replaces the spec and arguments of
// an existing one so a changed cron takes effect on restart.
func (m *Manager) EnsureCleanupSchedule(ctx context.Context, spec CleanupSchedule) error {
	if spec.ID == "" {
		spec.ID = DefaultCleanupScheduleID
	}
	nextRun, err := m.Validate(spec, time.Now())
	if err != nil {
		return err
	}

	scheduleSpec := client.ScheduleSpec{
		CronExpressions: []string{spec.CronExpression},
		TimeZoneName:    timezoneOf(spec),
	}
	action := &client.ScheduleWorkflowAction{
		Workflow:           workflows.VectorCleanupWorkflowName,
		TaskQueue:          spec.TaskQueue,
		WorkflowRunTimeout: 2 * time.Hour,
		Args:               []interface{}{activities.VectorCleanupInput{KeepDays: spec.KeepDays}},
		Memo:               map[string]interface{}{"trigger_type": "schedule"},
	}

	_, err = m.schedules.Create(ctx, client.ScheduleOptions{
		ID:     spec.ID,
		Spec:   scheduleSpec,
		Action: action,
	})
	switch {
	case err == nil:
		m.logger.Info("Created vector cleanup schedule",
			zap.String("schedule_id", spec.ID),
			zap.String("cron", spec.CronExpression),
			zap.Time("next_run", nextRun))
		return nil
	case !errors.Is(err, temporal.ErrScheduleAlreadyRunning):
		return fmt.Errorf("failed to create Temporal schedule: %w", err)
	}

	handle := m.schedules.GetHandle(ctx, spec.ID)
	err = handle.Update(ctx, client.ScheduleUpdateOptions{
		DoUpdate: func(input client.ScheduleUpdateInput) (*client.ScheduleUpdate, error) {
			s := input.Description.Schedule
			// Describe returns compiled calendars; drop them so the new cron is not merged with the old one
			s.Spec = &scheduleSpec
			s.Action = action
			return &client.ScheduleUpdate{Schedule: &s}, nil
		},
	})
	if err != nil {
		return fmt.Errorf("failed to update Temporal schedule: %w", err)
	}
	m.logger.Info("Updated vector cleanup schedule",
		zap.String("schedule_id", spec.ID),
		zap.String("cron", spec.CronExpression),
		zap.Time("next_run", nextRun))
	return nil
}

func timezoneOf(spec CleanupSchedule) string {
	if spec.Timezone == "" {
		return "UTC"
	}
	return spec.Timezone
}
