// Package workers holds the long-running background loops of the worker and
// server processes.
package workers

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"draftr/internal/platform/config"
)

// RunPoller claims due workflow runs.
type RunPoller interface {
	Poll(ctx context.Context, concurrency int, interval time.Duration)
}

// ScheduleRunner mirrors registered cron schedules and fires them.
type ScheduleRunner interface {
	Run(ctx context.Context, interval time.Duration)
}

// Sweeper drops state idle for longer than idle.
type Sweeper interface {
	Cleanup(idle time.Duration)
}

// ProcessWorkflowRuns executes queued, retrying and lease-expired runs until
// ctx is done.
func ProcessWorkflowRuns(ctx context.Context, runner RunPoller, cfg config.WorkflowsConfig) {
	log.Info().Int("concurrency", cfg.Concurrency).Dur("poll_interval", cfg.PollInterval).Msg("workflow worker started")
	runner.Poll(ctx, cfg.Concurrency, cfg.PollInterval)
	log.Info().Msg("workflow worker stopped")
}

// SyncSchedules reloads the schedule registry every interval.
func SyncSchedules(ctx context.Context, runner ScheduleRunner, interval time.Duration) {
	log.Info().Dur("interval", interval).Msg("schedule worker started")
	runner.Run(ctx, interval)
	log.Info().Msg("schedule worker stopped")
}

// SweepIdle calls Cleanup every interval until ctx is done.
func SweepIdle(ctx context.Context, s Sweeper, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(idle)
		}
	}
}
