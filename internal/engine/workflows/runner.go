package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"draftr/internal/platform/events"
	"draftr/internal/platform/metrics"
	"draftr/internal/platform/models"
)

const (
	unexpectedErrorMessage = "an unexpected error occurred"
	supersededMessage      = "superseded: lock expired"
)

// Runner claims due runs and drives them step by step.
type Runner struct {
	o      *Orchestrator
	events events.Publisher
	now    func() time.Time
}

func NewRunner(o *Orchestrator, publisher events.Publisher) *Runner {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Runner{o: o, events: publisher, now: time.Now}
}

// RunOnce claims and executes one due run. It reports whether a run was found.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	run, err := r.o.runs.ClaimNext(ctx, r.now(), r.o.cfg.Lease)
	if err != nil {
		return false, err
	}
	if run == nil {
		return false, nil
	}
	r.Execute(ctx, run)
	return true, nil
}

// Poll runs concurrency workers until ctx is done. Each worker sleeps for
// interval when nothing is due.
func (r *Runner) Poll(ctx context.Context, concurrency int, interval time.Duration) {
	if concurrency < 1 {
		concurrency = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				found, err := r.RunOnce(ctx)
				if err != nil {
					log.Error().Err(err).Int("worker", worker).Msg("claiming workflow run failed")
				}
				if found && err == nil {
					continue
				}
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
			}
		}(i)
	}
	wg.Wait()
}

// Execute resumes run at its cursor and runs the remaining steps in order.
// Each step's output and the advanced cursor are committed before the next
// step starts.
func (r *Runner) Execute(ctx context.Context, run *models.WorkflowRun) {
	def, ok := r.o.definitions[run.WorkflowType]
	if !ok {
		r.fail(ctx, run, run.Attempts, "unknown workflow type "+run.WorkflowType)
		return
	}

	state, err := newRunState(run)
	if err != nil {
		r.fail(ctx, run, run.Attempts, unexpectedErrorMessage)
		return
	}

	logger := log.With().Str("org_id", run.OrganizationID).Str("run_id", run.ID).Str("workflow", run.WorkflowType).Logger()
	total := def.TotalSteps()

	for cursor := run.StepCursor; cursor < total; cursor++ {
		step := def.Steps[cursor]

		if !r.o.holdLock(ctx, run) {
			r.abandon(ctx, run)
			return
		}
		r.o.writeProgress(ctx, run, Progress{Status: step.Stage, CurrentStep: cursor + 1, TotalSteps: total})

		out, err := r.runStep(ctx, step, state)
		if err != nil {
			r.handleStepError(ctx, run, step.Stage, cursor, total, err)
			return
		}

		outputs, err := state.record(step.Stage, out)
		if err != nil {
			r.handleStepError(ctx, run, step.Stage, cursor, total, err)
			return
		}
		if err := r.o.runs.Advance(ctx, run.ID, cursor+1, outputs, r.now().Add(r.o.cfg.Lease).Unix()); err != nil {
			r.handleStepError(ctx, run, step.Stage, cursor, total, fmt.Errorf("commit step: %w", err))
			return
		}
		run.StepCursor = cursor + 1
		run.StepOutputs = outputs

		logger.Debug().Str("stage", step.Stage).Int("step", cursor+1).Msg("workflow step completed")
	}

	owned := r.o.holdLock(ctx, run)
	if err := r.o.runs.MarkCompleted(ctx, run.ID); err != nil {
		logger.Error().Err(err).Msg("failed to mark run completed")
		return
	}
	if owned {
		r.o.writeProgress(ctx, run, Progress{Status: StatusCompleted, CurrentStep: total, TotalSteps: total})
		r.o.releaseLock(ctx, run)
	}
	metrics.WorkflowRuns.WithLabelValues(run.WorkflowType, StatusCompleted).Inc()
	r.publish(ctx, run, events.WorkflowCompleted, "")

	logger.Info().Msg("workflow run completed")
}

func (r *Runner) runStep(ctx context.Context, step Step, state *RunState) (out interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("step %s panicked: %v", step.Stage, rec)
		}
	}()
	return step.Run(ctx, state)
}

func (r *Runner) handleStepError(ctx context.Context, run *models.WorkflowRun, stage string, cursor, total int, err error) {
	logger := log.With().Str("org_id", run.OrganizationID).Str("run_id", run.ID).Str("workflow", run.WorkflowType).Str("stage", stage).Logger()

	if IsFatal(err) {
		logger.Warn().Err(err).Msg("workflow step failed permanently")
		r.fail(ctx, run, run.Attempts+1, err.Error())
		return
	}

	attempts := run.Attempts + 1
	if attempts >= run.MaxAttempts {
		logger.Error().Err(err).Int("attempts", attempts).Msg("workflow run exhausted its retries")
		r.fail(ctx, run, attempts, fmt.Sprintf("%s failed: %s", stage, unexpectedErrorMessage))
		return
	}

	backoff := r.o.cfg.RetryBackoff << uint(attempts-1)
	next := r.now().Add(backoff)
	if markErr := r.o.runs.MarkRetrying(ctx, run.ID, attempts, err.Error(), next.Unix()); markErr != nil {
		logger.Error().Err(markErr).Msg("failed to schedule retry")
		return
	}

	// The lock stays with this run across the backoff.
	r.o.refreshLock(ctx, run, backoff+r.o.cfg.LockTTL)

	p := Progress{Status: stage, CurrentStep: cursor + 1, TotalSteps: total, Error: "retrying after a temporary failure"}
	if !isRetriable(err) {
		p = Progress{Status: StatusFailed, CurrentStep: cursor + 1, TotalSteps: total, Error: unexpectedErrorMessage}
	}
	r.o.writeProgress(ctx, run, p)
	metrics.WorkflowRuns.WithLabelValues(run.WorkflowType, models.RunRetrying).Inc()

	logger.Warn().Err(err).Int("attempts", attempts).Time("next_attempt_at", next).Msg("workflow step failed, retry scheduled")
}

func (r *Runner) fail(ctx context.Context, run *models.WorkflowRun, attempts int, message string) {
	if err := r.o.runs.MarkFailed(ctx, run.ID, attempts, message); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("failed to mark run failed")
	}

	total := run.TotalSteps
	current := run.StepCursor + 1
	if current > total {
		current = total
	}
	r.o.writeProgress(ctx, run, Progress{Status: StatusFailed, CurrentStep: current, TotalSteps: total, Error: message})
	r.o.releaseLock(ctx, run)
	metrics.WorkflowRuns.WithLabelValues(run.WorkflowType, StatusFailed).Inc()
	r.publish(ctx, run, events.WorkflowFailed, message)
}

// abandon ends a run whose lock was taken over by a newer run. The lock and
// the progress record belong to the newer run and are left alone.
func (r *Runner) abandon(ctx context.Context, run *models.WorkflowRun) {
	log.Warn().Str("org_id", run.OrganizationID).Str("run_id", run.ID).Str("workflow", run.WorkflowType).Msg("run superseded after its lock expired")

	if err := r.o.runs.MarkFailed(ctx, run.ID, run.Attempts, supersededMessage); err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Msg("failed to mark run failed")
	}
	metrics.WorkflowRuns.WithLabelValues(run.WorkflowType, StatusFailed).Inc()
	r.publish(ctx, run, events.WorkflowFailed, supersededMessage)
}

func (r *Runner) publish(ctx context.Context, run *models.WorkflowRun, eventType, message string) {
	var data []byte
	if message != "" {
		data, _ = json.Marshal(map[string]string{"error": message})
	}
	err := r.events.Publish(ctx, events.Event{
		Type:           eventType,
		OrganizationID: run.OrganizationID,
		RunID:          run.ID,
		WorkflowType:   run.WorkflowType,
		Data:           data,
	})
	if err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Str("event", eventType).Msg("failed to publish workflow event")
	}
}
