package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"draftr/internal/platform/billing"
	"draftr/internal/platform/config"
	"draftr/internal/platform/kv"
	"draftr/internal/platform/models"
	"draftr/internal/platform/repositories"
)

type RunHandle struct {
	RunID          string `json:"run_id"`
	WorkflowType   string `json:"workflow_type"`
	OrganizationID string `json:"organization_id"`
}

type Orchestrator struct {
	definitions  map[string]*Definition
	runs         *repositories.WorkflowRunRepository
	store        kv.Store
	entitlements billing.Entitlements
	cfg          config.WorkflowsConfig
}

func NewOrchestrator(runs *repositories.WorkflowRunRepository, store kv.Store, entitlements billing.Entitlements, cfg config.WorkflowsConfig) *Orchestrator {
	return &Orchestrator{
		definitions:  make(map[string]*Definition),
		runs:         runs,
		store:        store,
		entitlements: entitlements,
		cfg:          cfg,
	}
}

// Register adds a workflow. Call before serving.
func (o *Orchestrator) Register(def *Definition) {
	o.definitions[def.Type] = def
}

func (o *Orchestrator) Definition(workflowType string) (*Definition, bool) {
	def, ok := o.definitions[workflowType]
	return def, ok
}

// Start enqueues a run and returns without waiting for it. Only one run per
// organization and workflow type may be in flight; a second call gets
// ErrRunInProgress until the first finishes or its lock expires.
func (o *Orchestrator) Start(ctx context.Context, workflowType, orgID string, input interface{}, correlationID string) (*RunHandle, error) {
	def, ok := o.definitions[workflowType]
	if !ok {
		return nil, ErrUnknownWorkflow
	}

	allowed, err := o.entitlements.Check(ctx, orgID, billing.FeatureAIGeneration)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, ErrNotEntitled
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	runID := "run_" + uuid.NewString()
	lockKey := kv.LockKey(workflowType, orgID)

	acquired, err := o.store.TryAcquireLock(ctx, lockKey, runID, o.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, ErrRunInProgress
	}

	run := &models.WorkflowRun{
		ID:             runID,
		OrganizationID: orgID,
		WorkflowType:   workflowType,
		Status:         models.RunQueued,
		TotalSteps:     def.TotalSteps(),
		Input:          payload,
		StepOutputs:    models.JSONText(`{}`),
		MaxAttempts:    o.cfg.MaxAttempts,
	}
	if correlationID != "" {
		run.CorrelationID = &correlationID
	}

	if err := o.runs.Create(ctx, run); err != nil {
		if releaseErr := o.store.ReleaseLock(ctx, lockKey, runID); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("run_id", runID).Msg("failed to release lock after enqueue error")
		}
		return nil, fmt.Errorf("enqueue run: %w", err)
	}

	o.writeProgress(ctx, run, Progress{
		Status:      def.Steps[0].Stage,
		CurrentStep: 1,
		TotalSteps:  def.TotalSteps(),
	})

	log.Info().Str("org_id", orgID).Str("run_id", runID).Str("workflow", workflowType).Msg("workflow run queued")

	return &RunHandle{RunID: runID, WorkflowType: workflowType, OrganizationID: orgID}, nil
}

// Progress returns the stored record, or idle at step 0 when no run is
// recorded or the record expired.
func (o *Orchestrator) Progress(ctx context.Context, workflowType, orgID string) (*Progress, error) {
	def, ok := o.definitions[workflowType]
	if !ok {
		return nil, ErrUnknownWorkflow
	}

	idle := &Progress{Status: StatusIdle, CurrentStep: 0, TotalSteps: def.TotalSteps()}

	raw, found, err := o.store.GetProgress(ctx, kv.ProgressKey(workflowType, orgID))
	if err != nil {
		return nil, err
	}
	if !found {
		return idle, nil
	}

	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Str("workflow", workflowType).Msg("discarding undecodable progress record")
		return idle, nil
	}
	return &p, nil
}

func (o *Orchestrator) writeProgress(ctx context.Context, run *models.WorkflowRun, p Progress) {
	p.RunID = run.ID
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := o.store.SetProgress(ctx, kv.ProgressKey(run.WorkflowType, run.OrganizationID), b, o.cfg.ProgressTTL); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to write progress")
	}
}

func (o *Orchestrator) refreshLock(ctx context.Context, run *models.WorkflowRun, ttl time.Duration) {
	if _, err := o.store.RefreshLock(ctx, kv.LockKey(run.WorkflowType, run.OrganizationID), run.ID, ttl); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to refresh run lock")
	}
}

// holdLock extends run's lock before it does more work. An expired lock is
// taken back only when no newer run has started since. It reports false when
// run was superseded, and the caller must stop.
func (o *Orchestrator) holdLock(ctx context.Context, run *models.WorkflowRun) bool {
	key := kv.LockKey(run.WorkflowType, run.OrganizationID)
	logger := log.With().Str("run_id", run.ID).Str("workflow", run.WorkflowType).Logger()

	held, err := o.store.RefreshLock(ctx, key, run.ID, o.cfg.LockTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to refresh run lock")
		return true
	}
	if held {
		return true
	}

	superseded, err := o.runs.HasSuccessor(ctx, run)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to look for newer runs")
		return true
	}
	if superseded {
		return false
	}

	acquired, err := o.store.TryAcquireLock(ctx, key, run.ID, o.cfg.LockTTL)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to re-acquire run lock")
		return true
	}
	if acquired {
		logger.Warn().Msg("run lock had expired, re-acquired")
		return true
	}
	return false
}

func (o *Orchestrator) releaseLock(ctx context.Context, run *models.WorkflowRun) {
	if err := o.store.ReleaseLock(ctx, kv.LockKey(run.WorkflowType, run.OrganizationID), run.ID); err != nil {
		log.Warn().Err(err).Str("run_id", run.ID).Msg("failed to release run lock")
	}
}
