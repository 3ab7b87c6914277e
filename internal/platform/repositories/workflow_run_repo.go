package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

const workflowRunColumns = `id, organization_id, workflow_type, status, step_cursor, total_steps, input, step_outputs, attempts, max_attempts, last_error, correlation_id, next_attempt_at, lease_until, created_at, updated_at`

type WorkflowRunRepository struct {
	db *sqlx.DB
}

func NewWorkflowRunRepository(db *sqlx.DB) *WorkflowRunRepository {
	return &WorkflowRunRepository{db: db}
}

func (r *WorkflowRunRepository) Create(ctx context.Context, run *models.WorkflowRun) error {
	now := time.Now().Unix()
	run.CreatedAt = now
	run.UpdatedAt = now
	if run.NextAttemptAt == 0 {
		run.NextAttemptAt = now
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO workflow_runs (`+workflowRunColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), run.ID, run.OrganizationID, run.WorkflowType, run.Status, run.StepCursor, run.TotalSteps,
		run.Input, run.StepOutputs, run.Attempts, run.MaxAttempts, run.LastError, run.CorrelationID,
		run.NextAttemptAt, run.LeaseUntil, run.CreatedAt, run.UpdatedAt)
	return err
}

func (r *WorkflowRunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	run := &models.WorkflowRun{}
	err := r.db.GetContext(ctx, run, r.db.Rebind(`SELECT `+workflowRunColumns+` FROM workflow_runs WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

// ClaimNext leases the oldest due run. A run is due when it is queued or
// retrying and its next attempt time has passed, or when it is running under
// an expired lease (its worker died). Returns nil when nothing is due or
// another worker won the race.
func (r *WorkflowRunRepository) ClaimNext(ctx context.Context, now time.Time, lease time.Duration) (*models.WorkflowRun, error) {
	nowUnix := now.Unix()

	var candidates []*models.WorkflowRun
	err := r.db.SelectContext(ctx, &candidates, r.db.Rebind(`
		SELECT `+workflowRunColumns+` FROM workflow_runs
		WHERE status IN (?, ?, ?) AND next_attempt_at <= ? AND lease_until < ?
		ORDER BY next_attempt_at ASC LIMIT 5
	`), models.RunQueued, models.RunRetrying, models.RunRunning, nowUnix, nowUnix)
	if err != nil {
		return nil, err
	}

	leaseUntil := now.Add(lease).Unix()
	for _, run := range candidates {
		res, err := r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE workflow_runs SET status = ?, lease_until = ?, updated_at = ?
			WHERE id = ? AND lease_until = ?
		`), models.RunRunning, leaseUntil, nowUnix, run.ID, run.LeaseUntil)
		if err != nil {
			return nil, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 1 {
			run.Status = models.RunRunning
			run.LeaseUntil = leaseUntil
			return run, nil
		}
	}
	return nil, nil
}

// Advance commits a finished step: the outputs so far and the next cursor.
func (r *WorkflowRunRepository) Advance(ctx context.Context, id string, cursor int, outputs models.JSONText, leaseUntil int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE workflow_runs SET step_cursor = ?, step_outputs = ?, lease_until = ?, updated_at = ?
		WHERE id = ?
	`), cursor, outputs, leaseUntil, time.Now().Unix(), id)
	return err
}

func (r *WorkflowRunRepository) MarkRetrying(ctx context.Context, id string, attempts int, lastError string, nextAttemptAt int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE workflow_runs SET status = ?, attempts = ?, last_error = ?, next_attempt_at = ?, lease_until = 0, updated_at = ?
		WHERE id = ?
	`), models.RunRetrying, attempts, lastError, nextAttemptAt, time.Now().Unix(), id)
	return err
}

func (r *WorkflowRunRepository) MarkFailed(ctx context.Context, id string, attempts int, lastError string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE workflow_runs SET status = ?, attempts = ?, last_error = ?, lease_until = 0, updated_at = ?
		WHERE id = ?
	`), models.RunFailed, attempts, lastError, time.Now().Unix(), id)
	return err
}

func (r *WorkflowRunRepository) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE workflow_runs SET status = ?, lease_until = 0, updated_at = ? WHERE id = ?
	`), models.RunCompleted, time.Now().Unix(), id)
	return err
}

// HasSuccessor reports whether another run of the same workflow and
// organization was created at or after run. Two runs of one pair can only be
// created within the same second when the lock TTL is under a second.
func (r *WorkflowRunRepository) HasSuccessor(ctx context.Context, run *models.WorkflowRun) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`
		SELECT EXISTS(
			SELECT 1 FROM workflow_runs
			WHERE organization_id = ? AND workflow_type = ? AND id <> ? AND created_at >= ?
		)
	`), run.OrganizationID, run.WorkflowType, run.ID, run.CreatedAt)
	return exists, err
}

func (r *WorkflowRunRepository) ListByOrg(ctx context.Context, orgID, workflowType string) ([]*models.WorkflowRun, error) {
	var out []*models.WorkflowRun
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+workflowRunColumns+` FROM workflow_runs
		WHERE organization_id = ? AND workflow_type = ? ORDER BY created_at DESC
	`), orgID, workflowType)
	return out, err
}
