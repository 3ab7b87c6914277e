package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

const triggerColumns = `id, organization_id, name, source_type, source_config, targets, output_type, output_config, enabled, created_at, updated_at`

type TriggerRepository struct {
	db *sqlx.DB
}

func NewTriggerRepository(db *sqlx.DB) *TriggerRepository {
	return &TriggerRepository{db: db}
}

func (r *TriggerRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

func (r *TriggerRepository) Create(ctx context.Context, t *models.Trigger) error {
	return r.create(ctx, r.db, t)
}

func (r *TriggerRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, t *models.Trigger) error {
	return r.create(ctx, tx, t)
}

func (r *TriggerRepository) create(ctx context.Context, q sqlx.ExtContext, t *models.Trigger) error {
	now := time.Now().Unix()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO triggers (`+triggerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), t.ID, t.OrganizationID, t.Name, t.SourceType, t.SourceConfig, t.Targets, t.OutputType, t.OutputConfig, t.Enabled, t.CreatedAt, t.UpdatedAt)
	return err
}

func (r *TriggerRepository) GetByID(ctx context.Context, id string) (*models.Trigger, error) {
	t := &models.Trigger{}
	err := r.db.GetContext(ctx, t, r.db.Rebind(`SELECT `+triggerColumns+` FROM triggers WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (r *TriggerRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.Trigger, error) {
	var out []*models.Trigger
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+triggerColumns+` FROM triggers
		WHERE organization_id = ? ORDER BY created_at ASC
	`), orgID)
	return out, err
}

// ListEnabledBySource returns enabled triggers of one source type for an organization.
func (r *TriggerRepository) ListEnabledBySource(ctx context.Context, orgID, sourceType string) ([]*models.Trigger, error) {
	var out []*models.Trigger
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+triggerColumns+` FROM triggers
		WHERE organization_id = ? AND source_type = ? AND enabled = ?
		ORDER BY created_at ASC
	`), orgID, sourceType, true)
	return out, err
}

func (r *TriggerRepository) Update(ctx context.Context, t *models.Trigger) error {
	t.UpdatedAt = time.Now().Unix()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE triggers
		SET name = ?, source_type = ?, source_config = ?, targets = ?, output_type = ?, output_config = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`), t.Name, t.SourceType, t.SourceConfig, t.Targets, t.OutputType, t.OutputConfig, t.Enabled, t.UpdatedAt, t.ID, t.OrganizationID)
	return err
}

func (r *TriggerRepository) Delete(ctx context.Context, orgID, id string) error {
	return r.delete(ctx, r.db, orgID, id)
}

func (r *TriggerRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, orgID, id string) error {
	return r.delete(ctx, tx, orgID, id)
}

func (r *TriggerRepository) delete(ctx context.Context, q sqlx.ExtContext, orgID, id string) error {
	_, err := q.ExecContext(ctx, q.Rebind(`DELETE FROM triggers WHERE id = ? AND organization_id = ?`), id, orgID)
	return err
}
