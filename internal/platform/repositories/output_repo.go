package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

const outputColumns = `id, repository_id, output_type, config, enabled, created_at, updated_at`

type OutputRepository struct {
	db *sqlx.DB
}

func NewOutputRepository(db *sqlx.DB) *OutputRepository {
	return &OutputRepository{db: db}
}

// Upsert inserts the output or updates the config of the existing
// (repository_id, output_type) row. Re-enabling is part of configuring.
func (r *OutputRepository) Upsert(ctx context.Context, out *models.Output) error {
	now := time.Now().Unix()
	if out.ID == "" {
		out.ID = "out_" + uuid.NewString()
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO outputs (`+outputColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (repository_id, output_type)
		DO UPDATE SET config = excluded.config, enabled = excluded.enabled, updated_at = excluded.updated_at
	`), out.ID, out.RepositoryID, out.OutputType, out.Config, true, now, now)
	return err
}

func (r *OutputRepository) Get(ctx context.Context, repositoryID, outputType string) (*models.Output, error) {
	out := &models.Output{}
	err := r.db.GetContext(ctx, out, r.db.Rebind(`
		SELECT `+outputColumns+` FROM outputs WHERE repository_id = ? AND output_type = ?
	`), repositoryID, outputType)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}

func (r *OutputRepository) ListByRepository(ctx context.Context, repositoryID string) ([]*models.Output, error) {
	var out []*models.Output
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+outputColumns+` FROM outputs WHERE repository_id = ? ORDER BY output_type ASC
	`), repositoryID)
	return out, err
}

func (r *OutputRepository) SetEnabled(ctx context.Context, repositoryID, outputType string, enabled bool) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE outputs SET enabled = ?, updated_at = ? WHERE repository_id = ? AND output_type = ?
	`), enabled, time.Now().Unix(), repositoryID, outputType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *OutputRepository) DeleteByRepositoryTx(ctx context.Context, tx *sqlx.Tx, repositoryID string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM outputs WHERE repository_id = ?`), repositoryID)
	return err
}

func (r *OutputRepository) DeleteByIntegrationTx(ctx context.Context, tx *sqlx.Tx, integrationID string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`
		DELETE FROM outputs WHERE repository_id IN (SELECT id FROM repositories WHERE integration_id = ?)
	`), integrationID)
	return err
}
