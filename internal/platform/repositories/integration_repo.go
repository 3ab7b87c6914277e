package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

const integrationColumns = `id, organization_id, created_by_user_id, type, display_name, encrypted_token, enabled, created_at, updated_at`

type IntegrationRepository struct {
	db *sqlx.DB
}

func NewIntegrationRepository(db *sqlx.DB) *IntegrationRepository {
	return &IntegrationRepository{db: db}
}

func (r *IntegrationRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

func (r *IntegrationRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, in *models.Integration) error {
	now := time.Now().Unix()
	in.CreatedAt = now
	in.UpdatedAt = now

	_, err := tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO integrations (`+integrationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), in.ID, in.OrganizationID, in.CreatedByUserID, in.Type, in.DisplayName, in.EncryptedToken, in.Enabled, in.CreatedAt, in.UpdatedAt)
	return err
}

func (r *IntegrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	in := &models.Integration{}
	err := r.db.GetContext(ctx, in, r.db.Rebind(`SELECT `+integrationColumns+` FROM integrations WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return in, nil
}

func (r *IntegrationRepository) ListByOrg(ctx context.Context, orgID string) ([]*models.Integration, error) {
	var out []*models.Integration
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+integrationColumns+` FROM integrations
		WHERE organization_id = ? ORDER BY created_at ASC
	`), orgID)
	return out, err
}

func (r *IntegrationRepository) Update(ctx context.Context, in *models.Integration) error {
	in.UpdatedAt = time.Now().Unix()
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE integrations SET display_name = ?, enabled = ?, updated_at = ?
		WHERE id = ? AND organization_id = ?
	`), in.DisplayName, in.Enabled, in.UpdatedAt, in.ID, in.OrganizationID)
	return err
}

func (r *IntegrationRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM integrations WHERE id = ?`), id)
	return err
}
