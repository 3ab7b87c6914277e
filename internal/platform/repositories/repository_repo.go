package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

const repositoryColumns = `id, integration_id, owner, repo, enabled, encrypted_webhook_secret, created_at, updated_at`

// RepoRepository stores tracked repositories.
type RepoRepository struct {
	db *sqlx.DB
}

func NewRepoRepository(db *sqlx.DB) *RepoRepository {
	return &RepoRepository{db: db}
}

func (r *RepoRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

func (r *RepoRepository) Create(ctx context.Context, repo *models.Repository) error {
	return r.create(ctx, r.db, repo)
}

func (r *RepoRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, repo *models.Repository) error {
	return r.create(ctx, tx, repo)
}

func (r *RepoRepository) create(ctx context.Context, q sqlx.ExtContext, repo *models.Repository) error {
	now := time.Now().Unix()
	repo.CreatedAt = now
	repo.UpdatedAt = now

	_, err := q.ExecContext(ctx, q.Rebind(`
		INSERT INTO repositories (`+repositoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`), repo.ID, repo.IntegrationID, repo.Owner, repo.Repo, repo.Enabled, repo.EncryptedWebhookSecret, repo.CreatedAt, repo.UpdatedAt)
	return err
}

func (r *RepoRepository) GetByID(ctx context.Context, id string) (*models.Repository, error) {
	repo := &models.Repository{}
	err := r.db.GetContext(ctx, repo, r.db.Rebind(`SELECT `+repositoryColumns+` FROM repositories WHERE id = ?`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return repo, nil
}

func (r *RepoRepository) Exists(ctx context.Context, integrationID, owner, name string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, r.db.Rebind(`
		SELECT EXISTS(SELECT 1 FROM repositories WHERE integration_id = ? AND owner = ? AND repo = ?)
	`), integrationID, owner, name)
	return exists, err
}

func (r *RepoRepository) ListByIntegration(ctx context.Context, integrationID string) ([]*models.Repository, error) {
	var out []*models.Repository
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+repositoryColumns+` FROM repositories
		WHERE integration_id = ? ORDER BY created_at ASC
	`), integrationID)
	return out, err
}

// OwnedBy reports which of ids belong to the organization.
func (r *RepoRepository) OwnedBy(ctx context.Context, orgID string, ids []string) (map[string]bool, error) {
	owned := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return owned, nil
	}

	query, args, err := sqlx.In(`
		SELECT r.id FROM repositories r
		JOIN integrations i ON i.id = r.integration_id
		WHERE i.organization_id = ? AND r.id IN (?)
	`, orgID, ids)
	if err != nil {
		return nil, err
	}

	var found []string
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, id := range found {
		owned[id] = true
	}
	return owned, nil
}

func (r *RepoRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE repositories SET enabled = ?, updated_at = ? WHERE id = ?`), enabled, time.Now().Unix(), id)
	return err
}

func (r *RepoRepository) SetWebhookSecret(ctx context.Context, id, encrypted string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE repositories SET encrypted_webhook_secret = ?, updated_at = ? WHERE id = ?`), encrypted, time.Now().Unix(), id)
	return err
}

func (r *RepoRepository) DeleteTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM repositories WHERE id = ?`), id)
	return err
}

func (r *RepoRepository) DeleteByIntegrationTx(ctx context.Context, tx *sqlx.Tx, integrationID string) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM repositories WHERE integration_id = ?`), integrationID)
	return err
}
