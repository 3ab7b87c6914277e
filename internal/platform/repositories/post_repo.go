package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

const postColumns = `id, organization_id, run_id, trigger_id, repository_id, output_type, title, body, status, created_at, updated_at`

type PostRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) *PostRepository {
	return &PostRepository{db: db}
}

// UpsertByRun writes the post generated by a workflow run. A re-executed
// publishing step overwrites the same row.
func (r *PostRepository) UpsertByRun(ctx context.Context, p *models.Post) error {
	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id)
		DO UPDATE SET title = excluded.title, body = excluded.body, status = excluded.status, updated_at = excluded.updated_at
	`), p.ID, p.OrganizationID, p.RunID, p.TriggerID, p.RepositoryID, p.OutputType, p.Title, p.Body, p.Status, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *PostRepository) GetByRun(ctx context.Context, runID string) (*models.Post, error) {
	p := &models.Post{}
	err := r.db.GetContext(ctx, p, r.db.Rebind(`SELECT `+postColumns+` FROM posts WHERE run_id = ?`), runID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *PostRepository) SetStatus(ctx context.Context, id, status string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE posts SET status = ?, updated_at = ? WHERE id = ?`), status, time.Now().Unix(), id)
	return err
}

func (r *PostRepository) ListByOrg(ctx context.Context, orgID string, limit int) ([]*models.Post, error) {
	var out []*models.Post
	err := r.db.SelectContext(ctx, &out, r.db.Rebind(`
		SELECT `+postColumns+` FROM posts
		WHERE organization_id = ? ORDER BY created_at DESC LIMIT ?
	`), orgID, limit)
	return out, err
}
