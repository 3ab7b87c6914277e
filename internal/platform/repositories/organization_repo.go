package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

type OrganizationRepository struct {
	db *sqlx.DB
}

func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

func (r *OrganizationRepository) Create(ctx context.Context, org *models.Organization) error {
	now := time.Now().Unix()
	if org.CreatedAt == 0 {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	if org.PlanTier == "" {
		org.PlanTier = models.PlanFree
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO organizations (id, slug, name, website_url, plan_tier, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), org.ID, org.Slug, org.Name, org.WebsiteURL, org.PlanTier, org.CreatedAt, org.UpdatedAt)
	return err
}

func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*models.Organization, error) {
	org := &models.Organization{}
	err := r.db.GetContext(ctx, org, r.db.Rebind(`
		SELECT id, slug, name, website_url, plan_tier, created_at, updated_at
		FROM organizations WHERE id = ?
	`), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return org, nil
}

func (r *OrganizationRepository) PlanTier(ctx context.Context, id string) (string, error) {
	var tier string
	err := r.db.GetContext(ctx, &tier, r.db.Rebind(`SELECT plan_tier FROM organizations WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return tier, err
}
