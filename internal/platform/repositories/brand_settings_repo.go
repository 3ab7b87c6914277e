package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"draftr/internal/platform/models"
)

type BrandSettingsRepository struct {
	db *sqlx.DB
}

func NewBrandSettingsRepository(db *sqlx.DB) *BrandSettingsRepository {
	return &BrandSettingsRepository{db: db}
}

type brandSettingsRow struct {
	models.BrandSettings
	KeywordsJSON models.JSONText `db:"keywords"`
}

// Upsert keys brand settings by organization, so saving twice keeps one row.
func (r *BrandSettingsRepository) Upsert(ctx context.Context, s *models.BrandSettings) error {
	s.UpdatedAt = time.Now().Unix()
	keywords := s.Keywords
	if keywords == nil {
		keywords = []string{}
	}

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO brand_settings (organization_id, website_url, company_name, description, tone, audience, keywords, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (organization_id)
		DO UPDATE SET website_url = excluded.website_url, company_name = excluded.company_name,
			description = excluded.description, tone = excluded.tone, audience = excluded.audience,
			keywords = excluded.keywords, updated_at = excluded.updated_at
	`), s.OrganizationID, s.WebsiteURL, s.CompanyName, s.Description, s.Tone, s.Audience, models.MustJSON(keywords), s.UpdatedAt)
	return err
}

func (r *BrandSettingsRepository) Get(ctx context.Context, orgID string) (*models.BrandSettings, error) {
	row := &brandSettingsRow{}
	err := r.db.GetContext(ctx, row, r.db.Rebind(`
		SELECT organization_id, website_url, company_name, description, tone, audience, keywords, updated_at
		FROM brand_settings WHERE organization_id = ?
	`), orgID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	s := row.BrandSettings
	if err := row.KeywordsJSON.Decode(&s.Keywords); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BrandSettingsRepository) Count(ctx context.Context, orgID string) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, r.db.Rebind(`SELECT COUNT(*) FROM brand_settings WHERE organization_id = ?`), orgID)
	return n, err
}
