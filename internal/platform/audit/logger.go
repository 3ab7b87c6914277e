package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	apiContext "draftr/internal/api/context"
	"draftr/internal/platform/models"
)

const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionRotate  = "rotate_secret"
	ActionRunNow  = "run_now"
	ActionEnable  = "enable"
	ActionDisable = "disable"
)

type Logger struct {
	db *sqlx.DB
	// Synchronous makes Log write inline. Tests use it to avoid racing the insert.
	Synchronous bool
}

func NewLogger(db *sqlx.DB) *Logger {
	return &Logger{db: db}
}

// Log records a mutation by the caller in ctx. The write happens off the
// request path and failures are only logged.
func (l *Logger) Log(ctx context.Context, orgID, action, resourceType, resourceID string, metadata map[string]interface{}) {
	if l == nil || l.db == nil {
		return
	}

	var userID string
	if claims := apiContext.Claims(ctx); claims != nil {
		userID = claims.UserID
		if orgID == "" {
			orgID = claims.OrganizationID
		}
	}
	if userID == "" {
		userID = "system"
	}
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	entry := &models.AuditLog{
		ID:             "audit_" + uuid.New().String(),
		OrganizationID: orgID,
		UserID:         userID,
		Action:         action,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Metadata:       models.MustJSON(metadata),
		CreatedAt:      time.Now().Unix(),
	}

	write := func() {
		_, err := l.db.Exec(l.db.Rebind(`
			INSERT INTO audit_logs (id, organization_id, user_id, action, resource_type, resource_id, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`), entry.ID, entry.OrganizationID, entry.UserID, entry.Action, entry.ResourceType, entry.ResourceID, entry.Metadata, entry.CreatedAt)
		if err != nil {
			log.Error().Err(err).Str("org_id", orgID).Str("action", action).Msg("failed to write audit log")
		}
	}

	if l.Synchronous {
		write()
		return
	}
	go write()
}

// List returns the latest entries for an organization, newest first.
func (l *Logger) List(ctx context.Context, orgID string, limit int) ([]*models.AuditLog, error) {
	var out []*models.AuditLog
	err := l.db.SelectContext(ctx, &out, l.db.Rebind(`
		SELECT id, organization_id, user_id, action, resource_type, resource_id, metadata, created_at
		FROM audit_logs WHERE organization_id = ?
		ORDER BY created_at DESC LIMIT ?
	`), orgID, limit)
	return out, err
}
