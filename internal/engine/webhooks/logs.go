package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"draftr/internal/platform/billing"
	"draftr/internal/platform/config"
	"draftr/internal/platform/kv"
	"draftr/internal/platform/models"
)

// LogWriter appends delivery log entries to the bounded per-integration and
// per-organization lists.
type LogWriter struct {
	store        kv.Store
	entitlements billing.Entitlements
	cfg          config.WebhookLogsConfig
}

func NewLogWriter(store kv.Store, entitlements billing.Entitlements, cfg config.WebhookLogsConfig) *LogWriter {
	return &LogWriter{store: store, entitlements: entitlements, cfg: cfg}
}

// Retention is looked up per call. Any lookup failure falls back to the
// shorter base window.
func (l *LogWriter) Retention(ctx context.Context, orgID string) time.Duration {
	allowed, err := l.entitlements.Check(ctx, orgID, billing.FeatureExtendedLogRetention)
	if err != nil {
		log.Warn().Err(err).Str("org_id", orgID).Msg("entitlement lookup failed, using base log retention")
		return l.cfg.BaseRetention
	}
	if allowed {
		return l.cfg.ExtendedRetention
	}
	return l.cfg.BaseRetention
}

func (l *LogWriter) Append(ctx context.Context, orgID, integrationID string, entry *models.WebhookLogEntry) {
	if entry.ID == "" {
		entry.ID = "whl_" + uuid.NewString()
	}
	if entry.CreatedAt == 0 {
		entry.CreatedAt = time.Now().Unix()
	}

	b, err := json.Marshal(entry)
	if err != nil {
		log.Error().Err(err).Str("org_id", orgID).Msg("failed to encode webhook log entry")
		return
	}

	keys := []string{
		kv.LogKey(orgID, entry.IntegrationType, integrationID),
		kv.AllLogsKey(orgID),
	}
	if err := l.store.AppendLog(ctx, keys, b, l.cfg.MaxEntries, l.Retention(ctx, orgID)); err != nil {
		log.Error().Err(err).Str("org_id", orgID).Str("integration_id", integrationID).Msg("failed to append webhook log entry")
	}
}

// List returns entries most recent first. An empty integrationID lists the
// organization-wide list.
func (l *LogWriter) List(ctx context.Context, orgID, integrationType, integrationID string) ([]*models.WebhookLogEntry, error) {
	key := kv.AllLogsKey(orgID)
	if integrationID != "" {
		key = kv.LogKey(orgID, integrationType, integrationID)
	}

	raw, err := l.store.ListLogs(ctx, key, l.cfg.MaxEntries)
	if err != nil {
		return nil, err
	}

	out := make([]*models.WebhookLogEntry, 0, len(raw))
	for _, b := range raw {
		var entry models.WebhookLogEntry
		if err := json.Unmarshal(b, &entry); err != nil {
			log.Warn().Err(err).Str("org_id", orgID).Msg("skipping undecodable webhook log entry")
			continue
		}
		out = append(out, &entry)
	}
	return out, nil
}
