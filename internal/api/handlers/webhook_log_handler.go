package handlers

import (
	"net/http"

	"draftr/internal/engine/webhooks"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/models"
)

type WebhookLogHandler struct {
	logs *webhooks.LogWriter
}

func NewWebhookLogHandler(logs *webhooks.LogWriter) *WebhookLogHandler {
	return &WebhookLogHandler{logs: logs}
}

// List returns newest-first entries. Without integration_id it returns the
// organization-wide list.
func (h *WebhookLogHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.logs.List(r.Context(), tenantOf(r).OrgID, q.Get("integration_type"), q.Get("integration_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.WebhookLogEntry{}
	}
	apperrors.WriteJSON(w, http.StatusOK, entries)
}
