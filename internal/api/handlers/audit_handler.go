package handlers

import (
	"net/http"

	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/audit"
	"draftr/internal/platform/models"
)

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(logger *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: logger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	logs, err := h.audit.List(r.Context(), tenantOf(r).OrgID, 100)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}
	apperrors.WriteJSON(w, http.StatusOK, logs)
}
