package handlers

import (
	"net/http"

	"draftr/internal/engine/triggers"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/models"
)

type TriggerHandler struct {
	triggers *triggers.Service
}

func NewTriggerHandler(svc *triggers.Service) *TriggerHandler {
	return &TriggerHandler{triggers: svc}
}

func (h *TriggerHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.triggers.List(r.Context(), tenantOf(r).OrgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	shown := make([]*models.Trigger, 0, len(list))
	for _, t := range list {
		shown = append(shown, triggers.Redact(t))
	}
	apperrors.WriteJSON(w, http.StatusOK, shown)
}

func (h *TriggerHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.triggers.Get(r.Context(), tenantOf(r).OrgID, param(r, "trigger_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, triggers.Redact(t))
}

func (h *TriggerHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req triggers.TriggerInput
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.triggers.Create(r.Context(), tenantOf(r).OrgID, req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, triggers.Redact(t))
}

func (h *TriggerHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req triggers.UpdateTriggerInput
	if !decodeJSON(w, r, &req) {
		return
	}

	t, err := h.triggers.Update(r.Context(), tenantOf(r).OrgID, param(r, "trigger_id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, triggers.Redact(t))
}

func (h *TriggerHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.triggers.Delete(r.Context(), tenantOf(r).OrgID, param(r, "trigger_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Run starts the trigger's workflow now and returns 202 with the run id.
func (h *TriggerHandler) Run(w http.ResponseWriter, r *http.Request) {
	handle, err := h.triggers.RunNow(r.Context(), tenantOf(r).OrgID, param(r, "trigger_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusAccepted, handle)
}
