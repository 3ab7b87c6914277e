package handlers

import (
	"net/http"
	"strings"

	"draftr/internal/engine/registry"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/models"
)

type IntegrationHandler struct {
	registry *registry.Service
}

func NewIntegrationHandler(reg *registry.Service) *IntegrationHandler {
	return &IntegrationHandler{registry: reg}
}

func (h *IntegrationHandler) List(w http.ResponseWriter, r *http.Request) {
	integrations, err := h.registry.ListIntegrations(r.Context(), tenantOf(r).OrgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, integrations)
}

// Create returns the integration with the webhook of its first repository.
// The secret is shown only in this response.
func (h *IntegrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req registry.CreateIntegrationInput
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrganizationID = tenantOf(r).OrgID
	if claims := claimsOf(r); claims != nil {
		req.CreatedByUserID = claims.UserID
	}

	created, err := h.registry.CreateIntegration(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, created)
}

func (h *IntegrationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req registry.UpdateIntegrationInput
	if !decodeJSON(w, r, &req) {
		return
	}

	integration, err := h.registry.UpdateIntegration(r.Context(), tenantOf(r).OrgID, param(r, "integration_id"), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, integration)
}

func (h *IntegrationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteIntegration(r.Context(), tenantOf(r).OrgID, param(r, "integration_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *IntegrationHandler) AvailableRepositories(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner"))
	repos, err := h.registry.ListAvailableRepositories(r.Context(), tenantOf(r).OrgID, param(r, "integration_id"), owner)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, repos)
}

func (h *IntegrationHandler) AddRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Owner string `json:"owner"`
		Repo  string `json:"repo"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	conn, err := h.registry.AddRepository(r.Context(), tenantOf(r).OrgID, param(r, "integration_id"), req.Owner, req.Repo)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusCreated, conn)
}

func (h *IntegrationHandler) UpdateRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeDomainError(w, r, (&apperrors.ValidationError{}).Add("enabled", "is required"))
		return
	}

	repo, err := h.registry.SetRepositoryEnabled(r.Context(), tenantOf(r).OrgID, param(r, "repository_id"), *req.Enabled)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, repo)
}

func (h *IntegrationHandler) DeleteRepository(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.DeleteRepository(r.Context(), tenantOf(r).OrgID, param(r, "repository_id")); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RotateWebhookSecret returns the callback URL and the new secret. The secret
// is shown only in this response.
func (h *IntegrationHandler) RotateWebhookSecret(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.registry.RotateWebhookSecret(r.Context(), tenantOf(r).OrgID, param(r, "repository_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, cfg)
}

func (h *IntegrationHandler) ConfigureOutput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Config models.JSONText `json:"config"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	output, err := h.registry.ConfigureOutput(r.Context(), tenantOf(r).OrgID, param(r, "repository_id"), param(r, "output_type"), req.Config)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, output)
}

func (h *IntegrationHandler) ToggleOutput(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeDomainError(w, r, (&apperrors.ValidationError{}).Add("enabled", "is required"))
		return
	}

	if err := h.registry.SetOutputEnabled(r.Context(), tenantOf(r).OrgID, param(r, "repository_id"), param(r, "output_type"), *req.Enabled); err != nil {
		writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
