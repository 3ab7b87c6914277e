package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"draftr/internal/engine/registry"
	"draftr/internal/engine/triggers"
	"draftr/internal/engine/workflows"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/pkg/validator"
	"draftr/internal/platform/repositories"
)

type WorkflowHandler struct {
	orchestrator *workflows.Orchestrator
	registry     *registry.Service
	orgRepo      *repositories.OrganizationRepository
}

func NewWorkflowHandler(o *workflows.Orchestrator, reg *registry.Service, orgRepo *repositories.OrganizationRepository) *WorkflowHandler {
	return &WorkflowHandler{orchestrator: o, registry: reg, orgRepo: orgRepo}
}

// Start queues a run and returns 202 immediately. Clients poll Progress.
func (h *WorkflowHandler) Start(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOf(r)
	workflowType := param(r, "type")

	var input interface{}
	switch workflowType {
	case workflows.TypeBrandAnalysis:
		in, ok := h.brandInput(w, r, tenant.OrgID)
		if !ok {
			return
		}
		input = in
	case workflows.TypeContentGeneration:
		in, ok := h.contentInput(w, r, tenant.OrgID)
		if !ok {
			return
		}
		input = in
	default:
		writeDomainError(w, r, workflows.ErrUnknownWorkflow)
		return
	}

	handle, err := h.orchestrator.Start(r.Context(), workflowType, tenant.OrgID, input, "")
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusAccepted, handle)
}

// Progress serves the polling view. A route organization other than the
// caller's is reported as not found.
func (h *WorkflowHandler) Progress(w http.ResponseWriter, r *http.Request) {
	tenant := tenantOf(r)
	if param(r, "organization_id") != tenant.OrgID {
		apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Organization not found", nil)
		return
	}

	p, err := h.orchestrator.Progress(r.Context(), param(r, "type"), tenant.OrgID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, p)
}

// brandInput defaults the website to the organization's own.
func (h *WorkflowHandler) brandInput(w http.ResponseWriter, r *http.Request, orgID string) (*workflows.BrandInput, bool) {
	in := &workflows.BrandInput{}
	if !decodeOptionalJSON(w, r, in) {
		return nil, false
	}
	if strings.TrimSpace(in.WebsiteURL) == "" {
		org, err := h.orgRepo.GetByID(r.Context(), orgID)
		if err != nil {
			writeDomainError(w, r, err)
			return nil, false
		}
		if org != nil {
			in.WebsiteURL = org.WebsiteURL
		}
	}
	if strings.TrimSpace(in.WebsiteURL) == "" {
		writeDomainError(w, r, (&apperrors.ValidationError{}).Add("website_url", "is required"))
		return nil, false
	}
	return in, true
}

func (h *WorkflowHandler) contentInput(w http.ResponseWriter, r *http.Request, orgID string) (*workflows.ContentInput, bool) {
	in := &workflows.ContentInput{}
	if !decodeJSON(w, r, in) {
		return nil, false
	}
	// Events arrive only through the gateway.
	in.Event = nil
	in.TriggerID = ""

	v := &apperrors.ValidationError{}
	if !registry.IsOutputType(in.OutputType) {
		v.Add("output_type", "must be changelog, blog_post or social_post")
	}
	if len(in.RepositoryIDs) == 0 {
		v.Add("repository_ids", "must name at least one repository")
	}
	if field, err := validator.OutputConfig(in.OutputConfig); err != nil {
		v.Add("output_"+field, err.Error())
	}
	if err := v.OrNil(); err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}

	owned, err := h.registry.OwnedRepositories(r.Context(), orgID, in.RepositoryIDs)
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	for _, id := range in.RepositoryIDs {
		if !owned[id] {
			writeDomainError(w, r, (&apperrors.ValidationError{}).Add("repository_ids", "unknown repository "+id))
			return nil, false
		}
	}

	active := make([]string, 0, len(in.RepositoryIDs))
	for _, id := range in.RepositoryIDs {
		out, err := h.registry.Output(r.Context(), id, in.OutputType)
		if err != nil {
			writeDomainError(w, r, err)
			return nil, false
		}
		if out == nil || out.Enabled {
			active = append(active, id)
		}
	}
	if len(active) == 0 {
		writeDomainError(w, r, triggers.ErrOutputDisabled)
		return nil, false
	}
	in.RepositoryIDs = active

	sealed, err := h.registry.SealOutputConfig(in.OutputConfig)
	if err != nil {
		writeDomainError(w, r, err)
		return nil, false
	}
	in.OutputConfig = sealed
	return in, true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(v)
	if err != nil && err != io.EOF {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}
