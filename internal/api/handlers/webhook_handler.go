package handlers

import (
	"io"
	"net/http"

	"draftr/internal/engine/gateway"
	apperrors "draftr/internal/pkg/errors"
)

// maxWebhookBody matches GitHub's 25 MB payload cap.
const maxWebhookBody = 25 << 20

type WebhookHandler struct {
	gateway *gateway.Gateway
}

func NewWebhookHandler(gw *gateway.Gateway) *WebhookHandler {
	return &WebhookHandler{gateway: gw}
}

type webhookReceived struct {
	Received bool        `json:"received"`
	Message  string      `json:"message"`
	Data     interface{} `json:"data,omitempty"`
}

func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Could not read request body", nil)
		return
	}
	if len(body) > maxWebhookBody {
		apperrors.WriteError(w, http.StatusRequestEntityTooLarge, apperrors.ErrCodeInvalidInput, "Payload too large", nil)
		return
	}

	resp := h.gateway.Handle(r.Context(), gateway.Request{
		Provider:       param(r, "provider"),
		OrganizationID: param(r, "organization_id"),
		IntegrationID:  param(r, "integration_id"),
		RepositoryID:   param(r, "repository_id"),
		Headers:        r.Header,
		Body:           body,
	})

	if !resp.OK() {
		apperrors.WriteError(w, resp.Status, resp.Code, resp.Message, resp.Details)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, webhookReceived{Received: true, Message: resp.Message, Data: resp.Data})
}
