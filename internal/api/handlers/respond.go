package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	apiContext "draftr/internal/api/context"
	"draftr/internal/api/middleware"
	"draftr/internal/engine/github"
	"draftr/internal/engine/registry"
	"draftr/internal/engine/triggers"
	"draftr/internal/engine/workflows"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/auth"
	"draftr/internal/platform/kv"
)

const maxRequestBody = 1 << 20

func param(r *http.Request, name string) string {
	return apiContext.Param(r.Context(), name)
}

func tenantOf(r *http.Request) *middleware.TenantContext {
	return middleware.Tenant(r)
}

func claimsOf(r *http.Request) *auth.Claims {
	return apiContext.Claims(r.Context())
}

// decodeJSON reads a bounded JSON body into v and writes a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid request body", nil)
		return false
	}
	return true
}

// writeDomainError maps service errors to HTTP responses. Unmatched errors are
// logged and reported as 500 without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *apperrors.ValidationError
	switch {
	case errors.As(err, &validation):
		apperrors.WriteError(w, http.StatusBadRequest, apperrors.ErrCodeInvalidInput, "Invalid input", validation.Issues)
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, triggers.ErrNotFound):
		apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Resource not found", nil)
	case errors.Is(err, registry.ErrRepositoryAlreadyConnected):
		apperrors.WriteError(w, http.StatusConflict, apperrors.ErrCodeConflict, "Repository already connected", nil)
	case errors.Is(err, triggers.ErrOutputDisabled):
		apperrors.WriteError(w, http.StatusConflict, apperrors.ErrCodeConflict, "The output is disabled for every target repository", nil)
	case errors.Is(err, workflows.ErrRunInProgress):
		apperrors.WriteError(w, http.StatusConflict, apperrors.ErrCodeConflict, "A run of this workflow is already in progress", nil)
	case errors.Is(err, workflows.ErrNotEntitled):
		apperrors.WriteError(w, http.StatusForbidden, apperrors.ErrCodeForbidden, "Your plan does not include AI generation", nil)
	case errors.Is(err, workflows.ErrUnknownWorkflow):
		apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "Unknown workflow type", nil)
	case errors.Is(err, github.ErrRateLimited):
		w.Header().Set("Retry-After", "60")
		apperrors.WriteError(w, http.StatusTooManyRequests, apperrors.ErrCodeRateLimitExceeded, "GitHub rate limit exceeded, try again later", nil)
	case errors.Is(err, github.ErrUnauthorized):
		apperrors.WriteError(w, http.StatusBadGateway, apperrors.ErrCodeUpstream, "GitHub rejected the integration's credentials", nil)
	case errors.Is(err, github.ErrNotFound):
		apperrors.WriteError(w, http.StatusNotFound, apperrors.ErrCodeNotFound, "GitHub owner or repository not found", nil)
	case errors.Is(err, kv.ErrUnavailable):
		apperrors.WriteError(w, http.StatusServiceUnavailable, apperrors.ErrCodeInternal, "Progress store unavailable", nil)
	default:
		log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		apperrors.WriteError(w, http.StatusInternalServerError, apperrors.ErrCodeInternal, "An unexpected error occurred", nil)
	}
}
