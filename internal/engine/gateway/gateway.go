// Package gateway receives provider webhooks. It authenticates each delivery
// against the repository's secret, records it in the webhook log and turns
// recognized events into workflow runs.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/rs/zerolog/log"
	"draftr/internal/engine/webhooks"
	"draftr/internal/engine/workflows"
	apperrors "draftr/internal/pkg/errors"
	"draftr/internal/platform/config"
	"draftr/internal/platform/kv"
	"draftr/internal/platform/metrics"
	"draftr/internal/platform/models"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// maxLoggedPayload bounds the payload kept in a log entry.
const maxLoggedPayload = 16 << 10

// Resolver looks up the integration and repository named by the route.
type Resolver interface {
	GetIntegration(ctx context.Context, id string) (*models.Integration, error)
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	WebhookSecret(ctx context.Context, repo *models.Repository) (string, error)
}

// TriggerMatcher finds the triggers an event should start and starts them.
type TriggerMatcher interface {
	MatchWebhook(ctx context.Context, orgID, repositoryID, eventType string) ([]*models.Trigger, error)
	StartForEvent(ctx context.Context, t *models.Trigger, repositoryID string, event *workflows.EventSnapshot) (*workflows.RunHandle, error)
}

type Request struct {
	Provider       string
	OrganizationID string
	IntegrationID  string
	RepositoryID   string
	Headers        http.Header
	Body           []byte
}

// Response is what the HTTP layer writes back. A 200 carries Message and
// Data; anything else carries Code, Message and optional Details.
type Response struct {
	Status  int
	Code    string
	Message string
	Data    interface{}
	Details interface{}
}

func (r Response) OK() bool { return r.Status == http.StatusOK }

// businessError is a handler-reported failure; it maps to 400.
type businessError struct {
	msg string
}

func (e *businessError) Error() string { return e.msg }

func rejectf(format string, args ...interface{}) error {
	return &businessError{msg: fmt.Sprintf(format, args...)}
}

// outcome is what a provider handler reports on success.
type outcome struct {
	Message string
	Title   string
	Data    interface{}
}

// delivery is the authenticated request as seen by provider handlers.
type delivery struct {
	orgID       string
	integration *models.Integration
	repo        *models.Repository
	headers     http.Header
	body        []byte
	deliveryID  string
}

type Gateway struct {
	resolver Resolver
	triggers TriggerMatcher
	logs     *webhooks.LogWriter
	store    kv.Store
	cfg      config.WebhookLogsConfig
}

type Deps struct {
	Resolver Resolver
	Triggers TriggerMatcher
	Logs     *webhooks.LogWriter
	Store    kv.Store
	Config   config.WebhookLogsConfig
}

func New(d Deps) *Gateway {
	return &Gateway{
		resolver: d.Resolver,
		triggers: d.Triggers,
		logs:     d.Logs,
		store:    d.Store,
		cfg:      d.Config,
	}
}

// Handle processes one inbound delivery. Exactly one log entry is written
// once the organization is known to own the integration; requests that cross
// tenants are never logged.
func (g *Gateway) Handle(ctx context.Context, req Request) (resp Response) {
	defer func() {
		metrics.WebhookDeliveries.WithLabelValues(req.Provider, strconv.Itoa(resp.Status)).Inc()
	}()

	if issues := validateRoute(req); issues != nil {
		return Response{Status: http.StatusBadRequest, Code: apperrors.ErrCodeInvalidInput, Message: "Invalid webhook route", Details: issues}
	}
	provider, err := ParseProvider(req.Provider)
	if err != nil {
		return Response{Status: http.StatusNotImplemented, Code: apperrors.ErrCodeNotSupported, Message: "Unsupported provider"}
	}

	logger := log.With().Str("org_id", req.OrganizationID).Str("integration_id", req.IntegrationID).Str("repository_id", req.RepositoryID).Str("provider", provider.String()).Logger()

	integration, err := g.resolver.GetIntegration(ctx, req.IntegrationID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load integration")
		return internalError()
	}
	if integration == nil || integration.OrganizationID != req.OrganizationID {
		if integration != nil {
			logger.Warn().Msg("webhook addressed an integration of another organization")
		}
		return Response{Status: http.StatusNotFound, Code: apperrors.ErrCodeNotFound, Message: "Integration not found"}
	}

	// From here on the organization is verified and every outcome is logged.
	entry := &models.WebhookLogEntry{
		Title:           provider.String() + " webhook",
		IntegrationType: integration.Type,
		Direction:       models.DirectionIncoming,
		Payload:         loggablePayload(req.Body),
	}
	if id := deliveryID(provider, req.Headers); id != "" {
		entry.ReferenceID = &id
	}
	defer func() {
		g.record(ctx, req.OrganizationID, integration.ID, entry, resp)
	}()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error().Interface("panic", rec).Msg("webhook handler panicked")
			resp = internalError()
		}
	}()

	if integration.Type != provider.String() {
		return Response{Status: http.StatusBadRequest, Code: apperrors.ErrCodeInvalidInput, Message: "Provider does not match integration"}
	}
	if !integration.Enabled {
		return Response{Status: http.StatusForbidden, Code: apperrors.ErrCodeForbidden, Message: "Integration is disabled"}
	}

	repo, err := g.resolver.GetRepository(ctx, req.RepositoryID)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load repository")
		return internalError()
	}
	if repo == nil {
		return Response{Status: http.StatusNotFound, Code: apperrors.ErrCodeNotFound, Message: "Repository not found"}
	}
	if repo.IntegrationID != integration.ID {
		return Response{Status: http.StatusForbidden, Code: apperrors.ErrCodeForbidden, Message: "Repository does not belong to integration"}
	}
	if !repo.Enabled {
		return Response{Status: http.StatusForbidden, Code: apperrors.ErrCodeForbidden, Message: "Repository is disabled"}
	}
	entry.Title = provider.String() + " webhook for " + repo.FullName()

	secret, err := g.resolver.WebhookSecret(ctx, repo)
	if err != nil {
		logger.Error().Err(err).Msg("failed to decrypt webhook secret")
		return internalError()
	}

	d := &delivery{
		orgID:       req.OrganizationID,
		integration: integration,
		repo:        repo,
		headers:     req.Headers,
		body:        req.Body,
	}
	if entry.ReferenceID != nil {
		d.deliveryID = *entry.ReferenceID
	}

	var verified bool
	switch provider {
	case ProviderGitHub:
		verified = verifyGitHub(secret, req.Headers, req.Body)
	case ProviderLinear:
		verified = verifyLinear(secret, req.Headers, req.Body)
	}
	if !verified {
		logger.Warn().Msg("webhook signature rejected")
		return Response{Status: http.StatusBadRequest, Code: apperrors.ErrCodeUnauthorized, Message: "Invalid signature"}
	}

	if d.deliveryID != "" {
		key := kv.DeliveryKey(req.OrganizationID, d.deliveryID)
		first, err := g.store.ClaimOnce(ctx, key, g.cfg.DedupeTTL)
		switch {
		case err != nil:
			logger.Warn().Err(err).Msg("delivery dedupe unavailable, processing without it")
		case !first:
			entry.Title += " (duplicate)"
			return Response{Status: http.StatusOK, Message: "Duplicate delivery ignored", Data: map[string]interface{}{"duplicate": true}}
		default:
			// A failed dispatch must stay retryable by the provider.
			defer func() {
				if resp.OK() {
					return
				}
				if err := g.store.Forget(ctx, key); err != nil {
					logger.Warn().Err(err).Msg("failed to release delivery claim")
				}
			}()
		}
	}

	var out *outcome
	switch provider {
	case ProviderGitHub:
		out, err = g.handleGitHub(ctx, d)
	case ProviderLinear:
		out, err = g.handleLinear(ctx, d)
	}
	if err != nil {
		if be, ok := err.(*businessError); ok {
			return Response{Status: http.StatusBadRequest, Code: apperrors.ErrCodeInvalidInput, Message: be.msg}
		}
		logger.Error().Err(err).Msg("webhook dispatch failed")
		return internalError()
	}

	if out.Title != "" {
		entry.Title = out.Title
	}
	logger.Info().Str("result", out.Message).Msg("webhook processed")
	return Response{Status: http.StatusOK, Message: out.Message, Data: out.Data}
}

func (g *Gateway) record(ctx context.Context, orgID, integrationID string, entry *models.WebhookLogEntry, resp Response) {
	status := resp.Status
	entry.StatusCode = &status
	if resp.OK() {
		entry.Status = models.LogStatusSuccess
	} else {
		entry.Status = models.LogStatusFailed
		msg := resp.Message
		entry.ErrorMessage = &msg
	}
	g.logs.Append(ctx, orgID, integrationID, entry)
}

func internalError() Response {
	return Response{Status: http.StatusInternalServerError, Code: apperrors.ErrCodeInternal, Message: "An unexpected error occurred"}
}

func validateRoute(req Request) []apperrors.FieldIssue {
	v := &apperrors.ValidationError{}
	if req.Provider == "" {
		v.Add("provider", "is required")
	}
	for field, value := range map[string]string{
		"organization_id": req.OrganizationID,
		"integration_id":  req.IntegrationID,
		"repository_id":   req.RepositoryID,
	} {
		if !idPattern.MatchString(value) {
			v.Add(field, "must be 1-64 letters, digits, '-' or '_'")
		}
	}
	if len(v.Issues) == 0 {
		return nil
	}
	return v.Issues
}

func deliveryID(p Provider, h http.Header) string {
	switch p {
	case ProviderGitHub:
		return h.Get(githubDeliveryHeader)
	case ProviderLinear:
		return h.Get(linearDeliveryHeader)
	}
	return ""
}

func loggablePayload(body []byte) json.RawMessage {
	if len(body) == 0 || len(body) > maxLoggedPayload || !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}
