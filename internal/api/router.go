package api

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
	apiContext "draftr/internal/api/context"
	"draftr/internal/api/handlers"
	"draftr/internal/api/middleware"
	"draftr/internal/pkg/errors"
)

type Dependencies struct {
	WebhookHandler     *handlers.WebhookHandler
	IntegrationHandler *handlers.IntegrationHandler
	TriggerHandler     *handlers.TriggerHandler
	WorkflowHandler    *handlers.WorkflowHandler
	WebhookLogHandler  *handlers.WebhookLogHandler
	ContentHandler     *handlers.ContentHandler
	AuditHandler       *handlers.AuditHandler
	HealthHandler      *handlers.HealthHandler
	MetricsHandler     *handlers.MetricsHandler
	AuthMiddleware     *middleware.AuthMiddleware
	TenantMiddleware   *middleware.TenantMiddleware
	RateLimiter        *middleware.RateLimiter
	WebhooksPerMinute  int
	APIPerMinute       int
}

func NewRouter(deps *Dependencies) *httprouter.Router {
	router := httprouter.New()

	// Public
	router.POST("/webhooks/:provider/:organization_id/:integration_id/:repository_id",
		chain(deps.WebhookHandler.Receive, deps.RateLimiter.RateLimit("webhooks", deps.WebhooksPerMinute, byRouteOrganization)))
	router.GET("/healthz", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	// Middleware references
	authMid := deps.AuthMiddleware
	tenantMid := deps.TenantMiddleware
	limit := deps.RateLimiter.RateLimit("api", deps.APIPerMinute, middleware.ByTenant)

	authed := func(h http.HandlerFunc, extra ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
		return chain(h, append([]func(http.HandlerFunc) http.HandlerFunc{authMid.Handle, tenantMid.Handle, limit}, extra...)...)
	}
	admin := requireRole("admin", "owner")

	// Integrations and repositories
	router.GET("/api/v1/integrations", authed(deps.IntegrationHandler.List))
	router.POST("/api/v1/integrations", authed(deps.IntegrationHandler.Create, admin))
	router.PATCH("/api/v1/integrations/:integration_id", authed(deps.IntegrationHandler.Update, admin))
	router.DELETE("/api/v1/integrations/:integration_id", authed(deps.IntegrationHandler.Delete, admin))
	router.GET("/api/v1/integrations/:integration_id/available-repositories", authed(deps.IntegrationHandler.AvailableRepositories))
	router.POST("/api/v1/integrations/:integration_id/repositories", authed(deps.IntegrationHandler.AddRepository, admin))
	router.PATCH("/api/v1/repositories/:repository_id", authed(deps.IntegrationHandler.UpdateRepository, admin))
	router.DELETE("/api/v1/repositories/:repository_id", authed(deps.IntegrationHandler.DeleteRepository, admin))
	router.POST("/api/v1/repositories/:repository_id/webhook-secret", authed(deps.IntegrationHandler.RotateWebhookSecret, admin))
	router.PUT("/api/v1/repositories/:repository_id/outputs/:output_type", authed(deps.IntegrationHandler.ConfigureOutput, admin))
	router.PATCH("/api/v1/repositories/:repository_id/outputs/:output_type", authed(deps.IntegrationHandler.ToggleOutput, admin))

	// Triggers
	router.GET("/api/v1/triggers", authed(deps.TriggerHandler.List))
	router.POST("/api/v1/triggers", authed(deps.TriggerHandler.Create))
	router.GET("/api/v1/triggers/:trigger_id", authed(deps.TriggerHandler.Get))
	router.PATCH("/api/v1/triggers/:trigger_id", authed(deps.TriggerHandler.Update))
	router.DELETE("/api/v1/triggers/:trigger_id", authed(deps.TriggerHandler.Delete))
	router.POST("/api/v1/triggers/:trigger_id/run", authed(deps.TriggerHandler.Run))

	// Workflows
	router.POST("/api/v1/workflows/:type/runs", authed(deps.WorkflowHandler.Start))
	router.GET("/api/v1/organizations/:organization_id/workflows/:type/progress", authed(deps.WorkflowHandler.Progress))

	// Read models
	router.GET("/api/v1/webhook-logs", authed(deps.WebhookLogHandler.List))
	router.GET("/api/v1/posts", authed(deps.ContentHandler.ListPosts))
	router.GET("/api/v1/brand-settings", authed(deps.ContentHandler.GetBrandSettings))
	router.GET("/api/v1/audit-logs", authed(deps.AuditHandler.List, admin))

	return router
}

// Helper function to chain middlewares
func chain(handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(handler)
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		// Inject params into context
		handler(w, r.WithContext(apiContext.WithParams(r.Context(), ps)))
	}
}

// byRouteOrganization keys webhook limits on the organization in the path.
func byRouteOrganization(r *http.Request) string {
	return apiContext.Param(r.Context(), "organization_id")
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := apiContext.Claims(r.Context())

			allowed := false
			for _, role := range roles {
				if claims != nil && claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
