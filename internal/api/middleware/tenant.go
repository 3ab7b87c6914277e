package middleware

import (
	"net/http"

	apiContext "draftr/internal/api/context"
	"draftr/internal/pkg/errors"
	"draftr/internal/platform/repositories"
)

type TenantContext struct {
	OrgID    string
	OrgSlug  string
	PlanTier string
}

type TenantMiddleware struct {
	orgRepo *repositories.OrganizationRepository
}

func NewTenantMiddleware(orgRepo *repositories.OrganizationRepository) *TenantMiddleware {
	return &TenantMiddleware{orgRepo: orgRepo}
}

func (m *TenantMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := apiContext.Claims(r.Context())
		if claims == nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "No authentication claims found", nil)
			return
		}

		org, err := m.orgRepo.GetByID(r.Context(), claims.OrganizationID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to load organization", nil)
			return
		}
		if org == nil {
			errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Organization not found", nil)
			return
		}

		ctx := apiContext.WithTenant(r.Context(), &TenantContext{
			OrgID:    org.ID,
			OrgSlug:  org.Slug,
			PlanTier: org.PlanTier,
		})

		next(w, r.WithContext(ctx))
	}
}

// Tenant returns the tenant set by TenantMiddleware.
func Tenant(r *http.Request) *TenantContext {
	tenant, _ := apiContext.Tenant(r.Context()).(*TenantContext)
	return tenant
}
