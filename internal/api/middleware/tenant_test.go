package middleware

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	apiContext "draftr/internal/api/context"
	"draftr/internal/platform/auth"
	"draftr/internal/platform/repositories"
)

func TestTenantMiddleware(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	defer mockDB.Close()

	orgRepo := repositories.NewOrganizationRepository(sqlx.NewDb(mockDB, "sqlmock"))
	middleware := NewTenantMiddleware(orgRepo)

	withClaims := func(orgID string) *http.Request {
		req, _ := http.NewRequest("GET", "/", nil)
		return req.WithContext(apiContext.WithClaims(req.Context(), &auth.Claims{OrganizationID: orgID}))
	}

	t.Run("Valid Tenant", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "slug", "name", "website_url", "plan_tier", "created_at", "updated_at"}).
			AddRow("org_123", "test-org", "Test Org", "https://test.com", "pro", 1234567890, 1234567890)

		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = ?").
			WithArgs("org_123").
			WillReturnRows(rows)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			tenant := Tenant(r)
			if tenant == nil || tenant.OrgID != "org_123" {
				t.Errorf("Expected OrgID org_123, got %+v", tenant)
			}
			if tenant != nil && tenant.PlanTier != "pro" {
				t.Errorf("Expected plan pro, got %s", tenant.PlanTier)
			}
			w.WriteHeader(http.StatusOK)
		})

		handler.ServeHTTP(rr, withClaims("org_123"))

		if rr.Code != http.StatusOK {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusOK)
		}
	})

	t.Run("Invalid Tenant", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = ?").
			WithArgs("org_999").
			WillReturnError(sql.ErrNoRows)

		rr := httptest.NewRecorder()
		handler := middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		})

		handler.ServeHTTP(rr, withClaims("org_999"))

		if rr.Code != http.StatusForbidden {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusForbidden)
		}
	})

	t.Run("Lookup Failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM organizations WHERE id = ?").
			WithArgs("org_500").
			WillReturnError(sql.ErrConnDone)

		rr := httptest.NewRecorder()
		middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		}).ServeHTTP(rr, withClaims("org_500"))

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusInternalServerError)
		}
	})

	t.Run("Missing Claims", func(t *testing.T) {
		req, _ := http.NewRequest("GET", "/", nil)
		rr := httptest.NewRecorder()
		middleware.Handle(func(w http.ResponseWriter, r *http.Request) {
			t.Error("Handler should not be called")
		}).ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("handler returned wrong status code: got %v want %v", rr.Code, http.StatusUnauthorized)
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
