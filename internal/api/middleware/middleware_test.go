package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apiContext "draftr/internal/api/context"
	"draftr/internal/platform/auth"
	"draftr/internal/platform/config"
)

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenService(config.JWTConfig{Secret: "test-secret", AccessTokenTTL: time.Hour})
	valid, err := tokens.GenerateAccessToken("usr_1", "org_1", "admin", "a@example.com")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"scheme is case-insensitive", "bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"scheme only", "Bearer", http.StatusUnauthorized},
		{"empty token", "Bearer   ", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
	}

	m := NewAuthMiddleware(tokens)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			m.Handle(func(w http.ResponseWriter, r *http.Request) {
				if claims := apiContext.Claims(r.Context()); claims == nil || claims.OrganizationID != "org_1" {
					t.Errorf("claims = %+v", claims)
				}
				w.WriteHeader(http.StatusOK)
			}).ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter()
	handler := rl.RateLimit("webhooks", 2, func(r *http.Request) string { return r.Header.Get("X-Org") })(
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	)

	call := func(org string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/", nil)
		req.Header.Set("X-Org", org)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := call("org_1"); rr.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, rr.Code)
		}
	}
	rr := call("org_1")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Errorf("over limit status = %d retry-after = %q", rr.Code, rr.Header().Get("Retry-After"))
	}

	// Buckets are per key.
	if rr := call("org_2"); rr.Code != http.StatusOK {
		t.Errorf("other key status = %d, want 200", rr.Code)
	}

	rl.Cleanup(0)
	if rr := call("org_1"); rr.Code != http.StatusOK {
		t.Errorf("status after cleanup = %d, want 200", rr.Code)
	}
}
