package middleware

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	apiContext "draftr/internal/api/context"
	"draftr/internal/pkg/errors"
	"draftr/internal/platform/auth"
)

type AuthMiddleware struct {
	tokenSvc *auth.TokenService
}

func NewAuthMiddleware(tokenSvc *auth.TokenService) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc}
}

// Handle admits requests carrying a valid bearer token and stores its claims
// on the request context. The scheme is matched case-insensitively.
func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			reject(w, r, "Missing authorization header", "no authorization header")
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		token = strings.TrimSpace(token)
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			reject(w, r, "Invalid authorization header format", "not a bearer credential")
			return
		}

		claims, err := m.tokenSvc.ValidateToken(token)
		if err != nil {
			reject(w, r, "Invalid or expired token", err.Error())
			return
		}

		next(w, r.WithContext(apiContext.WithClaims(r.Context(), claims)))
	}
}

func reject(w http.ResponseWriter, r *http.Request, message, reason string) {
	log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("reason", reason).Msg("request unauthenticated")
	errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, message, nil)
}
