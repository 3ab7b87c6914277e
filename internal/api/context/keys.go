// Package context carries request-scoped values between the router, the
// middleware chain and handlers.
package context

import (
	"context"

	"github.com/julienschmidt/httprouter"
	"draftr/internal/platform/auth"
)

type key int

const (
	claimsKey key = iota
	tenantKey
	paramsKey
)

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Claims returns the verified caller, or nil on unauthenticated routes.
func Claims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// WithTenant stores the caller's resolved organization. The value type is
// owned by the middleware that sets it.
func WithTenant(ctx context.Context, tenant interface{}) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

func Tenant(ctx context.Context) interface{} {
	return ctx.Value(tenantKey)
}

func WithParams(ctx context.Context, ps httprouter.Params) context.Context {
	return context.WithValue(ctx, paramsKey, ps)
}

// Param returns a named route parameter, or "" when absent.
func Param(ctx context.Context, name string) string {
	ps, _ := ctx.Value(paramsKey).(httprouter.Params)
	return ps.ByName(name)
}
