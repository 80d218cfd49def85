package auth

import (
	"context"

	"github.com/goliatone/go-router"
)

var userCtxKey = &contextKey{"user"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok
}

// WithClaimsContext sets the Claims in the given context
func WithClaimsContext(r context.Context, claims *Claims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the Claims from the standard context
func GetClaims(ctx context.Context) (*Claims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(*Claims)
	return raw, ok
}

// GetRouterClaims extracts the Claims from the router context
func GetRouterClaims(ctx router.Context, key string) (*Claims, bool) {
	if key == "" {
		key = "claims" // default key used by the tier middleware
	}
	raw := ctx.Locals(key)
	if raw == nil {
		return nil, false
	}
	claims, ok := raw.(*Claims)
	return claims, ok
}

// HasTier is a convenience check against the tier snapshot carried in the
// context claims. It never touches the store; use TierGate when the
// decision must be current.
func HasTier(ctx context.Context, allowed TierSet) bool {
	claims, ok := GetClaims(ctx)
	if !ok {
		return false
	}
	return allowed.Contains(claims.Tier())
}
