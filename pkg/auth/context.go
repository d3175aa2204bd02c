// Package auth provides caller identity extraction for the gateway.
package auth

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// CallerContext describes the authenticated caller of a single request.
// It is constructed from the bearer credential's claims at the start of each
// request and carried through the request's context.Context; it is never
// shared between requests or persisted.
type CallerContext struct {
	// SubjectID is the stable user principal identifier (the 'upn' claim).
	SubjectID string

	// ObjectID is the opaque directory identifier (the 'oid' claim).
	ObjectID string

	// Roles is the caller's role set. An empty or nil slice means the
	// caller holds no roles and must be treated as having zero permissions.
	Roles []string

	// Claims preserves the full decoded claim set for audit purposes.
	Claims jwt.MapClaims
}

// IsAuthenticated reports whether any identity was decoded for the caller.
func (c *CallerContext) IsAuthenticated() bool {
	return c != nil && (c.SubjectID != "" || c.ObjectID != "" || len(c.Roles) > 0)
}

// HasRole reports whether the caller holds the given role.
func (c *CallerContext) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// CallerContextKey is the key used to store the CallerContext in the request
// context.
//
// Using an empty struct as the key prevents collisions with other context
// keys, as each empty struct type is distinct even if they have the same name
// in different packages.
type CallerContextKey struct{}

// WithCallerContext stores a CallerContext in the context.
// If caller is nil, the original context is returned unchanged.
func WithCallerContext(ctx context.Context, caller *CallerContext) context.Context {
	if caller == nil {
		return ctx
	}
	return context.WithValue(ctx, CallerContextKey{}, caller)
}

// CallerFromContext retrieves the CallerContext from the context.
// Returns the caller and true if present, nil and false otherwise.
func CallerFromContext(ctx context.Context) (*CallerContext, bool) {
	caller, ok := ctx.Value(CallerContextKey{}).(*CallerContext)
	return caller, ok
}

// CallerFromClaims builds a CallerContext from decoded token claims.
//
// Absent claims degrade to their zero values: a token without a 'roles'
// claim yields an empty role set, which downstream authorization treats as
// zero permissions.
func CallerFromClaims(claims jwt.MapClaims) *CallerContext {
	caller := &CallerContext{Claims: claims}

	if upn, ok := claims["upn"].(string); ok {
		caller.SubjectID = upn
	}
	if oid, ok := claims["oid"].(string); ok {
		caller.ObjectID = oid
	}
	if rawRoles, ok := claims["roles"].([]any); ok {
		for _, r := range rawRoles {
			if role, ok := r.(string); ok {
				caller.Roles = append(caller.Roles, role)
			}
		}
	}

	return caller
}
