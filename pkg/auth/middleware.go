package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/toolgate/toolgate/pkg/logger"
)

// ClaimsMiddleware creates an HTTP middleware that decodes the bearer
// credential's claims into a CallerContext and stores it in the request
// context for downstream authorization and audit middleware.
//
// Signature verification is NOT performed here. The gateway sits behind an
// upstream verifier that has already validated the token against the
// provider's published key set; this middleware only decodes claims the
// request pipeline already trusts.
//
// A missing, malformed, or undecodable credential never fails the request at
// this layer. The caller context degrades to its unauthenticated default
// (no subject, empty role set) and downstream authorization fails secure.
func ClaimsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := &CallerContext{}

		if raw := bearerToken(r); raw != "" {
			claims, err := DecodeClaims(raw)
			if err != nil {
				logger.Warnw("failed to decode bearer claims, treating caller as unauthenticated",
					"error", err)
			} else {
				caller = CallerFromClaims(claims)
				logger.Infow("authenticated caller",
					"subject", caller.SubjectID,
					"roles", caller.Roles)
			}
		}

		next.ServeHTTP(w, r.WithContext(WithCallerContext(r.Context(), caller)))
	})
}

// DecodeClaims parses a JWT's claim set without verifying its signature.
func DecodeClaims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// bearerToken extracts the token from the Authorization header.
// Returns an empty string when no bearer credential is present.
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
