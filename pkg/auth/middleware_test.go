package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// signTestToken produces a structurally valid JWT. The signature is never
// checked by the middleware, so any key works.
func signTestToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

func callerThroughMiddleware(t *testing.T, authorization string) *CallerContext {
	t.Helper()

	var caller *CallerContext
	handler := ClaimsMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got, ok := CallerFromContext(r.Context())
		require.True(t, ok)
		caller = got
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, caller)
	return caller
}

func TestClaimsMiddlewareDecodesCaller(t *testing.T) {
	t.Parallel()
	token := signTestToken(t, jwt.MapClaims{
		"upn":   "alice@example.com",
		"oid":   "oid-1",
		"roles": []any{"Task.Read", "Task.Write"},
	})

	caller := callerThroughMiddleware(t, "Bearer "+token)
	assert.Equal(t, "alice@example.com", caller.SubjectID)
	assert.Equal(t, "oid-1", caller.ObjectID)
	assert.Equal(t, []string{"Task.Read", "Task.Write"}, caller.Roles)
}

func TestClaimsMiddlewareNoAuthorizationHeader(t *testing.T) {
	t.Parallel()
	caller := callerThroughMiddleware(t, "")
	assert.False(t, caller.IsAuthenticated())
	assert.Empty(t, caller.Roles)
}

func TestClaimsMiddlewareMalformedToken(t *testing.T) {
	t.Parallel()
	caller := callerThroughMiddleware(t, "Bearer not-a-jwt")
	assert.False(t, caller.IsAuthenticated())
	assert.Empty(t, caller.Roles)
}

func TestClaimsMiddlewareNonBearerScheme(t *testing.T) {
	t.Parallel()
	caller := callerThroughMiddleware(t, "Basic dXNlcjpwYXNz")
	assert.False(t, caller.IsAuthenticated())
}

func TestClaimsMiddlewareCaseInsensitiveScheme(t *testing.T) {
	t.Parallel()
	token := signTestToken(t, jwt.MapClaims{"upn": "bob@example.com"})
	caller := callerThroughMiddleware(t, "bearer "+token)
	assert.Equal(t, "bob@example.com", caller.SubjectID)
}
