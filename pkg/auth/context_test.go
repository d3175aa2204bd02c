package auth

import (
	"context"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallerFromClaims(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name            string
		claims          jwt.MapClaims
		expectedSubject string
		expectedObject  string
		expectedRoles   []string
	}{
		{
			name: "full claim set",
			claims: jwt.MapClaims{
				"upn":   "alice@example.com",
				"oid":   "oid-123",
				"roles": []any{"Task.Read", "Task.Write"},
			},
			expectedSubject: "alice@example.com",
			expectedObject:  "oid-123",
			expectedRoles:   []string{"Task.Read", "Task.Write"},
		},
		{
			name:          "missing roles claim yields empty set",
			claims:        jwt.MapClaims{"upn": "bob@example.com"},
			expectedSubject: "bob@example.com",
		},
		{
			name:   "empty claims",
			claims: jwt.MapClaims{},
		},
		{
			name: "non-string role entries are skipped",
			claims: jwt.MapClaims{
				"roles": []any{"Task.Read", 42, nil},
			},
			expectedRoles: []string{"Task.Read"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			caller := CallerFromClaims(tt.claims)
			assert.Equal(t, tt.expectedSubject, caller.SubjectID)
			assert.Equal(t, tt.expectedObject, caller.ObjectID)
			assert.Equal(t, tt.expectedRoles, caller.Roles)
		})
	}
}

func TestCallerContextRoundTrip(t *testing.T) {
	t.Parallel()
	caller := &CallerContext{SubjectID: "alice", Roles: []string{"Task.Read"}}

	ctx := WithCallerContext(context.Background(), caller)
	got, ok := CallerFromContext(ctx)
	require.True(t, ok)
	assert.Same(t, caller, got)
}

func TestCallerFromContextMissing(t *testing.T) {
	t.Parallel()
	got, ok := CallerFromContext(context.Background())
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestWithCallerContextNil(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert.Equal(t, ctx, WithCallerContext(ctx, nil))
}

func TestHasRole(t *testing.T) {
	t.Parallel()
	caller := &CallerContext{Roles: []string{"Task.Read", "MCPServer.Admin"}}
	assert.True(t, caller.HasRole("MCPServer.Admin"))
	assert.False(t, caller.HasRole("Task.Delete"))

	var nilCaller *CallerContext
	assert.False(t, nilCaller.HasRole("Task.Read"))
}

func TestIsAuthenticated(t *testing.T) {
	t.Parallel()
	assert.False(t, (&CallerContext{}).IsAuthenticated())
	assert.True(t, (&CallerContext{SubjectID: "alice"}).IsAuthenticated())
	assert.True(t, (&CallerContext{Roles: []string{"Task.Read"}}).IsAuthenticated())
}
