package flow

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/authz"
	"github.com/toolgate/toolgate/pkg/store"
)

func setupHandler(t *testing.T, refresher TokenRefresher) (*Handler, *store.RedisStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	tokens := store.NewRedisStoreWithClient(client, "test")
	handler := NewHandler(HandlerConfig{
		Tokens:    tokens,
		Engine:    authz.NewEngine(authz.EngineConfig{}),
		Refresher: refresher,
	})
	return handler, tokens, mr
}

func newRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	handler.Routes(r)
	return r
}

func authenticatedRequest(method, target, body string, subjectID string, roles []string) *http.Request {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")

	if subjectID != "" {
		caller := &auth.CallerContext{SubjectID: subjectID, Roles: roles}
		req = req.WithContext(auth.WithCallerContext(req.Context(), caller))
	}
	return req
}

func TestExchangeHandler(t *testing.T) {
	t.Parallel()

	handler, tokens, _ := setupHandler(t, nil)
	router := newRouter(handler)
	ctx := context.Background()

	record := &store.TokenRecord{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-def",
		ExpiresAt:    time.Now().Add(time.Hour),
	}
	require.True(t, tokens.SaveToken(ctx, "alice@example.com", record))

	code, ok := IssueExchangeCode(ctx, tokens, "alice@example.com")
	require.True(t, ok)
	require.NotEmpty(t, code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/auth/exchange",
		`{"code":"`+code+`"}`, "", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var response tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "alice@example.com", response.SubjectID)
	assert.Equal(t, "access-abc", response.AccessToken)
	assert.Equal(t, "refresh-def", response.RefreshToken)

	// The code is single-use; a second redemption fails.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/auth/exchange",
		`{"code":"`+code+`"}`, "", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExchangeHandler_BadRequests(t *testing.T) {
	t.Parallel()

	handler, _, _ := setupHandler(t, nil)
	router := newRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/auth/exchange", `{}`, "", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/auth/exchange", `{"code":"unknown"}`, "", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExchangeHandler_MissingToken(t *testing.T) {
	t.Parallel()

	handler, tokens, _ := setupHandler(t, nil)
	router := newRouter(handler)

	// Code exists but the subject's token record is gone.
	code, ok := IssueExchangeCode(context.Background(), tokens, "ghost@example.com")
	require.True(t, ok)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/auth/exchange",
		`{"code":"`+code+`"}`, "", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type stubRefresher struct {
	record *store.TokenRecord
	err    error
}

func (s *stubRefresher) Refresh(_ context.Context, _ string, _ *store.TokenRecord) (*store.TokenRecord, error) {
	return s.record, s.err
}

func TestRefreshHandler(t *testing.T) {
	t.Parallel()

	refreshed := &store.TokenRecord{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresAt:    time.Now().Add(2 * time.Hour),
	}
	handler, tokens, _ := setupHandler(t, &stubRefresher{record: refreshed})
	router := newRouter(handler)

	old := &store.TokenRecord{
		AccessToken:  "old-access",
		RefreshToken: "old-refresh",
		ExpiresAt:    time.Now().Add(time.Minute),
	}
	require.True(t, tokens.SaveToken(context.Background(), "alice@example.com", old))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/auth/refresh", "", "alice@example.com", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var response tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "new-access", response.AccessToken)

	stored := tokens.LoadToken(context.Background(), "alice@example.com")
	require.NotNil(t, stored)
	assert.Equal(t, "new-access", stored.AccessToken)
}

func TestRefreshHandler_Failures(t *testing.T) {
	t.Parallel()

	t.Run("not configured", func(t *testing.T) {
		t.Parallel()

		handler, _, _ := setupHandler(t, nil)
		rec := httptest.NewRecorder()
		newRouter(handler).ServeHTTP(rec,
			authenticatedRequest(http.MethodPost, "/auth/refresh", "", "alice@example.com", nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		t.Parallel()

		handler, _, _ := setupHandler(t, &stubRefresher{})
		rec := httptest.NewRecorder()
		newRouter(handler).ServeHTTP(rec,
			authenticatedRequest(http.MethodPost, "/auth/refresh", "", "", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("no stored credentials", func(t *testing.T) {
		t.Parallel()

		handler, _, _ := setupHandler(t, &stubRefresher{})
		rec := httptest.NewRecorder()
		newRouter(handler).ServeHTTP(rec,
			authenticatedRequest(http.MethodPost, "/auth/refresh", "", "alice@example.com", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("upstream error", func(t *testing.T) {
		t.Parallel()

		handler, tokens, _ := setupHandler(t, &stubRefresher{err: errors.New("idp unreachable")})
		record := &store.TokenRecord{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}
		require.True(t, tokens.SaveToken(context.Background(), "alice@example.com", record))

		rec := httptest.NewRecorder()
		newRouter(handler).ServeHTTP(rec,
			authenticatedRequest(http.MethodPost, "/auth/refresh", "", "alice@example.com", nil))
		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestLogoutHandler(t *testing.T) {
	t.Parallel()

	handler, tokens, _ := setupHandler(t, nil)
	router := newRouter(handler)
	ctx := context.Background()

	record := &store.TokenRecord{AccessToken: "a", ExpiresAt: time.Now().Add(time.Hour)}
	require.True(t, tokens.SaveToken(ctx, "alice@example.com", record))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPost, "/auth/logout", "", "alice@example.com", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, tokens.LoadToken(ctx, "alice@example.com"))
}

func TestPermissionsHandler(t *testing.T) {
	t.Parallel()

	handler, _, _ := setupHandler(t, nil)
	router := newRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/auth/permissions", "",
		"alice@example.com", []string{"Task.Read"}))

	require.Equal(t, http.StatusOK, rec.Code)

	var perms authz.Permissions
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &perms))
	assert.Equal(t, "alice@example.com", perms.SubjectID)
	assert.Equal(t, []string{"get", "list", "read", "view"}, perms.EffectivePermissions)
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	handler, _, _ := setupHandler(t, nil)
	router := newRouter(handler)

	// Create.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodPut, "/auth/sessions/sess-1",
		`{"client":"vscode"}`, "alice@example.com", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Read back.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/auth/sessions/sess-1", "",
		"alice@example.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var record store.SessionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "alice@example.com", record.SubjectID)
	assert.Equal(t, "vscode", record.Data["client"])

	// List.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/auth/sessions", "",
		"alice@example.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sess-1")

	// Another subject cannot see it.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/auth/sessions/sess-1", "",
		"bob@example.com", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Delete.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodDelete, "/auth/sessions/sess-1", "",
		"alice@example.com", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, authenticatedRequest(http.MethodGet, "/auth/sessions/sess-1", "",
		"alice@example.com", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionHandlers_RequireAuthentication(t *testing.T) {
	t.Parallel()

	handler, _, _ := setupHandler(t, nil)
	router := newRouter(handler)

	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodGet, "/auth/sessions"},
		{http.MethodPut, "/auth/sessions/s1"},
		{http.MethodGet, "/auth/sessions/s1"},
		{http.MethodDelete, "/auth/sessions/s1"},
		{http.MethodPost, "/auth/logout"},
		{http.MethodGet, "/auth/permissions"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, authenticatedRequest(tc.method, tc.target, `{}`, "", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	handler, _, mr := setupHandler(t, nil)
	router := newRouter(handler)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	mr.Close()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
