package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/audit"
	"github.com/toolgate/toolgate/pkg/authz"
	"github.com/toolgate/toolgate/pkg/config"
	"github.com/toolgate/toolgate/pkg/flow"
	"github.com/toolgate/toolgate/pkg/registry"
	"github.com/toolgate/toolgate/pkg/store"
	"github.com/toolgate/toolgate/pkg/telemetry"
)

func signToken(t *testing.T, roles []string) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"upn":   "alice@example.com",
		"oid":   "obj-123",
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test-key"))
	require.NoError(t, err)
	return signed
}

// setupGateway wires the full router against a fake MCP backend.
func setupGateway(t *testing.T) http.Handler {
	t.Helper()

	catalog := []registry.ToolDescriptor{
		{Name: "get_weather", Tags: []string{"read", "public"}},
		{Name: "set_alert", Tags: []string{"write"}},
		{Name: "admin_stats", Tags: []string{"admin"}},
	}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var message struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&message)

		w.Header().Set("Content-Type", "application/json")
		switch message.Method {
		case "tools/list":
			tools := make([]map[string]any, 0, len(catalog))
			for _, tool := range catalog {
				tools = append(tools, map[string]any{
					"name":        tool.Name,
					"inputSchema": map[string]any{"type": "object"},
				})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": message.ID,
				"result": map[string]any{"tools": tools},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0", "id": message.ID,
				"result": map[string]any{"content": []any{}},
			})
		}
	}))
	t.Cleanup(backend.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	tokens := store.NewRedisStoreWithClient(client, "test")

	reg := registry.NewInMemoryRegistry(catalog)
	metrics := telemetry.NewMetrics()
	engine := authz.NewEngine(authz.EngineConfig{
		Registry: reg,
		Tokens:   tokens,
		Metrics:  metrics,
	})

	auditConfig := audit.DefaultConfig()
	auditConfig.LogFile = t.TempDir() + "/audit.log"
	auditor, err := audit.NewAuditor(auditConfig)
	require.NoError(t, err)

	flowHandler := flow.NewHandler(flow.HandlerConfig{
		Tokens:  tokens,
		Engine:  engine,
		Auditor: auditor,
		Metrics: metrics,
	})

	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)

	cfg := &config.Config{Server: config.ServerConfig{BackendURL: backend.URL}}
	return buildRouter(cfg, backendURL, engine, auditor, metrics, flowHandler)
}

func doMCP(t *testing.T, gateway http.Handler, body, token string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	gateway.ServeHTTP(rec, req)
	return rec
}

func TestGateway_ToolsListFilteredByRole(t *testing.T) {
	gateway := setupGateway(t)
	token := signToken(t, []string{"Task.Read"})

	rec := doMCP(t, gateway, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, token)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "get_weather")
	assert.NotContains(t, body, "set_alert")
	assert.NotContains(t, body, "admin_stats")
}

func TestGateway_ToolsListEmptyWithoutToken(t *testing.T) {
	gateway := setupGateway(t)

	rec := doMCP(t, gateway, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "get_weather")
}

func TestGateway_InvocationDecisions(t *testing.T) {
	gateway := setupGateway(t)
	token := signToken(t, []string{"Task.Read"})

	rec := doMCP(t, gateway,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"get_weather","arguments":{}}}`, token)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doMCP(t, gateway,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"set_alert","arguments":{}}}`, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doMCP(t, gateway,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"admin_stats","arguments":{}}}`, token)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "administrative role required")
}

func TestGateway_AdminRole(t *testing.T) {
	gateway := setupGateway(t)
	token := signToken(t, []string{"MCPServer.Admin"})

	rec := doMCP(t, gateway,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"admin_stats","arguments":{}}}`, token)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	gateway := setupGateway(t)

	rec := httptest.NewRecorder()
	gateway.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	gateway.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "toolgate_http_request_duration_seconds")
}
