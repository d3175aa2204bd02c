package mcp

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseThroughMiddleware(t *testing.T, method, path, contentType, body string) (*ParsedRequest, string) {
	t.Helper()

	var parsed *ParsedRequest
	var seenBody string
	handler := ParsingMiddleware(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		parsed = GetParsedRequest(r.Context())
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		seenBody = string(b)
	}))

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	handler.ServeHTTP(httptest.NewRecorder(), req)
	return parsed, seenBody
}

func TestParsingMiddlewareToolsCall(t *testing.T) {
	t.Parallel()
	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_weather","arguments":{"city":"Oslo"}}}`

	parsed, seenBody := parseThroughMiddleware(t, http.MethodPost, "/mcp", "application/json", body)

	require.NotNil(t, parsed)
	assert.Equal(t, MethodToolsCall, parsed.Method)
	assert.Equal(t, "get_weather", parsed.ToolName)
	assert.Equal(t, map[string]any{"city": "Oslo"}, parsed.Arguments)
	assert.JSONEq(t, body, seenBody, "body must be restored for downstream handlers")
}

func TestParsingMiddlewareToolsList(t *testing.T) {
	t.Parallel()
	body := `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`

	parsed, _ := parseThroughMiddleware(t, http.MethodPost, "/mcp", "application/json", body)

	require.NotNil(t, parsed)
	assert.Equal(t, MethodToolsList, parsed.Method)
	assert.Empty(t, parsed.ToolName)
}

func TestParsingMiddlewareSkipsNonMCPRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		method      string
		path        string
		contentType string
		body        string
	}{
		{"GET request", http.MethodGet, "/mcp", "application/json", ""},
		{"non-JSON content type", http.MethodPost, "/mcp", "text/plain", "hello"},
		{"SSE endpoint", http.MethodPost, "/mcp/sse", "application/json", "{}"},
		{"unrelated path", http.MethodPost, "/healthz", "application/json", "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			parsed, _ := parseThroughMiddleware(t, tt.method, tt.path, tt.contentType, tt.body)
			assert.Nil(t, parsed)
		})
	}
}

func TestParsingMiddlewareMalformedJSON(t *testing.T) {
	t.Parallel()
	parsed, seenBody := parseThroughMiddleware(t, http.MethodPost, "/mcp", "application/json", "{not json")
	assert.Nil(t, parsed)
	assert.Equal(t, "{not json", seenBody)
}

func TestConvenienceAccessorsEmptyContext(t *testing.T) {
	t.Parallel()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, GetMethod(req.Context()))
	assert.Empty(t, GetToolName(req.Context()))
	assert.Nil(t, GetArguments(req.Context()))
}
