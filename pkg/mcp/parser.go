// Package mcp provides MCP (Model Context Protocol) request parsing
// middleware for the gateway.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"golang.org/x/exp/jsonrpc2"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

// requestContextKey is the context key for storing parsed MCP request data.
const requestContextKey contextKey = "mcp_request"

// MCP method names the gateway cares about.
const (
	MethodToolsCall  = "tools/call"
	MethodToolsList  = "tools/list"
	MethodInitialize = "initialize"
	MethodPing       = "ping"
)

// ParsedRequest contains the parsed MCP request information.
type ParsedRequest struct {
	// Method is the MCP method name (e.g., "tools/call", "tools/list").
	Method string
	// ID is the JSON-RPC request ID.
	ID any
	// Params contains the raw JSON parameters.
	Params json.RawMessage
	// ToolName is the tool the request targets, if any.
	ToolName string
	// Arguments contains the extracted tool-call arguments.
	Arguments map[string]any
}

// ParsingMiddleware creates an HTTP middleware that parses MCP JSON-RPC
// requests and stores the parsed information in the request context for use
// by downstream middleware (authorization, audit).
//
// The request body is restored after reading so downstream handlers see the
// original payload. Requests that are not MCP messages pass through
// untouched.
func ParsingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !shouldParse(r) {
			next.ServeHTTP(w, r)
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			// If the body can't be read, let the next handler deal with it.
			next.ServeHTTP(w, r)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(bodyBytes))

		if parsed := parseRequest(bodyBytes); parsed != nil {
			r = r.WithContext(context.WithValue(r.Context(), requestContextKey, parsed))
		}

		next.ServeHTTP(w, r)
	})
}

// GetParsedRequest retrieves the parsed MCP request from the context.
// Returns nil if no parsed request is available.
func GetParsedRequest(ctx context.Context) *ParsedRequest {
	if parsed, ok := ctx.Value(requestContextKey).(*ParsedRequest); ok {
		return parsed
	}
	return nil
}

// GetMethod is a convenience accessor for the parsed MCP method.
func GetMethod(ctx context.Context) string {
	if parsed := GetParsedRequest(ctx); parsed != nil {
		return parsed.Method
	}
	return ""
}

// GetToolName is a convenience accessor for the parsed target tool name.
func GetToolName(ctx context.Context) string {
	if parsed := GetParsedRequest(ctx); parsed != nil {
		return parsed.ToolName
	}
	return ""
}

// GetArguments is a convenience accessor for the parsed tool-call arguments.
func GetArguments(ctx context.Context) map[string]any {
	if parsed := GetParsedRequest(ctx); parsed != nil {
		return parsed.Arguments
	}
	return nil
}

// shouldParse determines if the request should be parsed as an MCP message.
func shouldParse(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return false
	}
	// SSE establishment requests carry no JSON-RPC payload.
	if strings.HasSuffix(r.URL.Path, "/sse") {
		return false
	}
	return strings.Contains(r.URL.Path, "/mcp") ||
		strings.Contains(r.URL.Path, "/messages") ||
		strings.Contains(r.URL.Path, "/message")
}

// parseRequest parses the JSON-RPC message and extracts the MCP method and,
// for tool calls, the target tool name and arguments.
func parseRequest(bodyBytes []byte) *ParsedRequest {
	if len(bodyBytes) == 0 {
		return nil
	}

	msg, err := jsonrpc2.DecodeMessage(bodyBytes)
	if err != nil {
		return nil
	}

	req, ok := msg.(*jsonrpc2.Request)
	if !ok {
		return nil
	}

	parsed := &ParsedRequest{
		Method: req.Method,
		ID:     req.ID.Raw(),
		Params: req.Params,
	}

	if req.Method == MethodToolsCall && req.Params != nil {
		var params map[string]any
		if err := json.Unmarshal(req.Params, &params); err == nil {
			if name, ok := params["name"].(string); ok {
				parsed.ToolName = name
			}
			if args, ok := params["arguments"].(map[string]any); ok {
				parsed.Arguments = args
			}
		}
	}

	return parsed
}
