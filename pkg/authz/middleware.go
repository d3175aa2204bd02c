package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/exp/jsonrpc2"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/mcp"
)

// shouldSkipAuthorization reports whether the request can bypass
// authorization before the parsed message is consulted.
func shouldSkipAuthorization(r *http.Request) bool {
	return r.Method != http.MethodPost ||
		!strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

// shouldSkipMethod reports whether the MCP method needs no
// authorization decision.
func shouldSkipMethod(method string) bool {
	return method == mcp.MethodInitialize ||
		method == mcp.MethodPing ||
		strings.HasPrefix(method, "notifications/")
}

// convertToJSONRPC2ID converts a decoded request ID to jsonrpc2.ID.
func convertToJSONRPC2ID(id any) (jsonrpc2.ID, error) {
	if id == nil {
		return jsonrpc2.ID{}, nil
	}

	switch v := id.(type) {
	case string:
		return jsonrpc2.StringID(v), nil
	case int:
		return jsonrpc2.Int64ID(int64(v)), nil
	case int64:
		return jsonrpc2.Int64ID(v), nil
	case float64:
		// JSON numbers decode as float64.
		return jsonrpc2.Int64ID(int64(v)), nil
	default:
		return jsonrpc2.ID{}, fmt.Errorf("unsupported ID type: %T", id)
	}
}

// handleUnauthorized writes a JSON-RPC error response for a denied
// invocation.
func handleUnauthorized(w http.ResponseWriter, msgID any, denial error) {
	errorMsg := "Unauthorized"
	if denial != nil {
		errorMsg = denial.Error()
	}

	id, err := convertToJSONRPC2ID(msgID)
	if err != nil {
		id = jsonrpc2.ID{}
	}

	errorResponse := &jsonrpc2.Response{
		ID:    id,
		Error: jsonrpc2.NewError(403, errorMsg),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Middleware authorizes MCP requests against the engine. It expects the
// claims and parsing middlewares to have already run.
//
// tools/call requests are denied up front with a JSON-RPC error when the
// caller's roles do not permit the tool. tools/list requests proceed to
// the backend, but the response is rewritten to the permitted subset of
// tools. Other methods pass through.
func (e *Engine) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSkipAuthorization(r) {
			next.ServeHTTP(w, r)
			return
		}

		parsed := mcp.GetParsedRequest(r.Context())
		if parsed == nil {
			// Not an MCP message; nothing to decide here.
			next.ServeHTTP(w, r)
			return
		}

		if shouldSkipMethod(parsed.Method) {
			next.ServeHTTP(w, r)
			return
		}

		caller, _ := auth.CallerFromContext(r.Context())
		roles := callerRoles(caller)

		switch parsed.Method {
		case mcp.MethodToolsCall:
			if err := e.AuthorizeInvocation(r.Context(), roles, parsed.ToolName); err != nil {
				handleUnauthorized(w, parsed.ID, err)
				return
			}
			logger.Infow("tool invocation authorized",
				"tool", parsed.ToolName,
				"subject", callerSubject(caller),
			)
			next.ServeHTTP(w, r)

		case mcp.MethodToolsList:
			filteringWriter := NewToolFilteringWriter(w, e, r, roles)
			next.ServeHTTP(filteringWriter, r)
			if err := filteringWriter.Flush(); err != nil {
				logger.Warnw("failed to flush filtered tool list", "error", err)
			}

		default:
			next.ServeHTTP(w, r)
		}
	})
}

func callerRoles(caller *auth.CallerContext) []string {
	if caller == nil {
		return nil
	}
	return caller.Roles
}

func callerSubject(caller *auth.CallerContext) string {
	if caller == nil || caller.SubjectID == "" {
		return "anonymous"
	}
	return caller.SubjectID
}
