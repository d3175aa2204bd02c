package authz

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/exp/jsonrpc2"
)

// ToolFilteringWriter buffers a tools/list response so the tool array
// can be rewritten to the caller's permitted subset before it reaches
// the client. Tag information comes from the engine's registry, not
// from the wire response; tools the registry does not know about are
// dropped.
type ToolFilteringWriter struct {
	http.ResponseWriter
	engine     *Engine
	request    *http.Request
	roles      []string
	buffer     *bytes.Buffer
	statusCode int
}

// NewToolFilteringWriter creates a filtering writer for the caller's
// roles.
func NewToolFilteringWriter(w http.ResponseWriter, engine *Engine, r *http.Request, roles []string) *ToolFilteringWriter {
	return &ToolFilteringWriter{
		ResponseWriter: w,
		engine:         engine,
		request:        r,
		roles:          roles,
		buffer:         &bytes.Buffer{},
		statusCode:     http.StatusOK,
	}
}

// Write captures the response body for filtering.
func (tfw *ToolFilteringWriter) Write(data []byte) (int, error) {
	return tfw.buffer.Write(data)
}

// WriteHeader captures the status code.
func (tfw *ToolFilteringWriter) WriteHeader(statusCode int) {
	tfw.statusCode = statusCode
}

// Flush rewrites the buffered response and forwards it to the client.
// Error responses and bodies that don't decode as a tools/list result
// pass through untouched.
func (tfw *ToolFilteringWriter) Flush() error {
	if tfw.statusCode != http.StatusOK && tfw.statusCode != http.StatusAccepted {
		return tfw.passthrough()
	}

	rawResponse := tfw.buffer.Bytes()
	if len(rawResponse) == 0 {
		return tfw.passthrough()
	}

	var response jsonrpc2.Response
	if err := json.Unmarshal(rawResponse, &response); err != nil {
		return tfw.passthrough()
	}
	if response.Error != nil || response.Result == nil {
		return tfw.passthrough()
	}

	var listResult mcp.ListToolsResult
	if err := json.Unmarshal(response.Result, &listResult); err != nil {
		// Not a tools/list result after all.
		return tfw.passthrough()
	}

	filteredResult := tfw.filterTools(&listResult)

	filteredResultData, err := json.Marshal(filteredResult)
	if err != nil {
		return tfw.writeErrorResponse(response.ID, err)
	}

	filteredData, err := json.Marshal(&jsonrpc2.Response{
		ID:     response.ID,
		Result: json.RawMessage(filteredResultData),
	})
	if err != nil {
		return tfw.writeErrorResponse(response.ID, err)
	}

	tfw.ResponseWriter.WriteHeader(tfw.statusCode)
	_, err = tfw.ResponseWriter.Write(filteredData)
	return err
}

// filterTools keeps only the tools the caller's roles permit, and
// reconciles the live registry with the result.
func (tfw *ToolFilteringWriter) filterTools(listResult *mcp.ListToolsResult) *mcp.ListToolsResult {
	ctx := tfw.request.Context()
	catalog := tfw.engine.catalog()
	permitted := tfw.engine.FilterToolCatalog(ctx, tfw.roles, catalog)
	tfw.engine.SyncRegistry(ctx, permitted)

	allowed := make(map[string]struct{}, len(permitted))
	for _, tool := range permitted {
		allowed[tool.Name] = struct{}{}
	}

	filteredTools := make([]mcp.Tool, 0, len(listResult.Tools))
	for _, tool := range listResult.Tools {
		if _, ok := allowed[tool.Name]; ok {
			filteredTools = append(filteredTools, tool)
		}
	}

	return &mcp.ListToolsResult{
		PaginatedResult: listResult.PaginatedResult,
		Tools:           filteredTools,
	}
}

func (tfw *ToolFilteringWriter) passthrough() error {
	tfw.ResponseWriter.WriteHeader(tfw.statusCode)
	_, err := tfw.ResponseWriter.Write(tfw.buffer.Bytes())
	return err
}

func (tfw *ToolFilteringWriter) writeErrorResponse(id jsonrpc2.ID, cause error) error {
	errorResponse := &jsonrpc2.Response{
		ID:    id,
		Error: jsonrpc2.NewError(500, fmt.Sprintf("Error filtering response: %v", cause)),
	}
	errorData, err := json.Marshal(errorResponse)
	if err != nil {
		return err
	}
	tfw.ResponseWriter.WriteHeader(http.StatusInternalServerError)
	_, err = tfw.ResponseWriter.Write(errorData)
	return err
}
