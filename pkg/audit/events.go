package audit

// Event types emitted by the gateway.
const (
	// EventTypeAuthnClaims records a request whose bearer token was decoded
	// into caller claims.
	EventTypeAuthnClaims = "authn_claims"
	// EventTypeAuthzDecision records an allow/deny decision on a tool
	// invocation.
	EventTypeAuthzDecision = "authz_decision"
	// EventTypeMCPToolsList records a tools/list request.
	EventTypeMCPToolsList = "mcp_tools_list"
	// EventTypeMCPToolCall records a tools/call request.
	EventTypeMCPToolCall = "mcp_tool_call"
	// EventTypeMCPInitialize records an MCP initialization handshake.
	EventTypeMCPInitialize = "mcp_initialize"
	// EventTypeMCPPing records an MCP ping.
	EventTypeMCPPing = "mcp_ping"
	// EventTypeMCPRequest is the fallback for MCP requests whose method
	// could not be determined.
	EventTypeMCPRequest = "mcp_request"
	// EventTypeTokenExchange records a redemption of a single-use exchange
	// code for stored credentials.
	EventTypeTokenExchange = "token_exchange"
	// EventTypeTokenRefresh records a credential refresh.
	EventTypeTokenRefresh = "token_refresh"
	// EventTypeLogout records a credential/session teardown.
	EventTypeLogout = "logout"
	// EventTypeSessionCreated records a new session.
	EventTypeSessionCreated = "session_created"
	// EventTypeSessionDeleted records a session removal.
	EventTypeSessionDeleted = "session_deleted"
	// EventTypeHTTPRequest is the fallback for non-MCP requests.
	EventTypeHTTPRequest = "http_request"
)

// Outcomes.
const (
	// OutcomeSuccess indicates the operation completed successfully.
	OutcomeSuccess = "success"
	// OutcomeDenied indicates the operation was refused by authorization.
	OutcomeDenied = "denied"
	// OutcomeFailure indicates a client-side failure.
	OutcomeFailure = "failure"
	// OutcomeError indicates a server-side error.
	OutcomeError = "error"
)

// Source types.
const (
	// SourceTypeNetwork indicates the event originated from a network client.
	SourceTypeNetwork = "network"
)

// Target field keys.
const (
	// TargetKeyType is the key for the target type in the target map.
	TargetKeyType = "type"
	// TargetKeyName is the key for the target name in the target map.
	TargetKeyName = "name"
	// TargetKeyMethod is the key for the method in the target map.
	TargetKeyMethod = "method"
	// TargetKeyEndpoint is the key for the endpoint in the target map.
	TargetKeyEndpoint = "endpoint"
)

// Target types.
const (
	// TargetTypeTool marks a target that is an MCP tool.
	TargetTypeTool = "tool"
	// TargetTypeSession marks a target that is a gateway session.
	TargetTypeSession = "session"
	// TargetTypeEndpoint marks a plain HTTP endpoint target.
	TargetTypeEndpoint = "endpoint"
)

// Subject field keys.
const (
	// SubjectKeyUser is the key for the user principal in the subjects map.
	SubjectKeyUser = "user"
	// SubjectKeyUserID is the key for the immutable user id in the subjects map.
	SubjectKeyUserID = "user_id"
	// SubjectKeyRoles is the key for the caller's roles in the subjects map.
	SubjectKeyRoles = "roles"
)

// Source extra field keys.
const (
	// SourceExtraKeyUserAgent is the key for the user agent in the source extra map.
	SourceExtraKeyUserAgent = "user_agent"
	// SourceExtraKeyRequestID is the key for the request ID in the source extra map.
	SourceExtraKeyRequestID = "request_id"
)

// Metadata extra field keys.
const (
	// MetadataExtraKeyDuration is the key for the request duration in milliseconds.
	MetadataExtraKeyDuration = "duration_ms"
	// MetadataExtraKeyTransport is the key for the transport type.
	MetadataExtraKeyTransport = "transport"
	// MetadataExtraKeyResponseSize is the key for the response size in bytes.
	MetadataExtraKeyResponseSize = "response_size_bytes"
)
