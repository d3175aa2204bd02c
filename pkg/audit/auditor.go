package audit

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/mcp"
)

// LevelAudit sits between Info and Warn so audit events survive an
// Info-level filter being raised.
const LevelAudit = slog.Level(2)

// ComponentGateway is the default component name in audit events.
const ComponentGateway = "toolgate"

// NewAuditLogger creates a structured audit logger writing to w.
func NewAuditLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: LevelAudit,
	}))
}

// Auditor records audit events for HTTP requests passing through the
// gateway.
type Auditor struct {
	config      *Config
	auditLogger *slog.Logger
}

// NewAuditor creates an Auditor with the given configuration.
func NewAuditor(config *Config) (*Auditor, error) {
	if config == nil {
		config = DefaultConfig()
	}

	logWriter, err := config.GetLogWriter()
	if err != nil {
		return nil, err
	}

	return &Auditor{
		config:      config,
		auditLogger: NewAuditLogger(logWriter),
	}, nil
}

// responseWriter captures the status code and, when configured, the
// response body.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	auditor    *Auditor
}

func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	if rw.auditor.config.IncludeResponseData && rw.body != nil {
		if rw.body.Len()+len(data) <= rw.auditor.config.MaxDataSize {
			rw.body.Write(data)
		}
	}
	return rw.ResponseWriter.Write(data)
}

// Middleware audits each request after the downstream handler completes.
// It runs after the claims and MCP parsing middlewares so subject and
// target information is available from the request context.
func (a *Auditor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		var requestData []byte
		if a.config.IncludeRequestData && r.Body != nil {
			body, err := io.ReadAll(r.Body)
			if err == nil && len(body) <= a.config.MaxDataSize {
				requestData = body
				r.Body = io.NopCloser(bytes.NewReader(body))
			}
		}

		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
			auditor:        a,
		}
		if a.config.IncludeResponseData {
			rw.body = &bytes.Buffer{}
		}

		next.ServeHTTP(rw, r)

		a.logAuditEvent(r, rw, requestData, time.Since(startTime))
	})
}

// LogEvent records a pre-built event if the configuration allows its type.
// Handlers outside the middleware path, such as the token exchange
// endpoint, use this directly.
func (a *Auditor) LogEvent(r *http.Request, event *Event) {
	if !a.config.ShouldAuditEvent(event.Type) {
		return
	}
	event.LogTo(r.Context(), a.auditLogger, LevelAudit)
}

// NewRequestEvent builds an event populated with source and subject
// information from the request.
func (a *Auditor) NewRequestEvent(r *http.Request, eventType, outcome string) *Event {
	return NewEvent(eventType, a.extractSource(r), outcome, extractSubjects(r), a.component())
}

func (a *Auditor) logAuditEvent(r *http.Request, rw *responseWriter, requestData []byte, duration time.Duration) {
	eventType := determineEventType(r)
	if !a.config.ShouldAuditEvent(eventType) {
		return
	}

	event := NewEvent(
		eventType,
		a.extractSource(r),
		determineOutcome(rw.statusCode),
		extractSubjects(r),
		a.component(),
	)

	if target := extractTarget(r, eventType); len(target) > 0 {
		event.WithTarget(target)
	}

	addMetadata(event, duration, rw)
	a.addEventData(event, rw, requestData)

	event.LogTo(r.Context(), a.auditLogger, LevelAudit)
}

func (a *Auditor) component() string {
	if a.config.Component != "" {
		return a.config.Component
	}
	return ComponentGateway
}

// determineEventType maps the request to an event type, preferring the
// parsed MCP method over path heuristics.
func determineEventType(r *http.Request) string {
	if method := mcp.GetMethod(r.Context()); method != "" {
		switch method {
		case mcp.MethodInitialize:
			return EventTypeMCPInitialize
		case mcp.MethodToolsCall:
			return EventTypeMCPToolCall
		case mcp.MethodToolsList:
			return EventTypeMCPToolsList
		case mcp.MethodPing:
			return EventTypeMCPPing
		default:
			return EventTypeMCPRequest
		}
	}

	// Malformed MCP posts still land on the message endpoints.
	path := r.URL.Path
	if (strings.Contains(path, "/mcp") || strings.Contains(path, "/messages")) && r.Method == http.MethodPost {
		return EventTypeMCPRequest
	}

	return EventTypeHTTPRequest
}

func determineOutcome(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return OutcomeSuccess
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return OutcomeDenied
	case statusCode >= 400 && statusCode < 500:
		return OutcomeFailure
	case statusCode >= 500:
		return OutcomeError
	default:
		return OutcomeSuccess
	}
}

func (*Auditor) extractSource(r *http.Request) Source {
	source := Source{
		Type:  SourceTypeNetwork,
		Value: clientIP(r),
		Extra: make(map[string]any),
	}

	if userAgent := r.Header.Get("User-Agent"); userAgent != "" {
		source.Extra[SourceExtraKeyUserAgent] = userAgent
	}
	if requestID := r.Header.Get("X-Request-ID"); requestID != "" {
		source.Extra[SourceExtraKeyRequestID] = requestID
	}

	return source
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ips := strings.Split(xff, ","); len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// extractSubjects identifies the caller from the request-scoped caller
// context. Unauthenticated callers are recorded as anonymous.
func extractSubjects(r *http.Request) map[string]string {
	subjects := make(map[string]string)

	if caller, ok := auth.CallerFromContext(r.Context()); ok && caller.IsAuthenticated() {
		subjects[SubjectKeyUser] = caller.SubjectID
		if caller.ObjectID != "" {
			subjects[SubjectKeyUserID] = caller.ObjectID
		}
		if len(caller.Roles) > 0 {
			subjects[SubjectKeyRoles] = strings.Join(caller.Roles, ",")
		}
	}

	if subjects[SubjectKeyUser] == "" {
		subjects[SubjectKeyUser] = "anonymous"
	}

	return subjects
}

func extractTarget(r *http.Request, eventType string) map[string]string {
	target := map[string]string{
		TargetKeyEndpoint: r.URL.Path,
		TargetKeyMethod:   r.Method,
	}

	if method := mcp.GetMethod(r.Context()); method != "" {
		target[TargetKeyMethod] = method
	}
	if toolName := mcp.GetToolName(r.Context()); toolName != "" {
		target[TargetKeyName] = toolName
	}

	if eventType == EventTypeMCPToolCall {
		target[TargetKeyType] = TargetTypeTool
	} else {
		target[TargetKeyType] = TargetTypeEndpoint
	}

	return target
}

func addMetadata(event *Event, duration time.Duration, rw *responseWriter) {
	if event.Metadata.Extra == nil {
		event.Metadata.Extra = make(map[string]any)
	}
	event.Metadata.Extra[MetadataExtraKeyDuration] = duration.Milliseconds()
	event.Metadata.Extra[MetadataExtraKeyTransport] = "http"
	if rw.body != nil {
		event.Metadata.Extra[MetadataExtraKeyResponseSize] = rw.body.Len()
	}
}

func (a *Auditor) addEventData(event *Event, rw *responseWriter, requestData []byte) {
	if !a.config.IncludeRequestData && !a.config.IncludeResponseData {
		return
	}

	data := make(map[string]any)

	if a.config.IncludeRequestData && len(requestData) > 0 {
		var requestJSON any
		if err := json.Unmarshal(requestData, &requestJSON); err == nil {
			data["request"] = requestJSON
		} else {
			data["request"] = string(requestData)
		}
	}

	if a.config.IncludeResponseData && rw.body != nil && rw.body.Len() > 0 {
		var responseJSON any
		if err := json.Unmarshal(rw.body.Bytes(), &responseJSON); err == nil {
			data["response"] = responseJSON
		} else {
			data["response"] = rw.body.String()
		}
	}

	if len(data) > 0 {
		dataBytes, err := json.Marshal(data)
		if err != nil {
			logger.Warnw("failed to marshal audit event data", "error", err)
			return
		}
		rawMsg := json.RawMessage(dataBytes)
		event.WithData(&rawMsg)
	}
}
