// Package flow exposes the credential lifecycle endpoints of the
// gateway: exchange code redemption, token refresh, logout, and session
// management. The interactive login against the identity provider
// happens outside the gateway; flow picks up at the point where a
// callback handler has stored credentials and issued an exchange code.
package flow

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/toolgate/toolgate/pkg/audit"
	"github.com/toolgate/toolgate/pkg/auth"
	"github.com/toolgate/toolgate/pkg/authz"
	"github.com/toolgate/toolgate/pkg/logger"
	"github.com/toolgate/toolgate/pkg/store"
	"github.com/toolgate/toolgate/pkg/telemetry"
)

// TokenRefresher exchanges a stored refresh token for new credentials
// against the upstream identity provider.
type TokenRefresher interface {
	Refresh(ctx context.Context, subjectID string, record *store.TokenRecord) (*store.TokenRecord, error)
}

// Handler serves the credential flow endpoints.
type Handler struct {
	tokens    store.TokenStore
	engine    *authz.Engine
	auditor   *audit.Auditor
	metrics   *telemetry.Metrics
	refresher TokenRefresher
}

// HandlerConfig carries the Handler's dependencies. Tokens is required;
// the rest may be nil, disabling the corresponding behavior.
type HandlerConfig struct {
	Tokens    store.TokenStore
	Engine    *authz.Engine
	Auditor   *audit.Auditor
	Metrics   *telemetry.Metrics
	Refresher TokenRefresher
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		tokens:    cfg.Tokens,
		engine:    cfg.Engine,
		auditor:   cfg.Auditor,
		metrics:   cfg.Metrics,
		refresher: cfg.Refresher,
	}
}

// Routes registers the flow endpoints on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/auth/exchange", h.ExchangeHandler)
	r.Post("/auth/refresh", h.RefreshHandler)
	r.Post("/auth/logout", h.LogoutHandler)
	r.Get("/auth/permissions", h.PermissionsHandler)
	r.Get("/auth/sessions", h.ListSessionsHandler)
	r.Put("/auth/sessions/{sessionID}", h.SaveSessionHandler)
	r.Get("/auth/sessions/{sessionID}", h.GetSessionHandler)
	r.Delete("/auth/sessions/{sessionID}", h.DeleteSessionHandler)
	r.Get("/healthz", h.HealthHandler)
}

// IssueExchangeCode stores a fresh single-use code for the subject and
// returns it. A login callback handler calls this after persisting the
// subject's token record.
func IssueExchangeCode(ctx context.Context, tokens store.TokenStore, subjectID string) (string, bool) {
	code := uuid.New().String()
	if !tokens.SetExchangeCode(ctx, code, subjectID, store.DefaultExchangeCodeTTL) {
		return "", false
	}
	return code, true
}

type exchangeRequest struct {
	Code string `json:"code"`
}

type tokenResponse struct {
	SubjectID    string `json:"subject_id"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresAt    int64  `json:"expires_at"`
}

// ExchangeHandler redeems a single-use exchange code for the stored
// token record. The redemption is atomic: under concurrent attempts for
// the same code exactly one caller succeeds.
func (h *Handler) ExchangeHandler(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeError(w, http.StatusBadRequest, "missing exchange code")
		return
	}

	subjectID := h.tokens.RedeemExchangeCode(r.Context(), req.Code)
	if subjectID == "" {
		h.metrics.RecordTokenExchange(telemetry.OutcomeDenied)
		h.auditEvent(r, audit.EventTypeTokenExchange, audit.OutcomeDenied, nil)
		writeError(w, http.StatusUnauthorized, "invalid or expired exchange code")
		return
	}

	record := h.tokens.LoadToken(r.Context(), subjectID)
	if record == nil {
		h.metrics.RecordTokenExchange(telemetry.OutcomeError)
		h.auditEvent(r, audit.EventTypeTokenExchange, audit.OutcomeFailure, map[string]string{
			audit.TargetKeyName: subjectID,
		})
		writeError(w, http.StatusUnauthorized, "no stored credentials for subject")
		return
	}

	h.metrics.RecordTokenExchange(telemetry.OutcomeAllowed)
	h.auditEvent(r, audit.EventTypeTokenExchange, audit.OutcomeSuccess, map[string]string{
		audit.TargetKeyName: subjectID,
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		SubjectID:    subjectID,
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    record.ExpiresAt.Unix(),
	})
}

// RefreshHandler refreshes the caller's stored credentials through the
// configured TokenRefresher.
func (h *Handler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		writeError(w, http.StatusNotImplemented, "token refresh is not configured")
		return
	}

	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	record := h.tokens.LoadToken(r.Context(), caller.SubjectID)
	if record == nil {
		writeError(w, http.StatusUnauthorized, "no stored credentials for subject")
		return
	}

	refreshed, err := h.refresher.Refresh(r.Context(), caller.SubjectID, record)
	if err != nil {
		logger.Errorw("token refresh failed", "subject", caller.SubjectID, "error", err)
		h.auditEvent(r, audit.EventTypeTokenRefresh, audit.OutcomeError, nil)
		writeError(w, http.StatusBadGateway, "token refresh failed")
		return
	}

	if !h.tokens.SaveToken(r.Context(), caller.SubjectID, refreshed) {
		writeError(w, http.StatusInternalServerError, "failed to persist refreshed credentials")
		return
	}

	h.auditEvent(r, audit.EventTypeTokenRefresh, audit.OutcomeSuccess, nil)
	writeJSON(w, http.StatusOK, tokenResponse{
		SubjectID:    caller.SubjectID,
		AccessToken:  refreshed.AccessToken,
		RefreshToken: refreshed.RefreshToken,
		ExpiresAt:    refreshed.ExpiresAt.Unix(),
	})
}

// LogoutHandler deletes the caller's stored credentials.
func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	h.tokens.DeleteToken(r.Context(), caller.SubjectID)
	h.auditEvent(r, audit.EventTypeLogout, audit.OutcomeSuccess, nil)
	w.WriteHeader(http.StatusNoContent)
}

// PermissionsHandler reports the caller's roles and effective
// permissions.
func (h *Handler) PermissionsHandler(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusNotImplemented, "authorization engine is not configured")
		return
	}

	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, h.engine.GetUserPermissions(caller))
}

// ListSessionsHandler lists the caller's session ids.
func (h *Handler) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	sessions := h.tokens.ListSessionsForSubject(r.Context(), caller.SubjectID)
	if sessions == nil {
		sessions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": sessions})
}

// SaveSessionHandler creates or replaces a session owned by the caller.
func (h *Handler) SaveSessionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	var data map[string]any
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "malformed session payload")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	record := &store.SessionRecord{
		SubjectID: caller.SubjectID,
		Data:      data,
		CreatedAt: time.Now(),
	}
	if !h.tokens.SaveSession(r.Context(), sessionID, record, store.DefaultSessionTTL) {
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	h.auditEvent(r, audit.EventTypeSessionCreated, audit.OutcomeSuccess, sessionTarget(sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// GetSessionHandler returns a session owned by the caller. Sessions
// owned by other subjects read as absent.
func (h *Handler) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	record := h.tokens.LoadSession(r.Context(), sessionID)
	if record == nil || record.SubjectID != caller.SubjectID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// DeleteSessionHandler removes a session owned by the caller.
func (h *Handler) DeleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	record := h.tokens.LoadSession(r.Context(), sessionID)
	if record == nil || record.SubjectID != caller.SubjectID {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	h.tokens.DeleteSession(r.Context(), sessionID)
	h.auditEvent(r, audit.EventTypeSessionDeleted, audit.OutcomeSuccess, sessionTarget(sessionID))
	w.WriteHeader(http.StatusNoContent)
}

// HealthHandler probes the backing store.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !h.tokens.HealthCheck(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) auditEvent(r *http.Request, eventType, outcome string, target map[string]string) {
	if h.auditor == nil {
		return
	}
	event := h.auditor.NewRequestEvent(r, eventType, outcome)
	if target != nil {
		event.WithTarget(target)
	}
	h.auditor.LogEvent(r, event)
}

func sessionTarget(sessionID string) map[string]string {
	return map[string]string{
		audit.TargetKeyType: audit.TargetTypeSession,
		audit.TargetKeyName: sessionID,
	}
}

func requireCaller(w http.ResponseWriter, r *http.Request) (*auth.CallerContext, bool) {
	caller, ok := auth.CallerFromContext(r.Context())
	if !ok || !caller.IsAuthenticated() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	return caller, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnw("failed to encode response body", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
