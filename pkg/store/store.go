// Package store provides the credential store backing the gateway: access
// and refresh tokens, single-use exchange codes, and sessions, each with an
// independent time-to-live.
//
// Every operation converts backing-store failures into a safe default
// (absent/false) instead of propagating transport errors. An unreachable
// store therefore reads as "nothing found", never as "everything permitted".
package store

import (
	"context"
	"fmt"
	"time"
)

// Default TTLs and the token TTL floor.
const (
	// MinTokenTTL is the floor applied when a token's remaining lifetime is
	// shorter than this at save time.
	MinTokenTTL = 60 * time.Second

	// DefaultExchangeCodeTTL bounds how long an issued exchange code can be
	// redeemed.
	DefaultExchangeCodeTTL = 120 * time.Second

	// DefaultSessionTTL is the session lifetime when the caller does not
	// specify one.
	DefaultSessionTTL = 3600 * time.Second
)

// TokenRecord holds the credential material persisted for one subject.
type TokenRecord struct {
	// AccessToken is the bearer token issued by the identity provider.
	AccessToken string

	// RefreshToken is the optional token used to renew the access token.
	RefreshToken string

	// ExpiresAt is when the access token expires.
	ExpiresAt time.Time

	// Claims is the opaque claim payload captured at issuance.
	Claims map[string]any

	// StoredAt is when the record was last written.
	StoredAt time.Time
}

// IsExpired reports whether the access token has expired.
func (r *TokenRecord) IsExpired() bool {
	return !r.ExpiresAt.After(time.Now())
}

// SessionRecord holds one logical session.
type SessionRecord struct {
	// SessionID identifies the session.
	SessionID string

	// SubjectID is the owning subject, used for list-by-subject lookups.
	SubjectID string

	// Data is the arbitrary session payload.
	Data map[string]any

	// CreatedAt is when the session record was written.
	CreatedAt time.Time
}

// TokenStore is the credential store interface consumed by the authorization
// engine and the login/exchange/refresh handlers.
//
// Implementations must be safe for concurrent use from many request
// handlers; no additional serialization is added by callers.
type TokenStore interface {
	// SaveToken stores the record for the subject with a TTL of
	// max(MinTokenTTL, ExpiresAt-now), overwriting any prior record.
	SaveToken(ctx context.Context, subjectID string, record *TokenRecord) bool

	// LoadToken returns the record for the subject, or nil if absent or
	// expired. An expired record is proactively deleted.
	LoadToken(ctx context.Context, subjectID string) *TokenRecord

	// DeleteToken removes the record for the subject.
	DeleteToken(ctx context.Context, subjectID string) bool

	// SetExchangeCode stores a single-use code→subject mapping.
	// A non-positive ttl falls back to DefaultExchangeCodeTTL.
	SetExchangeCode(ctx context.Context, code, subjectID string, ttl time.Duration) bool

	// GetExchangeCode resolves a code to its subject without consuming it.
	// Returns "" if the code is unknown or expired.
	GetExchangeCode(ctx context.Context, code string) string

	// DeleteExchangeCode removes a code.
	DeleteExchangeCode(ctx context.Context, code string) bool

	// RedeemExchangeCode atomically resolves and deletes a code, so exactly
	// one of any number of concurrent redeemers observes the subject.
	// Returns "" if the code is unknown, expired, or already redeemed.
	RedeemExchangeCode(ctx context.Context, code string) string

	// SaveSession stores the session record. A non-positive ttl falls back
	// to DefaultSessionTTL.
	SaveSession(ctx context.Context, sessionID string, record *SessionRecord, ttl time.Duration) bool

	// LoadSession returns the session record, or nil if absent.
	LoadSession(ctx context.Context, sessionID string) *SessionRecord

	// DeleteSession removes the session record.
	DeleteSession(ctx context.Context, sessionID string) bool

	// ListSessionsForSubject returns the ids of the subject's live sessions.
	// Implemented as a scan over session keys; intended for small working
	// sets.
	ListSessionsForSubject(ctx context.Context, subjectID string) []string

	// HealthCheck probes the backing store.
	HealthCheck(ctx context.Context) bool
}

// Key type segments used to namespace records in the backing store.
const (
	keyTypeToken        = "token"
	keyTypeExchangeCode = "authcode"
	keyTypeSession      = "session"
)

// storeKey builds a namespaced key of the shape "<prefix>:<type>:<id>".
func storeKey(prefix, keyType, id string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, keyType, id)
}
