package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolgate/toolgate/pkg/logger"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces gateway keys in a shared Redis instance.
const DefaultKeyPrefix = "toolgate"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate against Redis ACLs. Both may be
	// empty for an unauthenticated instance.
	Username string
	Password string

	// DB is the Redis database number.
	DB int

	// KeyPrefix namespaces all keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisStore implements TokenStore on a Redis backend. TTL enforcement is
// delegated to Redis key expiry, with a lazy expiry check layered on token
// reads so a record whose ExpiresAt has passed reads as absent even before
// Redis reaps the key.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// storedToken is the serialized form of a TokenRecord.
type storedToken struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresAt    int64          `json:"expires_at"`
	Claims       map[string]any `json:"claims,omitempty"`
	StoredAt     int64          `json:"stored_at"`
	SubjectID    string         `json:"subject_id"`
}

// storedExchangeCode is the serialized form of an exchange code record.
type storedExchangeCode struct {
	SubjectID string `json:"subject_id"`
	CreatedAt int64  `json:"created_at"`
}

// storedSession is the serialized form of a SessionRecord.
type storedSession struct {
	SessionID string         `json:"session_id"`
	SubjectID string         `json:"subject_id"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt int64          `json:"created_at"`
}

// redeemScript atomically reads and deletes an exchange code so that only
// one concurrent redeemer observes the stored value. A read followed by a
// separate delete would leave a window where two callers both resolve the
// subject before either delete lands.
var redeemScript = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
	return false
end
redis.call('DEL', KEYS[1])
return data
`)

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(errors.New("failed to connect to redis"), err)
	}

	return &RedisStore{client: client, keyPrefix: cfg.KeyPrefix}, nil
}

// NewRedisStoreWithClient creates a RedisStore with a pre-configured client.
// This is useful for testing with miniredis.
func NewRedisStoreWithClient(client redis.UniversalClient, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix}
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SaveToken stores the record for the subject, overwriting any prior record.
// The key's TTL is the token's remaining lifetime clamped to MinTokenTTL.
func (s *RedisStore) SaveToken(ctx context.Context, subjectID string, record *TokenRecord) bool {
	if subjectID == "" || record == nil {
		return false
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl < MinTokenTTL {
		ttl = MinTokenTTL
	}

	stored := storedToken{
		AccessToken:  record.AccessToken,
		RefreshToken: record.RefreshToken,
		ExpiresAt:    record.ExpiresAt.Unix(),
		Claims:       record.Claims,
		StoredAt:     time.Now().Unix(),
		SubjectID:    subjectID,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		logger.Errorw("failed to marshal token record", "subject", subjectID, "error", err)
		return false
	}

	key := storeKey(s.keyPrefix, keyTypeToken, subjectID)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Errorw("failed to save token", "subject", subjectID, "error", err)
		return false
	}
	return true
}

// LoadToken returns the record for the subject, or nil if absent or expired.
// A record whose ExpiresAt has passed is deleted as a side effect.
func (s *RedisStore) LoadToken(ctx context.Context, subjectID string) *TokenRecord {
	key := storeKey(s.keyPrefix, keyTypeToken, subjectID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Errorw("failed to load token", "subject", subjectID, "error", err)
		}
		return nil
	}

	var stored storedToken
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Errorw("failed to unmarshal token record", "subject", subjectID, "error", err)
		return nil
	}

	record := &TokenRecord{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		ExpiresAt:    time.Unix(stored.ExpiresAt, 0),
		Claims:       stored.Claims,
		StoredAt:     time.Unix(stored.StoredAt, 0),
	}

	if record.IsExpired() {
		// Lazy purge; Redis expiry would reap it eventually anyway.
		if err := s.client.Del(ctx, key).Err(); err != nil {
			logger.Warnw("failed to purge expired token", "subject", subjectID, "error", err)
		}
		return nil
	}

	return record
}

// DeleteToken removes the record for the subject.
func (s *RedisStore) DeleteToken(ctx context.Context, subjectID string) bool {
	key := storeKey(s.keyPrefix, keyTypeToken, subjectID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		logger.Errorw("failed to delete token", "subject", subjectID, "error", err)
		return false
	}
	return true
}

// SetExchangeCode stores a single-use code→subject mapping.
func (s *RedisStore) SetExchangeCode(ctx context.Context, code, subjectID string, ttl time.Duration) bool {
	if code == "" || subjectID == "" {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultExchangeCodeTTL
	}

	data, err := json.Marshal(storedExchangeCode{
		SubjectID: subjectID,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		logger.Errorw("failed to marshal exchange code", "error", err)
		return false
	}

	key := storeKey(s.keyPrefix, keyTypeExchangeCode, code)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Errorw("failed to save exchange code", "error", err)
		return false
	}
	return true
}

// GetExchangeCode resolves a code to its subject without consuming it.
func (s *RedisStore) GetExchangeCode(ctx context.Context, code string) string {
	key := storeKey(s.keyPrefix, keyTypeExchangeCode, code)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Errorw("failed to get exchange code", "error", err)
		}
		return ""
	}
	return decodeExchangeSubject(data)
}

// DeleteExchangeCode removes a code.
func (s *RedisStore) DeleteExchangeCode(ctx context.Context, code string) bool {
	key := storeKey(s.keyPrefix, keyTypeExchangeCode, code)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		logger.Errorw("failed to delete exchange code", "error", err)
		return false
	}
	return true
}

// RedeemExchangeCode atomically resolves and deletes a code.
func (s *RedisStore) RedeemExchangeCode(ctx context.Context, code string) string {
	key := storeKey(s.keyPrefix, keyTypeExchangeCode, code)

	result, err := redeemScript.Run(ctx, s.client, []string{key}).Text()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Errorw("failed to redeem exchange code", "error", err)
		}
		return ""
	}
	return decodeExchangeSubject([]byte(result))
}

func decodeExchangeSubject(data []byte) string {
	var stored storedExchangeCode
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Errorw("failed to unmarshal exchange code record", "error", err)
		return ""
	}
	return stored.SubjectID
}

// SaveSession stores the session record.
func (s *RedisStore) SaveSession(ctx context.Context, sessionID string, record *SessionRecord, ttl time.Duration) bool {
	if sessionID == "" || record == nil {
		return false
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	data, err := json.Marshal(storedSession{
		SessionID: sessionID,
		SubjectID: record.SubjectID,
		Data:      record.Data,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		logger.Errorw("failed to marshal session", "session", sessionID, "error", err)
		return false
	}

	key := storeKey(s.keyPrefix, keyTypeSession, sessionID)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Errorw("failed to save session", "session", sessionID, "error", err)
		return false
	}
	return true
}

// LoadSession returns the session record, or nil if absent.
func (s *RedisStore) LoadSession(ctx context.Context, sessionID string) *SessionRecord {
	key := storeKey(s.keyPrefix, keyTypeSession, sessionID)

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Errorw("failed to load session", "session", sessionID, "error", err)
		}
		return nil
	}

	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		logger.Errorw("failed to unmarshal session record", "session", sessionID, "error", err)
		return nil
	}

	return &SessionRecord{
		SessionID: stored.SessionID,
		SubjectID: stored.SubjectID,
		Data:      stored.Data,
		CreatedAt: time.Unix(stored.CreatedAt, 0),
	}
}

// DeleteSession removes the session record.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) bool {
	key := storeKey(s.keyPrefix, keyTypeSession, sessionID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		logger.Errorw("failed to delete session", "session", sessionID, "error", err)
		return false
	}
	return true
}

// ListSessionsForSubject scans session keys and returns the ids owned by the
// subject. A full scan is acceptable for the small session populations this
// gateway expects; large deployments would want a subject→session index.
func (s *RedisStore) ListSessionsForSubject(ctx context.Context, subjectID string) []string {
	pattern := storeKey(s.keyPrefix, keyTypeSession, "*")

	var sessions []string
	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// Key may have expired between SCAN and GET.
			continue
		}
		var stored storedSession
		if err := json.Unmarshal(data, &stored); err != nil {
			continue
		}
		if stored.SubjectID == subjectID {
			sessions = append(sessions, stored.SessionID)
		}
	}
	if err := iter.Err(); err != nil {
		logger.Errorw("session scan failed", "subject", subjectID, "error", err)
		return nil
	}
	return sessions
}

// HealthCheck probes the Redis connection.
func (s *RedisStore) HealthCheck(ctx context.Context) bool {
	if err := s.client.Ping(ctx).Err(); err != nil {
		logger.Warnw("redis health check failed", "error", err)
		return false
	}
	return true
}

// Compile-time interface compliance check.
var _ TokenStore = (*RedisStore)(nil)
