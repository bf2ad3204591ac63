// Package auth resolves API keys to tenant identities. This is tenant
// identification for routing and accounting, not end-user authentication.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrKeyNotFound = errors.New("api key not found")

// cacheTTL bounds how long a revoked key keeps working.
const cacheTTL = 5 * time.Minute

type APIKey struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	KeyHash    string     `json:"key_hash"`
	RateLimit  int64      `json:"rate_limit"` // max tokens per minute
	Active     bool       `json:"active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// MarshalBinary implements encoding.BinaryMarshaler for Redis
func (a *APIKey) MarshalBinary() ([]byte, error) {
	return json.Marshal(a)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler for Redis
func (a *APIKey) UnmarshalBinary(data []byte) error {
	return json.Unmarshal(data, a)
}

type Store interface {
	GetByKey(ctx context.Context, key string) (*APIKey, error)
	Create(ctx context.Context, apiKey *APIKey) error
	Revoke(ctx context.Context, keyID string) error
}

type Middleware func(next http.Handler) http.Handler

type contextKey string

const (
	tenantIDKey  contextKey = "tenant_id"
	apiKeyIDKey  contextKey = "api_key_id"
	requestIDKey contextKey = "request_id"
)

// HashKey is the canonical digest under which API keys are stored and
// cached. Raw keys never touch the database or Redis.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

type resolver struct {
	store Store
	cache *redis.Client
	log   *zap.Logger
}

// NewMiddleware authenticates requests by bearer token. Resolved keys are
// cached in Redis so the hot path skips Postgres.
func NewMiddleware(store Store, cache *redis.Client, log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	rv := &resolver{store: store, cache: cache, log: log}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			requestID := uuid.New().String()
			ctx = context.WithValue(ctx, requestIDKey, requestID)
			w.Header().Set("X-Request-ID", requestID)

			key, ok := bearerToken(r)
			if !ok {
				denied(w, http.StatusUnauthorized, "missing or invalid authorization header")
				return
			}

			apiKey, err := rv.resolve(ctx, key)
			if err != nil {
				if errors.Is(err, ErrKeyNotFound) {
					denied(w, http.StatusUnauthorized, "invalid api key")
					return
				}
				denied(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx = context.WithValue(ctx, tenantIDKey, apiKey.TenantID)
			ctx = context.WithValue(ctx, apiKeyIDKey, apiKey.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// resolve checks the Redis cache first, then the store. Cache failures are
// logged and bypassed rather than failing the request.
func (rv *resolver) resolve(ctx context.Context, key string) (*APIKey, error) {
	redisKey := "auth:" + HashKey(key)

	var cached APIKey
	err := rv.cache.Get(ctx, redisKey).Scan(&cached)
	if err == nil {
		return &cached, nil
	}
	if err != redis.Nil {
		rv.log.Warn("auth cache lookup failed", zap.Error(err))
	}

	apiKey, err := rv.store.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := rv.cache.Set(ctx, redisKey, apiKey, cacheTTL).Err(); err != nil {
		rv.log.Warn("auth cache write failed",
			zap.String("tenant_id", apiKey.TenantID),
			zap.Error(err))
	}
	return apiKey, nil
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", false
	}
	return token, true
}

func denied(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// Helpers to extract from context
func GetTenantID(ctx context.Context) string {
	if id, ok := ctx.Value(tenantIDKey).(string); ok {
		return id
	}
	return ""
}

func GetAPIKeyID(ctx context.Context) string {
	if id, ok := ctx.Value(apiKeyIDKey).(string); ok {
		return id
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// Helpers for testing
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func WithAPIKeyID(ctx context.Context, apiKeyID string) context.Context {
	return context.WithValue(ctx, apiKeyIDKey, apiKeyID)
}
