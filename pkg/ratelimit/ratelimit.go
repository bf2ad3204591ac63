package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter enforces per-tenant token-per-minute budgets on top of
// github.com/vnmchuo/ratelimiter's Redis-backed sliding window. Provider
// rate limits are a separate concern handled by routing failover.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultTPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultTPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func tenantKey(tenantID string) string {
	return fmt.Sprintf("ratelimit:tenant:%s", tenantID)
}

// Allow reserves tokens from the tenant's window and reports whether the
// request may proceed.
func (l *Limiter) Allow(ctx context.Context, tenantID string, tokens int) (bool, error) {
	res, err := l.store.AllowN(ctx, tenantKey(tenantID), tokens)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Status reports the tenant's remaining window without consuming tokens.
func (l *Limiter) Status(ctx context.Context, tenantID string) (*extratelimit.Result, error) {
	return l.store.Status(ctx, tenantKey(tenantID))
}
