// Package tenant overlays per-tenant configuration on the routing core.
// Every request gets a fresh router wired from the tenant's own credentials
// plus system-level fallbacks, and emits a usage record win or lose.
package tenant

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-router/internal/provider"
	"github.com/vnmchuo/llm-router/internal/provider/local"
	"github.com/vnmchuo/llm-router/internal/provider/openaicompat"
	"github.com/vnmchuo/llm-router/internal/router"
	"github.com/vnmchuo/llm-router/internal/usage"
)

const configTTL = 5 * time.Minute

// SystemCredentials are the ambient fallback credentials used for provider
// kinds a tenant has no token for. Empty keys mean the kind is skipped.
type SystemCredentials struct {
	GroqAPIKey       string
	OpenRouterAPIKey string
	EnableLLM7       bool
	LocalEndpoint    string
	EnableLocal      bool
}

type cacheEntry struct {
	cfg       *Config
	fetchedAt time.Time
}

// Router executes completions for tenants. It caches tenant configuration
// with a 5-minute TTL and reports every outcome to the usage sink.
type Router struct {
	store Store
	sink  usage.Sink
	creds SystemCredentials
	log   *zap.Logger

	// The config store sits behind a breaker so a database outage degrades
	// to the default policy instead of stalling every request.
	breaker *gobreaker.CircuitBreaker

	mu    sync.Mutex
	cache map[string]cacheEntry

	// Build constructs the per-request router from a tenant config. It
	// defaults to the standard provider wiring; tests swap in mocks.
	Build func(cfg *Config) *router.Router
}

func NewRouter(store Store, sink usage.Sink, creds SystemCredentials, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:    "tenant-config-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	r := &Router{
		store:   store,
		sink:    sink,
		creds:   creds,
		log:     log,
		breaker: gobreaker.NewCircuitBreaker(settings),
		cache:   make(map[string]cacheEntry),
	}
	r.Build = r.buildRouter
	return r
}

// CompleteForTenant routes one request on the tenant's behalf. maxRetries is
// the provider attempt budget; it is forced to 1 when the tenant has opted
// out of auto-failover. The original routing error is returned unchanged
// after the failure usage record is emitted.
func (r *Router) CompleteForTenant(ctx context.Context, tenantID string, messages []provider.Message, reqCtx *provider.RequestContext, endpoint, userID string, maxRetries int) (*provider.Result, error) {
	start := time.Now()

	cfg := r.loadConfig(ctx, tenantID)
	rt := r.Build(cfg)

	retries := maxRetries
	if !cfg.Inference.AutoFailover {
		retries = 1
	}

	res, err := rt.Complete(ctx, messages, reqCtx, retries)
	latency := time.Since(start)

	if err != nil {
		r.emit(ctx, &usage.Record{
			TenantID:     tenantID,
			Provider:     "unknown",
			Endpoint:     endpoint,
			UserID:       userID,
			LatencyMs:    latency.Milliseconds(),
			Status:       usage.StatusError,
			ErrorMessage: err.Error(),
		})
		return nil, err
	}

	r.emit(ctx, &usage.Record{
		TenantID:     tenantID,
		Provider:     NormalizeProviderName(res.Provider),
		Model:        res.Model,
		Endpoint:     endpoint,
		UserID:       userID,
		LatencyMs:    latency.Milliseconds(),
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
		CostUSD:      res.Cost,
		Status:       usage.StatusSuccess,
		Metadata: map[string]any{
			"cached":        res.Cached,
			"finish_reason": res.FinishReason,
		},
	})

	return res, nil
}

// InvalidateCache drops the cached configuration for one tenant, or for all
// tenants when tenantID is empty. The next request refetches from the store.
func (r *Router) InvalidateCache(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tenantID == "" {
		r.cache = make(map[string]cacheEntry)
		return
	}
	delete(r.cache, tenantID)
}

// loadConfig serves from the TTL cache when fresh, otherwise fetches from
// the store. A missing record, a store failure, or an open breaker all
// resolve to the default policy.
func (r *Router) loadConfig(ctx context.Context, tenantID string) *Config {
	r.mu.Lock()
	if entry, ok := r.cache[tenantID]; ok && time.Since(entry.fetchedAt) < configTTL {
		r.mu.Unlock()
		return entry.cfg
	}
	r.mu.Unlock()

	result, err := r.breaker.Execute(func() (interface{}, error) {
		cfg, err := r.store.GetConfig(ctx, tenantID)
		if errors.Is(err, ErrNotFound) {
			// Absence is not a store failure; don't count it against
			// the breaker.
			return (*Config)(nil), nil
		}
		return cfg, err
	})
	if err != nil {
		r.log.Warn("tenant config fetch failed, using default policy",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
		return DefaultConfig(tenantID)
	}

	cfg := result.(*Config)
	if cfg == nil {
		cfg = DefaultConfig(tenantID)
	}

	r.mu.Lock()
	r.cache[tenantID] = cacheEntry{cfg: cfg, fetchedAt: time.Now()}
	r.mu.Unlock()
	return cfg
}

// buildRouter wires a fresh router for this call: tenant tokens first,
// system fallbacks for kinds the tenant has no token for, silently skipping
// kinds with no credential anywhere.
func (r *Router) buildRouter(cfg *Config) *router.Router {
	rt := router.New(r.log)

	groqKey := cfg.LLMTokens["groq"]
	if groqKey == "" {
		groqKey = r.creds.GroqAPIKey
	}
	if groqKey != "" {
		rt.Register(openaicompat.NewGroq(groqKey, cfg.Inference.PreferredModels["groq"], r.log))
	}

	orKey := cfg.LLMTokens["openrouter"]
	if orKey == "" {
		orKey = r.creds.OpenRouterAPIKey
	}
	if orKey != "" {
		rt.Register(openaicompat.NewOpenRouter(orKey, cfg.Inference.PreferredModels["openrouter"], r.log))
	}

	if r.creds.EnableLLM7 {
		rt.Register(openaicompat.NewLLM7(cfg.Inference.PreferredModels["llm7"], r.log))
	}

	if r.creds.EnableLocal {
		rt.Register(local.New(r.creds.LocalEndpoint, cfg.Inference.PreferredModels["local"], r.log))
	}

	return rt
}

// emit sends a usage record, detached from the request's cancellation so a
// failed or abandoned request is still accounted for.
func (r *Router) emit(ctx context.Context, rec *usage.Record) {
	sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.sink.Log(sinkCtx, rec); err != nil {
		r.log.Warn("usage record dropped",
			zap.String("tenant_id", rec.TenantID),
			zap.Error(err))
	}
}

// NormalizeProviderName maps a display name like "Groq (Llama 3.3 70B)" to
// its canonical short token for telemetry grouping.
func NormalizeProviderName(display string) string {
	s := strings.ToLower(display)
	switch {
	case strings.Contains(s, "groq"):
		return "groq"
	case strings.Contains(s, "openrouter"):
		return "openrouter"
	case strings.Contains(s, "llm7"):
		return "llm7"
	case strings.Contains(s, "local"):
		return "local"
	default:
		return "unknown"
	}
}
