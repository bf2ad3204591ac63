// Package router dispatches chat completions across registered providers.
// Each attempt re-scores the live registry, picks the best provider not yet
// tried in this call, and fails over on any error until the attempt budget
// runs out.
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/llm-router/internal/provider"
)

// ExhaustedError is the terminal routing failure: no provider could satisfy
// the request within the attempt budget. It names every provider attempted.
type ExhaustedError struct {
	Attempted []string
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempted) == 0 {
		return "all providers exhausted: none available"
	}
	return fmt.Sprintf("all providers exhausted (attempted: %s)", strings.Join(e.Attempted, ", "))
}

// Router holds the provider registry and drives selection and failover.
// Registration order is kept; it breaks scoring ties.
type Router struct {
	mu        sync.Mutex
	providers map[string]provider.Provider
	order     []string
	requests  int64
	totalCost float64
	history   *history
	log       *zap.Logger

	// ProviderRetries is how many extra same-provider attempts
	// CompleteWithRetry gets before the router rotates. Rate limits
	// rotate immediately regardless.
	ProviderRetries int
}

func New(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{
		providers:       make(map[string]provider.Provider),
		history:         newHistory(historyCapacity),
		log:             log,
		ProviderRetries: 1,
	}
}

// Register adds a provider to the registry. Registering a disabled provider
// is a no-op, not an error.
func (r *Router) Register(p provider.Provider) {
	if !p.Config().Enabled {
		r.log.Info("skipping disabled provider", zap.String("provider", p.Name()))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.providers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.providers[name] = p
	r.log.Info("registered provider", zap.String("provider", name))
}

func (r *Router) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return
	}
	delete(r.providers, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.log.Info("unregistered provider", zap.String("provider", name))
}

// Providers returns the registered provider names in registration order.
func (r *Router) Providers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Requests is the number of completions served by this router.
func (r *Router) Requests() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests
}

// TotalCost is the accumulated cost of completions served by this router.
func (r *Router) TotalCost() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.totalCost
}

// History returns a snapshot of the bounded request history, oldest first.
func (r *Router) History() []HistoryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.history.records()
}

// Complete routes one request. Up to maxRetries providers are tried, best
// score first; no provider is tried twice within one call. Individual
// provider failures are absorbed; only ExhaustedError reaches the caller.
func (r *Router) Complete(ctx context.Context, messages []provider.Message, reqCtx *provider.RequestContext, maxRetries int) (*provider.Result, error) {
	r.mu.Lock()
	empty := len(r.providers) == 0
	r.mu.Unlock()
	if empty {
		return nil, &ExhaustedError{}
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	req := &provider.Request{
		Messages:    messages,
		Temperature: reqCtx.Temperature,
		MaxTokens:   reqCtx.MaxTokens,
		Stream:      reqCtx.RequiresStream,
		Tools:       reqCtx.Tools,
	}

	excluded := make(map[string]bool)
	var attempted []string

	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		p, score, reasons := r.selectProvider(reqCtx, excluded)
		if p == nil {
			return nil, &ExhaustedError{Attempted: attempted}
		}

		name := p.Name()
		excluded[name] = true
		attempted = append(attempted, name)

		reason := fmt.Sprintf("%s: score %.0f (%s)", name, score, strings.Join(reasons, ", "))
		r.log.Info("selected provider",
			zap.String("provider", name),
			zap.Float64("score", score),
			zap.Int("attempt", attempt+1),
			zap.Strings("reasons", reasons))

		res, err := provider.CompleteWithRetry(ctx, p, req, r.ProviderRetries, r.log)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn("provider failed, rotating",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}

		res.Reason = reason

		r.mu.Lock()
		r.requests++
		r.totalCost += res.Cost
		r.history.add(HistoryRecord{
			Timestamp:    time.Now(),
			Provider:     name,
			Model:        res.Model,
			InputTokens:  res.InputTokens,
			OutputTokens: res.OutputTokens,
			Cost:         res.Cost,
			Latency:      res.Latency,
			Reason:       reason,
			Cached:       res.Cached,
		})
		r.mu.Unlock()

		return res, nil
	}

	return nil, &ExhaustedError{Attempted: attempted}
}

// selectProvider scores every non-excluded provider and returns the best one
// with a positive score, or nil if none qualify. Ties go to the earliest
// registered provider.
func (r *Router) selectProvider(reqCtx *provider.RequestContext, excluded map[string]bool) (provider.Provider, float64, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		best        provider.Provider
		bestScore   float64
		bestReasons []string
	)
	for _, name := range r.order {
		if excluded[name] {
			continue
		}
		p := r.providers[name]
		score, reasons := Score(p, reqCtx)
		if score > 0 && score > bestScore {
			best = p
			bestScore = score
			bestReasons = reasons
		}
	}
	return best, bestScore, bestReasons
}
