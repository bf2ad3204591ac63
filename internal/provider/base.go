package provider

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// unhealthyAfter is the consecutive-failure count at which a provider is
// taken out of rotation. One success puts it back.
const unhealthyAfter = 3

// Base carries the config, stats, and health bookkeeping shared by every
// concrete provider. Adapters embed it and implement Complete/CheckHealth.
type Base struct {
	mu     sync.Mutex
	cfg    Config
	stats  Stats
	health Health
	log    *zap.Logger
}

func NewBase(cfg Config, log *zap.Logger) *Base {
	if log == nil {
		log = zap.NewNop()
	}
	return &Base{
		cfg:    cfg,
		health: Health{Healthy: true},
		log:    log.With(zap.String("provider", cfg.Name)),
	}
}

func (b *Base) Name() string { return b.cfg.Name }

func (b *Base) Config() Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

func (b *Base) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Base) Health() Health {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.health
}

func (b *Base) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cfg.Model = model
}

// Model returns the currently selected model name.
func (b *Base) Model() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.Model
}

// EstimateCost prices a call from the per-million-token config rates.
func (b *Base) EstimateCost(inputTokens, outputTokens int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cfg.IsFree {
		return 0
	}
	return b.cfg.CostPer1MInput*(float64(inputTokens)/1_000_000) +
		b.cfg.CostPer1MOutput*(float64(outputTokens)/1_000_000)
}

func (b *Base) RecordSuccess(latency time.Duration, inputTokens, outputTokens int) {
	cost := b.EstimateCost(inputTokens, outputTokens)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.stats.Requests++
	b.stats.InputTokens += int64(inputTokens)
	b.stats.OutputTokens += int64(outputTokens)
	b.stats.TotalCost += cost
	b.stats.TotalLatency += latency
	b.stats.LastUsed = now

	b.health.ConsecutiveFailures = 0
	b.health.Healthy = true
	b.health.LastSuccess = now
}

func (b *Base) RecordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.stats.Errors++
	b.stats.LastError = now

	b.health.ConsecutiveFailures++
	b.health.LastFailure = now
	if err != nil {
		b.health.LastFailureReason = err.Error()
	}
	if b.health.ConsecutiveFailures >= unhealthyAfter && b.health.Healthy {
		b.health.Healthy = false
		b.log.Warn("provider marked unhealthy",
			zap.Int("consecutive_failures", b.health.ConsecutiveFailures),
			zap.String("reason", b.health.LastFailureReason))
	}
}

// EffectiveLatency is the observed average latency once stats exist,
// otherwise the static estimate from config. The scorer ranks on it.
func (b *Base) EffectiveLatency() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stats.Requests > 0 {
		return b.stats.TotalLatency / time.Duration(b.stats.Requests)
	}
	return b.cfg.AvgLatency
}
