package router

import (
	"fmt"
	"time"

	"github.com/vnmchuo/llm-router/internal/provider"
)

const baseScore = 50

// Score ranks a provider for a request. Unhealthy providers score 0 and are
// disqualified outright. The returned reasons feed the selection rationale
// on the result and in the request history.
func Score(p provider.Provider, reqCtx *provider.RequestContext) (float64, []string) {
	cfg := p.Config()
	health := p.Health()

	if !health.Healthy {
		return 0, []string{"unhealthy"}
	}

	score := float64(baseScore)
	var reasons []string

	// Cost: free providers get a flat bonus; paid ones are penalized in
	// proportion to input price, capped.
	if cfg.IsFree {
		score += 30
		reasons = append(reasons, "free")
	} else {
		penalty := cfg.CostPer1MInput * 10
		if penalty > 30 {
			penalty = 30
		}
		score -= penalty
		reasons = append(reasons, fmt.Sprintf("paid $%.2f/1M", cfg.CostPer1MInput))
	}

	score += 10
	reasons = append(reasons, "healthy")

	latency := p.EffectiveLatency()
	switch {
	case latency < time.Second:
		score += 10
		reasons = append(reasons, "fast")
	case latency < 2*time.Second:
		score += 5
	case latency > 4*time.Second:
		score -= 5
		reasons = append(reasons, "slow")
	}

	if reqCtx.TaskType == provider.TaskReasoning && cfg.SupportsReason {
		score += 15
		reasons = append(reasons, "reasoning")
	}
	if reqCtx.RequiresSpeed && latency < time.Second {
		score += 15
		reasons = append(reasons, "speed fit")
	}

	if !reqCtx.Production && cfg.Kind == provider.KindLocal {
		score += 20
		reasons = append(reasons, "local dev")
	}

	if reqCtx.RequiresTools && cfg.SupportsTools {
		score += 10
		reasons = append(reasons, "tools")
	}
	if reqCtx.RequiresStream && cfg.SupportsStream {
		score += 5
		reasons = append(reasons, "streaming")
	}

	return score, reasons
}
