package router

import (
	"testing"
	"time"

	"github.com/vnmchuo/llm-router/internal/provider"
)

func scoreOf(t *testing.T, cfg provider.Config, reqCtx *provider.RequestContext) float64 {
	t.Helper()
	score, _ := Score(newMock(cfg), reqCtx)
	return score
}

func TestScore_FreeVsPaid(t *testing.T) {
	reqCtx := chatCtx()

	// base 50 + free 30 + healthy 10 + fast 10
	free := scoreOf(t, provider.Config{Name: "f", Enabled: true, IsFree: true, AvgLatency: 500 * time.Millisecond}, reqCtx)
	if free != 100 {
		t.Errorf("Expected free fast provider to score 100, got %v", free)
	}

	// base 50 - paid 10 + healthy 10 + fast 10
	paid := scoreOf(t, provider.Config{Name: "p", Enabled: true, CostPer1MInput: 1.0, AvgLatency: 500 * time.Millisecond}, reqCtx)
	if paid != 60 {
		t.Errorf("Expected paid provider to score 60, got %v", paid)
	}
}

func TestScore_CostPenaltyCapped(t *testing.T) {
	reqCtx := chatCtx()

	// 15 * 10 = 150, capped at 30: base 50 - 30 + healthy 10 + fast 10
	expensive := scoreOf(t, provider.Config{Name: "e", Enabled: true, CostPer1MInput: 15, AvgLatency: 500 * time.Millisecond}, reqCtx)
	if expensive != 40 {
		t.Errorf("Expected cost penalty capped at 30, got score %v", expensive)
	}
}

func TestScore_LatencyBuckets(t *testing.T) {
	reqCtx := chatCtx()
	base := provider.Config{Name: "p", Enabled: true, IsFree: true}

	fast := base
	fast.AvgLatency = 500 * time.Millisecond
	medium := base
	medium.AvgLatency = 1500 * time.Millisecond
	slow := base
	slow.AvgLatency = 5 * time.Second

	if got := scoreOf(t, fast, reqCtx); got != 100 {
		t.Errorf("Expected sub-second latency bonus of 10, got %v", got)
	}
	if got := scoreOf(t, medium, reqCtx); got != 95 {
		t.Errorf("Expected sub-2s latency bonus of 5, got %v", got)
	}
	if got := scoreOf(t, slow, reqCtx); got != 85 {
		t.Errorf("Expected over-4s latency penalty of 5, got %v", got)
	}
}

func TestScore_UnhealthyIsZero(t *testing.T) {
	p := newMock(provider.Config{Name: "p", Enabled: true, IsFree: true, AvgLatency: 100 * time.Millisecond})
	for i := 0; i < 3; i++ {
		p.RecordFailure(scriptedErr("p"))
	}

	score, reasons := Score(p, chatCtx())
	if score != 0 {
		t.Errorf("Expected unhealthy provider to score 0, got %v", score)
	}
	if len(reasons) != 1 || reasons[0] != "unhealthy" {
		t.Errorf("Expected unhealthy reason, got %v", reasons)
	}
}

func TestScore_ReasoningFit(t *testing.T) {
	reqCtx := &provider.RequestContext{TaskType: provider.TaskReasoning, Production: true}

	with := scoreOf(t, provider.Config{Name: "r", Enabled: true, IsFree: true, AvgLatency: 500 * time.Millisecond, SupportsReason: true}, reqCtx)
	without := scoreOf(t, provider.Config{Name: "n", Enabled: true, IsFree: true, AvgLatency: 500 * time.Millisecond}, reqCtx)

	if with-without != 15 {
		t.Errorf("Expected reasoning fit bonus of 15, got %v", with-without)
	}
}

func TestScore_SpeedFit(t *testing.T) {
	reqCtx := &provider.RequestContext{TaskType: provider.TaskChat, Production: true, RequiresSpeed: true}

	fast := scoreOf(t, provider.Config{Name: "f", Enabled: true, IsFree: true, AvgLatency: 500 * time.Millisecond}, reqCtx)
	slow := scoreOf(t, provider.Config{Name: "s", Enabled: true, IsFree: true, AvgLatency: 1500 * time.Millisecond}, reqCtx)

	// fast gets +10 latency +15 speed fit over slow's +5 latency.
	if fast-slow != 20 {
		t.Errorf("Expected speed fit to favor fast provider by 20, got %v", fast-slow)
	}
}

func TestScore_LocalDevBonus(t *testing.T) {
	localCfg := provider.Config{Name: "local", Kind: provider.KindLocal, Enabled: true, IsFree: true, AvgLatency: 5 * time.Second}

	dev := &provider.RequestContext{TaskType: provider.TaskDevelopment, Production: false}
	prod := &provider.RequestContext{TaskType: provider.TaskDevelopment, Production: true}

	if diff := scoreOf(t, localCfg, dev) - scoreOf(t, localCfg, prod); diff != 20 {
		t.Errorf("Expected local dev bonus of 20, got %v", diff)
	}
}

func TestScore_CapabilityBonuses(t *testing.T) {
	reqCtx := &provider.RequestContext{TaskType: provider.TaskToolUse, Production: true, RequiresTools: true, RequiresStream: true}

	full := scoreOf(t, provider.Config{Name: "f", Enabled: true, IsFree: true, AvgLatency: 500 * time.Millisecond, SupportsTools: true, SupportsStream: true}, reqCtx)
	bare := scoreOf(t, provider.Config{Name: "b", Enabled: true, IsFree: true, AvgLatency: 500 * time.Millisecond}, reqCtx)

	if full-bare != 15 {
		t.Errorf("Expected tools+streaming bonuses of 15, got %v", full-bare)
	}
}
