package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vnmchuo/llm-router/internal/provider"
	"github.com/vnmchuo/llm-router/internal/router"
	"github.com/vnmchuo/llm-router/internal/usage"
)

type mockStore struct {
	cfg     *Config
	err     error
	fetches int
}

func (m *mockStore) GetConfig(ctx context.Context, tenantID string) (*Config, error) {
	m.fetches++
	if m.err != nil {
		return nil, m.err
	}
	return m.cfg, nil
}

type mockSink struct {
	records []*usage.Record
}

func (m *mockSink) Log(ctx context.Context, rec *usage.Record) error {
	m.records = append(m.records, rec)
	return nil
}

type mockProvider struct {
	*provider.Base
	results []error
	calls   int
}

func newMockProvider(name string, results ...error) *mockProvider {
	return &mockProvider{
		Base:    provider.NewBase(provider.Config{Name: name, Enabled: true, IsFree: true, Model: "mock-model"}, nil),
		results: results,
	}
}

func (m *mockProvider) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	idx := m.calls
	m.calls++
	var err error
	if idx < len(m.results) {
		err = m.results[idx]
	}
	if err != nil {
		return nil, err
	}
	return &provider.Result{
		Content:      "mock",
		Provider:     m.Name(),
		Model:        m.Config().Model,
		InputTokens:  10,
		OutputTokens: 20,
		FinishReason: "stop",
	}, nil
}

func (m *mockProvider) CheckHealth(ctx context.Context) bool { return true }

func buildWith(providers ...provider.Provider) func(cfg *Config) *router.Router {
	return func(cfg *Config) *router.Router {
		rt := router.New(nil)
		rt.ProviderRetries = 0
		for _, p := range providers {
			rt.Register(p)
		}
		return rt
	}
}

func chatCtx() *provider.RequestContext {
	return &provider.RequestContext{TaskType: provider.TaskChat, Production: true}
}

var messages = []provider.Message{{Role: "user", Content: "hi"}}

func TestCompleteForTenant_CachesConfigWithTTL(t *testing.T) {
	store := &mockStore{cfg: &Config{
		TenantID:  "t1",
		LLMTokens: map[string]string{"groq": "tok"},
		Inference: InferenceConfig{PreferredProvider: "groq", AutoFailover: true},
	}}
	sink := &mockSink{}

	tr := NewRouter(store, sink, SystemCredentials{}, nil)
	tr.Build = buildWith(newMockProvider("Groq (mock)"))

	for i := 0; i < 2; i++ {
		if _, err := tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "u1", 3); err != nil {
			t.Fatalf("CompleteForTenant failed: %v", err)
		}
	}
	if store.fetches != 1 {
		t.Errorf("Expected 1 store fetch within TTL, got %d", store.fetches)
	}

	tr.InvalidateCache("t1")
	if _, err := tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "u1", 3); err != nil {
		t.Fatalf("CompleteForTenant failed: %v", err)
	}
	if store.fetches != 2 {
		t.Errorf("Expected refetch after invalidation, got %d fetches", store.fetches)
	}
}

func TestCompleteForTenant_MissingTenantGetsDefaultPolicy(t *testing.T) {
	store := &mockStore{err: ErrNotFound}
	sink := &mockSink{}

	tr := NewRouter(store, sink, SystemCredentials{}, nil)

	var gotCfg *Config
	inner := buildWith(newMockProvider("Groq (Llama 3.3 70B)"))
	tr.Build = func(cfg *Config) *router.Router {
		gotCfg = cfg
		return inner(cfg)
	}

	res, err := tr.CompleteForTenant(context.Background(), "unknown-tenant", messages, chatCtx(), "/v1/chat/completions", "", 3)
	if err != nil {
		t.Fatalf("Expected success via fallback, got %v", err)
	}
	if res.Content != "mock" {
		t.Errorf("Unexpected content %q", res.Content)
	}

	if gotCfg == nil {
		t.Fatal("Expected Build to receive a config")
	}
	if gotCfg.Inference.PreferredProvider != "groq" || !gotCfg.Inference.AutoFailover {
		t.Errorf("Expected default policy, got %+v", gotCfg.Inference)
	}
	if len(gotCfg.LLMTokens) != 0 {
		t.Errorf("Expected no tokens in default policy, got %v", gotCfg.LLMTokens)
	}

	if len(sink.records) != 1 {
		t.Fatalf("Expected 1 usage record, got %d", len(sink.records))
	}
	rec := sink.records[0]
	if rec.Status != usage.StatusSuccess {
		t.Errorf("Expected success status, got %s", rec.Status)
	}
	if rec.Provider != "groq" {
		t.Errorf("Expected normalized fallback provider name, got %q", rec.Provider)
	}
}

func TestCompleteForTenant_NoFailoverForcesSingleAttempt(t *testing.T) {
	store := &mockStore{cfg: &Config{
		TenantID:  "t1",
		Inference: InferenceConfig{PreferredProvider: "groq", AutoFailover: false},
	}}
	sink := &mockSink{}

	failing := newMockProvider("Groq (mock)", provider.Errorf("Groq (mock)", "down"))
	backup := newMockProvider("LLM7 (mock)")

	tr := NewRouter(store, sink, SystemCredentials{}, nil)
	tr.Build = buildWith(failing, backup)

	_, err := tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "", 3)
	if err == nil {
		t.Fatal("Expected failure with auto-failover disabled")
	}
	if backup.calls != 0 {
		t.Errorf("Expected no failover attempt, backup called %d times", backup.calls)
	}

	// The original routing error passes through unchanged.
	var exhausted *router.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %T", err)
	}

	if len(sink.records) != 1 || sink.records[0].Status != usage.StatusError {
		t.Fatalf("Expected 1 error usage record, got %+v", sink.records)
	}
	if sink.records[0].ErrorMessage == "" {
		t.Error("Expected error message in usage record")
	}
}

func TestCompleteForTenant_FailoverAcrossProviders(t *testing.T) {
	store := &mockStore{err: ErrNotFound}
	sink := &mockSink{}

	failing := newMockProvider("Groq (mock)", provider.RateLimited("Groq (mock)", "quota"))
	backup := newMockProvider("LLM7 (mock)")

	tr := NewRouter(store, sink, SystemCredentials{}, nil)
	tr.Build = buildWith(failing, backup)

	res, err := tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "", 3)
	if err != nil {
		t.Fatalf("Expected failover success, got %v", err)
	}
	if res.Provider != "LLM7 (mock)" {
		t.Errorf("Expected backup provider, got %s", res.Provider)
	}
	if sink.records[0].Provider != "llm7" {
		t.Errorf("Expected normalized llm7 in usage record, got %q", sink.records[0].Provider)
	}
}

func TestCompleteForTenant_StoreErrorDegradesToDefault(t *testing.T) {
	store := &mockStore{err: errors.New("connection refused")}
	sink := &mockSink{}

	tr := NewRouter(store, sink, SystemCredentials{}, nil)

	var gotCfg *Config
	inner := buildWith(newMockProvider("Groq (mock)"))
	tr.Build = func(cfg *Config) *router.Router {
		gotCfg = cfg
		return inner(cfg)
	}

	if _, err := tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "", 3); err != nil {
		t.Fatalf("Expected degraded success, got %v", err)
	}
	if gotCfg.Inference.PreferredProvider != "groq" {
		t.Errorf("Expected default policy on store failure, got %+v", gotCfg.Inference)
	}
}

func TestInvalidateCache_All(t *testing.T) {
	store := &mockStore{err: ErrNotFound}
	sink := &mockSink{}

	tr := NewRouter(store, sink, SystemCredentials{}, nil)
	tr.Build = buildWith(newMockProvider("Groq (mock)"))

	tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "", 3)
	tr.CompleteForTenant(context.Background(), "t2", messages, chatCtx(), "/v1/chat/completions", "", 3)
	if store.fetches != 2 {
		t.Fatalf("Expected 2 fetches, got %d", store.fetches)
	}

	tr.InvalidateCache("")
	tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "", 3)
	tr.CompleteForTenant(context.Background(), "t2", messages, chatCtx(), "/v1/chat/completions", "", 3)
	if store.fetches != 4 {
		t.Errorf("Expected refetch for both tenants, got %d fetches", store.fetches)
	}
}

func TestBuildRouter_Wiring(t *testing.T) {
	tr := NewRouter(&mockStore{}, &mockSink{}, SystemCredentials{
		GroqAPIKey: "ambient-key",
		EnableLLM7: true,
	}, nil)

	cfg := &Config{
		TenantID: "t1",
		LLMTokens: map[string]string{
			"openrouter": "tenant-key",
		},
		Inference: InferenceConfig{
			PreferredProvider: "openrouter",
			AutoFailover:      true,
			PreferredModels:   map[string]string{"openrouter": "qwen/qwen-2.5-72b-instruct"},
		},
	}

	rt := tr.Build(cfg)
	names := rt.Providers()

	want := map[string]bool{
		"Groq (llama-3.3-70b-versatile)":          true, // ambient fallback
		"OpenRouter (qwen/qwen-2.5-72b-instruct)": true, // tenant token + preferred model
		"LLM7 (gpt-4o-mini)":                      true, // keyless
	}
	if len(names) != len(want) {
		t.Fatalf("Expected %d providers, got %v", len(want), names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("Unexpected provider %q", n)
		}
	}
}

func TestBuildRouter_SkipsKindsWithoutCredentials(t *testing.T) {
	tr := NewRouter(&mockStore{}, &mockSink{}, SystemCredentials{}, nil)

	rt := tr.Build(DefaultConfig("t1"))
	if got := len(rt.Providers()); got != 0 {
		t.Errorf("Expected no providers without credentials, got %v", rt.Providers())
	}
}

func TestNormalizeProviderName(t *testing.T) {
	cases := map[string]string{
		"Groq (Llama 3.3 70B)":       "groq",
		"OpenRouter (DeepSeek V3)":   "openrouter",
		"LLM7 (gpt-4o-mini)":         "llm7",
		"Local (llama3.2)":           "local",
		"Anthropic (Claude Sonnet)":  "unknown",
		"":                           "unknown",
	}
	for display, want := range cases {
		if got := NormalizeProviderName(display); got != want {
			t.Errorf("NormalizeProviderName(%q) = %q, want %q", display, got, want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("t1")
	if cfg.TenantID != "t1" {
		t.Errorf("Expected tenant id carried, got %q", cfg.TenantID)
	}
	if !cfg.Inference.AutoFailover {
		t.Error("Expected auto-failover enabled by default")
	}
	if cfg.Inference.PreferredProvider != "groq" {
		t.Errorf("Expected groq default, got %q", cfg.Inference.PreferredProvider)
	}
}

// Cache entries expire after the TTL even without invalidation.
func TestCacheEntryExpiry(t *testing.T) {
	store := &mockStore{err: ErrNotFound}
	tr := NewRouter(store, &mockSink{}, SystemCredentials{}, nil)
	tr.Build = buildWith(newMockProvider("Groq (mock)"))

	tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "", 3)

	// Backdate the cached entry past the TTL.
	tr.mu.Lock()
	entry := tr.cache["t1"]
	entry.fetchedAt = time.Now().Add(-6 * time.Minute)
	tr.cache["t1"] = entry
	tr.mu.Unlock()

	tr.CompleteForTenant(context.Background(), "t1", messages, chatCtx(), "/v1/chat/completions", "", 3)
	if store.fetches != 2 {
		t.Errorf("Expected refetch after TTL expiry, got %d fetches", store.fetches)
	}
}
