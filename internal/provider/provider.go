package provider

import (
	"context"
	"time"
)

// TaskType classifies what a completion request is for. The router uses it
// to weigh provider capabilities during selection.
type TaskType string

const (
	TaskReasoning   TaskType = "reasoning"
	TaskChat        TaskType = "chat"
	TaskSimple      TaskType = "simple"
	TaskDevelopment TaskType = "development"
	TaskToolUse     TaskType = "tool_use"
)

// Kind identifies a provider backend family. The scorer treats KindLocal
// specially outside production.
type Kind string

const (
	KindGroq       Kind = "groq"
	KindOpenRouter Kind = "openrouter"
	KindLLM7       Kind = "llm7"
	KindLocal      Kind = "local"
)

type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system", "tool"
	Content string `json:"content"`
}

// Tool describes a function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Request carries the parameters of one provider call. The router builds it
// from the caller's messages plus the RequestContext.
type Request struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Stream      bool
	Tools       []Tool
}

// RequestContext describes what a completion request needs. It is created by
// the caller and read-only to the router.
type RequestContext struct {
	TaskType        TaskType
	EstimatedTokens int
	TenantID        string
	SessionID       string
	UserID          string
	Production      bool
	RequiresSpeed   bool
	RequiresStream  bool
	RequiresTools   bool
	Tools           []Tool
	Temperature     float64
	MaxTokens       int
}

// Config holds a provider's static capabilities and pricing. It is set at
// construction time; only the model name may change afterwards.
type Config struct {
	Name            string // display name, e.g. "Groq (Llama 3.3 70B)"
	Kind            Kind
	Enabled         bool
	CostPer1MInput  float64 // USD per million input tokens
	CostPer1MOutput float64
	AvgLatency      time.Duration // static estimate used until stats accumulate
	SupportsReason  bool
	SupportsStream  bool
	SupportsTools   bool
	IsFree          bool

	// Advisory ceilings from the provider's published limits. Carried for
	// operators; the core does not enforce them.
	RequestsPerMinute int
	RequestsPerDay    int
	RequestsPerMonth  int

	APIKey   string
	Endpoint string
	Model    string
}

// Stats are a provider's cumulative counters.
type Stats struct {
	Requests     int64
	InputTokens  int64
	OutputTokens int64
	TotalCost    float64
	Errors       int64
	TotalLatency time.Duration
	LastUsed     time.Time
	LastError    time.Time
}

// AvgLatency is total latency over requests made; zero before the first call.
func (s Stats) AvgLatency() time.Duration {
	if s.Requests == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Requests)
}

// ErrorRate is errors over all attempts (successes plus failures).
func (s Stats) ErrorRate() float64 {
	total := s.Requests + s.Errors
	if total == 0 {
		return 0
	}
	return float64(s.Errors) / float64(total)
}

// Health tracks a provider's liveness. A provider turns unhealthy after
// three consecutive failures and recovers on the very next success.
type Health struct {
	Healthy             bool
	ConsecutiveFailures int
	LastSuccess         time.Time
	LastFailure         time.Time
	LastFailureReason   string
}

// Result is the outcome of one successful provider call.
type Result struct {
	Content      string
	Provider     string // display name
	Model        string
	Reason       string // human-readable selection rationale
	Latency      time.Duration
	InputTokens  int
	OutputTokens int
	Cost         float64
	Cached       bool
	ToolCalls    []ToolCall
	FinishReason string
	Metadata     map[string]any
}

// Provider is one backend capable of producing a chat completion, with its
// own cost, latency, and health profile.
type Provider interface {
	// Complete performs a single provider call. Transient failures return a
	// retryable *Error; quota exhaustion returns a rate-limited *Error that
	// must never be retried against the same provider.
	Complete(ctx context.Context, req *Request) (*Result, error)

	// CheckHealth is a lightweight liveness probe. It does not touch stats.
	CheckHealth(ctx context.Context) bool

	// EstimateCost prices a call from the config rates. Free providers
	// always return 0.
	EstimateCost(inputTokens, outputTokens int) float64

	RecordSuccess(latency time.Duration, inputTokens, outputTokens int)
	RecordFailure(err error)

	Name() string
	Config() Config
	Stats() Stats
	Health() Health

	// EffectiveLatency is the observed average latency once the provider has
	// served requests, else the static estimate from Config.
	EffectiveLatency() time.Duration

	// SetModel swaps the selected model after construction.
	SetModel(model string)
}
