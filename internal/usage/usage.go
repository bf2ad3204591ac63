// Package usage receives structured request/response telemetry. The router
// treats the sink as fire-and-forget; durability is the sink's problem.
package usage

import (
	"context"
	"time"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Record is one completed (or failed) routing attempt as reported to the
// usage sink.
type Record struct {
	ID           string
	TenantID     string
	Provider     string // normalized provider name, e.g. "groq"
	Model        string
	Endpoint     string
	UserID       string
	LatencyMs    int64
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Status       string // StatusSuccess or StatusError
	ErrorMessage string
	Metadata     map[string]any
	CreatedAt    time.Time
}

// Summary aggregates a tenant's usage over a time range.
type Summary struct {
	TenantID      string  `json:"tenant_id"`
	TotalRequests int     `json:"total_requests"`
	TotalErrors   int     `json:"total_errors"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
}

type Sink interface {
	Log(ctx context.Context, rec *Record) error
}

// Store is a Sink that can also be queried, backing the usage endpoint.
type Store interface {
	Sink
	GetByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*Record, error)
	SummarizeByTenant(ctx context.Context, tenantID string, from, to time.Time) (*Summary, error)
}
