package tenant

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("tenant config not found")

// InferenceConfig is a tenant's routing policy.
type InferenceConfig struct {
	PreferredProvider string            `json:"preferred_provider"`
	AutoFailover      bool              `json:"auto_failover"`
	PreferredModels   map[string]string `json:"preferred_models"` // provider kind -> model
}

// Config is everything the router needs to know about one tenant: which
// provider credentials it holds and how it wants requests routed.
type Config struct {
	TenantID  string            `json:"tenant_id"`
	LLMTokens map[string]string `json:"llm_tokens"` // provider kind -> credential
	Inference InferenceConfig   `json:"inference_config"`
}

// Store is the external tenant configuration source. Absence of a record is
// reported as ErrNotFound, which callers substitute with DefaultConfig.
type Store interface {
	GetConfig(ctx context.Context, tenantID string) (*Config, error)
}

// DefaultConfig is the policy for tenants with no stored record: route to
// the free low-cost default and fail over automatically.
func DefaultConfig(tenantID string) *Config {
	return &Config{
		TenantID:  tenantID,
		LLMTokens: map[string]string{},
		Inference: InferenceConfig{
			PreferredProvider: "groq",
			AutoFailover:      true,
			PreferredModels:   map[string]string{},
		},
	}
}
