package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetConfig(ctx context.Context, tenantID string) (*Config, error) {
	cfg := &Config{
		TenantID:  tenantID,
		LLMTokens: map[string]string{},
		Inference: InferenceConfig{PreferredModels: map[string]string{}},
	}

	query := `
		SELECT provider_kind, token
		FROM tenant_llm_tokens
		WHERE tenant_id = $1
	`
	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tenant tokens: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, token string
		if err := rows.Scan(&kind, &token); err != nil {
			return nil, fmt.Errorf("failed to scan tenant token: %w", err)
		}
		cfg.LLMTokens[kind] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenant tokens: %w", err)
	}

	query = `
		SELECT preferred_provider, auto_failover, preferred_models
		FROM tenant_inference_configs
		WHERE tenant_id = $1
	`
	var models []byte
	err = s.db.QueryRow(ctx, query, tenantID).Scan(
		&cfg.Inference.PreferredProvider, &cfg.Inference.AutoFailover, &models,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if len(cfg.LLMTokens) == 0 {
				return nil, ErrNotFound
			}
			// Tokens without a policy row: keep the default policy shape.
			cfg.Inference = DefaultConfig(tenantID).Inference
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to get inference config: %w", err)
	}

	if len(models) > 0 {
		if err := json.Unmarshal(models, &cfg.Inference.PreferredModels); err != nil {
			return nil, fmt.Errorf("failed to decode preferred models: %w", err)
		}
	}

	return cfg, nil
}
