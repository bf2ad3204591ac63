// Package gateway is the HTTP surface over the tenant router: request
// parsing, tenant rate limiting, tracing, and response shaping.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-router/internal/auth"
	"github.com/vnmchuo/llm-router/internal/provider"
	"github.com/vnmchuo/llm-router/internal/router"
	"github.com/vnmchuo/llm-router/internal/tenant"
	"github.com/vnmchuo/llm-router/internal/usage"
	"github.com/vnmchuo/llm-router/pkg/ratelimit"
)

type Handler struct {
	tenants    *tenant.Router
	usage      usage.Store
	limiter    *ratelimit.Limiter
	tracer     trace.Tracer
	log        *zap.Logger
	maxRetries int
	timeout    time.Duration // hard ceiling above provider HTTP timeouts
	production bool
}

func NewHandler(tenants *tenant.Router, usageStore usage.Store, limiter *ratelimit.Limiter, tracer trace.Tracer, log *zap.Logger, maxRetries int, timeout time.Duration, production bool) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		tenants:    tenants,
		usage:      usageStore,
		limiter:    limiter,
		tracer:     tracer,
		log:        log,
		maxRetries: maxRetries,
		timeout:    timeout,
		production: production,
	}
}

type completionRequest struct {
	Messages      []provider.Message `json:"messages"`
	TaskType      string             `json:"task_type,omitempty"`
	Temperature   float64            `json:"temperature,omitempty"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Tools         []provider.Tool    `json:"tools,omitempty"`
	RequiresSpeed bool               `json:"requires_speed,omitempty"`
	SessionID     string             `json:"session_id,omitempty"`
	User          string             `json:"user,omitempty"`
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	requestID := auth.GetRequestID(ctx)
	if requestID == "" {
		requestID = uuid.New().String()
	}

	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "messages are required"})
		return
	}

	ctx, span := h.tracer.Start(ctx, "gateway.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant_id", tenantID),
		attribute.String("request_id", requestID),
		attribute.String("task_type", req.TaskType),
	)

	estimatedTokens := req.MaxTokens
	if estimatedTokens <= 0 {
		estimatedTokens = 1000
	}

	allowed, err := h.limiter.Allow(ctx, tenantID, estimatedTokens)
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	reqCtx := &provider.RequestContext{
		TaskType:        taskType(req.TaskType),
		EstimatedTokens: estimatedTokens,
		TenantID:        tenantID,
		SessionID:       req.SessionID,
		UserID:          req.User,
		Production:      h.production,
		RequiresSpeed:   req.RequiresSpeed,
		RequiresStream:  req.Stream,
		RequiresTools:   len(req.Tools) > 0,
		Tools:           req.Tools,
		Temperature:     req.Temperature,
		MaxTokens:       req.MaxTokens,
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.tenants.CompleteForTenant(ctx, tenantID, req.Messages, reqCtx, r.URL.Path, req.User, h.maxRetries)
	if err != nil {
		var exhausted *router.ExhaustedError
		if errors.As(err, &exhausted) {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":     "all providers exhausted",
				"attempted": exhausted.Attempted,
			})
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			writeJSON(w, http.StatusGatewayTimeout, map[string]string{"error": "request timed out"})
			return
		}
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("provider", res.Provider),
		attribute.String("model", res.Model),
		attribute.Float64("cost_usd", res.Cost),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"id":       requestID,
		"object":   "chat.completion",
		"model":    res.Model,
		"provider": tenant.NormalizeProviderName(res.Provider),
		"reason":   res.Reason,
		"choices": []any{
			map[string]any{
				"index": 0,
				"message": map[string]any{
					"role":       "assistant",
					"content":    res.Content,
					"tool_calls": res.ToolCalls,
				},
				"finish_reason": res.FinishReason,
			},
		},
		"usage": map[string]any{
			"prompt_tokens":     res.InputTokens,
			"completion_tokens": res.OutputTokens,
			"total_tokens":      res.InputTokens + res.OutputTokens,
			"cost_usd":          res.Cost,
		},
	})
}

// HandleCompleteStream answers 501: several providers advertise streaming
// but none implements it yet.
func (h *Handler) HandleCompleteStream(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "streaming not implemented"})
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := auth.GetTenantID(ctx)
	if tenantID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	now := time.Now()
	from := now.AddDate(0, 0, -30) // Default: last 30 days
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'from' date format (use RFC3339)"})
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid 'to' date format (use RFC3339)"})
			return
		}
	}

	records, err := h.usage.GetByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	summary, err := h.usage.SummarizeByTenant(ctx, tenantID, from, to)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"records": records,
		"from":    from,
		"to":      to,
	})
}

// HandleInvalidateTenantCache drops one tenant's cached configuration.
func (h *Handler) HandleInvalidateTenantCache(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	if tenantID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant id is required"})
		return
	}
	h.tenants.InvalidateCache(tenantID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "tenant_id": tenantID})
}

// HandleInvalidateAllCaches drops every cached tenant configuration.
func (h *Handler) HandleInvalidateAllCaches(w http.ResponseWriter, r *http.Request) {
	h.tenants.InvalidateCache("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func taskType(s string) provider.TaskType {
	switch provider.TaskType(s) {
	case provider.TaskReasoning, provider.TaskChat, provider.TaskSimple,
		provider.TaskDevelopment, provider.TaskToolUse:
		return provider.TaskType(s)
	default:
		return provider.TaskChat
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
