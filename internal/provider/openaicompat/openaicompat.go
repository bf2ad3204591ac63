// Package openaicompat implements the provider contract for backends that
// speak the OpenAI chat-completions wire format. Groq, OpenRouter, and LLM7
// all do; they differ only in endpoint, pricing, and limits, so each is a
// preset over the same client.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/vnmchuo/llm-router/internal/provider"
)

type Client struct {
	*provider.Base
	httpClient *http.Client
	log        *zap.Logger
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	Temperature float64            `json:"temperature,omitempty"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
	Tools       []provider.Tool    `json:"tools,omitempty"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatMessage struct {
	Role      string              `json:"role"`
	Content   string              `json:"content"`
	ToolCalls []provider.ToolCall `json:"tool_calls,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// New builds a client for any OpenAI-compatible backend from an explicit
// config. Prefer the kind presets below for known backends.
func New(cfg provider.Config, log *zap.Logger) *Client {
	return &Client{
		Base:       provider.NewBase(cfg, log),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        logOrNop(log).With(zap.String("provider", cfg.Name)),
	}
}

// NewGroq builds the Groq preset. Groq's free tier is the designated
// low-cost default for tenants with no stored policy.
func NewGroq(apiKey, model string, log *zap.Logger) *Client {
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return New(provider.Config{
		Name:              fmt.Sprintf("Groq (%s)", model),
		Kind:              provider.KindGroq,
		Enabled:           apiKey != "",
		AvgLatency:        500 * time.Millisecond,
		SupportsReason:    true,
		SupportsStream:    true,
		SupportsTools:     true,
		IsFree:            true,
		RequestsPerMinute: 30,
		RequestsPerDay:    14400,
		APIKey:            apiKey,
		Endpoint:          "https://api.groq.com/openai/v1",
		Model:             model,
	}, log)
}

// NewOpenRouter builds the OpenRouter preset.
func NewOpenRouter(apiKey, model string, log *zap.Logger) *Client {
	if model == "" {
		model = "deepseek/deepseek-chat-v3-0324:free"
	}
	return New(provider.Config{
		Name:              fmt.Sprintf("OpenRouter (%s)", model),
		Kind:              provider.KindOpenRouter,
		Enabled:           apiKey != "",
		CostPer1MInput:    0.27,
		CostPer1MOutput:   1.10,
		AvgLatency:        2 * time.Second,
		SupportsReason:    true,
		SupportsStream:    true,
		SupportsTools:     true,
		RequestsPerMinute: 20,
		RequestsPerDay:    200,
		APIKey:            apiKey,
		Endpoint:          "https://openrouter.ai/api/v1",
		Model:             model,
	}, log)
}

// NewLLM7 builds the LLM7 preset. LLM7 is keyless and free.
func NewLLM7(model string, log *zap.Logger) *Client {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return New(provider.Config{
		Name:              fmt.Sprintf("LLM7 (%s)", model),
		Kind:              provider.KindLLM7,
		Enabled:           true,
		AvgLatency:        3 * time.Second,
		SupportsStream:    true,
		IsFree:            true,
		RequestsPerMinute: 10,
		Endpoint:          "https://api.llm7.io/v1",
		Model:             model,
	}, log)
}

func (c *Client) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	cfg := c.Config()
	if cfg.Kind != provider.KindLLM7 && cfg.APIKey == "" {
		return nil, provider.Unavailable(cfg.Name, "no API key configured")
	}

	body := chatRequest{
		Model:       cfg.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if req.Stream {
		if !cfg.SupportsStream {
			c.log.Warn("streaming requested but not supported, ignoring")
		} else {
			// Streaming is advertised but not implemented yet; rejecting
			// keeps the gap visible instead of silently degrading.
			return nil, provider.Unavailable(cfg.Name, "streaming not implemented")
		}
	}
	if len(req.Tools) > 0 {
		if cfg.SupportsTools {
			body.Tools = req.Tools
		} else {
			c.log.Warn("tools requested but not supported, ignoring",
				zap.Int("tools", len(req.Tools)))
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, provider.Wrap(cfg.Name, "encode request", err)
	}

	url := cfg.Endpoint + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, provider.Wrap(cfg.Name, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Wrap(cfg.Name, "http call", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.RateLimited(cfg.Name, fmt.Sprintf("rate limited: %s", string(respBody)))
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.Errorf(cfg.Name, "api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, provider.Wrap(cfg.Name, "decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, provider.Errorf(cfg.Name, "api returned no choices")
	}

	choice := parsed.Choices[0]
	model := parsed.Model
	if model == "" {
		model = cfg.Model
	}

	return &provider.Result{
		Content:      choice.Message.Content,
		Provider:     cfg.Name,
		Model:        model,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Metadata:     map[string]any{"response_id": parsed.ID},
	}, nil
}

// CheckHealth probes the models listing, which every OpenAI-compatible
// backend serves cheaply. Stats are not touched.
func (c *Client) CheckHealth(ctx context.Context) bool {
	cfg := c.Config()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+"/models", nil)
	if err != nil {
		return false
	}
	if cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

func logOrNop(log *zap.Logger) *zap.Logger {
	if log == nil {
		return zap.NewNop()
	}
	return log
}
