// Package local implements the provider contract against an Ollama-style
// server on localhost. It is free and keyless; the router prefers it for
// development traffic.
package local

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

const defaultEndpoint = "http://localhost:11434"

type Client struct {
	*provider.Base
	httpClient *http.Client
	log        *zap.Logger
}

type ollamaRequest struct {
	Model    string             `json:"model"`
	Messages []provider.Message `json:"messages"`
	Stream   bool               `json:"stream"`
	Options  ollamaOptions      `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Model           string           `json:"model"`
	Message         provider.Message `json:"message"`
	Done            bool             `json:"done"`
	DoneReason      string           `json:"done_reason"`
	PromptEvalCount int              `json:"prompt_eval_count"`
	EvalCount       int              `json:"eval_count"`
}

func New(endpoint, model string, log *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	if model == "" {
		model = "llama3.2"
	}
	cfg := provider.Config{
		Name:       fmt.Sprintf("Local (%s)", model),
		Kind:       provider.KindLocal,
		Enabled:    true,
		AvgLatency: 5 * time.Second,
		IsFree:     true,
		Endpoint:   endpoint,
		Model:      model,
	}
	l := log
	if l == nil {
		l = zap.NewNop()
	}
	return &Client{
		Base:       provider.NewBase(cfg, log),
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        l.With(zap.String("provider", cfg.Name)),
	}
}

func (c *Client) Complete(ctx context.Context, req *provider.Request) (*provider.Result, error) {
	cfg := c.Config()

	if req.Stream {
		c.log.Warn("streaming requested but not supported, ignoring")
	}
	if len(req.Tools) > 0 {
		c.log.Warn("tools requested but not supported, ignoring",
			zap.Int("tools", len(req.Tools)))
	}

	payload, err := json.Marshal(ollamaRequest{
		Model:    cfg.Model,
		Messages: req.Messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: req.Temperature,
			NumPredict:  req.MaxTokens,
		},
	})
	if err != nil {
		return nil, provider.Wrap(cfg.Name, "encode request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, provider.Wrap(cfg.Name, "build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, provider.Wrap(cfg.Name, "http call", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, provider.RateLimited(cfg.Name, "rate limited")
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, provider.Errorf(cfg.Name, "api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var parsed ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, provider.Wrap(cfg.Name, "decode response", err)
	}

	finish := parsed.DoneReason
	if finish == "" {
		finish = "stop"
	}

	return &provider.Result{
		Content:      parsed.Message.Content,
		Provider:     cfg.Name,
		Model:        parsed.Model,
		InputTokens:  parsed.PromptEvalCount,
		OutputTokens: parsed.EvalCount,
		FinishReason: finish,
	}, nil
}

// CheckHealth hits the server root; Ollama answers with a plain banner.
func (c *Client) CheckHealth(ctx context.Context) bool {
	cfg := c.Config()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Endpoint+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
