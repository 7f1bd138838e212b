// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama implements the backend adapter for a local Ollama
// server. Streaming uses Ollama's NDJSON chat endpoint; one JSON
// object per line, the last carrying eval counts that map onto the
// normalized usage shape.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/model"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is the local Ollama server address.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is used when a request does not name a model.
	DefaultModel = "qwen2.5-coder:7b"

	// healthTimeout bounds the availability probe.
	healthTimeout = 5 * time.Second
)

var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	},
	// No client-level timeout: local generation can be slow and the
	// coordinator bounds attempts via context.
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  *wireOptions  `json:"options,omitempty"`
}

// chatLine is one NDJSON line from /api/chat. The final line has Done
// set and carries eval counts.
type chatLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the Ollama backend adapter.
type Client struct {
	id      string
	baseURL string
	model   string
	// contextTokens is reported per model in ListModels; Ollama's tags
	// endpoint does not expose it, so the configured value is used.
	contextTokens int
}

// New creates an Ollama adapter against the given server URL.
func New(id, baseURL string) *Client {
	if id == "" {
		id = "ollama"
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{id: id, baseURL: baseURL, model: DefaultModel}
}

// WithModel sets the default model.
func (c *Client) WithModel(m string) *Client {
	if m != "" {
		c.model = m
	}
	return c
}

// WithContextTokens sets the window size reported for models.
func (c *Client) WithContextTokens(n int) *Client {
	c.contextTokens = n
	return c
}

// ID implements backend.Adapter.
func (c *Client) ID() string { return c.id }

func (c *Client) resolveModel(params backend.Params) string {
	if params.Model != "" {
		return params.Model
	}
	return c.model
}

func (c *Client) buildRequest(messages []model.Message, params backend.Params, stream bool) chatRequest {
	wire := make([]wireMessage, len(messages))
	for i, m := range messages {
		wire[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	req := chatRequest{
		Model:    c.resolveModel(params),
		Messages: wire,
		Stream:   stream,
	}
	if params.Temperature > 0 || params.MaxTokens > 0 {
		req.Options = &wireOptions{
			Temperature: params.Temperature,
			NumPredict:  params.MaxTokens,
		}
	}
	return req
}

func (c *Client) post(ctx context.Context, path string, reqBody any) (*http.Response, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &backend.ProviderError{
			Backend: c.id,
			Message: string(body),
			Status:  resp.StatusCode,
		}
	}
	return resp, nil
}

// =============================================================================
// CHAT
// =============================================================================

// Chat implements backend.Adapter.
func (c *Client) Chat(ctx context.Context, messages []model.Message, params backend.Params) (*backend.Response, error) {
	resp, err := c.post(ctx, "/api/chat", c.buildRequest(messages, params, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var line chatLine
	if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}

	out := &backend.Response{
		Content:      line.Message.Content,
		Model:        line.Model,
		FinishReason: line.DoneReason,
	}
	if line.PromptEvalCount > 0 || line.EvalCount > 0 {
		out.Usage = &backend.Usage{
			PromptTokens:     line.PromptEvalCount,
			CompletionTokens: line.EvalCount,
			TotalTokens:      line.PromptEvalCount + line.EvalCount,
		}
	}
	return out, nil
}

// Stream implements backend.Adapter over the NDJSON chat stream.
func (c *Client) Stream(ctx context.Context, messages []model.Message, params backend.Params, fn backend.StreamFunc) error {
	resp, err := c.post(ctx, "/api/chat", c.buildRequest(messages, params, true))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return processStream(ctx, resp.Body, fn)
}

// =============================================================================
// MODELS & HEALTH
// =============================================================================

// ListModels implements backend.Adapter via /api/tags.
func (c *Client) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &backend.ProviderError{Backend: c.id, Message: string(body), Status: resp.StatusCode}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("parse tags: %w", err)
	}

	models := make([]backend.ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, backend.ModelInfo{
			ID:            m.Name,
			Name:          m.Name,
			ContextTokens: c.contextTokens,
		})
	}
	return models, nil
}

// CheckHealth implements backend.Adapter with a tags probe.
func (c *Client) CheckHealth(ctx context.Context) (backend.HealthState, error) {
	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	if _, err := c.ListModels(probeCtx); err != nil {
		return backend.StateDown, err
	}
	return backend.StateHealthy, nil
}
