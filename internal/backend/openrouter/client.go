// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package openrouter implements the backend adapter for the
// OpenRouter API, which fronts multiple cloud LLM providers through a
// single OpenAI-compatible endpoint.
//
// The adapter is single-shot: retries and fallback are the streaming
// coordinator's job, so every call here maps one request to one HTTP
// exchange and classifies failures into the normalized error shapes.
package openrouter

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
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
	// DefaultBaseURL is the base URL for the OpenRouter API.
	DefaultBaseURL = "https://openrouter.ai/api/v1"

	// DefaultModel is used when a request does not name a model.
	DefaultModel = "openrouter/auto"

	// maxResponseSize bounds non-streaming response bodies.
	maxResponseSize = 10 * 1024 * 1024
)

// Shared HTTP clients with connection pooling. The streaming client
// has no client-level timeout; streams are bounded by context.
var (
	sharedHTTPClient = &http.Client{
		Transport: pooledTransport(),
		Timeout:   60 * time.Second,
	}
	sharedStreamingClient = &http.Client{
		Transport: pooledTransport(),
	}
)

func pooledTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	}
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type chatMessage struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`

	StreamOptions *streamOptions `json:"stream_options,omitempty"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type usagePayload struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

type modelsResponse struct {
	Data []struct {
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
	} `json:"data"`
}

type apiErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is the OpenRouter backend adapter.
type Client struct {
	id       string
	apiKey   string
	baseURL  string
	model    string
	siteURL  string
	siteName string
}

// New creates an OpenRouter adapter. An empty apiKey produces a client
// whose calls fail with ErrNotConfigured.
func New(id, apiKey string) *Client {
	if id == "" {
		id = "openrouter"
	}
	return &Client{
		id:      id,
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
	}
}

// WithBaseURL overrides the API endpoint (used in tests).
func (c *Client) WithBaseURL(url string) *Client {
	if url != "" {
		c.baseURL = url
	}
	return c
}

// WithModel sets the default model.
func (c *Client) WithModel(m string) *Client {
	if m != "" {
		c.model = m
	}
	return c
}

// WithSite sets the optional attribution headers OpenRouter accepts.
func (c *Client) WithSite(url, name string) *Client {
	c.siteURL = url
	c.siteName = name
	return c
}

// ID implements backend.Adapter.
func (c *Client) ID() string { return c.id }

// IsConfigured reports whether an API key is present.
func (c *Client) IsConfigured() bool { return c.apiKey != "" }

// KeyFingerprint returns a short fingerprint of the API key, safe to
// log. Never exposes key fragments.
func (c *Client) KeyFingerprint() string {
	if c.apiKey == "" {
		return "none"
	}
	h := sha256.Sum256([]byte(c.apiKey))
	return hex.EncodeToString(h[:4])
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if c.siteURL != "" {
		req.Header.Set("HTTP-Referer", c.siteURL)
	}
	if c.siteName != "" {
		req.Header.Set("X-Title", c.siteName)
	}
}

func (c *Client) resolveModel(params backend.Params) string {
	if params.Model != "" {
		return params.Model
	}
	return c.model
}

func toWireMessages(messages []model.Message) []chatMessage {
	out := make([]chatMessage, len(messages))
	for i, m := range messages {
		out[i] = chatMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
	}
	return out
}

// =============================================================================
// CHAT
// =============================================================================

// Chat implements backend.Adapter.
func (c *Client) Chat(ctx context.Context, messages []model.Message, params backend.Params) (*backend.Response, error) {
	if !c.IsConfigured() {
		return nil, backend.ErrNotConfigured
	}

	reqBody := chatRequest{
		Model:       c.resolveModel(params),
		Messages:    toWireMessages(messages),
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp.StatusCode, body)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return nil, backend.ErrEmptyResponse
	}

	out := &backend.Response{
		Content:      chatResp.Choices[0].Message.Content,
		Model:        chatResp.Model,
		FinishReason: chatResp.Choices[0].FinishReason,
	}
	if chatResp.Usage != nil {
		out.Usage = &backend.Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// =============================================================================
// MODELS & HEALTH
// =============================================================================

// ListModels implements backend.Adapter.
func (c *Client) ListModels(ctx context.Context) ([]backend.ModelInfo, error) {
	if !c.IsConfigured() {
		return nil, backend.ErrNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := sharedHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.errorFromResponse(resp.StatusCode, body)
	}

	var parsed modelsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse models: %w", err)
	}

	models := make([]backend.ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, backend.ModelInfo{
			ID:            m.ID,
			Name:          m.Name,
			ContextTokens: m.ContextLength,
		})
	}
	return models, nil
}

// CheckHealth implements backend.Adapter with a lightweight models
// probe.
func (c *Client) CheckHealth(ctx context.Context) (backend.HealthState, error) {
	if !c.IsConfigured() {
		return backend.StateDown, backend.ErrNotConfigured
	}
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := c.ListModels(probeCtx); err != nil {
		return backend.StateDown, err
	}
	return backend.StateHealthy, nil
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// errorFromResponse converts an HTTP error response into the
// normalized error shapes classification understands.
func (c *Client) errorFromResponse(statusCode int, body []byte) error {
	var apiErr apiErrorResponse
	message := string(body)
	code := ""
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
		code = apiErr.Error.Code
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", backend.ErrAuthFailed, message)
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", backend.ErrQuotaExceeded, message)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", backend.ErrRateLimited, message)
	}
	return &backend.ProviderError{
		Backend: c.id,
		Code:    code,
		Message: message,
		Status:  statusCode,
	}
}

// readResponse reads a body with a size cap.
func readResponse(resp *http.Response) ([]byte, error) {
	limited := io.LimitReader(resp.Body, maxResponseSize)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(body)) == maxResponseSize {
		return nil, fmt.Errorf("response exceeded maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}
