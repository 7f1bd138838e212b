// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/model"
)

// =============================================================================
// SSE READER
// =============================================================================

// sseReader parses Server-Sent Events from a response body.
type sseReader struct {
	reader *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{reader: bufio.NewReader(r)}
}

// readEvent returns the next event's data. io.EOF ends the stream.
func (s *sseReader) readEvent() ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates an event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if bytes.HasPrefix(line, []byte("data:")) {
			dataLines = append(dataLines, bytes.TrimSpace(line[5:]))
		}
		// Other fields (event:, id:, retry:, comments) are ignored.
	}
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// streamChunk is one SSE payload from the chat completions stream.
type streamChunk struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usagePayload `json:"usage"`
}

// Stream implements backend.Adapter. The final normalized chunk
// carries usage when OpenRouter reports it.
func (c *Client) Stream(ctx context.Context, messages []model.Message, params backend.Params, fn backend.StreamFunc) error {
	if !c.IsConfigured() {
		return backend.ErrNotConfigured
	}

	reqBody := chatRequest{
		Model:         c.resolveModel(params),
		Messages:      toWireMessages(messages),
		Stream:        true,
		Temperature:   params.Temperature,
		MaxTokens:     params.MaxTokens,
		StreamOptions: &streamOptions{IncludeUsage: true},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := sharedStreamingClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		return c.errorFromResponse(resp.StatusCode, body)
	}

	return c.processStream(ctx, resp.Body, fn)
}

// processStream reads SSE events and emits normalized chunks.
func (c *Client) processStream(ctx context.Context, body io.Reader, fn backend.StreamFunc) error {
	reader := newSSEReader(body)
	var usage *backend.Usage
	modelName := ""

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				fn(backend.Chunk{Done: true, Usage: usage, Model: modelName})
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			fn(backend.Chunk{Done: true, Usage: usage, Model: modelName})
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed events; the completeness check catches a
			// stream that produced nothing usable.
			continue
		}

		if chunk.Model != "" {
			modelName = chunk.Model
		}
		if chunk.Usage != nil {
			usage = &backend.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) > 0 {
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				fn(backend.Chunk{Delta: delta, Model: modelName})
			}
		}
	}
}
