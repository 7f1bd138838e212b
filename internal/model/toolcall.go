// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// TOOL CALL PARSING
// =============================================================================

// ErrNoToolCall indicates output that does not contain a well-formed
// tool invocation.
var ErrNoToolCall = errors.New("no tool call in output")

// ToolCall is a parsed tool invocation from assistant output.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ParseToolCall extracts a tool invocation from accumulated assistant
// output. Accepts a bare JSON object or one wrapped in a fenced code
// block, which some models emit despite instructions.
func ParseToolCall(content string) (*ToolCall, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, ErrNoToolCall
	}

	// Strip a ```json ... ``` fence if present.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	// Models sometimes lead with prose; start at the first brace.
	if idx := strings.Index(text, "{"); idx > 0 {
		text = text[idx:]
	}

	var call ToolCall
	if err := json.Unmarshal([]byte(text), &call); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoToolCall, err)
	}
	if call.Name == "" {
		return nil, fmt.Errorf("%w: missing tool name", ErrNoToolCall)
	}
	return &call, nil
}
