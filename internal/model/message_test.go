// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"empty", "", 0},
		{"one_char", "a", 1},
		{"four_chars", "abcd", 1},
		{"five_chars", "abcde", 2},
		{"eight_chars", "abcdefgh", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewUserMessage(tt.content)
			if got := m.EstimateTokens(); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.content, got, tt.want)
			}
		})
	}
}

func TestEstimateTokensSumsList(t *testing.T) {
	msgs := []Message{
		NewUserMessage(strings.Repeat("x", 40)),
		NewAssistantMessage(strings.Repeat("y", 40)),
	}
	if got := EstimateTokens(msgs); got != 20 {
		t.Errorf("EstimateTokens = %d, want 20", got)
	}
}

func TestLatestUserContent(t *testing.T) {
	msgs := []Message{
		NewUserMessage("first"),
		NewAssistantMessage("reply"),
		NewUserMessage("second"),
		NewAssistantMessage("another reply"),
	}
	if got := LatestUserContent(msgs); got != "second" {
		t.Errorf("LatestUserContent = %q", got)
	}
	if got := LatestUserContent(nil); got != "" {
		t.Errorf("LatestUserContent(nil) = %q", got)
	}
}

func TestMessageIDsAreUnique(t *testing.T) {
	a := NewUserMessage("x")
	b := NewUserMessage("x")
	if a.ID == b.ID || a.ID == "" {
		t.Errorf("ids = %q, %q", a.ID, b.ID)
	}
}

func TestPreviewTruncates(t *testing.T) {
	m := NewUserMessage("hello wide world")
	if got := m.Preview(8); got != "hello..." {
		t.Errorf("Preview = %q", got)
	}
	if got := m.Preview(100); got != "hello wide world" {
		t.Errorf("Preview = %q", got)
	}
}

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantName string
		wantErr  bool
	}{
		{"bare_json", `{"name": "search", "arguments": {"q": "go"}}`, "search", false},
		{"fenced", "```json\n{\"name\": \"search\"}\n```", "search", false},
		{"plain_fence", "```\n{\"name\": \"lookup\"}\n```", "lookup", false},
		{"leading_prose", `Sure, here you go: {"name": "fetch"}`, "fetch", false},
		{"empty", "", "", true},
		{"prose_only", "I cannot call tools.", "", true},
		{"missing_name", `{"arguments": {}}`, "", true},
		{"malformed", `{"name": "x"`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, err := ParseToolCall(tt.content)
			if tt.wantErr {
				if !errors.Is(err, ErrNoToolCall) {
					t.Errorf("err = %v, want ErrNoToolCall", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if call.Name != tt.wantName {
				t.Errorf("name = %q, want %q", call.Name, tt.wantName)
			}
		})
	}
}
