// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestClassify verifies the pure error-to-kind lookup that drives the
// coordinator's retry and fallback transitions.
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"cancelled", context.Canceled, KindCancelled},
		{"deadline_exceeded", context.DeadlineExceeded, KindRetriable},
		{"timeout_sentinel", ErrTimeout, KindRetriable},
		{"rate_limited", ErrRateLimited, KindRetriable},
		{"auth_failed", ErrAuthFailed, KindProviderFailure},
		{"quota_exceeded", ErrQuotaExceeded, KindProviderFailure},
		{"not_configured", ErrNotConfigured, KindProviderFailure},
		{"malformed_request", ErrMalformedRequest, KindFatal},
		{"empty_response", ErrEmptyResponse, KindValidation},
		{"invalid_tool_call", ErrInvalidToolCall, KindValidation},
		{"http_401", &ProviderError{Backend: "a", Status: 401}, KindProviderFailure},
		{"http_403", &ProviderError{Backend: "a", Status: 403}, KindProviderFailure},
		{"http_429", &ProviderError{Backend: "a", Status: 429}, KindRetriable},
		{"http_500", &ProviderError{Backend: "a", Status: 500}, KindRetriable},
		{"http_503", &ProviderError{Backend: "a", Status: 503}, KindRetriable},
		{"http_400", &ProviderError{Backend: "a", Status: 400}, KindFatal},
		{"http_404", &ProviderError{Backend: "a", Status: 404}, KindProviderFailure},
		{"unknown_error", errors.New("connection reset"), KindRetriable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

// TestClassifyWrapped verifies sentinels survive fmt.Errorf wrapping.
func TestClassifyWrapped(t *testing.T) {
	err := fmt.Errorf("openrouter: %w", ErrRateLimited)
	if got := Classify(err); got != KindRetriable {
		t.Errorf("Classify(wrapped) = %v, want %v", got, KindRetriable)
	}

	err = fmt.Errorf("attempt failed: %w", &StreamError{Partial: "partial text", Err: ErrAuthFailed})
	if got := Classify(err); got != KindProviderFailure {
		t.Errorf("Classify(stream-wrapped) = %v, want %v", got, KindProviderFailure)
	}
}

func TestStreamErrorUnwrap(t *testing.T) {
	inner := &ProviderError{Backend: "or", Status: 500, Message: "upstream"}
	err := &StreamError{Partial: "some text", Err: inner}

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatal("expected StreamError to unwrap to ProviderError")
	}
	if provErr.Status != 500 {
		t.Errorf("status = %d, want 500", provErr.Status)
	}
}

func TestChainExhaustedError(t *testing.T) {
	err := &ChainExhaustedError{
		Attempted: []string{"a", "b"},
		Last:      ErrRateLimited,
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected ChainExhaustedError to unwrap to last error")
	}
}
