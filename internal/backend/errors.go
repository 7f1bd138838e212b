// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// =============================================================================
// ERROR SENTINELS
// =============================================================================

// Error variables for normalized backend failures. Adapters wrap
// provider-specific errors with these sentinels so classification is a
// pure lookup, never a string match on provider payloads.
var (
	// ErrNotConfigured indicates the adapter has no credentials.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrAuthFailed indicates authentication failed (401/403).
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRateLimited indicates the provider rejected the request with 429.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates the attempt exceeded its wall-clock budget.
	ErrTimeout = errors.New("attempt timed out")

	// ErrQuotaExceeded indicates the quota guard denied the request
	// before any bytes were streamed.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrMalformedRequest indicates a caller-side defect the provider
	// rejected; retrying or switching backends cannot fix it.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrEmptyResponse indicates the stream terminated without
	// producing any content.
	ErrEmptyResponse = errors.New("empty response")

	// ErrInvalidToolCall indicates tool calling was requested but the
	// accumulated output did not parse as a tool invocation.
	ErrInvalidToolCall = errors.New("invalid tool call output")
)

// ProviderError carries the HTTP status of a provider error response.
type ProviderError struct {
	Backend string
	Code    string
	Message string
	Status  int
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s error [%s] (HTTP %d): %s", e.Backend, e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("%s error (HTTP %d): %s", e.Backend, e.Status, e.Message)
}

// StreamError preserves partial content received before a stream broke.
// Callers must treat the final validated response, not the partial
// content, as authoritative.
type StreamError struct {
	Partial string
	Err     error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// ErrorKind is the failure class that drives the coordinator's state
// machine transitions.
type ErrorKind int

const (
	// KindRetriable covers timeouts, 429, and 5xx-class failures:
	// retry the same backend up to the attempt ceiling.
	KindRetriable ErrorKind = iota
	// KindProviderFailure covers auth failures and quota exhaustion:
	// fall back to the next backend immediately, no retry.
	KindProviderFailure
	// KindValidation covers malformed or incomplete final output:
	// retried once on the same backend, then falls back.
	KindValidation
	// KindFatal covers caller-side defects: surfaced immediately,
	// no retry, no fallback.
	KindFatal
	// KindCancelled covers caller cancellation: terminal, distinct
	// from failure, never triggers retry or fallback.
	KindCancelled
)

// String returns the human-readable name of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRetriable:
		return "retriable"
	case KindProviderFailure:
		return "provider_failure"
	case KindValidation:
		return "validation_failure"
	case KindFatal:
		return "fatal"
	case KindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("ErrorKind(%d)", k)
	}
}

// Classify maps an error to its failure class. Pure lookup over the
// normalized sentinels and status codes; no I/O, no provider-specific
// string matching.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindRetriable
	}

	// Caller cancellation is terminal, never retried.
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}

	// Per-attempt deadline expiry is a timeout.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return KindRetriable
	}

	if errors.Is(err, ErrRateLimited) {
		return KindRetriable
	}

	// Auth and quota failures cannot be fixed by retrying the same
	// backend; quota exhaustion is provider_failure, not retriable.
	if errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrNotConfigured) {
		return KindProviderFailure
	}

	if errors.Is(err, ErrMalformedRequest) {
		return KindFatal
	}

	if errors.Is(err, ErrEmptyResponse) || errors.Is(err, ErrInvalidToolCall) {
		return KindValidation
	}

	var provErr *ProviderError
	if errors.As(err, &provErr) {
		switch {
		case provErr.Status == http.StatusUnauthorized || provErr.Status == http.StatusForbidden:
			return KindProviderFailure
		case provErr.Status == http.StatusTooManyRequests:
			return KindRetriable
		case provErr.Status >= 500:
			return KindRetriable
		case provErr.Status == http.StatusBadRequest:
			return KindFatal
		default:
			return KindProviderFailure
		}
	}

	// Network-level failures (connection refused, reset, DNS) are
	// transient from the caller's point of view.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindRetriable
	}

	return KindRetriable
}

// =============================================================================
// CHAIN EXHAUSTION
// =============================================================================

// ChainExhaustedError is the aggregate failure surfaced when every
// member of a fallback chain failed. Last is the final underlying
// error observed.
type ChainExhaustedError struct {
	Attempted []string
	Last      error
}

// Error implements the error interface.
func (e *ChainExhaustedError) Error() string {
	return fmt.Sprintf("all %d backends failed, last error: %v", len(e.Attempted), e.Last)
}

// Unwrap returns the last underlying error.
func (e *ChainExhaustedError) Unwrap() error {
	return e.Last
}
