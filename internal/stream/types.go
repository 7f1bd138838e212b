// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jeranaias/conduit/internal/backend"
)

// ============================================================================
// OUTPUT CHUNK
// ============================================================================

// OutputChunk is one increment of the unified stream delivered to the
// caller. The last chunk has Final set and carries either Usage or Err.
type OutputChunk struct {
	// Delta is incremental content. Empty on the final chunk.
	Delta string
	// Final marks the terminal chunk for the whole request.
	Final bool
	// Content is set on a successful final chunk: the validated output
	// of the attempt that completed. Authoritative over the
	// concatenation of relayed deltas, which may include output from
	// earlier attempts that failed mid-stream and were retried.
	Content string
	// Usage is set on a successful final chunk when the provider
	// reported token consumption.
	Usage *backend.Usage
	// Err is set on a failed final chunk.
	Err error
	// Backend is the backend that produced this chunk.
	Backend string
}

// Cancelled reports whether a final chunk's error is caller
// cancellation rather than failure.
func (c OutputChunk) Cancelled() bool {
	return c.Err != nil && errors.Is(c.Err, context.Canceled)
}

// ============================================================================
// STATE MACHINE
// ============================================================================

// State names the per-request coordinator state. The machine persists
// across fallback transitions; it is per request, not per backend.
type State int

const (
	StateAttempting State = iota
	StateStreaming
	StateDone
	StateRetrying
	StateFallingBack
	StateFailed
	StateCancelled
)

// String returns the state name used in logs.
func (s State) String() string {
	switch s {
	case StateAttempting:
		return "ATTEMPTING"
	case StateStreaming:
		return "STREAMING"
	case StateDone:
		return "DONE"
	case StateRetrying:
		return "RETRYING"
	case StateFallingBack:
		return "FALLING_BACK"
	case StateFailed:
		return "FAILED"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// ============================================================================
// CALL ATTEMPT
// ============================================================================

// CallAttempt is the transient record of one attempt against one
// backend. It feeds the attempt observer (telemetry) and is discarded
// after finalization.
type CallAttempt struct {
	// Backend is the backend attempted.
	Backend string
	// Number is the 1-based attempt number on this backend.
	Number int
	// Start is when the attempt was issued.
	Start time.Time
	// Duration is the attempt's wall-clock time.
	Duration time.Duration
	// OutputChars counts accumulated output characters.
	OutputChars int
	// Outcome is the terminal state the attempt produced.
	Outcome State
	// Err is the classified failure, nil on success.
	Err error
}

// AttemptObserver receives finalized attempt records. Must not block.
type AttemptObserver func(CallAttempt)

// ============================================================================
// CONFIG
// ============================================================================

const (
	// DefaultMaxAttempts is the per-backend retry ceiling.
	DefaultMaxAttempts = 3
	// DefaultRetryBaseDelay is the initial backoff delay.
	DefaultRetryBaseDelay = 500 * time.Millisecond
	// DefaultRetryMaxDelay caps exponential backoff growth.
	DefaultRetryMaxDelay = 8 * time.Second
	// DefaultAttemptTimeout bounds one attempt's wall-clock time.
	DefaultAttemptTimeout = 2 * time.Minute
)

// Config tunes the coordinator's retry and timeout behavior.
type Config struct {
	// MaxAttempts is the attempt ceiling per backend.
	MaxAttempts int
	// RetryBaseDelay is the backoff base, doubling per attempt.
	RetryBaseDelay time.Duration
	// RetryMaxDelay caps the backoff delay.
	RetryMaxDelay time.Duration
	// AttemptTimeout bounds each attempt. AttemptTimeouts overrides it
	// per backend ID.
	AttemptTimeout  time.Duration
	AttemptTimeouts map[string]time.Duration

	// Observer, when set, receives each finalized attempt record.
	Observer AttemptObserver
}

// DefaultConfig returns the standard retry/timeout configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		RetryBaseDelay: DefaultRetryBaseDelay,
		RetryMaxDelay:  DefaultRetryMaxDelay,
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// attemptTimeout resolves the timeout for one backend.
func (c Config) attemptTimeout(backendID string) time.Duration {
	if t, ok := c.AttemptTimeouts[backendID]; ok && t > 0 {
		return t
	}
	if c.AttemptTimeout > 0 {
		return c.AttemptTimeout
	}
	return DefaultAttemptTimeout
}
