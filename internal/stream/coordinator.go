// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/model"
	"github.com/jeranaias/conduit/internal/quota"
	"github.com/jeranaias/conduit/internal/router"
)

// chunkBuffer sizes the output channel. Large enough that a slow
// consumer does not immediately stall the adapter read loop.
const chunkBuffer = 32

// ErrEmptyChain is surfaced when execution is asked to run an empty
// fallback chain.
var ErrEmptyChain = errors.New("empty fallback chain")

// Coordinator drives chain execution: quota checks before attempts,
// retries with backoff on the same backend, fallback across chain
// members, and health/usage reporting on outcomes.
type Coordinator struct {
	quota  quota.Guard
	health *backend.HealthTracker
	cfg    Config
}

// NewCoordinator creates a coordinator. A nil guard disables quota
// enforcement.
func NewCoordinator(guard quota.Guard, health *backend.HealthTracker, cfg Config) *Coordinator {
	if guard == nil {
		guard = quota.AllowAll{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}
	return &Coordinator{quota: guard, health: health, cfg: cfg}
}

// Execute runs the chain left to right and returns the unified chunk
// stream. The channel is closed after the final chunk. Cancel ctx to
// abort; cancellation is observed at the next chunk boundary or
// suspension point and never triggers a fallback.
func (c *Coordinator) Execute(ctx context.Context, chain router.FallbackChain, messages []model.Message, params backend.Params) <-chan OutputChunk {
	out := make(chan OutputChunk, chunkBuffer)
	go c.run(ctx, chain, messages, params, out)
	return out
}

func (c *Coordinator) run(ctx context.Context, chain router.FallbackChain, messages []model.Message, params backend.Params, out chan<- OutputChunk) {
	defer close(out)

	if chain.Empty() {
		c.emit(ctx, out, OutputChunk{Final: true, Err: ErrEmptyChain})
		return
	}

	estimated := model.EstimateTokens(messages)
	attempted := make([]string, 0, len(chain.Members))
	var lastErr error

	for _, member := range chain.Members {
		done, err := c.runBackend(ctx, member, estimated, messages, params, out)
		if done {
			return
		}
		lastErr = err
		attempted = append(attempted, member.ID)
	}

	c.emit(ctx, out, OutputChunk{
		Final: true,
		Err:   &backend.ChainExhaustedError{Attempted: attempted, Last: lastErr},
	})
}

// runBackend runs the retry loop against one chain member. It returns
// done=true when the request reached a terminal state (success, fatal,
// or cancellation) and the final chunk was emitted; otherwise it
// returns the last error and the caller falls back.
func (c *Coordinator) runBackend(ctx context.Context, member backend.Descriptor, estimated int, messages []model.Message, params backend.Params, out chan<- OutputChunk) (bool, error) {
	var lastErr error
	validationRetried := false

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		// Quota is re-checked before every attempt, not just the first:
		// a denial before any bytes stream falls back without consuming
		// a retry slot.
		if d := c.quota.CheckQuota(member.ID, estimated); !d.Allowed {
			lastErr = fmt.Errorf("%w: %s", backend.ErrQuotaExceeded, d.Reason)
			log.Printf("[stream] %s: %s -> %s", member.ID, StateFallingBack, lastErr)
			return false, lastErr
		}

		content, usage, err := c.runAttempt(ctx, member, attempt, messages, params, out)
		if err == nil {
			c.recordOutcome(member.ID, true)
			if usage != nil {
				c.quota.RecordUsage(member.ID, *usage)
			}
			c.emit(ctx, out, OutputChunk{Final: true, Content: content, Usage: usage, Backend: member.ID})
			return true, nil
		}

		// A cancelled parent context is terminal regardless of what
		// the adapter surfaced.
		if ctx.Err() != nil {
			c.emit(ctx, out, OutputChunk{Final: true, Err: context.Canceled, Backend: member.ID})
			return true, nil
		}

		lastErr = err
		kind := backend.Classify(err)
		log.Printf("[stream] %s attempt %d/%d failed (%s): %v",
			member.ID, attempt, c.cfg.MaxAttempts, kind, err)

		switch kind {
		case backend.KindCancelled:
			c.emit(ctx, out, OutputChunk{Final: true, Err: context.Canceled, Backend: member.ID})
			return true, nil

		case backend.KindFatal:
			// A caller-side defect cannot be fixed by retrying or
			// switching backends; short-circuit the whole chain.
			c.recordOutcome(member.ID, false)
			c.emit(ctx, out, OutputChunk{Final: true, Err: err, Backend: member.ID})
			return true, nil

		case backend.KindProviderFailure:
			c.recordOutcome(member.ID, false)
			return false, lastErr

		case backend.KindValidation:
			c.recordOutcome(member.ID, false)
			if validationRetried {
				return false, lastErr
			}
			validationRetried = true

		case backend.KindRetriable:
			c.recordOutcome(member.ID, false)
		}

		if attempt < c.cfg.MaxAttempts {
			if !c.backoff(ctx, attempt) {
				c.emit(ctx, out, OutputChunk{Final: true, Err: context.Canceled, Backend: member.ID})
				return true, nil
			}
		}
	}

	return false, lastErr
}

// runAttempt performs one call against one backend with a fresh
// buffer, forwarding chunks to the caller as they arrive. On success
// it returns the attempt's full accumulated output; this is what gets
// committed, since relayed deltas may span attempts that later failed.
func (c *Coordinator) runAttempt(parent context.Context, member backend.Descriptor, attemptNum int, messages []model.Message, params backend.Params, out chan<- OutputChunk) (content string, usage *backend.Usage, err error) {
	start := time.Now()
	var accumulated strings.Builder

	defer func() {
		if c.cfg.Observer != nil {
			outcome := StateDone
			if err != nil {
				outcome = StateFailed
				if errors.Is(err, context.Canceled) {
					outcome = StateCancelled
				}
			}
			c.cfg.Observer(CallAttempt{
				Backend:     member.ID,
				Number:      attemptNum,
				Start:       start,
				Duration:    time.Since(start),
				OutputChars: accumulated.Len(),
				Outcome:     outcome,
				Err:         err,
			})
		}
	}()

	ctx, cancel := context.WithTimeout(parent, c.cfg.attemptTimeout(member.ID))
	defer cancel()

	if !member.SupportsStreaming {
		resp, chatErr := member.Adapter.Chat(ctx, messages, params)
		if chatErr != nil {
			return "", nil, chatErr
		}
		accumulated.WriteString(resp.Content)
		if vErr := c.validateFinal(accumulated.String(), params); vErr != nil {
			return "", nil, vErr
		}
		if !c.emit(parent, out, OutputChunk{Delta: resp.Content, Backend: member.ID}) {
			return "", nil, context.Canceled
		}
		return accumulated.String(), resp.Usage, nil
	}

	var (
		streamErr error
		sawFinal  bool
	)
	err = member.Adapter.Stream(ctx, messages, params, func(chunk backend.Chunk) {
		if streamErr != nil || ctx.Err() != nil {
			return
		}
		if chunk.Err != nil {
			streamErr = chunk.Err
			return
		}
		// Structural validation: chunks after the terminal marker and
		// empty non-final deltas break monotonic ordering.
		if sawFinal {
			streamErr = fmt.Errorf("%w: chunk after terminal marker", backend.ErrEmptyResponse)
			return
		}
		if chunk.Done {
			sawFinal = true
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			return
		}
		if chunk.Delta == "" {
			return
		}
		accumulated.WriteString(chunk.Delta)
		if !c.emit(parent, out, OutputChunk{Delta: chunk.Delta, Backend: member.ID}) {
			streamErr = context.Canceled
		}
	})
	if streamErr != nil {
		err = streamErr
	}
	if err != nil {
		if accumulated.Len() > 0 {
			return "", nil, &backend.StreamError{Partial: accumulated.String(), Err: err}
		}
		return "", nil, err
	}

	if vErr := c.validateFinal(accumulated.String(), params); vErr != nil {
		return "", nil, vErr
	}
	return accumulated.String(), usage, nil
}

// validateFinal runs the completeness check on an attempt's
// accumulated output.
func (c *Coordinator) validateFinal(content string, params backend.Params) error {
	if strings.TrimSpace(content) == "" {
		return backend.ErrEmptyResponse
	}
	if params.ExpectToolCall {
		if _, err := model.ParseToolCall(content); err != nil {
			return fmt.Errorf("%w: %v", backend.ErrInvalidToolCall, err)
		}
	}
	return nil
}

// emit delivers a chunk, observing cancellation at the send boundary.
// Returns false if ctx was cancelled before the chunk was accepted.
func (c *Coordinator) emit(ctx context.Context, out chan<- OutputChunk, chunk OutputChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		// The final chunk still goes out so the caller observes the
		// terminal state; the buffered channel makes this non-blocking
		// in practice.
		if chunk.Final {
			select {
			case out <- chunk:
			default:
			}
		}
		return false
	}
}

// backoff sleeps the exponential delay for the given attempt number,
// with jitter. Returns false if ctx was cancelled while waiting.
func (c *Coordinator) backoff(ctx context.Context, attempt int) bool {
	delay := c.cfg.RetryBaseDelay * (1 << (attempt - 1))
	if delay > c.cfg.RetryMaxDelay {
		delay = c.cfg.RetryMaxDelay
	}
	// Up to 50% jitter spreads simultaneous retries.
	delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// recordOutcome feeds the shared health tracker.
func (c *Coordinator) recordOutcome(backendID string, success bool) {
	if c.health == nil {
		return
	}
	if success {
		c.health.RecordSuccess(backendID)
	} else {
		c.health.RecordFailure(backendID)
	}
}
