// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/model"
	"github.com/jeranaias/conduit/internal/quota"
	"github.com/jeranaias/conduit/internal/router"
)

// scriptedAdapter plays back one scripted outcome per Stream call.
type scriptedAdapter struct {
	id string

	mu     sync.Mutex
	calls  int
	script []func(ctx context.Context, fn backend.StreamFunc) error
}

func (a *scriptedAdapter) ID() string { return a.id }

func (a *scriptedAdapter) Chat(ctx context.Context, _ []model.Message, _ backend.Params) (*backend.Response, error) {
	return nil, errors.New("not scripted")
}

func (a *scriptedAdapter) Stream(ctx context.Context, _ []model.Message, _ backend.Params, fn backend.StreamFunc) error {
	a.mu.Lock()
	call := a.calls
	a.calls++
	a.mu.Unlock()
	if call >= len(a.script) {
		return errors.New("script exhausted")
	}
	return a.script[call](ctx, fn)
}

func (a *scriptedAdapter) ListModels(context.Context) ([]backend.ModelInfo, error) {
	return nil, nil
}

func (a *scriptedAdapter) CheckHealth(context.Context) (backend.HealthState, error) {
	return backend.StateHealthy, nil
}

func (a *scriptedAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// ok is a scripted success streaming the given text in two chunks.
func ok(text string) func(context.Context, backend.StreamFunc) error {
	return func(_ context.Context, fn backend.StreamFunc) error {
		half := len(text) / 2
		fn(backend.Chunk{Delta: text[:half]})
		fn(backend.Chunk{Delta: text[half:]})
		fn(backend.Chunk{Done: true, Usage: &backend.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}})
		return nil
	}
}

// fail is a scripted immediate failure.
func fail(err error) func(context.Context, backend.StreamFunc) error {
	return func(context.Context, backend.StreamFunc) error {
		return err
	}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	return cfg
}

func chainOf(adapters ...*scriptedAdapter) router.FallbackChain {
	members := make([]backend.Descriptor, len(adapters))
	for i, a := range adapters {
		members[i] = backend.Descriptor{ID: a.id, Adapter: a, MaxContextTokens: 100000, SupportsStreaming: true}
	}
	return router.FallbackChain{Members: members}
}

// collect drains the stream, returning content chunks and the final chunk.
func collect(t *testing.T, out <-chan OutputChunk) (string, OutputChunk) {
	t.Helper()
	var sb strings.Builder
	var final OutputChunk
	sawFinal := false
	for chunk := range out {
		if chunk.Final {
			final = chunk
			sawFinal = true
			continue
		}
		sb.WriteString(chunk.Delta)
	}
	if !sawFinal {
		t.Fatal("stream closed without a final chunk")
	}
	return sb.String(), final
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	rateLimited := &backend.ProviderError{Backend: "a", Status: 429, Message: "slow down"}
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{
		fail(rateLimited),
		fail(rateLimited),
		ok("hello world"),
	}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("never")}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	content, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), nil, backend.Params{}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	if content != "hello world" {
		t.Errorf("content = %q, want %q", content, "hello world")
	}
	if final.Content != "hello world" {
		t.Errorf("final content = %q, want %q", final.Content, "hello world")
	}
	if a.callCount() != 3 {
		t.Errorf("attempts on a = %d, want 3", a.callCount())
	}
	if b.callCount() != 0 {
		t.Errorf("b was contacted %d times, want 0", b.callCount())
	}
	if final.Usage == nil || final.Usage.TotalTokens != 15 {
		t.Errorf("usage not forwarded on final chunk: %+v", final.Usage)
	}
}

func TestExecuteAuthFailureFallsBackImmediately(t *testing.T) {
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{
		fail(&backend.ProviderError{Backend: "a", Status: 401, Message: "bad key"}),
	}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("from b")}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	content, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), nil, backend.Params{}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	if content != "from b" {
		t.Errorf("content = %q, want %q", content, "from b")
	}
	if a.callCount() != 1 {
		t.Errorf("attempts on a = %d, want 1 (no retries on auth failure)", a.callCount())
	}
	if final.Backend != "b" {
		t.Errorf("final backend = %s, want b", final.Backend)
	}
}

func TestExecuteRetryCeilingThenFallback(t *testing.T) {
	timeout := fail(backend.ErrTimeout)
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{timeout, timeout, timeout, timeout}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("rescued")}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	content, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), nil, backend.Params{}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	if a.callCount() != DefaultMaxAttempts {
		t.Errorf("attempts on a = %d, want %d", a.callCount(), DefaultMaxAttempts)
	}
	if content != "rescued" {
		t.Errorf("content = %q, want %q", content, "rescued")
	}
}

func TestExecuteChainExhausted(t *testing.T) {
	authErr := &backend.ProviderError{Backend: "x", Status: 403}
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{fail(authErr)}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{fail(authErr)}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	_, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), nil, backend.Params{}))

	var exhausted *backend.ChainExhaustedError
	if !errors.As(final.Err, &exhausted) {
		t.Fatalf("final error = %v, want ChainExhaustedError", final.Err)
	}
	if len(exhausted.Attempted) != 2 {
		t.Errorf("attempted = %v, want 2 backends", exhausted.Attempted)
	}
}

func TestExecuteFatalShortCircuits(t *testing.T) {
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{
		fail(&backend.ProviderError{Backend: "a", Status: 400, Message: "bad request"}),
	}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("never")}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	_, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), nil, backend.Params{}))

	if final.Err == nil {
		t.Fatal("expected fatal error surfaced")
	}
	if b.callCount() != 0 {
		t.Error("fatal error must not consume remaining chain members")
	}
	var exhausted *backend.ChainExhaustedError
	if errors.As(final.Err, &exhausted) {
		t.Error("fatal error should surface directly, not as chain exhaustion")
	}
}

func TestExecuteCancellationMidStream(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	streaming := make(chan struct{})
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{
		func(ctx context.Context, fn backend.StreamFunc) error {
			fn(backend.Chunk{Delta: "partial "})
			close(streaming)
			<-ctx.Done()
			return ctx.Err()
		},
	}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("never")}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	out := coord.Execute(ctx, chainOf(a, b), nil, backend.Params{})

	<-streaming
	cancel()

	_, final := collect(t, out)
	if !final.Cancelled() {
		t.Errorf("final error = %v, want cancellation", final.Err)
	}
	if b.callCount() != 0 {
		t.Error("cancellation must not trigger fallback")
	}
}

func TestExecuteFinalContentSkipsFailedAttemptOutput(t *testing.T) {
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{
		func(_ context.Context, fn backend.StreamFunc) error {
			fn(backend.Chunk{Delta: "half an ans"})
			return &backend.ProviderError{Backend: "a", Status: 503, Message: "connection reset"}
		},
		ok("fresh answer"),
	}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	relayed, final := collect(t, coord.Execute(context.Background(), chainOf(a), nil, backend.Params{}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	// Deltas already delivered from the failed attempt stay delivered;
	// the final chunk's Content carries only the attempt that completed.
	if relayed != "half an ansfresh answer" {
		t.Errorf("relayed deltas = %q", relayed)
	}
	if final.Content != "fresh answer" {
		t.Errorf("final content = %q, want %q", final.Content, "fresh answer")
	}
}

// meteredGuard admits a fixed number of checks against one backend and
// denies it afterwards; every other backend is always allowed.
type meteredGuard struct {
	target string
	allow  int

	mu     sync.Mutex
	checks int
}

func (g *meteredGuard) CheckQuota(backendID string, _ int) quota.Decision {
	if backendID != g.target {
		return quota.Allow
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks++
	if g.checks <= g.allow {
		return quota.Allow
	}
	return quota.Deny("request rate limit for %s", backendID)
}

func (g *meteredGuard) RecordUsage(string, backend.Usage) {}

func TestExecuteQuotaRecheckedBeforeEachAttempt(t *testing.T) {
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{
		fail(backend.ErrTimeout),
		ok("never"),
	}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("from b")}}

	// a's quota admits exactly one attempt. The timeout would normally
	// retry on a; the denial on the retry's check must fall back instead.
	guard := &meteredGuard{target: "a", allow: 1}

	coord := NewCoordinator(guard, backend.NewHealthTracker(), fastConfig())
	content, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), nil, backend.Params{}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	if a.callCount() != 1 {
		t.Errorf("attempts on a = %d, want 1 (quota denied the retry)", a.callCount())
	}
	if content != "from b" {
		t.Errorf("content = %q, want %q", content, "from b")
	}
	if final.Backend != "b" {
		t.Errorf("final backend = %s, want b", final.Backend)
	}
}

func TestExecuteQuotaDenyFallsBackWithoutRetry(t *testing.T) {
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{ok("never")}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("from b")}}

	// Backend a has an exhausted token budget; b is unlimited.
	guard := quota.NewLimitGuard(map[string]quota.Limits{"a": {TokenBudget: 1}})
	guard.RecordUsage("a", backend.Usage{TotalTokens: 10})

	coord := NewCoordinator(guard, backend.NewHealthTracker(), fastConfig())
	msgs := []model.Message{model.NewUserMessage("a question long enough to estimate tokens")}
	content, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), msgs, backend.Params{}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	if a.callCount() != 0 {
		t.Errorf("quota-denied backend was attempted %d times, want 0", a.callCount())
	}
	if content != "from b" {
		t.Errorf("content = %q, want %q", content, "from b")
	}
}

func TestExecuteValidationRetriedOnce(t *testing.T) {
	empty := func(_ context.Context, fn backend.StreamFunc) error {
		fn(backend.Chunk{Done: true})
		return nil
	}
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{empty, empty, empty}}
	b := &scriptedAdapter{id: "b", script: []func(context.Context, backend.StreamFunc) error{ok("valid")}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	content, final := collect(t, coord.Execute(context.Background(), chainOf(a, b), nil, backend.Params{}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	if a.callCount() != 2 {
		t.Errorf("attempts on a = %d, want 2 (one validation retry)", a.callCount())
	}
	if content != "valid" {
		t.Errorf("content = %q, want %q", content, "valid")
	}
}

func TestExecuteToolCallValidation(t *testing.T) {
	prose := func(_ context.Context, fn backend.StreamFunc) error {
		fn(backend.Chunk{Delta: "sure, I will call the tool for you"})
		fn(backend.Chunk{Done: true})
		return nil
	}
	toolJSON := func(_ context.Context, fn backend.StreamFunc) error {
		fn(backend.Chunk{Delta: `{"name": "read_file", "arguments": {"path": "go.mod"}}`})
		fn(backend.Chunk{Done: true})
		return nil
	}
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{prose, toolJSON}}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	_, final := collect(t, coord.Execute(context.Background(), chainOf(a), nil, backend.Params{ExpectToolCall: true}))

	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}
	if a.callCount() != 2 {
		t.Errorf("attempts = %d, want 2 (prose rejected, JSON accepted)", a.callCount())
	}
}

func TestExecuteEmptyChain(t *testing.T) {
	coord := NewCoordinator(nil, backend.NewHealthTracker(), fastConfig())
	_, final := collect(t, coord.Execute(context.Background(), router.FallbackChain{}, nil, backend.Params{}))

	if !errors.Is(final.Err, ErrEmptyChain) {
		t.Errorf("final error = %v, want ErrEmptyChain", final.Err)
	}
}

func TestExecuteObserverReceivesAttempts(t *testing.T) {
	a := &scriptedAdapter{id: "a", script: []func(context.Context, backend.StreamFunc) error{
		fail(backend.ErrTimeout),
		ok("done"),
	}}

	var mu sync.Mutex
	var attempts []CallAttempt
	cfg := fastConfig()
	cfg.Observer = func(att CallAttempt) {
		mu.Lock()
		attempts = append(attempts, att)
		mu.Unlock()
	}

	coord := NewCoordinator(nil, backend.NewHealthTracker(), cfg)
	_, final := collect(t, coord.Execute(context.Background(), chainOf(a), nil, backend.Params{}))
	if final.Err != nil {
		t.Fatalf("final error: %v", final.Err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(attempts) != 2 {
		t.Fatalf("observed %d attempts, want 2", len(attempts))
	}
	if attempts[0].Outcome != StateFailed || attempts[1].Outcome != StateDone {
		t.Errorf("outcomes = %v, %v", attempts[0].Outcome, attempts[1].Outcome)
	}
	if attempts[1].Number != 2 {
		t.Errorf("second attempt number = %d, want 2", attempts[1].Number)
	}
}
