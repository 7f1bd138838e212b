// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/backend/ollama"
	"github.com/jeranaias/conduit/internal/backend/openrouter"
	"github.com/jeranaias/conduit/internal/config"
	convctx "github.com/jeranaias/conduit/internal/context"
	"github.com/jeranaias/conduit/internal/memory"
	"github.com/jeranaias/conduit/internal/model"
	"github.com/jeranaias/conduit/internal/persona"
	"github.com/jeranaias/conduit/internal/quota"
	"github.com/jeranaias/conduit/internal/router"
	"github.com/jeranaias/conduit/internal/stream"
	"github.com/jeranaias/conduit/internal/telemetry"
)

// =============================================================================
// REQUEST / RESULT
// =============================================================================

// Request is one caller turn.
type Request struct {
	// ConversationID scopes session history. Empty uses the default
	// conversation.
	ConversationID string
	// Prompt is the user's input for this turn.
	Prompt string
	// Persona selects the persona by name; empty uses the active one.
	Persona string
	// ExpectToolCall requires the final output to parse as a tool
	// invocation.
	ExpectToolCall bool
}

// Result is the terminal outcome of a completed (non-streaming) turn.
type Result struct {
	RequestID string
	Content   string
	Backend   string
	Usage     *backend.Usage
}

const defaultConversation = "default"

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator wires the subsystems behind a single Chat/Stream API.
type Orchestrator struct {
	cfg         *config.Config
	registry    *backend.Registry
	health      *backend.HealthTracker
	router      *router.Router
	coordinator *stream.Coordinator
	contexts    *convctx.Manager
	personas    *persona.Manager
	usage       *telemetry.UsageTracker
	store       *memory.Store
}

// New builds an orchestrator from configuration. Memory and usage
// persistence degrade to disabled on initialization failure; a config
// with no usable backends is an error.
func New(cfg *config.Config) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}
	health := backend.NewHealthTracker()

	o := &Orchestrator{
		cfg:      cfg,
		registry: registry,
		health:   health,
		router:   router.New(registry, health, router.WithHeadroom(cfg.Routing.Headroom)),
		personas: persona.NewManager(),
	}

	var retriever memory.Retriever
	if cfg.Memory.Enabled {
		if store, err := openMemory(cfg); err != nil {
			log.Printf("[orchestrator] memory disabled: %v", err)
		} else {
			o.store = store
			retriever = store
		}
	}

	var distiller *convctx.Distiller
	delegateID := cfg.Context.DelegateBackend
	if cfg.Context.DistillationEnabled && delegateID != "" {
		if d, ok := registry.Get(delegateID); ok {
			distiller = convctx.NewDistiller(d.Adapter, cfg.Context.DelegateModel, 0)
		}
	}
	o.contexts = convctx.NewManager(convctx.Config{
		Headroom:            cfg.Routing.Headroom,
		KeepRecent:          cfg.Context.KeepRecent,
		MemoryLimit:         cfg.Memory.RetrieveLimit,
		SessionMaxMessages:  cfg.Context.SessionMaxMessages,
		SessionMaxTokens:    cfg.Context.SessionMaxTokens,
		DistillationEnabled: cfg.Context.DistillationEnabled,
	}, retriever, distiller, delegateID)

	if tracker, err := telemetry.NewUsageTracker(""); err != nil {
		log.Printf("[orchestrator] usage tracking disabled: %v", err)
	} else {
		o.usage = tracker
	}

	streamCfg := stream.Config{
		MaxAttempts:     cfg.Routing.MaxAttempts,
		RetryBaseDelay:  time.Duration(cfg.Routing.RetryBaseDelayMS) * time.Millisecond,
		RetryMaxDelay:   time.Duration(cfg.Routing.RetryMaxDelayMS) * time.Millisecond,
		AttemptTimeout:  time.Duration(cfg.Routing.AttemptTimeoutSecs) * time.Second,
		AttemptTimeouts: attemptTimeouts(cfg),
	}
	if o.usage != nil {
		streamCfg.Observer = o.usage.ObserveAttempt
	}
	o.coordinator = stream.NewCoordinator(buildGuard(cfg), health, streamCfg)

	return o, nil
}

// buildRegistry constructs adapters for every configured backend.
func buildRegistry(cfg *config.Config) (*backend.Registry, error) {
	descriptors := make([]backend.Descriptor, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		var adapter backend.Adapter
		switch b.Kind {
		case "openrouter":
			client := openrouter.New(b.ID, b.APIKey).
				WithBaseURL(b.BaseURL).
				WithModel(b.Model)
			log.Printf("[orchestrator] backend %s: key fingerprint=%s", b.ID, client.KeyFingerprint())
			adapter = client
		case "ollama":
			adapter = ollama.New(b.ID, b.BaseURL).
				WithModel(b.Model).
				WithContextTokens(b.MaxContextTokens)
		default:
			return nil, fmt.Errorf("backend %q: unknown kind %q", b.ID, b.Kind)
		}
		descriptors = append(descriptors, backend.Descriptor{
			ID:                b.ID,
			Adapter:           adapter,
			Role:              backend.BackendRole(b.Role),
			MaxContextTokens:  b.MaxContextTokens,
			SupportsStreaming: true,
			SupportsTools:     b.SupportsTools,
		})
	}
	return backend.NewRegistry(descriptors...), nil
}

func openMemory(cfg *config.Config) (*memory.Store, error) {
	path := cfg.Memory.Path
	if path == "" {
		dir, err := config.Dir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "memory.db")
	}
	return memory.Open(path)
}

func buildGuard(cfg *config.Config) quota.Guard {
	if len(cfg.Quota) == 0 {
		return nil
	}
	limits := make(map[string]quota.Limits, len(cfg.Quota))
	for id, q := range cfg.Quota {
		limits[id] = quota.Limits{
			RequestsPerMinute: q.RequestsPerMinute,
			Burst:             q.Burst,
			TokenBudget:       q.TokenBudget,
		}
	}
	return quota.NewLimitGuard(limits)
}

func attemptTimeouts(cfg *config.Config) map[string]time.Duration {
	var out map[string]time.Duration
	for _, b := range cfg.Backends {
		if b.AttemptTimeoutSecs <= 0 {
			continue
		}
		if out == nil {
			out = make(map[string]time.Duration)
		}
		out[b.ID] = b.AttemptTimeout()
	}
	return out
}

// =============================================================================
// TURN EXECUTION
// =============================================================================

// Stream runs one turn and returns the unified chunk stream. The
// channel closes after the final chunk. On success the completed turn
// is committed to the conversation before the final chunk is
// delivered, so a follow-up turn always sees it.
func (o *Orchestrator) Stream(ctx context.Context, req Request) (<-chan stream.OutputChunk, error) {
	_, chunks, err := o.execute(ctx, req)
	return chunks, err
}

func (o *Orchestrator) execute(ctx context.Context, req Request) (string, <-chan stream.OutputChunk, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", nil, fmt.Errorf("empty prompt")
	}
	convID := req.ConversationID
	if convID == "" {
		convID = defaultConversation
	}
	requestID := uuid.NewString()

	p, err := o.personas.Get(req.Persona)
	if err != nil {
		return "", nil, err
	}

	userMsg := model.NewUserMessage(req.Prompt)
	ephemeral := make([]model.Message, 0, 2)
	if p.SystemPrompt != "" {
		ephemeral = append(ephemeral, model.NewSystemMessage(p.SystemPrompt))
	}
	ephemeral = append(ephemeral, userMsg)

	// Chain selection sees the unbounded history plus the new turn; the
	// bind below sizes the actual payload for the chosen primary.
	prelim := append(o.contexts.History(convID), ephemeral...)
	chain := o.router.SelectChain(router.Request{
		Messages:           prelim,
		PersonaPreferences: p.PreferredBackends,
	})
	log.Printf("[orchestrator] request %s: %s task -> chain %s", requestID, chain.Category, chain)

	messages := ephemeral
	if !chain.Empty() {
		messages, err = o.contexts.Bind(ctx, convID, ephemeral, chain.Members[0], "")
		if err != nil {
			return "", nil, fmt.Errorf("bind context: %w", err)
		}
	}

	params := backend.Params{
		Temperature:    p.Temperature,
		MaxTokens:      p.MaxTokens,
		ExpectToolCall: req.ExpectToolCall,
	}

	inner := o.coordinator.Execute(ctx, chain, messages, params)
	out := make(chan stream.OutputChunk, 1)
	go o.relay(ctx, convID, requestID, userMsg, chain, inner, out)
	return requestID, out, nil
}

// relay forwards coordinator chunks to the caller, committing the
// completed turn and recording usage when the final chunk is a
// success. The commit uses the final chunk's Content, not the relayed
// deltas: deltas may include output from attempts that failed
// mid-stream and were retried. Sends race ctx so a caller that cancels
// and stops draining does not strand the goroutine.
func (o *Orchestrator) relay(ctx context.Context, convID, requestID string, userMsg model.Message, chain router.FallbackChain, inner <-chan stream.OutputChunk, out chan<- stream.OutputChunk) {
	defer close(out)

	primary := ""
	if !chain.Empty() {
		primary = chain.Members[0].ID
	}

	for chunk := range inner {
		if chunk.Final {
			if chunk.Err == nil {
				o.contexts.Append(convID, userMsg, model.NewAssistantMessage(chunk.Content))
				if o.usage != nil {
					o.usage.RecordRequest(chunk.Backend, chunk.Usage, chunk.Backend != primary)
				}
				log.Printf("[orchestrator] request %s: done via %s (%d chars)",
					requestID, chunk.Backend, len(chunk.Content))
			} else if !chunk.Cancelled() {
				log.Printf("[orchestrator] request %s: failed: %v", requestID, chunk.Err)
			}
		}

		select {
		case out <- chunk:
		case <-ctx.Done():
			for range inner {
			}
			return
		}
	}
}

// Chat runs one turn to completion and returns the assembled result.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Result, error) {
	requestID, chunks, err := o.execute(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &Result{RequestID: requestID}
	sawFinal := false
	for chunk := range chunks {
		if !chunk.Final {
			continue
		}
		if chunk.Err != nil {
			return nil, chunk.Err
		}
		sawFinal = true
		result.Content = chunk.Content
		result.Backend = chunk.Backend
		result.Usage = chunk.Usage
	}
	// The relay stops forwarding once ctx is cancelled; a stream that
	// closed without a final chunk is a cancellation, not a result.
	if !sawFinal {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// =============================================================================
// SUPPORTING OPERATIONS
// =============================================================================

// Personas exposes the persona manager.
func (o *Orchestrator) Personas() *persona.Manager { return o.personas }

// Backends returns the configured backend descriptors.
func (o *Orchestrator) Backends() []backend.Descriptor { return o.registry.All() }

// Health returns the tracked health state for one backend.
func (o *Orchestrator) Health(backendID string) backend.HealthState {
	return o.health.State(backendID)
}

// Remember stores a fact in the persistent tier.
func (o *Orchestrator) Remember(ctx context.Context, text string) error {
	if o.store == nil {
		return fmt.Errorf("memory is disabled")
	}
	return o.store.Remember(ctx, text)
}

// History returns the canonical session history for a conversation.
func (o *Orchestrator) History(conversationID string) []model.Message {
	if conversationID == "" {
		conversationID = defaultConversation
	}
	return o.contexts.History(conversationID)
}

// Reset clears a conversation's session tier.
func (o *Orchestrator) Reset(conversationID string) {
	if conversationID == "" {
		conversationID = defaultConversation
	}
	o.contexts.Reset(conversationID)
}

// UsageSnapshot returns the current session's usage record, when usage
// tracking is active.
func (o *Orchestrator) UsageSnapshot() (telemetry.SessionUsage, bool) {
	if o.usage == nil {
		return telemetry.SessionUsage{}, false
	}
	return o.usage.Snapshot(), true
}

// Close flushes usage and releases the memory store.
func (o *Orchestrator) Close() error {
	var firstErr error
	if o.usage != nil {
		if err := o.usage.Flush(); err != nil {
			firstErr = err
		}
	}
	if o.store != nil {
		if err := o.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
