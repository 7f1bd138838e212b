// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"context"
	"log"
	"sync"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/memory"
	"github.com/jeranaias/conduit/internal/model"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

const (
	// DefaultHeadroom is the fraction of the target window kept free.
	DefaultHeadroom = 0.20
	// DefaultKeepRecent is how many recent session messages survive
	// distillation verbatim for continuity.
	DefaultKeepRecent = 3
	// DefaultMemoryLimit caps injected persistent-tier snippets.
	DefaultMemoryLimit = 3
	// DefaultSessionMaxMessages bounds the session ring by count.
	DefaultSessionMaxMessages = 100
	// DefaultSessionMaxTokens bounds the session ring by estimate.
	DefaultSessionMaxTokens = 48000
)

// Config tunes the tier manager.
type Config struct {
	Headroom           float64
	KeepRecent         int
	MemoryLimit        int
	SessionMaxMessages int
	SessionMaxTokens   int
	// DistillationEnabled gates the delegate call; when false, naive
	// trimming is the only compression.
	DistillationEnabled bool
}

// DefaultConfig returns the standard tier configuration with
// distillation enabled.
func DefaultConfig() Config {
	return Config{
		Headroom:            DefaultHeadroom,
		KeepRecent:          DefaultKeepRecent,
		MemoryLimit:         DefaultMemoryLimit,
		SessionMaxMessages:  DefaultSessionMaxMessages,
		SessionMaxTokens:    DefaultSessionMaxTokens,
		DistillationEnabled: true,
	}
}

func (c *Config) fillDefaults() {
	if c.Headroom <= 0 || c.Headroom >= 1 {
		c.Headroom = DefaultHeadroom
	}
	if c.KeepRecent <= 0 {
		c.KeepRecent = DefaultKeepRecent
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = DefaultMemoryLimit
	}
	if c.SessionMaxMessages <= 0 {
		c.SessionMaxMessages = DefaultSessionMaxMessages
	}
	if c.SessionMaxTokens <= 0 {
		c.SessionMaxTokens = DefaultSessionMaxTokens
	}
}

// =============================================================================
// MANAGER
// =============================================================================

// conversation holds one conversation's canonical history and its
// per-backend session views. The mutex serializes appends and binds
// for this conversation only; unrelated conversations never contend.
type conversation struct {
	mu      sync.Mutex
	history []model.Message
	views   map[string][]model.Message
}

// Manager owns conversation tiers and produces bounded bindings.
type Manager struct {
	cfg       Config
	retriever memory.Retriever
	distiller *Distiller
	// delegateID is the backend the distiller calls through.
	// Distillation is disabled for bindings targeting it, preventing
	// recursive distillation loops.
	delegateID string

	mu            sync.Mutex
	conversations map[string]*conversation
}

// NewManager creates a tier manager. retriever and distiller are both
// optional; a nil distiller disables distillation regardless of config.
func NewManager(cfg Config, retriever memory.Retriever, distiller *Distiller, delegateID string) *Manager {
	cfg.fillDefaults()
	return &Manager{
		cfg:           cfg,
		retriever:     retriever,
		distiller:     distiller,
		delegateID:    delegateID,
		conversations: make(map[string]*conversation),
	}
}

func (m *Manager) conv(id string) *conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		c = &conversation{views: make(map[string][]model.Message)}
		m.conversations[id] = c
	}
	return c
}

// Append commits messages to a conversation after a completed turn.
// The canonical history and every existing backend view grow together;
// session ring limits apply to each.
func (m *Manager) Append(conversationID string, messages ...model.Message) {
	if len(messages) == 0 {
		return
	}
	c := m.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.history = append(c.history, messages...)
	c.history = enforceSessionLimits(c.history, m.cfg.SessionMaxMessages, m.cfg.SessionMaxTokens)
	for id, view := range c.views {
		view = append(view, messages...)
		c.views[id] = enforceSessionLimits(view, m.cfg.SessionMaxMessages, m.cfg.SessionMaxTokens)
	}
}

// History returns a copy of the canonical session history.
func (m *Manager) History(conversationID string) []model.Message {
	c := m.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Message, len(c.history))
	copy(out, c.history)
	return out
}

// Reset drops a conversation's history and all backend views.
func (m *Manager) Reset(conversationID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, conversationID)
}

// Bind produces the ordered message list for one backend invocation:
// persistent-tier retrieval, then the backend's session view, then the
// ephemeral turn. The result is sized for the target's window; when it
// would not fit, the session view is distilled (or trimmed) and the
// compressed view is stored for that backend only — other backends'
// views of the same conversation are untouched.
//
// The ephemeral messages are always included and never cut.
func (m *Manager) Bind(ctx context.Context, conversationID string, ephemeral []model.Message, target backend.Descriptor, taskDescription string) ([]model.Message, error) {
	c := m.conv(conversationID)
	c.mu.Lock()
	defer c.mu.Unlock()

	view, ok := c.views[target.ID]
	if !ok {
		view = make([]model.Message, len(c.history))
		copy(view, c.history)
		c.views[target.ID] = view
	}

	memMsgs := m.retrieveMemory(ctx, ephemeral, taskDescription)
	budget := int(float64(target.MaxContextTokens) * (1 - m.cfg.Headroom))

	assembled := assemble(memMsgs, view, ephemeral)
	if model.EstimateTokens(assembled) <= budget {
		return assembled, nil
	}

	if m.distillationAllowed(target) {
		if newView, ok := m.distillView(ctx, view, taskDescription); ok {
			view = newView
			c.views[target.ID] = view
			assembled = assemble(memMsgs, view, ephemeral)
			if model.EstimateTokens(assembled) <= budget {
				return assembled, nil
			}
		}
	}

	// Naive trimming: oldest session messages go first; the ephemeral
	// tier and memory snippets count as fixed.
	fixed := model.EstimateTokens(memMsgs) + model.EstimateTokens(ephemeral)
	view = trimToBudget(view, fixed, budget)
	c.views[target.ID] = view

	assembled = assemble(memMsgs, view, ephemeral)
	if model.EstimateTokens(assembled) > budget {
		// Session tier is gone and we still do not fit. Shed the
		// memory snippets; the ephemeral turn is never dropped even
		// when it alone exceeds the window.
		assembled = assemble(nil, view, ephemeral)
		log.Printf("[context] conversation %s: ephemeral tier alone near %s window (%d est tokens, budget %d)",
			conversationID, target.ID, model.EstimateTokens(assembled), budget)
	}
	return assembled, nil
}

// distillationAllowed reports whether the target may trigger a
// delegate call.
func (m *Manager) distillationAllowed(target backend.Descriptor) bool {
	return m.distiller != nil &&
		m.cfg.DistillationEnabled &&
		target.ID != m.delegateID
}

// distillView compresses everything but the most recent KeepRecent
// messages into a single synthetic summary message.
func (m *Manager) distillView(ctx context.Context, view []model.Message, taskDescription string) ([]model.Message, bool) {
	if len(view) <= m.cfg.KeepRecent {
		return nil, false
	}
	keep := view[len(view)-m.cfg.KeepRecent:]
	older := view[:len(view)-m.cfg.KeepRecent]

	result, err := m.distiller.Distill(ctx, older, taskDescription)
	if err != nil {
		log.Printf("[context] distillation failed, falling back to trim: %v", err)
		return nil, false
	}
	log.Printf("[context] distilled %d messages to ~%d tokens",
		result.SourceMessageCount, result.ApproxTokenCount)

	newView := make([]model.Message, 0, 1+len(keep))
	newView = append(newView, result.Message)
	newView = append(newView, keep...)
	return newView, true
}

// retrieveMemory queries the persistent tier and wraps results as
// synthetic system messages. Retrieval failures degrade to no
// injection rather than failing the bind.
func (m *Manager) retrieveMemory(ctx context.Context, ephemeral []model.Message, taskDescription string) []model.Message {
	if m.retriever == nil {
		return nil
	}
	query := taskDescription
	if query == "" {
		query = model.LatestUserContent(ephemeral)
	}
	if query == "" {
		return nil
	}
	snippets, err := m.retriever.Retrieve(ctx, query, m.cfg.MemoryLimit)
	if err != nil {
		log.Printf("[context] memory retrieval failed: %v", err)
		return nil
	}
	msgs := make([]model.Message, 0, len(snippets))
	for _, s := range snippets {
		msgs = append(msgs, model.NewSystemMessage("[Memory] "+s.Text))
	}
	return msgs
}

// assemble concatenates the three tiers in order.
func assemble(memMsgs, session, ephemeral []model.Message) []model.Message {
	out := make([]model.Message, 0, len(memMsgs)+len(session)+len(ephemeral))
	out = append(out, memMsgs...)
	out = append(out, session...)
	out = append(out, ephemeral...)
	return out
}
