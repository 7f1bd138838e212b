// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"fmt"
	"log"
	"sync"

	"golang.org/x/time/rate"

	"github.com/jeranaias/conduit/internal/backend"
)

// ============================================================================
// GUARD CONTRACT
// ============================================================================

// Decision is the answer to "may this backend absorb N more tokens".
type Decision struct {
	Allowed bool
	// Reason explains a denial ("rate limit", "token budget").
	Reason string
}

// Allow is the decision every permissive guard returns.
var Allow = Decision{Allowed: true}

// Deny builds a denial with a reason.
func Deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Guard is consulted before each attempt and informed after each
// completed request. Implementations must be safe for concurrent use
// and must not block.
type Guard interface {
	// CheckQuota reports whether the backend may absorb an estimated
	// number of additional tokens right now.
	CheckQuota(backendID string, estimatedTokens int) Decision

	// RecordUsage records actual token consumption after completion.
	RecordUsage(backendID string, usage backend.Usage)
}

// AllowAll is a guard that never denies. Used when quota enforcement
// is disabled in configuration.
type AllowAll struct{}

// CheckQuota implements Guard.
func (AllowAll) CheckQuota(string, int) Decision { return Allow }

// RecordUsage implements Guard.
func (AllowAll) RecordUsage(string, backend.Usage) {}

// ============================================================================
// LIMIT GUARD
// ============================================================================

// Limits is the per-backend quota configuration.
type Limits struct {
	// RequestsPerMinute caps attempt frequency. Zero disables the cap.
	RequestsPerMinute float64
	// Burst is the rate limiter burst size. Defaults to 1 when a rate
	// cap is set.
	Burst int
	// TokenBudget caps cumulative tokens consumed. Zero disables it.
	TokenBudget int
}

type backendQuota struct {
	limiter *rate.Limiter
	budget  int

	mu       sync.Mutex
	consumed int
}

// LimitGuard enforces per-backend request rates and token budgets.
// Backends without configured limits are always allowed.
type LimitGuard struct {
	mu       sync.RWMutex
	backends map[string]*backendQuota
}

// NewLimitGuard creates a guard from per-backend limits.
func NewLimitGuard(limits map[string]Limits) *LimitGuard {
	g := &LimitGuard{backends: make(map[string]*backendQuota, len(limits))}
	for id, l := range limits {
		q := &backendQuota{budget: l.TokenBudget}
		if l.RequestsPerMinute > 0 {
			burst := l.Burst
			if burst <= 0 {
				burst = 1
			}
			q.limiter = rate.NewLimiter(rate.Limit(l.RequestsPerMinute/60.0), burst)
		}
		g.backends[id] = q
	}
	return g
}

// CheckQuota implements Guard. A token-budget check counts the
// estimate optimistically; the authoritative count lands via
// RecordUsage after completion.
func (g *LimitGuard) CheckQuota(backendID string, estimatedTokens int) Decision {
	g.mu.RLock()
	q, ok := g.backends[backendID]
	g.mu.RUnlock()
	if !ok {
		return Allow
	}

	if q.budget > 0 {
		q.mu.Lock()
		over := q.consumed+estimatedTokens > q.budget
		consumed := q.consumed
		q.mu.Unlock()
		if over {
			log.Printf("[quota] %s denied: token budget (%d consumed of %d, +%d estimated)",
				backendID, consumed, q.budget, estimatedTokens)
			return Deny("token budget exhausted for %s", backendID)
		}
	}

	if q.limiter != nil && !q.limiter.Allow() {
		log.Printf("[quota] %s denied: request rate limit", backendID)
		return Deny("request rate limit for %s", backendID)
	}

	return Allow
}

// RecordUsage implements Guard.
func (g *LimitGuard) RecordUsage(backendID string, usage backend.Usage) {
	g.mu.RLock()
	q, ok := g.backends[backendID]
	g.mu.RUnlock()
	if !ok || q.budget <= 0 {
		return
	}
	q.mu.Lock()
	q.consumed += usage.TotalTokens
	q.mu.Unlock()
}

// Consumed returns the tokens recorded against a backend so far.
func (g *LimitGuard) Consumed(backendID string) int {
	g.mu.RLock()
	q, ok := g.backends[backendID]
	g.mu.RUnlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.consumed
}
