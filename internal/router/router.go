// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"log"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/model"
)

// ============================================================================
// ROUTER
// ============================================================================

// DefaultHeadroom is the fraction of a backend's context window kept
// free when judging whether a message list fits.
const DefaultHeadroom = 0.20

// roleOrderings maps each task category to its preferred backend role
// order. Architecture work never routes to a resource-constrained
// local backend, even as a fallback target.
var roleOrderings = map[TaskCategory][]backend.BackendRole{
	CategoryArchitecture: {backend.RoleReasoner, backend.RoleCoder},
	CategoryCoding:       {backend.RoleCoder, backend.RoleReasoner, backend.RoleLocal},
	CategoryParsing:      {backend.RoleParser, backend.RoleLocal, backend.RoleCoder},
	CategoryGeneral:      {backend.RoleReasoner, backend.RoleCoder, backend.RoleParser, backend.RoleLocal},
}

// Request carries the per-request inputs to chain selection.
type Request struct {
	// Messages is the bounded message list produced by the context
	// tier manager for this request.
	Messages []model.Message
	// PersonaPreferences is an ordered list of preferred backend IDs.
	// When present it takes precedence over the classified ordering.
	PersonaPreferences []string
	// Excluded holds backend IDs already attempted and failed in this
	// request. Excluded backends are never selected again.
	Excluded map[string]bool
}

// Router computes fallback chains from the registry, current health
// state, and a task classifier.
type Router struct {
	registry   *backend.Registry
	health     *backend.HealthTracker
	classifier Classifier
	headroom   float64
}

// Option configures a Router.
type Option func(*Router)

// WithClassifier replaces the default keyword classifier.
func WithClassifier(c Classifier) Option {
	return func(r *Router) { r.classifier = c }
}

// WithHeadroom sets the context safety margin fraction.
func WithHeadroom(fraction float64) Option {
	return func(r *Router) {
		if fraction > 0 && fraction < 1 {
			r.headroom = fraction
		}
	}
}

// New creates a router over a registry and health tracker.
func New(registry *backend.Registry, health *backend.HealthTracker, opts ...Option) *Router {
	r := &Router{
		registry:   registry,
		health:     health,
		classifier: NewKeywordClassifier(),
		headroom:   DefaultHeadroom,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SelectChain produces the ordered fallback chain for one request.
//
// Ordering: persona preferences first, then the classified category's
// role ordering for members not already included. Eligibility then
// filters (drops, never reorders): excluded backends, backends whose
// last known health is down, and backends whose window cannot hold
// the estimated message tokens with the safety margin. If filtering
// empties the chain, the least-recently-failed non-excluded backend
// is returned as a last resort; the coordinator surfaces total
// failure, not the router.
func (r *Router) SelectChain(req Request) FallbackChain {
	category := r.classifier.Classify(req.Messages)
	ordered := r.orderCandidates(category, req.PersonaPreferences)

	estimated := model.EstimateTokens(req.Messages)
	eligible := make([]backend.Descriptor, 0, len(ordered))
	for _, d := range ordered {
		if req.Excluded[d.ID] {
			continue
		}
		if r.health.State(d.ID) == backend.StateDown {
			continue
		}
		if !r.fits(estimated, d.MaxContextTokens) {
			continue
		}
		eligible = append(eligible, d)
	}

	if len(eligible) > 0 {
		return FallbackChain{Members: eligible, Category: category}
	}

	// Last resort: the least-recently-failed backend that has not
	// already been attempted, even if degraded or tight on context.
	remaining := make([]backend.Descriptor, 0, r.registry.Len())
	for _, d := range r.registry.All() {
		if !req.Excluded[d.ID] {
			remaining = append(remaining, d)
		}
	}
	if last, ok := r.health.LeastRecentlyFailed(remaining); ok {
		log.Printf("[router] no eligible backend for %s task, last resort: %s", category, last.ID)
		return FallbackChain{Members: []backend.Descriptor{last}, Category: category, LastResort: true}
	}
	return FallbackChain{Category: category}
}

// orderCandidates builds the pre-filter candidate order: persona
// preferences (resolved against the registry) followed by the role
// ordering's members not already included.
func (r *Router) orderCandidates(category TaskCategory, prefs []string) []backend.Descriptor {
	seen := make(map[string]bool, r.registry.Len())
	out := make([]backend.Descriptor, 0, r.registry.Len())

	for _, id := range prefs {
		d, ok := r.registry.Get(id)
		if !ok || seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}

	for _, role := range roleOrderings[category] {
		for _, d := range r.registry.All() {
			if d.Role != role || seen[d.ID] {
				continue
			}
			seen[d.ID] = true
			out = append(out, d)
		}
	}
	return out
}

// fits reports whether estimated tokens fit the window with headroom.
func (r *Router) fits(estimated, maxContext int) bool {
	if maxContext <= 0 {
		return false
	}
	budget := int(float64(maxContext) * (1 - r.headroom))
	return estimated <= budget
}
