// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// HEALTH TRACKING
// =============================================================================

// downThreshold is the decayed failure score at which a backend is
// considered down until a success is observed.
const downThreshold = 3.0

// degradedThreshold is the decayed failure score at which a backend is
// reported degraded.
const degradedThreshold = 1.0

// failureHalfLife is the interval over which a failure score decays to
// half its value, so old failures stop biasing routing.
const failureHalfLife = 5 * time.Minute

// BackendHealth is the observed health record for one backend.
// Values are immutable once published in a snapshot.
type BackendHealth struct {
	// State is derived from the decayed failure score.
	State HealthState
	// FailureScore is the decayed count of recent failures.
	FailureScore float64
	// LastFailure is the time of the most recent recorded failure.
	// Zero if the backend has never failed.
	LastFailure time.Time
	// LastSuccess is the time of the most recent recorded success.
	LastSuccess time.Time
}

// healthSnapshot is the immutable map published to readers.
type healthSnapshot struct {
	backends map[string]BackendHealth
	taken    time.Time
}

// HealthTracker records attempt outcomes and publishes an immutable
// snapshot for lock-free reads. Writes are append-only observations
// (a decaying failure counter), never destructive overwrites, so
// concurrent readers never observe a torn state.
type HealthTracker struct {
	writeMu sync.Mutex
	current atomic.Pointer[healthSnapshot]

	// now is swappable for tests.
	now func() time.Time
}

// NewHealthTracker creates a tracker with an empty snapshot.
func NewHealthTracker() *HealthTracker {
	t := &HealthTracker{now: time.Now}
	t.current.Store(&healthSnapshot{
		backends: map[string]BackendHealth{},
		taken:    t.now(),
	})
	return t
}

// Get returns the health record for a backend. Backends with no
// recorded outcomes are healthy.
func (t *HealthTracker) Get(id string) BackendHealth {
	snap := t.current.Load()
	if h, ok := snap.backends[id]; ok {
		return t.decayed(h)
	}
	return BackendHealth{State: StateHealthy}
}

// State returns the current health state for a backend.
func (t *HealthTracker) State(id string) HealthState {
	return t.Get(id).State
}

// RecordSuccess records a successful attempt outcome. A success resets
// the failure score, so a down backend recovers on its next success.
func (t *HealthTracker) RecordSuccess(id string) {
	t.update(id, func(h BackendHealth) BackendHealth {
		h.FailureScore = 0
		h.LastSuccess = t.now()
		h.State = StateHealthy
		return h
	})
}

// RecordFailure records a failed attempt outcome, bumping the decayed
// failure score and re-deriving the health state.
func (t *HealthTracker) RecordFailure(id string) {
	t.update(id, func(h BackendHealth) BackendHealth {
		h.FailureScore = t.decayScore(h) + 1
		h.LastFailure = t.now()
		h.State = stateForScore(h.FailureScore)
		return h
	})
}

// LeastRecentlyFailed returns the candidate whose most recent failure
// is oldest. Candidates that have never failed win outright. Used as
// the router's last resort when eligibility filtering empties a chain.
func (t *HealthTracker) LeastRecentlyFailed(candidates []Descriptor) (Descriptor, bool) {
	if len(candidates) == 0 {
		return Descriptor{}, false
	}
	snap := t.current.Load()
	best := candidates[0]
	bestFailure := snap.backends[best.ID].LastFailure
	for _, c := range candidates[1:] {
		failure := snap.backends[c.ID].LastFailure
		if failure.Before(bestFailure) {
			best = c
			bestFailure = failure
		}
	}
	return best, true
}

// update applies fn to the backend's record and swaps in a fresh
// snapshot. Copy-on-write keeps reads lock-free.
func (t *HealthTracker) update(id string, fn func(BackendHealth) BackendHealth) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	old := t.current.Load()
	next := make(map[string]BackendHealth, len(old.backends)+1)
	for k, v := range old.backends {
		next[k] = v
	}
	next[id] = fn(next[id])
	t.current.Store(&healthSnapshot{backends: next, taken: t.now()})
}

// decayed returns the record with its failure score decayed to now.
func (t *HealthTracker) decayed(h BackendHealth) BackendHealth {
	h.FailureScore = t.decayScore(h)
	h.State = stateForScore(h.FailureScore)
	if h.LastSuccess.After(h.LastFailure) {
		h.State = StateHealthy
	}
	return h
}

// decayScore halves the failure score once per elapsed half-life.
func (t *HealthTracker) decayScore(h BackendHealth) float64 {
	if h.FailureScore == 0 || h.LastFailure.IsZero() {
		return 0
	}
	elapsed := t.now().Sub(h.LastFailure)
	score := h.FailureScore
	for elapsed >= failureHalfLife && score > 0.01 {
		score /= 2
		elapsed -= failureHalfLife
	}
	return score
}

// stateForScore derives the health state from a decayed score.
func stateForScore(score float64) HealthState {
	switch {
	case score >= downThreshold:
		return StateDown
	case score >= degradedThreshold:
		return StateDegraded
	default:
		return StateHealthy
	}
}
