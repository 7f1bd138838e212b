// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/stream"
)

// =============================================================================
// USAGE TRACKER
// =============================================================================

// sessionIDCounter ensures unique session IDs even when created rapidly.
var sessionIDCounter uint64

// BackendStats aggregates one backend's activity within a session.
type BackendStats struct {
	Attempts         int           `json:"attempts"`
	Failures         int           `json:"failures"`
	Retries          int           `json:"retries"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	TotalDuration    time.Duration `json:"total_duration"`
}

// SessionUsage is one session's aggregated record.
type SessionUsage struct {
	ID        string                   `json:"id"`
	StartTime time.Time                `json:"start_time"`
	EndTime   time.Time                `json:"end_time"`
	Requests  int                      `json:"requests"`
	Fallbacks int                      `json:"fallbacks"`
	Backends  map[string]*BackendStats `json:"backends"`
}

// UsageTracker aggregates attempt and usage records per session.
// Safe for concurrent use.
type UsageTracker struct {
	mu      sync.RWMutex
	current *SessionUsage
	storage *UsageStorage
}

// NewUsageTracker creates a tracker persisting to dir. An empty dir
// uses the default under the user's home.
func NewUsageTracker(dir string) (*UsageTracker, error) {
	storage, err := NewUsageStorage(dir)
	if err != nil {
		return nil, err
	}
	return &UsageTracker{
		current: newSession(),
		storage: storage,
	}, nil
}

func newSession() *SessionUsage {
	return &SessionUsage{
		ID:        generateSessionID(),
		StartTime: time.Now(),
		Backends:  make(map[string]*BackendStats),
	}
}

// generateSessionID creates a unique timestamped session ID.
func generateSessionID() string {
	n := atomic.AddUint64(&sessionIDCounter, 1)
	return fmt.Sprintf("session_%s_%d", time.Now().Format("20060102_150405"), n)
}

func (t *UsageTracker) stats(backendID string) *BackendStats {
	s, ok := t.current.Backends[backendID]
	if !ok {
		s = &BackendStats{}
		t.current.Backends[backendID] = s
	}
	return s
}

// ObserveAttempt implements the coordinator's attempt observer.
func (t *UsageTracker) ObserveAttempt(att stream.CallAttempt) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stats(att.Backend)
	s.Attempts++
	s.TotalDuration += att.Duration
	if att.Err != nil && att.Outcome != stream.StateCancelled {
		s.Failures++
	}
	if att.Number > 1 {
		s.Retries++
	}
}

// RecordRequest records a completed request's token usage against the
// backend that served it.
func (t *UsageTracker) RecordRequest(backendID string, usage *backend.Usage, fellBack bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current.Requests++
	if fellBack {
		t.current.Fallbacks++
	}
	if usage != nil {
		s := t.stats(backendID)
		s.PromptTokens += usage.PromptTokens
		s.CompletionTokens += usage.CompletionTokens
	}
}

// Snapshot returns a copy of the current session record.
func (t *UsageTracker) Snapshot() SessionUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := *t.current
	out.Backends = make(map[string]*BackendStats, len(t.current.Backends))
	for id, s := range t.current.Backends {
		copied := *s
		out.Backends[id] = &copied
	}
	return out
}

// Flush persists the current session and starts a fresh one.
func (t *UsageTracker) Flush() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current.EndTime = time.Now()
	if err := t.storage.Save(t.current); err != nil {
		return err
	}
	t.current = newSession()
	return nil
}
