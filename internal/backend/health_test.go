// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"sync"
	"testing"
	"time"
)

func TestHealthTrackerUnknownBackendIsHealthy(t *testing.T) {
	tracker := NewHealthTracker()
	if got := tracker.State("never-seen"); got != StateHealthy {
		t.Errorf("State(unknown) = %v, want %v", got, StateHealthy)
	}
}

func TestHealthTrackerFailureProgression(t *testing.T) {
	tracker := NewHealthTracker()

	tracker.RecordFailure("b")
	if got := tracker.State("b"); got != StateDegraded {
		t.Errorf("after 1 failure: %v, want %v", got, StateDegraded)
	}

	tracker.RecordFailure("b")
	tracker.RecordFailure("b")
	if got := tracker.State("b"); got != StateDown {
		t.Errorf("after 3 failures: %v, want %v", got, StateDown)
	}

	// A single success recovers the backend.
	tracker.RecordSuccess("b")
	if got := tracker.State("b"); got != StateHealthy {
		t.Errorf("after success: %v, want %v", got, StateHealthy)
	}
}

func TestHealthTrackerFailureScoreDecays(t *testing.T) {
	now := time.Now()
	tracker := NewHealthTracker()
	tracker.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		tracker.RecordFailure("b")
	}
	if got := tracker.State("b"); got != StateDown {
		t.Fatalf("state = %v, want %v", got, StateDown)
	}

	// Two half-lives later the score has decayed from 3 to 0.75.
	now = now.Add(2 * failureHalfLife)
	if got := tracker.State("b"); got != StateHealthy {
		t.Errorf("after decay: %v, want %v", got, StateHealthy)
	}
}

func TestHealthTrackerLeastRecentlyFailed(t *testing.T) {
	now := time.Now()
	tracker := NewHealthTracker()
	tracker.now = func() time.Time { return now }

	candidates := []Descriptor{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	tracker.RecordFailure("a")
	now = now.Add(time.Minute)
	tracker.RecordFailure("c")

	// b never failed, so its zero LastFailure wins.
	got, ok := tracker.LeastRecentlyFailed(candidates)
	if !ok || got.ID != "b" {
		t.Errorf("LeastRecentlyFailed = %v/%v, want b", got.ID, ok)
	}

	now = now.Add(time.Minute)
	tracker.RecordFailure("b")
	// Now a's failure is oldest.
	got, ok = tracker.LeastRecentlyFailed(candidates)
	if !ok || got.ID != "a" {
		t.Errorf("LeastRecentlyFailed = %v/%v, want a", got.ID, ok)
	}

	if _, ok := tracker.LeastRecentlyFailed(nil); ok {
		t.Error("expected ok=false for empty candidates")
	}
}

// TestHealthTrackerConcurrentAccess exercises the copy-on-write path
// under the race detector.
func TestHealthTrackerConcurrentAccess(t *testing.T) {
	tracker := NewHealthTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if j%2 == 0 {
					tracker.RecordFailure("shared")
				} else {
					tracker.RecordSuccess("shared")
				}
				_ = tracker.State("shared")
			}
		}(i)
	}
	wg.Wait()
}
