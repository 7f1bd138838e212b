// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/stream"
)

func newTestTracker(t *testing.T) *UsageTracker {
	t.Helper()
	tracker, err := NewUsageTracker(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return tracker
}

func TestTrackerObserveAttempt(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.ObserveAttempt(stream.CallAttempt{Backend: "a", Number: 1, Duration: time.Second, Outcome: stream.StateFailed, Err: errors.New("boom")})
	tracker.ObserveAttempt(stream.CallAttempt{Backend: "a", Number: 2, Duration: time.Second, Outcome: stream.StateDone})
	tracker.ObserveAttempt(stream.CallAttempt{Backend: "b", Number: 1, Outcome: stream.StateCancelled, Err: errors.New("context canceled")})

	snap := tracker.Snapshot()
	a := snap.Backends["a"]
	if a.Attempts != 2 || a.Failures != 1 || a.Retries != 1 {
		t.Errorf("a stats = %+v", a)
	}
	// Cancellation is not a failure.
	b := snap.Backends["b"]
	if b.Failures != 0 {
		t.Errorf("cancelled attempt counted as failure: %+v", b)
	}
}

func TestTrackerRecordRequest(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.RecordRequest("a", &backend.Usage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150}, false)
	tracker.RecordRequest("b", nil, true)

	snap := tracker.Snapshot()
	if snap.Requests != 2 || snap.Fallbacks != 1 {
		t.Errorf("requests=%d fallbacks=%d", snap.Requests, snap.Fallbacks)
	}
	if snap.Backends["a"].PromptTokens != 100 {
		t.Errorf("prompt tokens = %d", snap.Backends["a"].PromptTokens)
	}
}

func TestTrackerFlushPersistsAndResets(t *testing.T) {
	dir := t.TempDir()
	tracker, err := NewUsageTracker(dir)
	if err != nil {
		t.Fatal(err)
	}

	tracker.RecordRequest("a", &backend.Usage{TotalTokens: 10}, false)
	flushedID := tracker.Snapshot().ID
	if err := tracker.Flush(); err != nil {
		t.Fatal(err)
	}

	if tracker.Snapshot().Requests != 0 {
		t.Error("flush did not reset the session")
	}

	storage, err := NewUsageStorage(dir)
	if err != nil {
		t.Fatal(err)
	}
	ids, err := storage.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != flushedID {
		t.Errorf("stored ids = %v, want [%s]", ids, flushedID)
	}

	loaded, err := storage.Load(flushedID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Requests != 1 {
		t.Errorf("loaded requests = %d, want 1", loaded.Requests)
	}
}
