// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package quota

import (
	"testing"

	"github.com/jeranaias/conduit/internal/backend"
)

func TestLimitGuardUnconfiguredBackendAllowed(t *testing.T) {
	g := NewLimitGuard(nil)
	if d := g.CheckQuota("anything", 1000000); !d.Allowed {
		t.Errorf("expected allow for unconfigured backend, got deny: %s", d.Reason)
	}
}

func TestLimitGuardTokenBudget(t *testing.T) {
	g := NewLimitGuard(map[string]Limits{
		"b": {TokenBudget: 1000},
	})

	if d := g.CheckQuota("b", 500); !d.Allowed {
		t.Fatalf("expected allow under budget, got: %s", d.Reason)
	}

	g.RecordUsage("b", backend.Usage{TotalTokens: 900})
	if got := g.Consumed("b"); got != 900 {
		t.Errorf("Consumed = %d, want 900", got)
	}

	if d := g.CheckQuota("b", 500); d.Allowed {
		t.Error("expected deny once estimate exceeds remaining budget")
	}
	if d := g.CheckQuota("b", 50); !d.Allowed {
		t.Errorf("expected allow within remaining budget, got: %s", d.Reason)
	}
}

func TestLimitGuardRequestRate(t *testing.T) {
	g := NewLimitGuard(map[string]Limits{
		"b": {RequestsPerMinute: 60, Burst: 2},
	})

	if d := g.CheckQuota("b", 10); !d.Allowed {
		t.Fatalf("first request should pass: %s", d.Reason)
	}
	if d := g.CheckQuota("b", 10); !d.Allowed {
		t.Fatalf("second request within burst should pass: %s", d.Reason)
	}
	if d := g.CheckQuota("b", 10); d.Allowed {
		t.Error("third immediate request should be rate limited")
	}
}

func TestAllowAll(t *testing.T) {
	var g Guard = AllowAll{}
	if d := g.CheckQuota("b", 1<<30); !d.Allowed {
		t.Error("AllowAll denied")
	}
	g.RecordUsage("b", backend.Usage{TotalTokens: 5})
}
