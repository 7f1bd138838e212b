// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package context

import (
	"github.com/jeranaias/conduit/internal/model"
)

// =============================================================================
// NAIVE TRIMMING
// =============================================================================

// trimToBudget drops the oldest session messages until the combined
// estimate of fixed (memory + ephemeral, never droppable) and session
// messages fits the token budget. Returns the surviving session
// messages. The fallback when distillation fails or is disabled.
func trimToBudget(session []model.Message, fixedTokens, budgetTokens int) []model.Message {
	available := budgetTokens - fixedTokens
	if available <= 0 {
		return nil
	}

	total := model.EstimateTokens(session)
	start := 0
	for start < len(session) && total > available {
		total -= session[start].EstimateTokens()
		start++
	}
	return session[start:]
}

// enforceSessionLimits applies the session tier's ring bounds: max
// message count and max estimated-token budget, dropping oldest first.
func enforceSessionLimits(session []model.Message, maxMessages, maxTokens int) []model.Message {
	if maxMessages > 0 && len(session) > maxMessages {
		session = session[len(session)-maxMessages:]
	}
	if maxTokens > 0 {
		total := model.EstimateTokens(session)
		start := 0
		for start < len(session) && total > maxTokens {
			total -= session[start].EstimateTokens()
			start++
		}
		session = session[start:]
	}
	return session
}
