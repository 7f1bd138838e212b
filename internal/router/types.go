// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"
	"strings"

	"github.com/jeranaias/conduit/internal/backend"
)

// ============================================================================
// TASK CATEGORY TYPE
// ============================================================================

// TaskCategory is the advisory task intent derived from the latest
// user message. It biases backend ordering; it never hard-excludes.
type TaskCategory int

const (
	// CategoryGeneral is the default when no keyword family matches.
	CategoryGeneral TaskCategory = iota
	// CategoryArchitecture covers planning and design work.
	CategoryArchitecture
	// CategoryCoding covers code generation, review, and debugging.
	CategoryCoding
	// CategoryParsing covers extraction and structured-output tasks.
	CategoryParsing
)

// String returns the human-readable name of the category.
func (c TaskCategory) String() string {
	switch c {
	case CategoryGeneral:
		return "general"
	case CategoryArchitecture:
		return "architecture"
	case CategoryCoding:
		return "coding"
	case CategoryParsing:
		return "parsing"
	default:
		return fmt.Sprintf("TaskCategory(%d)", c)
	}
}

// ============================================================================
// FALLBACK CHAIN
// ============================================================================

// FallbackChain is the ordered list of backends for one logical
// request. Computed once per request and consumed left to right; a
// request either finishes or exhausts the chain.
type FallbackChain struct {
	// Members are the backends in attempt order.
	Members []backend.Descriptor
	// Category is the task category that drove the ordering.
	Category TaskCategory
	// LastResort marks a chain produced by the least-recently-failed
	// fallback after eligibility filtering emptied the candidates.
	LastResort bool
}

// Empty reports whether the chain has no members.
func (c FallbackChain) Empty() bool {
	return len(c.Members) == 0
}

// IDs returns the backend IDs in attempt order.
func (c FallbackChain) IDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	return ids
}

// String returns a short description for logging.
func (c FallbackChain) String() string {
	return fmt.Sprintf("[%s] (%s)", strings.Join(c.IDs(), " -> "), c.Category)
}
