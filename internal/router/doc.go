// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router selects which backend handles a request.
//
// Selection produces an ordered fallback chain, not a single choice:
// the streaming coordinator consumes the chain left to right and the
// chain is never regenerated mid-request. Task intent is derived from
// the latest user message by a swappable Classifier; persona
// preferences, when present, take precedence over the classified
// ordering. Eligibility filtering (exclusions, health, context
// headroom) drops candidates rather than reordering them.
//
// Selection is a pure function of its inputs plus read-only health
// state. It performs no I/O and cannot block.
package router
