// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream executes a fallback chain against backend adapters
// and emits a single unified chunk stream to the caller.
//
// One state machine runs per request, persisting across fallback
// transitions:
//
//	ATTEMPTING -> STREAMING -> (DONE | RETRYING | FALLING_BACK | FAILED)
//
// Retriable errors retry the same backend with exponential backoff up
// to a fixed ceiling; provider failures fall back to the next chain
// member immediately; fatal errors short-circuit without consuming
// remaining members; cancellation is terminal and distinct from
// failure.
//
// Caller contract: chunks already streamed are provisional until the
// final chunk arrives. A retried attempt starts a fresh buffer and
// previously streamed chunks are not retracted; the final validated
// response, not the concatenation of partial streams, is
// authoritative.
package stream
