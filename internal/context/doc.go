// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package context maintains per-conversation history across three
// tiers and produces bounded message lists for target backends.
//
// Tiers:
//   - Ephemeral: the in-flight turn. Always included, never trimmed.
//   - Session: bounded recent history, kept per (conversation,
//     backend) pair because distillation outcomes differ by target
//     window size.
//   - Persistent: an external memory store queried by relevance;
//     results are injected as synthetic system messages.
//
// When a binding would exceed the target's window, the session tier
// is distilled through a delegate backend call into a single summary
// message, keeping the most recent messages verbatim. If distillation
// fails or is disabled, naive oldest-first trimming applies. Bind is
// the package's only I/O-bearing path (the optional delegate call and
// the persistent retrieval); everything else is pure transformation
// over in-memory structures.
package context
