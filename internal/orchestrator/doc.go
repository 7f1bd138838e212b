// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator is the caller-facing facade. It wires the
// context tier manager, backend router, and streaming coordinator
// into a single call: bound the context, produce a fallback chain,
// execute it, and commit the completed turn back to the conversation.
package orchestrator
