// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry tracks per-backend usage and attempt outcomes.
//
// The tracker consumes finalized attempt records from the streaming
// coordinator and token usage from completed requests, aggregates them
// per session, and persists session records as JSON files. It is
// bookkeeping only: nothing here feeds back into routing decisions.
package telemetry
