// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements argument parsing and command handlers for the
// conduit binary: the interactive chat REPL, one-shot ask, and the
// status/usage inspection commands.
package cli
