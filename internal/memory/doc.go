// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package memory is the persistent tier behind the context manager.
//
// The core never owns conversation durability; it queries this store
// by relevance and injects the results as synthetic system messages.
// The default implementation keeps snippets in SQLite with a simple
// keyword-overlap ranking.
package memory
