// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package quota gates backend calls by rate and token budget.
//
// The streaming coordinator consults the guard before every attempt
// and reports usage after a successful completion. A denial before
// any bytes stream triggers fallback to the next backend without
// consuming a retry slot; the guard itself never blocks.
package quota
