// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the normalized message types shared by every
// backend adapter and by the orchestration core.
//
// A Message is immutable once appended to a conversation: the core
// never edits message content in place, it only builds new bounded
// views of the history (see internal/context).
package model
