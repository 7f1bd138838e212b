// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package persona manages reusable system prompts with routing
// preferences. A persona's preferred backends are spliced ahead of the
// router's classified ordering; its system prompt and sampling
// parameters shape the request itself.
package persona
