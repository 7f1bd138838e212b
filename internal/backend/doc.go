// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend defines the normalized contract every LLM provider
// adapter implements, plus the shared error classification and health
// tracking the router and streaming coordinator build on.
//
// The core treats adapters as opaque capability objects: it never
// inspects provider wire formats beyond the normalized request,
// response, and chunk shapes defined here. The delegate used for
// context distillation is just another Adapter instance; nothing in
// this package special-cases it.
package backend
