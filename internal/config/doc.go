// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and manages conduit configuration.
//
// Configuration is TOML with built-in defaults and environment
// variable overrides. The default location is ~/.conduit/config.toml.
// A file watcher can reload the configuration on change without
// restarting the process.
package config
