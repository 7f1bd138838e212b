// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// helpers.go - Shared handler plumbing.
package cli

import (
	"fmt"

	"github.com/jeranaias/conduit/internal/config"
	"github.com/jeranaias/conduit/internal/orchestrator"
)

// loadConfig resolves the configuration for a handler invocation.
func loadConfig(args Args) (*config.Config, string, error) {
	path := args.ConfigPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.LoadFromPath(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// buildOrchestrator loads configuration and wires the orchestrator.
func buildOrchestrator(args Args) (*orchestrator.Orchestrator, *config.Config, error) {
	cfg, _, err := loadConfig(args)
	if err != nil {
		return nil, nil, err
	}
	o, err := orchestrator.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}
	return o, cfg, nil
}
