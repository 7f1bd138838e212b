// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// status.go - Inspection command handlers: status, personas, usage,
// remember.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/conduit/internal/backend"
	"github.com/jeranaias/conduit/internal/orchestrator"
)

// HandleStatus handles the "status" command: configured backends and
// their live health.
func HandleStatus(args Args) error {
	o, cfg, err := buildOrchestrator(args)
	if err != nil {
		return err
	}
	defer o.Close()

	fmt.Println(render(titleStyle, "conduit status"))
	fmt.Printf("%s %s\n", render(labelStyle, "Version"), render(valueStyle, Version))
	fmt.Printf("%s %d configured\n", render(labelStyle, "Backends"), len(cfg.Backends))
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, d := range o.Backends() {
		state, probeErr := d.Adapter.CheckHealth(ctx)
		line := fmt.Sprintf("%-14s role=%-8s ctx=%-7d %s",
			d.ID, d.Role, d.MaxContextTokens, renderState(state))
		if probeErr != nil {
			line += render(infoStyle, "  ("+probeErr.Error()+")")
		}
		fmt.Println("  " + line)
	}
	return nil
}

func renderState(state backend.HealthState) string {
	switch state {
	case backend.StateHealthy:
		return render(successStyle, "healthy")
	case backend.StateDegraded:
		return render(warnStyle, "degraded")
	default:
		return render(errorStyle, "down")
	}
}

// HandlePersonas handles the "personas" command.
func HandlePersonas(args Args) error {
	o, _, err := buildOrchestrator(args)
	if err != nil {
		return err
	}
	defer o.Close()

	active := o.Personas().Active().Name
	fmt.Println(render(titleStyle, "personas"))
	for _, name := range o.Personas().Names() {
		p, _ := o.Personas().Get(name)
		marker := "  "
		if name == active {
			marker = render(successStyle, "* ")
		}
		fmt.Printf("%s%-18s %s\n", marker, name, render(infoStyle, p.Description))
	}
	return nil
}

// HandleUsage handles the "usage" command.
func HandleUsage(args Args) error {
	o, _, err := buildOrchestrator(args)
	if err != nil {
		return err
	}
	defer o.Close()

	return printUsage(o)
}

func printUsage(o *orchestrator.Orchestrator) error {
	snap, ok := o.UsageSnapshot()
	if !ok {
		return fmt.Errorf("usage tracking is disabled")
	}

	fmt.Println(render(titleStyle, "session usage"))
	fmt.Printf("%s %s\n", render(labelStyle, "Session"), snap.ID)
	fmt.Printf("%s %d (fallbacks: %d)\n", render(labelStyle, "Requests"), snap.Requests, snap.Fallbacks)
	for id, s := range snap.Backends {
		fmt.Printf("  %-14s attempts=%d failures=%d retries=%d tokens=%d/%d\n",
			id, s.Attempts, s.Failures, s.Retries, s.PromptTokens, s.CompletionTokens)
	}
	return nil
}

// HandleRemember handles the "remember" command.
func HandleRemember(args Args) error {
	text := strings.TrimSpace(args.Query)
	if text == "" {
		return fmt.Errorf("usage: conduit remember \"fact\"")
	}

	o, _, err := buildOrchestrator(args)
	if err != nil {
		return err
	}
	defer o.Close()

	if err := o.Remember(context.Background(), text); err != nil {
		return err
	}
	fmt.Println(render(successStyle, "remembered"))
	return nil
}
