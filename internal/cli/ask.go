// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot question handler.
//
// Command: ask
// Short:   Ask a single question and print the streamed answer
//
// Examples:
//   conduit ask "explain goroutine leaks"
//   conduit ask -p code-specialist "review this function"
//   conduit how do I tune GOGC        (bare words fall through to ask)
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/jeranaias/conduit/internal/orchestrator"
)

// HandleAsk handles the "ask" command.
func HandleAsk(args Args) error {
	if strings.TrimSpace(args.Query) == "" {
		return fmt.Errorf("usage: conduit ask \"question\"")
	}

	o, _, err := buildOrchestrator(args)
	if err != nil {
		return err
	}
	defer o.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	chunks, err := o.Stream(ctx, orchestrator.Request{
		Prompt:  args.Query,
		Persona: args.Persona,
	})
	if err != nil {
		return err
	}

	backendID := ""
	for chunk := range chunks {
		if chunk.Final {
			if chunk.Err != nil {
				if chunk.Cancelled() {
					fmt.Fprintln(os.Stderr)
					return nil
				}
				return chunk.Err
			}
			backendID = chunk.Backend
			continue
		}
		fmt.Print(chunk.Delta)
	}
	fmt.Println()

	if !args.Quiet && backendID != "" {
		fmt.Fprintln(os.Stderr, render(infoStyle, "["+backendID+"]"))
	}
	return nil
}
