// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Examples:
//   conduit chat                       Start interactive chat
//   conduit chat -p code-specialist    Start with a specific persona
//
// Interactive commands:
//   /persona [name]     Show or switch persona
//   /personas           List personas
//   /remember TEXT      Store a fact in persistent memory
//   /status             Show backend health
//   /usage              Show session usage
//   /clear              Clear conversation history
//   /help               Show commands
//   /quit, /q           Exit chat (also Ctrl+D)
//   Ctrl+C              Cancel current generation
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/conduit/internal/config"
	"github.com/jeranaias/conduit/internal/orchestrator"
)

// chatConversation is the conversation ID the REPL uses.
const chatConversation = "chat"

// =============================================================================
// INPUT HISTORY
// =============================================================================

// inputReader wraps liner with persistent history.
type inputReader struct {
	line        *liner.State
	historyFile string
}

func newInputReader() *inputReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &inputReader{
		line:        line,
		historyFile: filepath.Join(dir, "chat_history"),
	}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *inputReader) read(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

func (r *inputReader) close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0755); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat handles the "chat" command.
func HandleChat(args Args) error {
	cfg, cfgPath, err := loadConfig(args)
	if err != nil {
		return err
	}
	o, err := orchestrator.New(cfg)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer o.Close()

	if args.Persona != "" {
		if _, err := o.Personas().SetActive(args.Persona); err != nil {
			return err
		}
	}

	// Config edits take effect on the next start; the watcher just
	// tells the user their save was seen.
	if watcher, err := config.Watch(cfgPath, func(*config.Config) {
		fmt.Fprintln(os.Stderr, render(warnStyle, "config changed; restart conduit to apply backend changes"))
	}); err == nil {
		defer watcher.Close()
	}

	if !args.Quiet {
		printWelcome(o)
	}

	input := newInputReader()
	defer input.close()

	for {
		line, err := input.read(render(promptStyle, "you> "))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				continue
			}
			// io.EOF on Ctrl+D.
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := runChatCommand(o, line); quit {
				return nil
			}
			continue
		}

		streamTurn(o, line)
	}
}

func printWelcome(o *orchestrator.Orchestrator) {
	fmt.Println(render(titleStyle, "conduit chat"))
	fmt.Printf("%s %s\n", render(labelStyle, "Persona"), o.Personas().Active().Name)
	ids := make([]string, 0, len(o.Backends()))
	for _, d := range o.Backends() {
		ids = append(ids, d.ID)
	}
	fmt.Printf("%s %s\n", render(labelStyle, "Backends"), strings.Join(ids, ", "))
	fmt.Println(render(infoStyle, "Type /help for commands, Ctrl+D to exit."))
	fmt.Println()
}

// streamTurn runs one chat turn, printing deltas as they arrive.
// Ctrl+C cancels the generation without exiting the REPL.
func streamTurn(o *orchestrator.Orchestrator, prompt string) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	chunks, err := o.Stream(ctx, orchestrator.Request{
		ConversationID: chatConversation,
		Prompt:         prompt,
	})
	if err != nil {
		fmt.Println(render(errorStyle, "error: ") + err.Error())
		return
	}

	backendID := ""
	for chunk := range chunks {
		if chunk.Final {
			if chunk.Err != nil {
				if chunk.Cancelled() {
					fmt.Println(render(warnStyle, "\n[cancelled]"))
				} else {
					fmt.Println(render(errorStyle, "\nerror: ") + chunk.Err.Error())
				}
				return
			}
			backendID = chunk.Backend
			continue
		}
		fmt.Print(chunk.Delta)
	}
	fmt.Println()
	if backendID != "" {
		fmt.Println(render(infoStyle, "["+backendID+"]"))
	}
	fmt.Println()
}

// runChatCommand dispatches a /command. Returns true when the REPL
// should exit.
func runChatCommand(o *orchestrator.Orchestrator, line string) bool {
	parts := strings.Fields(line)
	cmd := parts[0]
	rest := strings.TrimSpace(strings.TrimPrefix(line, cmd))

	switch cmd {
	case "/quit", "/q", "/exit":
		return true

	case "/help", "/h":
		fmt.Println(render(infoStyle, strings.TrimSpace(`
/persona [name]     Show or switch persona
/personas           List personas
/remember TEXT      Store a fact in persistent memory
/status             Show backend health
/usage              Show session usage
/clear              Clear conversation history
/quit, /q           Exit chat`)))

	case "/clear", "/c":
		o.Reset(chatConversation)
		fmt.Println(render(successStyle, "history cleared"))

	case "/persona":
		if rest == "" {
			p := o.Personas().Active()
			fmt.Printf("%s %s\n", render(labelStyle, "Persona"), p.Name)
			fmt.Println(render(infoStyle, p.Description))
			break
		}
		if _, err := o.Personas().SetActive(rest); err != nil {
			fmt.Println(render(errorStyle, "error: ") + err.Error())
			break
		}
		fmt.Println(render(successStyle, "persona: ") + rest)

	case "/personas":
		active := o.Personas().Active().Name
		for _, name := range o.Personas().Names() {
			marker := "  "
			if name == active {
				marker = render(successStyle, "* ")
			}
			fmt.Println(marker + name)
		}

	case "/remember":
		if rest == "" {
			fmt.Println(render(errorStyle, "usage: /remember TEXT"))
			break
		}
		if err := o.Remember(context.Background(), rest); err != nil {
			fmt.Println(render(errorStyle, "error: ") + err.Error())
			break
		}
		fmt.Println(render(successStyle, "remembered"))

	case "/status", "/s":
		for _, d := range o.Backends() {
			fmt.Printf("  %-14s role=%-8s %s\n", d.ID, d.Role, renderState(o.Health(d.ID)))
		}

	case "/usage":
		if err := printUsage(o); err != nil {
			fmt.Println(render(errorStyle, "error: ") + err.Error())
		}

	default:
		fmt.Println(render(errorStyle, "unknown command: ") + cmd)
	}
	return false
}
