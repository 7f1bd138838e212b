// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing for conduit.
package cli

import (
	"fmt"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdStatus
	CmdPersonas
	CmdUsage
	CmdRemember
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Persona    string
	ConfigPath string
	Quiet      bool

	// Query is the positional input for ask/remember.
	Query string

	// Raw args remaining after flag parsing.
	Raw []string
}

const usageText = `conduit - resilient multi-backend LLM orchestration

Conduit routes each request to the best available backend, retries
transient failures, falls back down the chain, and keeps conversation
context sized to each backend's window.

Usage:
  conduit                     Start interactive chat (default)
  conduit chat                Interactive chat
  conduit ask "question"      Ask a single question
  conduit remember "fact"     Store a fact in persistent memory
  conduit status              Show backends and health
  conduit personas            List available personas
  conduit usage               Show session usage
  conduit version             Show version
  conduit help                Show this help

Flags:
  -p, --persona NAME    Use a specific persona
  -c, --config PATH     Use an explicit config file
  -q, --quiet           Minimal output

Environment:
  CONDUIT_<BACKEND>_KEY   API key for a configured backend
  CONDUIT_OLLAMA_URL      Override the local Ollama URL
  CONDUIT_DISTILLATION    "0" disables context distillation
  CONDUIT_MEMORY          "0" disables persistent memory

Interactive commands (during chat):
  /persona [name]     Show or switch persona
  /personas           List personas
  /remember TEXT      Store a fact in persistent memory
  /status             Show backends and health
  /usage              Show session usage
  /clear              Clear conversation history
  /help               Show commands
  /quit               Exit (also Ctrl+D)
`

// Usage returns the top-level help text.
func Usage() string { return usageText }

// VersionString returns the formatted version line.
func VersionString() string {
	return fmt.Sprintf("conduit %s (commit %s, built %s)", Version, GitCommit, BuildDate)
}

// Parse splits os.Args-style arguments into a command and its
// arguments. Unknown leading words fall through to ask so that
// "conduit how do I ..." does something sensible.
func Parse(argv []string) (Command, Args) {
	args := Args{}
	rest := make([]string, 0, len(argv))

	for i := 0; i < len(argv); i++ {
		a := argv[i]
		switch a {
		case "-p", "--persona":
			if i+1 < len(argv) {
				i++
				args.Persona = argv[i]
			}
		case "-c", "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		case "-q", "--quiet":
			args.Quiet = true
		case "-h", "--help":
			return CmdHelp, args
		default:
			rest = append(rest, a)
		}
	}

	if len(rest) == 0 {
		return CmdChat, args
	}

	cmd := rest[0]
	args.Raw = rest[1:]
	args.Query = strings.Join(rest[1:], " ")

	switch cmd {
	case "chat":
		return CmdChat, args
	case "ask":
		return CmdAsk, args
	case "remember":
		return CmdRemember, args
	case "status", "s":
		return CmdStatus, args
	case "personas":
		return CmdPersonas, args
	case "usage":
		return CmdUsage, args
	case "version", "-v", "--version":
		return CmdVersion, args
	case "help":
		return CmdHelp, args
	default:
		// Treat the whole line as a question.
		args.Raw = rest
		args.Query = strings.Join(rest, " ")
		return CmdAsk, args
	}
}
