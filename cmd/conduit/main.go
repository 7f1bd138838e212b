// conduit - resilient multi-backend LLM orchestration CLI.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"fmt"
	"os"

	"github.com/jeranaias/conduit/internal/cli"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse(os.Args[1:])

	var err error
	switch cmd {
	case cli.CmdChat:
		err = cli.HandleChat(args)
	case cli.CmdAsk:
		err = cli.HandleAsk(args)
	case cli.CmdStatus:
		err = cli.HandleStatus(args)
	case cli.CmdPersonas:
		err = cli.HandlePersonas(args)
	case cli.CmdUsage:
		err = cli.HandleUsage(args)
	case cli.CmdRemember:
		err = cli.HandleRemember(args)
	case cli.CmdVersion:
		fmt.Println(cli.VersionString())
	case cli.CmdHelp:
		fmt.Print(cli.Usage())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
