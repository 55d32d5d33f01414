// Copyright (c) Atta Project
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/hashicorp/cli"

	"github.com/atta/atta/command"
)

// Version is set at link time.
var Version = "dev"

func main() {
	os.Exit(Run(os.Args[1:]))
}

// Run drives the CLI and returns the process exit code.
func Run(args []string) int {
	ui := &cli.BasicUi{
		Reader:      os.Stdin,
		Writer:      os.Stdout,
		ErrorWriter: os.Stderr,
	}

	c := cli.NewCLI("atta-storage", Version)
	c.Args = args
	c.Commands = command.Commands(ui)

	exitCode, err := c.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error executing CLI: %s\n", err)
		return 1
	}
	return exitCode
}
