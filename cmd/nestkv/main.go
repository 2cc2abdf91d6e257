// Package main provides the entry point for nestkv.
//
// nestkv opens, edits, inspects and serves an embedded journaled
// key-value database from the command line.
package main

import (
	"os"

	"github.com/yndnr/nestkv/internal/cli/command"
)

func main() {
	app := command.App()

	if err := app.Run(os.Args); err != nil {
		command.PrintError("%v", err)
		os.Exit(1)
	}
}
