// Package main is the entry point for the sully CLI.
//
// Usage:
//
//	sully [flags] <command> [subcommand] [args]
//
// Commands:
//
//	run            - Listen for "Hey Sully" and interpret the visit
//	serve          - Run the backend (session tokens, summaries, storage)
//	conversations  - List and show saved conversations
//	config         - Show or initialize the configuration file
//	version        - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/kronktech/sully/cmd/sully/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
