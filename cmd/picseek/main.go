// Package main is the entry point for the picseek service.
//
// Usage:
//
//	picseek [flags] <command>
//
// Commands:
//
//	serve      - Run the reverse image search HTTP server
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/picseek/cmd/picseek/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
