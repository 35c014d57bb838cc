// Package main is the entry point for the cnccored daemon.
//
// Usage:
//
//	cnccored serve [flags]
//	cnccored version
package main

import (
	"fmt"
	"os"

	"github.com/cncjs/cnc-core/cmd/cnccored/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
