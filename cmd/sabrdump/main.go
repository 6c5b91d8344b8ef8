// Package main is the entry point for sabrdump.
//
// sabrdump replays a captured SABR response body through a Processor and
// prints every emitted part as a JSON line.
package main

import (
	"os"

	"sabr-processor/cmd/sabrdump/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
