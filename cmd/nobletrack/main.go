package main

import (
	"fmt"
	"os"

	"github.com/runnerr0/nobletrack/internal/cli"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cli.Run(version); err != nil {
		fmt.Fprintf(os.Stderr, "nobletrack: %v\n", err)
		os.Exit(1)
	}
}
