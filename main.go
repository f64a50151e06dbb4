// Command cloud-rca-engine investigates cloud incidents: it parses the
// incident description, collects evidence from AWS services, reasons over
// the evidence, and produces a root-cause report. It serves investigations
// over HTTP, over MCP stdio, or as a one-shot command.
package main

import (
	"fmt"
	"os"

	"github.com/tareqmamari/cloud-rca-engine/internal/cli"
)

// Build information, set via ldflags:
// -X main.version={{.Version}} -X main.commit={{.Commit}} -X main.builtBy=goreleaser
var (
	version = "dev"
	commit  = "unknown"
	builtBy = "manual"
)

func main() {
	cli.SetBuildInfo(version, commit, builtBy)
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
