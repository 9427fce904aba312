// hydrodl - hydrophone data-product downloader for Ocean Networks Canada
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/oceanhydro/hydrodl/internal/cli"
	"github.com/oceanhydro/hydrodl/internal/version"
)

// Version information, set with -ldflags "-X main.Version=..."
var (
	Version   = ""
	BuildTime = ""
)

func main() {
	if Version != "" {
		version.Version = Version
	}
	if BuildTime != "" {
		version.BuildTime = BuildTime
	}

	if err := cli.Execute(); err != nil {
		// Failed jobs are already listed in the summary.
		if !errors.Is(err, cli.ErrJobsFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
