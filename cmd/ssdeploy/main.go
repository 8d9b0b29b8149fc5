// Package main provides the entry point for the ssdeploy CLI.
package main

import (
	"os"

	"github.com/randalmurphal/ssdeploy/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		cli.PrintError(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}
