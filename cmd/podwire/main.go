// Package main is the podwire command.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/podwire/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "podwire: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
