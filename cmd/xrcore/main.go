// Command xrcore drives the XSM capture engine and the XENOS boundary
// governor, records runs to SQLite, and replays them.
package main

import (
	"fmt"
	"os"

	"github.com/apeichen/fpga-aichip/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
