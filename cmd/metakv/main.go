package main

import (
	"fmt"
	"os"

	"github.com/tbrandywine/metakv/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Outcome failures already printed their result; only surface
		// unexpected errors.
		if cli.GetExitCode(err) != cli.ExitFailure {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
