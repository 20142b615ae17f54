// Command rvnblock inspects SQLite-backed basic-block execution traces.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tetrane/rvnblock/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()

	// Printing usage (--help, or no subcommand) ends with ExitFailure too.
	helpShown := false
	showHelp := cmd.HelpFunc()
	cmd.SetHelpFunc(func(c *cobra.Command, args []string) {
		helpShown = true
		showHelp(c, args)
	})

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
	if helpShown {
		os.Exit(cli.ExitFailure)
	}
}
