// Command microkitd loads a system description, spawns its protection
// domains, and supervises them until they exit or it is asked to shut
// them down.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

type cmdGlobal struct {
	cmd         *cobra.Command
	flagDebug   bool
	flagVerbose bool
}

func main() {
	app := &cobra.Command{}
	app.Use = "microkitd"
	app.Short = "Run a microkit system description"
	app.SilenceUsage = true
	app.CompletionOptions.DisableDefaultCmd = true

	global := &cmdGlobal{cmd: app}
	app.PersistentFlags().BoolVar(&global.flagDebug, "debug", false, "Show all debug messages")
	app.PersistentFlags().BoolVarP(&global.flagVerbose, "verbose", "v", false, "Show more information")

	app.AddCommand(newRunCommand(global))
	app.AddCommand(newPDCommand(global))

	if err := app.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
