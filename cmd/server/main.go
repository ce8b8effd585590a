package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := serveCmd()
	rootCmd.Use = "scribble"
	rootCmd.Short = "Shared drawing canvas server"
	rootCmd.Long = `Scribble serves shared drawing canvases over WebSocket.

Every stroke, undo and redo is applied in one order per room and
broadcast to everyone in it. Running without a subcommand is the same
as "scribble serve".`
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("scribble %s (%s)\n", version, commit)
		},
	}
}
