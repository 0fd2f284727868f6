// Package cmd implements the fuguectl CLI: thin cobra front-ends over
// the daemon's request surface. Everything substantive happens in the
// daemon; these commands connect, call, and print.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fuguectl",
		Short: "Control a fugue terminal-multiplexer daemon",
		Long:  "fuguectl drives a fugue daemon: create and attach to sessions hosting AI-agent terminals and shell panes, route orchestration messages between them, and inspect daemon state.",
	}

	rootCmd.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newLsCmd(),
		newNewSessionCmd(),
		newAttachCmd(),
		newSendCmd(),
		newVersionCmd(),
	)

	return rootCmd
}
