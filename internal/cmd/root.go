// Package cmd provides CLI commands for the relay tool.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the build; "dev" otherwise.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Remote-control bridge for Claude Code tmux sessions",
	Long: `relay watches Claude Code sessions running in tmux panes, detects
when they finish working or wait for input, and notifies a Telegram
chat. The same chat is the command channel: reply to a notification
to type into that session, inspect its screen, or switch sessions.

Run modes:
  relay up         monitor + bot (the usual mode)
  relay monitor    outbound notifications only
  relay bot        inbound commands only
  relay board      local live dashboard (needs RELAY_LISTEN_ADDR)

Configuration comes from RELAY_* environment variables; see
'relay config' for the resolved values.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
