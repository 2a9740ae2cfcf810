package cmd

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/relay/internal/config"
	"github.com/xcawolfe-amzn/relay/internal/tui/board"
)

var boardAddr string

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Live session dashboard in the terminal",
	Long: `Show a live dashboard of monitored sessions and their states.

The board connects to a running 'relay up' (or 'relay monitor') process
through its websocket event feed, so that process must be started with
RELAY_LISTEN_ADDR set.

Examples:
  relay board
  relay board --addr 127.0.0.1:7171`,
	RunE: runBoard,
}

func init() {
	boardCmd.Flags().StringVar(&boardAddr, "addr", "", "event feed address (default: RELAY_LISTEN_ADDR)")
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, args []string) error {
	addr := boardAddr
	if addr == "" {
		addr = config.FromEnv().ListenAddr
	}
	if addr == "" {
		return fmt.Errorf("no event feed address; set RELAY_LISTEN_ADDR or pass --addr")
	}

	ctx, cancel := signalContext()
	defer cancel()

	events, err := board.Connect(ctx, addr)
	if err != nil {
		return err
	}

	program := tea.NewProgram(board.New(addr, events), tea.WithAltScreen())
	_, err = program.Run()
	return err
}
