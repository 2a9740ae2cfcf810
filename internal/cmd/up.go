package cmd

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run the monitor and the bot together",
	Long: `Run the session monitor and the Telegram bot in one process.

This is the normal operating mode: the monitor notifies the chat on
session edges, and the bot routes chat commands back into the panes.

Examples:
  relay up
  RELAY_LISTEN_ADDR=127.0.0.1:7171 relay up   # with board feed`,
	RunE: runUp,
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the session monitor alone",
	Long: `Run only the outbound side: watch sessions and send notifications.

Inbound chat commands are ignored in this mode; use 'relay up' for the
full bridge.`,
	RunE: runMonitorOnly,
}

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot alone",
	Long: `Run only the inbound side: receive chat commands and forward them
to tmux panes.

Without the monitor, /board has no state to show and no notifications
are sent, but /sessions, /log, /select and free-text forwarding work.`,
	RunE: runBotOnly,
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(botCmd)
}

func runUp(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	lock, err := rt.acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ctx, cancel := signalContext()
	defer cancel()

	m := rt.newMonitor()
	b := rt.newBot()
	rt.startFeed(ctx, m)
	rt.sendStartupSummary(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- m.Run(ctx) }()
	go func() { errCh <- b.Run(ctx) }()

	err = <-errCh
	cancel()
	<-errCh

	if errors.Is(err, context.Canceled) {
		rt.log.Info().Msg("shutdown complete")
		return nil
	}
	return err
}

func runMonitorOnly(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	lock, err := rt.acquireLock()
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	ctx, cancel := signalContext()
	defer cancel()

	m := rt.newMonitor()
	rt.startFeed(ctx, m)

	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	rt.log.Info().Msg("shutdown complete")
	return nil
}

func runBotOnly(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := rt.newBot().Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}
	rt.log.Info().Msg("shutdown complete")
	return nil
}
