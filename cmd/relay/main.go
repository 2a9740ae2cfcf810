// relay bridges Claude Code tmux sessions to a Telegram chat.
package main

import (
	"os"

	"github.com/xcawolfe-amzn/relay/internal/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
