package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xcawolfe-amzn/relay/internal/config"
	"github.com/xcawolfe-amzn/relay/internal/style"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Print the configuration as resolved from RELAY_* environment
variables and defaults. Secrets are redacted.

Examples:
  relay config
  relay config --json`,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configJSON, "json", false, "JSON output")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg := config.FromEnv()

	token := "(unset)"
	if cfg.TelegramToken != "" {
		token = "(set, redacted)"
	}
	users := make([]string, len(cfg.AllowedUsers))
	for i, id := range cfg.AllowedUsers {
		users[i] = strconv.FormatInt(id, 10)
	}

	if configJSON {
		out := map[string]any{
			"telegram_token": token,
			"allowed_users":  cfg.AllowedUsers,
			"chat_id":        cfg.ChatID,
			"session_prefix": cfg.SessionPrefix,
			"poll_interval":  cfg.PollInterval.String(),
			"capture_lines":  cfg.CaptureLines,
			"log_line_cap":   cfg.LogLineCap,
			"worker_cap":     cfg.WorkerCap,
			"log_level":      cfg.LogLevel,
			"macros_file":    cfg.MacrosFile,
			"patterns_file":  cfg.PatternsFile,
			"listen_addr":    cfg.ListenAddr,
			"state_dir":      cfg.StateDir,
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Println(style.Render(style.Title, "relay configuration"))
	rows := [][2]string{
		{"telegram token", token},
		{"allowed users", orUnset(strings.Join(users, ", "))},
		{"chat id", orUnset(nonZero(cfg.ChatID))},
		{"session prefix", cfg.SessionPrefix},
		{"poll interval", cfg.PollInterval.String()},
		{"capture lines", strconv.Itoa(cfg.CaptureLines)},
		{"log line cap", strconv.Itoa(cfg.LogLineCap)},
		{"worker cap", strconv.Itoa(cfg.WorkerCap)},
		{"log level", cfg.LogLevel},
		{"macros file", orUnset(cfg.MacrosFile)},
		{"patterns file", orUnset(cfg.PatternsFile)},
		{"listen addr", orUnset(cfg.ListenAddr)},
		{"state dir", cfg.StateDir},
	}
	for _, row := range rows {
		fmt.Printf("  %s %s\n", style.Render(style.Bold, fmt.Sprintf("%-16s", row[0])), row[1])
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("\n  %s %v\n", style.Render(style.Err, "✗"), err)
	} else {
		fmt.Printf("\n  %s configuration is complete\n", style.Render(style.Idle, "✓"))
	}
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func nonZero(v int64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}
