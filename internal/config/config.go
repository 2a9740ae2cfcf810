// Package config builds the immutable process configuration from the
// environment. Every component receives a *Config at construction; nothing
// re-reads the environment after startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultSessionPrefix = "claude"
	DefaultPollInterval  = 4 * time.Second
	DefaultCaptureLines  = 120
	DefaultLogLines      = 50
	DefaultLogLineCap    = 200
	DefaultWorkerCap     = 8
	DefaultLogLevel      = "info"
)

// ErrMissingConfig is wrapped by validation failures for required settings.
// These failures are fatal at startup.
var ErrMissingConfig = errors.New("missing required configuration")

// Config is the resolved, immutable process configuration.
type Config struct {
	// TelegramToken is the bot credential. Required for bot and monitor modes.
	TelegramToken string

	// AllowedUsers are the Telegram user IDs permitted to issue commands.
	AllowedUsers []int64

	// ChatID is the default destination for notifications.
	ChatID int64

	// SessionPrefix filters tmux sessions; only panes named
	// "<prefix>_<slug>" are monitored and addressable.
	SessionPrefix string

	// PollInterval is the monitor tick interval.
	PollInterval time.Duration

	// CaptureLines is how many trailing pane lines each tick captures.
	CaptureLines int

	// LogLines / LogLineCap bound the /log command output.
	LogLines   int
	LogLineCap int

	// WorkerCap bounds the per-tick monitoring fan-out.
	WorkerCap int

	// LogLevel is the zerolog level name.
	LogLevel string

	// MacrosFile is an optional TOML macro table path.
	MacrosFile string

	// PatternsFile is an optional TOML file overriding the built-in
	// waiting-prompt patterns.
	PatternsFile string

	// ListenAddr, when non-empty, enables the websocket event feed
	// (consumed by "relay board").
	ListenAddr string

	// StateDir holds the monitor lock file.
	StateDir string
}

// FromEnv resolves configuration from RELAY_* environment variables.
// It never fails; Validate checks the required settings.
func FromEnv() *Config {
	cfg := &Config{
		TelegramToken: os.Getenv("RELAY_TELEGRAM_TOKEN"),
		SessionPrefix: envOr("RELAY_SESSION_PREFIX", DefaultSessionPrefix),
		PollInterval:  envDuration("RELAY_POLL_INTERVAL", DefaultPollInterval),
		CaptureLines:  envInt("RELAY_CAPTURE_LINES", DefaultCaptureLines),
		LogLines:      DefaultLogLines,
		LogLineCap:    envInt("RELAY_LOG_LINE_CAP", DefaultLogLineCap),
		WorkerCap:     envInt("RELAY_WORKER_CAP", DefaultWorkerCap),
		LogLevel:      envOr("RELAY_LOG_LEVEL", DefaultLogLevel),
		MacrosFile:    ExpandHome(os.Getenv("RELAY_MACROS_FILE")),
		PatternsFile:  ExpandHome(os.Getenv("RELAY_PATTERNS_FILE")),
		ListenAddr:    os.Getenv("RELAY_LISTEN_ADDR"),
		StateDir:      envOr("RELAY_STATE_DIR", defaultStateDir()),
	}

	if v := os.Getenv("RELAY_CHAT_ID"); v != "" {
		cfg.ChatID, _ = strconv.ParseInt(v, 10, 64)
	}
	cfg.AllowedUsers = parseUserList(os.Getenv("RELAY_ALLOWED_USERS"))

	return cfg
}

// Validate checks the settings required to talk to the chat platform.
// Returned errors wrap ErrMissingConfig and are fatal at startup.
func (c *Config) Validate() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("%w: RELAY_TELEGRAM_TOKEN", ErrMissingConfig)
	}
	if c.ChatID == 0 {
		return fmt.Errorf("%w: RELAY_CHAT_ID", ErrMissingConfig)
	}
	if len(c.AllowedUsers) == 0 {
		return fmt.Errorf("%w: RELAY_ALLOWED_USERS", ErrMissingConfig)
	}
	return nil
}

// Allowed reports whether a sender is on the allow-list.
func (c *Config) Allowed(userID int64) bool {
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// parseUserList parses a comma-separated list of numeric user IDs.
// Malformed entries are skipped rather than failing the whole list.
func parseUserList(s string) []int64 {
	if s == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// ExpandHome expands a leading ~/ using the current user's home directory.
// The path is returned unchanged when expansion is not possible.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "relay")
	}
	return filepath.Join(home, ".relay")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	// Accept plain seconds ("5") or a Go duration ("5s").
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	return def
}
