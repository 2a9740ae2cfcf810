package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xcawolfe-amzn/relay/internal/bot"
	"github.com/xcawolfe-amzn/relay/internal/config"
	"github.com/xcawolfe-amzn/relay/internal/feed"
	"github.com/xcawolfe-amzn/relay/internal/logging"
	"github.com/xcawolfe-amzn/relay/internal/macro"
	"github.com/xcawolfe-amzn/relay/internal/monitor"
	"github.com/xcawolfe-amzn/relay/internal/notify"
	"github.com/xcawolfe-amzn/relay/internal/screen"
	"github.com/xcawolfe-amzn/relay/internal/tmux"
)

// runtime bundles the shared wiring for bot/monitor/up.
type runtime struct {
	cfg        *config.Config
	log        zerolog.Logger
	api        *tgbotapi.BotAPI
	adapter    *tmux.Client
	tracker    *monitor.Tracker
	dispatcher *notify.Dispatcher
	macros     *macro.Table
	classifier *screen.Classifier
	hub        *feed.Hub
	instanceID string
}

// buildRuntime resolves config and constructs the shared components.
// Every failure here is returned and ends the command: invalid
// configuration, Telegram authorization, a missing tmux, or an
// unreadable macro or patterns file.
func buildRuntime() (*runtime, error) {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log := logging.Setup(cfg.LogLevel)

	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("authorizing telegram bot: %w", err)
	}

	adapter := tmux.NewClient(cfg.SessionPrefix)
	if !adapter.IsAvailable() {
		return nil, fmt.Errorf("tmux is not available on this host")
	}

	macros, err := macro.Load(cfg.MacrosFile)
	if err != nil {
		return nil, err
	}

	patternOpts, err := screen.LoadPatterns(cfg.PatternsFile)
	if err != nil {
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		log:        log,
		api:        api,
		adapter:    adapter,
		tracker:    monitor.NewTracker(cfg.SessionPrefix),
		dispatcher: notify.NewDispatcher(notify.NewTelegramSender(api), log),
		macros:     macros,
		classifier: screen.New(patternOpts...),
		hub:        feed.NewHub(),
		instanceID: uuid.NewString()[:8],
	}, nil
}

// newMonitor constructs the monitor on the shared components.
func (rt *runtime) newMonitor() *monitor.Monitor {
	return monitor.New(
		monitor.Options{
			Interval:     rt.cfg.PollInterval,
			CaptureLines: rt.cfg.CaptureLines,
			WorkerCap:    rt.cfg.WorkerCap,
			ChatID:       rt.cfg.ChatID,
		},
		rt.adapter, rt.classifier, rt.tracker, rt.dispatcher, rt.hub, rt.log,
	)
}

// newBot constructs the bot on the shared components.
func (rt *runtime) newBot() *bot.Bot {
	router := bot.NewRouter(rt.cfg, rt.adapter, rt.tracker, bot.NewRegistry(), rt.macros, rt.dispatcher, rt.instanceID, rt.log)
	return bot.New(rt.api, router, rt.log)
}

// acquireLock takes the monitor's single-instance lock. Two monitors
// would double-notify every edge.
func (rt *runtime) acquireLock() (*flock.Flock, error) {
	if err := os.MkdirAll(rt.cfg.StateDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	lock := flock.New(filepath.Join(rt.cfg.StateDir, "monitor.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring monitor lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another relay monitor is already running (lock: %s)", lock.Path())
	}
	return lock, nil
}

// startFeed runs the websocket event feed when a listen address is
// configured. Returns immediately otherwise.
func (rt *runtime) startFeed(ctx context.Context, m *monitor.Monitor) {
	if rt.cfg.ListenAddr == "" {
		return
	}
	srv := feed.NewServer(rt.hub, m.Snapshot, rt.log)
	go func() {
		if err := srv.Run(ctx, rt.cfg.ListenAddr); err != nil {
			rt.log.Error().Err(err).Msg("event feed failed")
		}
	}()
}

// sendStartupSummary tells the chat which sessions the bridge can see.
func (rt *runtime) sendStartupSummary(ctx context.Context) {
	sessions, err := rt.adapter.ListSessions()
	if err != nil {
		return
	}
	var names []string
	for _, s := range sessions {
		names = append(names, monitor.Normalize(rt.cfg.SessionPrefix, s.Name))
	}
	msg := "relay is up; no sessions visible"
	if len(names) > 0 {
		msg = fmt.Sprintf("relay is up; watching %d session(s):\n• %s",
			len(names), strings.Join(names, "\n• "))
	}
	if err := rt.dispatcher.Send(ctx, rt.cfg.ChatID, msg); err != nil {
		rt.log.Warn().Err(err).Msg("startup summary failed")
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
