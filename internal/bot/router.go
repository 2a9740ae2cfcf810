package bot

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/xcawolfe-amzn/relay/internal/config"
	"github.com/xcawolfe-amzn/relay/internal/macro"
	"github.com/xcawolfe-amzn/relay/internal/monitor"
	"github.com/xcawolfe-amzn/relay/internal/notify"
	"github.com/xcawolfe-amzn/relay/internal/tmux"
)

// Adapter is the pane surface the router drives.
type Adapter interface {
	ListSessions() ([]tmux.SessionInfo, error)
	CapturePane(name string, lines int) ([]string, error)
	SendText(name, text string) error
	SendKey(name string, key tmux.Key) error
	SendLine(name, text string) error
	IsAvailable() bool
}

// Responder sends replies back to the chat.
type Responder interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Command is one inbound chat message, normalized by the poller.
type Command struct {
	Sender    int64
	ChatID    int64
	Text      string
	ReplyText string // text of the replied-to message, when the update is a reply
}

// Router resolves targets and executes chat commands.
type Router struct {
	cfg        *config.Config
	adapter    Adapter
	tracker    *monitor.Tracker
	registry   *Registry
	macros     *macro.Table
	responder  Responder
	log        zerolog.Logger
	instanceID string
	startedAt  time.Time

	// QueueDepth reports pending inbound commands for /status.
	// Nil when the router runs outside the bot loop (tests).
	QueueDepth func() int
}

// NewRouter wires a command router.
func NewRouter(cfg *config.Config, adapter Adapter, tracker *monitor.Tracker, registry *Registry, macros *macro.Table, responder Responder, instanceID string, log zerolog.Logger) *Router {
	return &Router{
		cfg:        cfg,
		adapter:    adapter,
		tracker:    tracker,
		registry:   registry,
		macros:     macros,
		responder:  responder,
		log:        log.With().Str("component", "router").Logger(),
		instanceID: instanceID,
		startedAt:  time.Now(),
	}
}

// Handle processes one inbound command. All failures are reported to the
// chat; nothing propagates.
func (r *Router) Handle(ctx context.Context, cmd Command) {
	if !r.cfg.Allowed(cmd.Sender) {
		r.log.Warn().Int64("sender", cmd.Sender).Msg("unauthorized sender")
		r.reply(ctx, cmd, "not authorized")
		return
	}

	name, args := splitCommand(cmd.Text)
	switch name {
	case "sessions", "list":
		r.reply(ctx, cmd, r.renderSessions())
	case "board":
		r.reply(ctx, cmd, r.renderBoard())
	case "status":
		r.reply(ctx, cmd, r.renderStatus())
	case "log":
		r.handleLog(ctx, cmd, args)
	case "stop":
		r.handleKey(ctx, cmd, tmux.KeyEscape, "sent ESC")
	case "erase":
		r.handleKey(ctx, cmd, tmux.KeyCtrlC, "sent Ctrl-C")
	case "clear":
		r.handleKey(ctx, cmd, tmux.KeyCtrlL, "cleared screen")
	case "select":
		r.handleSelect(ctx, cmd, args)
	case "help", "start":
		r.reply(ctx, cmd, helpText)
	default:
		r.handleForward(ctx, cmd)
	}
}

// splitCommand parses "/log 80" into ("log", "80").
// A "@BotName" suffix on the command is dropped. Text without a leading
// slash is not a command and comes back as ("", text).
func splitCommand(text string) (string, string) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", trimmed
	}
	head, rest, _ := strings.Cut(trimmed[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	return strings.ToLower(head), strings.TrimSpace(rest)
}

// resolveTarget finds the session a command addresses, in order:
// reply token, sender's active selection, then the only live session.
// The returned name is the live pane name; resolution always checks
// current discoverability so commands never land on a vanished pane.
func (r *Router) resolveTarget(cmd Command) (string, error) {
	live, err := r.adapter.ListSessions()
	if err != nil {
		return "", fmt.Errorf("listing sessions: %w", err)
	}
	byNorm := make(map[string]string, len(live))
	var candidates []string
	for _, s := range live {
		norm := monitor.Normalize(r.cfg.SessionPrefix, s.Name)
		byNorm[norm] = s.Name
		candidates = append(candidates, norm)
	}
	sort.Strings(candidates)

	// 1. Reply token.
	if cmd.ReplyText != "" {
		if token, ok := notify.ExtractSessionName(r.cfg.SessionPrefix, cmd.ReplyText); ok {
			norm := monitor.Normalize(r.cfg.SessionPrefix, token)
			if pane, ok := byNorm[norm]; ok {
				return pane, nil
			}
			return "", fmt.Errorf("session %s is gone (live: %s)", norm, joinOrNone(candidates))
		}
	}

	// 2. Active selection.
	if selected, ok := r.registry.Active(cmd.Sender); ok {
		norm := monitor.Normalize(r.cfg.SessionPrefix, selected)
		if pane, ok := byNorm[norm]; ok {
			return pane, nil
		}
		// Stale selection; fall through to the remaining rules.
	}

	// 3. Single-session fallback.
	if len(byNorm) == 1 {
		for _, pane := range byNorm {
			return pane, nil
		}
	}

	return "", fmt.Errorf("no target session; use /select or reply to a notification (live: %s)", joinOrNone(candidates))
}

func (r *Router) handleForward(ctx context.Context, cmd Command) {
	pane, err := r.resolveTarget(cmd)
	if err != nil {
		r.reply(ctx, cmd, err.Error())
		return
	}

	text := r.macros.Expand(cmd.Text)
	if err := r.sendLineWithRetry(pane, text); err != nil {
		r.log.Error().Err(err).Str("session", pane).Msg("forward failed")
		r.reply(ctx, cmd, fmt.Sprintf("failed to reach %s: %v", pane, err))
		return
	}

	r.log.Info().Str("session", pane).Int("chars", len(text)).Msg("forwarded input")
	r.reply(ctx, cmd, fmt.Sprintf("→ %s", monitor.Normalize(r.cfg.SessionPrefix, pane)))
}

// sendLineWithRetry retries the full text+Enter sequence once on a
// transient adapter failure.
func (r *Router) sendLineWithRetry(pane, text string) error {
	err := r.adapter.SendLine(pane, text)
	if err != nil && tmux.IsTransient(err) {
		err = r.adapter.SendLine(pane, text)
	}
	return err
}

func (r *Router) handleKey(ctx context.Context, cmd Command, key tmux.Key, done string) {
	pane, err := r.resolveTarget(cmd)
	if err != nil {
		r.reply(ctx, cmd, err.Error())
		return
	}
	if err := r.adapter.SendKey(pane, key); err != nil {
		if tmux.IsTransient(err) {
			err = r.adapter.SendKey(pane, key)
		}
		if err != nil {
			r.reply(ctx, cmd, fmt.Sprintf("failed to reach %s: %v", pane, err))
			return
		}
	}
	r.reply(ctx, cmd, fmt.Sprintf("%s → %s", done, monitor.Normalize(r.cfg.SessionPrefix, pane)))
}

func (r *Router) handleSelect(ctx context.Context, cmd Command, args string) {
	if args == "" {
		r.reply(ctx, cmd, "usage: /select <session>")
		return
	}
	norm := monitor.Normalize(r.cfg.SessionPrefix, args)

	live, err := r.adapter.ListSessions()
	if err != nil {
		r.reply(ctx, cmd, fmt.Sprintf("listing sessions: %v", err))
		return
	}
	for _, s := range live {
		if monitor.Normalize(r.cfg.SessionPrefix, s.Name) == norm {
			r.registry.Select(cmd.Sender, norm)
			r.reply(ctx, cmd, fmt.Sprintf("active session: %s", norm))
			return
		}
	}
	r.reply(ctx, cmd, fmt.Sprintf("unknown session %s", norm))
}

func (r *Router) handleLog(ctx context.Context, cmd Command, args string) {
	pane, err := r.resolveTarget(cmd)
	if err != nil {
		r.reply(ctx, cmd, err.Error())
		return
	}

	n := r.cfg.LogLines
	if args != "" {
		if v, err := strconv.Atoi(args); err == nil && v > 0 {
			n = v
		}
	}
	if n > r.cfg.LogLineCap {
		n = r.cfg.LogLineCap
	}

	lines, err := r.adapter.CapturePane(pane, n)
	if err != nil && tmux.IsTransient(err) {
		lines, err = r.adapter.CapturePane(pane, n)
	}
	if err != nil {
		r.reply(ctx, cmd, fmt.Sprintf("capture failed: %v", err))
		return
	}

	norm := monitor.Normalize(r.cfg.SessionPrefix, pane)
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] last %d lines\n```\n", norm, len(lines))
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("```")
	r.reply(ctx, cmd, b.String())
}

// renderSessions lists live sessions with state annotations where the
// tracker has them.
func (r *Router) renderSessions() string {
	live, err := r.adapter.ListSessions()
	if err != nil {
		return fmt.Sprintf("listing sessions: %v", err)
	}
	if len(live) == 0 {
		return "no sessions"
	}

	names := make([]string, 0, len(live))
	for _, s := range live {
		names = append(names, monitor.Normalize(r.cfg.SessionPrefix, s.Name))
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "%d session(s)\n", len(names))
	for _, name := range names {
		state, age := "-", ""
		if s, ok := r.tracker.Lookup(name); ok {
			state = s.LastState.String()
			if !s.StartedAt.IsZero() {
				age = fmt.Sprintf(" (up %s)", shortDuration(time.Since(s.StartedAt)))
			}
		}
		fmt.Fprintf(&b, "• `%s` %s%s\n", name, state, age)
	}
	return b.String()
}

// renderBoard renders the session grid as a monospace block.
func (r *Router) renderBoard() string {
	sessions := r.tracker.Snapshot()
	if len(sessions) == 0 {
		return "no tracked sessions (is the monitor running?)"
	}

	var b strings.Builder
	b.WriteString("```\n")
	for _, s := range sessions {
		age := "-"
		if !s.LastStateChangeAt.IsZero() {
			age = shortDuration(time.Since(s.LastStateChangeAt))
		}
		fmt.Fprintf(&b, "%s %-24s %-13s %6s  %s\n",
			stateIcon(s.LastState.String()), s.Name, s.LastState.String(), age, s.WorkDir)
	}
	b.WriteString("```")
	return b.String()
}

// renderStatus reports process and adapter health.
func (r *Router) renderStatus() string {
	var b strings.Builder
	fmt.Fprintf(&b, "relay `%s`\n", r.instanceID)
	fmt.Fprintf(&b, "uptime: %s\n", shortDuration(time.Since(r.startedAt)))

	if r.adapter.IsAvailable() {
		b.WriteString("tmux: ok\n")
	} else {
		b.WriteString("tmux: UNAVAILABLE\n")
	}

	live, err := r.adapter.ListSessions()
	if err == nil {
		fmt.Fprintf(&b, "sessions: %d live, %d tracked\n", len(live), r.tracker.Len())
	}
	if r.QueueDepth != nil {
		fmt.Fprintf(&b, "queued commands: %d\n", r.QueueDepth())
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			fmt.Fprintf(&b, "rss: %.1f MB\n", float64(mem.RSS)/(1024*1024))
		}
		if cpu, err := proc.CPUPercent(); err == nil {
			fmt.Fprintf(&b, "cpu: %.1f%%\n", cpu)
		}
	}

	return b.String()
}

func (r *Router) reply(ctx context.Context, cmd Command, text string) {
	if err := r.responder.Send(ctx, cmd.ChatID, text); err != nil {
		r.log.Error().Err(err).Msg("reply failed")
	}
}

func stateIcon(state string) string {
	switch state {
	case "working":
		return "⚙️"
	case "waiting_input":
		return "⌨️"
	case "idle":
		return "✅"
	default:
		return "❔"
	}
}

func shortDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}

const helpText = `relay commands:
/sessions          list sessions with states
/board             session grid
/status            bot and adapter health
/log [N]           last N lines of the target session
/stop              send ESC to the target
/erase             send Ctrl-C to the target
/clear             clear the target's screen
/select <name>     set your active session
/help              this summary

Anything else is sent to the target session as input.
Reply to a notification to address its session directly.`
