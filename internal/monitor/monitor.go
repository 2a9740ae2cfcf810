package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcawolfe-amzn/relay/internal/feed"
	"github.com/xcawolfe-amzn/relay/internal/notify"
	"github.com/xcawolfe-amzn/relay/internal/screen"
	"github.com/xcawolfe-amzn/relay/internal/tmux"
)

// Adapter is the pane operations surface the monitor consumes.
type Adapter interface {
	ListSessions() ([]tmux.SessionInfo, error)
	CapturePane(name string, lines int) ([]string, error)
	PaneWorkDir(name string) (string, error)
}

// Notifier receives the notifications produced by tracked edges.
type Notifier interface {
	Dispatch(ctx context.Context, n notify.Notification) error
}

// Options configures a Monitor.
type Options struct {
	Interval     time.Duration
	CaptureLines int
	WorkerCap    int
	ChatID       int64
}

// Monitor periodically drives every discovered session through
// capture → classify → track → dispatch.
type Monitor struct {
	opts       Options
	adapter    Adapter
	classifier *screen.Classifier
	tracker    *Tracker
	notifier   Notifier
	hub        *feed.Hub
	log        zerolog.Logger
}

// New creates a monitor. hub may be nil when the event feed is disabled.
func New(opts Options, adapter Adapter, classifier *screen.Classifier, tracker *Tracker, notifier Notifier, hub *feed.Hub, log zerolog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 4 * time.Second
	}
	if opts.CaptureLines <= 0 {
		opts.CaptureLines = 120
	}
	if opts.WorkerCap <= 0 {
		opts.WorkerCap = 8
	}
	return &Monitor{
		opts:       opts,
		adapter:    adapter,
		classifier: classifier,
		tracker:    tracker,
		notifier:   notifier,
		hub:        hub,
		log:        log.With().Str("component", "monitor").Logger(),
	}
}

// Tracker exposes the shared tracker for command-side reads.
func (m *Monitor) Tracker() *Tracker {
	return m.tracker
}

// Run ticks until the context is cancelled. Ticks never overlap; a slow
// tick delays the next one rather than racing it.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick runs one discovery and fan-out pass.
func (m *Monitor) Tick(ctx context.Context) {
	sessions, err := m.listWithRetry()
	if err != nil {
		m.log.Warn().Err(err).Msg("session discovery failed, skipping tick")
		return
	}

	m.tracker.BeginSweep()

	// Per-session work is independent; fan out under a bounded pool.
	// Within one session the pipeline stays strictly sequential.
	workers := m.opts.WorkerCap
	if len(sessions) < workers {
		workers = len(sessions)
	}
	sem := make(chan struct{}, max(workers, 1))
	var wg sync.WaitGroup
	for _, info := range sessions {
		wg.Add(1)
		go func(info tmux.SessionInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			m.observeSession(ctx, info)
		}(info)
	}
	wg.Wait()

	for _, name := range m.tracker.EndSweep() {
		m.log.Info().Str("session", name).Msg("session removed")
		m.publish(feed.Event{Type: feed.TypeRemoved, Session: name})
	}
}

// observeSession runs one session's pipeline for this tick.
func (m *Monitor) observeSession(ctx context.Context, info tmux.SessionInfo) {
	lines, err := m.captureWithRetry(info.Name)
	if err != nil {
		if errors.Is(err, tmux.ErrSessionNotFound) {
			// Vanished between discovery and capture; the sweep
			// handles removal after a second miss.
			return
		}
		m.log.Warn().Err(err).Str("session", info.Name).Msg("capture failed, skipping session this tick")
		return
	}

	workDir, _ := m.adapter.PaneWorkDir(info.Name)

	snap := screen.Capture{Lines: lines, CapturedAt: time.Now()}
	cls := m.classifier.Classify(snap)

	events, discovered := m.tracker.Observe(info.Name, snap, cls, workDir, info.CreatedAt)
	if discovered {
		m.publish(feed.Event{
			Type:    feed.TypeDiscovered,
			Session: m.tracker.Normalize(info.Name),
			State:   cls.State.String(),
			WorkDir: workDir,
		})
	}

	for _, e := range events {
		m.publish(feed.Event{
			Type:    feed.TypeStateChange,
			Session: e.Session.Name,
			State:   e.Session.LastState.String(),
			WorkDir: e.Session.WorkDir,
			Detail:  cls.Evidence,
			Since:   e.Session.LastStateChangeAt,
		})

		n := notify.Notification{
			SessionName: e.Session.Name,
			WorkDir:     e.Session.WorkDir,
			ContextTail: e.Session.ContextTail,
			OccurredAt:  e.OccurredAt,
			ChatID:      m.opts.ChatID,
		}
		switch e.Kind {
		case EventCompletion:
			n.Kind = notify.KindCompletion
		case EventWaitingInput:
			n.Kind = notify.KindWaitingInput
		}
		if err := m.notifier.Dispatch(ctx, n); err != nil {
			m.log.Error().Err(err).Str("session", e.Session.Name).Msg("notification delivery failed")
			continue
		}
		m.publish(feed.Event{Type: feed.TypeNotification, Session: e.Session.Name, Detail: kindDetail(e.Kind)})
	}
}

// listWithRetry retries discovery once on a transient failure.
func (m *Monitor) listWithRetry() ([]tmux.SessionInfo, error) {
	sessions, err := m.adapter.ListSessions()
	if err != nil && tmux.IsTransient(err) {
		sessions, err = m.adapter.ListSessions()
	}
	return sessions, err
}

// captureWithRetry retries a capture once on a transient failure.
func (m *Monitor) captureWithRetry(name string) ([]string, error) {
	lines, err := m.adapter.CapturePane(name, m.opts.CaptureLines)
	if err != nil && tmux.IsTransient(err) {
		lines, err = m.adapter.CapturePane(name, m.opts.CaptureLines)
	}
	return lines, err
}

// Snapshot renders the tracker as feed events (used as the websocket
// connect snapshot).
func (m *Monitor) Snapshot() []feed.Event {
	sessions := m.tracker.Snapshot()
	out := make([]feed.Event, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, feed.Event{
			Type:    feed.TypeSnapshot,
			Session: s.Name,
			State:   s.LastState.String(),
			WorkDir: s.WorkDir,
			Since:   s.LastStateChangeAt,
			At:      time.Now(),
		})
	}
	return out
}

func (m *Monitor) publish(e feed.Event) {
	if m.hub != nil {
		m.hub.Publish(e)
	}
}

func kindDetail(k EventKind) string {
	if k == EventCompletion {
		return "completion"
	}
	return "waiting_input"
}
