package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcawolfe-amzn/relay/internal/notify"
	"github.com/xcawolfe-amzn/relay/internal/screen"
	"github.com/xcawolfe-amzn/relay/internal/tmux"
)

// fakeAdapter serves canned captures per session.
type fakeAdapter struct {
	mu       sync.Mutex
	sessions []tmux.SessionInfo
	captures map[string][]string
	listErr  error
	capErrs  map[string]error
}

func (f *fakeAdapter) ListSessions() ([]tmux.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]tmux.SessionInfo(nil), f.sessions...), nil
}

func (f *fakeAdapter) CapturePane(name string, _ int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.capErrs[name]; err != nil {
		return nil, err
	}
	return f.captures[name], nil
}

func (f *fakeAdapter) PaneWorkDir(string) (string, error) { return "/work", nil }

func (f *fakeAdapter) set(name string, lines ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.captures == nil {
		f.captures = make(map[string][]string)
	}
	f.captures[name] = lines
	for _, s := range f.sessions {
		if s.Name == name {
			return
		}
	}
	f.sessions = append(f.sessions, tmux.SessionInfo{Name: name, CreatedAt: time.Unix(1690000000, 0)})
}

func (f *fakeAdapter) remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.sessions[:0]
	for _, s := range f.sessions {
		if s.Name != name {
			out = append(out, s)
		}
	}
	f.sessions = out
}

// fakeNotifier records dispatched notifications.
type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (f *fakeNotifier) Dispatch(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeNotifier) all() []notify.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Notification(nil), f.sent...)
}

func newTestMonitor(adapter *fakeAdapter, notifier *fakeNotifier) *Monitor {
	return New(
		Options{Interval: time.Second, CaptureLines: 50, WorkerCap: 4, ChatID: 42},
		adapter,
		screen.New(),
		NewTracker("claude"),
		notifier,
		nil,
		zerolog.Nop(),
	)
}

func TestTickFirstSightIsSilent(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.set("claude_demo", "Continue? [y/N]")
	notifier := &fakeNotifier{}
	m := newTestMonitor(adapter, notifier)

	m.Tick(context.Background())
	if got := notifier.all(); len(got) != 0 {
		t.Errorf("first tick dispatched %d notifications, want 0", len(got))
	}
	if m.Tracker().Len() != 1 {
		t.Errorf("tracker has %d sessions, want 1", m.Tracker().Len())
	}
}

func TestTickCompletionFlow(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.set("claude_demo", "Thinking…")
	notifier := &fakeNotifier{}
	m := newTestMonitor(adapter, notifier)
	ctx := context.Background()

	m.Tick(ctx) // discover as working
	adapter.set("claude_demo", "done editing", "> _")
	m.Tick(ctx) // working → idle

	got := notifier.all()
	if len(got) != 1 {
		t.Fatalf("dispatched %d notifications, want 1", len(got))
	}
	n := got[0]
	if n.Kind != notify.KindCompletion {
		t.Errorf("kind = %v, want completion", n.Kind)
	}
	if n.SessionName != "claude_demo" {
		t.Errorf("session = %q, want claude_demo", n.SessionName)
	}
	if n.ChatID != 42 {
		t.Errorf("chat id = %d, want 42", n.ChatID)
	}

	// Identical capture on the next tick: no re-notification.
	m.Tick(ctx)
	if len(notifier.all()) != 1 {
		t.Errorf("re-notified on identical capture")
	}
}

func TestTickRemovalAfterTwoMisses(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.set("claude_demo", "> ")
	notifier := &fakeNotifier{}
	m := newTestMonitor(adapter, notifier)
	ctx := context.Background()

	m.Tick(ctx)
	adapter.remove("claude_demo")
	m.Tick(ctx)
	if m.Tracker().Len() != 1 {
		t.Fatal("session removed after one missed tick")
	}
	m.Tick(ctx)
	if m.Tracker().Len() != 0 {
		t.Fatal("session retained after two missed ticks")
	}
}

func TestTickTransientCaptureSkipsSession(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.set("claude_a", "Thinking…")
	adapter.set("claude_b", "Running…")
	adapter.capErrs = map[string]error{
		"claude_a": &tmux.TransientError{Op: "capture-pane", Err: context.DeadlineExceeded},
	}
	notifier := &fakeNotifier{}
	m := newTestMonitor(adapter, notifier)

	m.Tick(context.Background())
	// claude_b still observed despite claude_a failing.
	if _, ok := m.Tracker().Lookup("claude_b"); !ok {
		t.Error("healthy session not observed when sibling capture failed")
	}
	if _, ok := m.Tracker().Lookup("claude_a"); ok {
		t.Error("failed session observed despite capture error")
	}
}

func TestSnapshotRendersTracker(t *testing.T) {
	adapter := &fakeAdapter{}
	adapter.set("claude_demo", "> ")
	m := newTestMonitor(adapter, &fakeNotifier{})
	m.Tick(context.Background())

	snap := m.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Snapshot() returned %d events, want 1", len(snap))
	}
	if snap[0].Session != "claude_demo" || snap[0].State != "idle" {
		t.Errorf("snapshot event = %+v", snap[0])
	}
}
