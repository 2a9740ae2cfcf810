package bot

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/xcawolfe-amzn/relay/internal/config"
	"github.com/xcawolfe-amzn/relay/internal/macro"
	"github.com/xcawolfe-amzn/relay/internal/monitor"
	"github.com/xcawolfe-amzn/relay/internal/notify"
	"github.com/xcawolfe-amzn/relay/internal/screen"
	"github.com/xcawolfe-amzn/relay/internal/tmux"
)

// paneCall records one adapter write.
type paneCall struct {
	op   string // "text", "key", "line"
	pane string
	arg  string
}

type fakePanes struct {
	mu       sync.Mutex
	sessions []string
	captures map[string][]string
	calls    []paneCall
	captureN int // line count of the last CapturePane call
}

func (f *fakePanes) ListSessions() ([]tmux.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]tmux.SessionInfo, len(f.sessions))
	for i, name := range f.sessions {
		out[i] = tmux.SessionInfo{Name: name, CreatedAt: time.Unix(1690000000, 0)}
	}
	return out, nil
}

func (f *fakePanes) CapturePane(name string, n int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.captureN = n
	return f.captures[name], nil
}

func (f *fakePanes) SendText(name, text string) error {
	f.record(paneCall{op: "text", pane: name, arg: text})
	return nil
}

func (f *fakePanes) SendKey(name string, key tmux.Key) error {
	f.record(paneCall{op: "key", pane: name, arg: string(key)})
	return nil
}

func (f *fakePanes) SendLine(name, text string) error {
	f.record(paneCall{op: "line", pane: name, arg: text})
	return nil
}

func (f *fakePanes) IsAvailable() bool { return true }

func (f *fakePanes) record(c paneCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakePanes) allCalls() []paneCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]paneCall(nil), f.calls...)
}

type fakeResponder struct {
	mu      sync.Mutex
	replies []string
}

func (f *fakeResponder) Send(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

func (f *fakeResponder) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.replies) == 0 {
		return ""
	}
	return f.replies[len(f.replies)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		SessionPrefix: "claude",
		AllowedUsers:  []int64{100},
		ChatID:        42,
		LogLines:      50,
		LogLineCap:    200,
	}
}

func newTestRouter(panes *fakePanes, responder *fakeResponder) (*Router, *monitor.Tracker) {
	tracker := monitor.NewTracker("claude")
	r := NewRouter(testConfig(), panes, tracker, NewRegistry(), macro.Empty(), responder, "test-instance", zerolog.Nop())
	return r, tracker
}

func TestReplyRouting(t *testing.T) {
	panes := &fakePanes{sessions: []string{"claude_alpha", "claude_beta"}}
	responder := &fakeResponder{}
	r, _ := newTestRouter(panes, responder)

	// The reply text is a dispatcher-formatted notification.
	replyTo := notify.Format(notify.Notification{
		Kind:        notify.KindCompletion,
		SessionName: "claude_alpha",
		OccurredAt:  time.Now(),
	})

	r.Handle(context.Background(), Command{
		Sender:    100,
		ChatID:    42,
		Text:      "run the tests",
		ReplyText: replyTo,
	})

	calls := panes.allCalls()
	if len(calls) != 1 {
		t.Fatalf("adapter calls = %v, want one SendLine", calls)
	}
	if calls[0].op != "line" || calls[0].pane != "claude_alpha" || calls[0].arg != "run the tests" {
		t.Errorf("call = %+v, want SendLine(claude_alpha, run the tests)", calls[0])
	}
}

func TestReplyRoutingSurvivesRename(t *testing.T) {
	// Dispatcher emitted for claude_beta; the pane is now claude_beta-1.
	panes := &fakePanes{sessions: []string{"claude_beta-1"}}
	responder := &fakeResponder{}
	r, _ := newTestRouter(panes, responder)

	r.Handle(context.Background(), Command{
		Sender:    100,
		ChatID:    42,
		Text:      "continue",
		ReplyText: "✅ Work complete [claude_beta]",
	})

	calls := panes.allCalls()
	if len(calls) != 1 || calls[0].pane != "claude_beta-1" {
		t.Fatalf("calls = %v, want SendLine to live pane claude_beta-1", calls)
	}
}

func TestUnauthorizedSenderNeverReachesAdapter(t *testing.T) {
	panes := &fakePanes{sessions: []string{"claude_alpha"}}
	responder := &fakeResponder{}
	r, _ := newTestRouter(panes, responder)

	r.Handle(context.Background(), Command{Sender: 999, ChatID: 42, Text: "rm -rf /"})

	if calls := panes.allCalls(); len(calls) != 0 {
		t.Errorf("unauthorized command reached adapter: %v", calls)
	}
	if reply := responder.last(); !strings.Contains(reply, "not authorized") {
		t.Errorf("refusal reply = %q", reply)
	}
}

func TestSelectAndActiveSessionFallback(t *testing.T) {
	panes := &fakePanes{sessions: []string{"claude_alpha", "claude_beta"}}
	responder := &fakeResponder{}
	r, _ := newTestRouter(panes, responder)
	ctx := context.Background()

	// Ambiguous without selection.
	r.Handle(ctx, Command{Sender: 100, ChatID: 42, Text: "hello"})
	if calls := panes.allCalls(); len(calls) != 0 {
		t.Fatalf("ambiguous target was forwarded: %v", calls)
	}
	if !strings.Contains(responder.last(), "claude_alpha") {
		t.Errorf("error reply lacks candidates: %q", responder.last())
	}

	// Select by bare slug; normalization adds the prefix.
	r.Handle(ctx, Command{Sender: 100, ChatID: 42, Text: "/select beta"})
	if !strings.Contains(responder.last(), "claude_beta") {
		t.Fatalf("select reply = %q", responder.last())
	}

	r.Handle(ctx, Command{Sender: 100, ChatID: 42, Text: "hello"})
	calls := panes.allCalls()
	if len(calls) != 1 || calls[0].pane != "claude_beta" {
		t.Errorf("calls after select = %v, want SendLine to claude_beta", calls)
	}
}

func TestSingleSessionFallback(t *testing.T) {
	panes := &fakePanes{sessions: []string{"claude_solo"}}
	responder := &fakeResponder{}
	r, _ := newTestRouter(panes, responder)

	r.Handle(context.Background(), Command{Sender: 100, ChatID: 42, Text: "go on"})

	calls := panes.allCalls()
	if len(calls) != 1 || calls[0].pane != "claude_solo" {
		t.Errorf("calls = %v, want SendLine to the only session", calls)
	}
}

func TestStopSendsEscape(t *testing.T) {
	panes := &fakePanes{sessions: []string{"claude_solo"}}
	responder := &fakeResponder{}
	r, _ := newTestRouter(panes, responder)

	r.Handle(context.Background(), Command{Sender: 100, ChatID: 42, Text: "/stop"})

	calls := panes.allCalls()
	if len(calls) != 1 || calls[0].op != "key" || calls[0].arg != string(tmux.KeyEscape) {
		t.Errorf("calls = %v, want SendKey(Escape)", calls)
	}
}

func TestLogCommandRespectsCap(t *testing.T) {
	panes := &fakePanes{
		sessions: []string{"claude_solo"},
		captures: map[string][]string{"claude_solo": {"line 1", "line 2"}},
	}
	responder := &fakeResponder{}
	r, _ := newTestRouter(panes, responder)

	r.Handle(context.Background(), Command{Sender: 100, ChatID: 42, Text: "/log 99999"})

	panes.mu.Lock()
	requested := panes.captureN
	panes.mu.Unlock()
	if requested != 200 {
		t.Errorf("CapturePane asked for %d lines, want the cap of 200", requested)
	}

	reply := responder.last()
	if !strings.Contains(reply, "line 1") || !strings.Contains(reply, "claude_solo") {
		t.Errorf("log reply = %q", reply)
	}
}

func TestMacroExpansionOnForward(t *testing.T) {
	panes := &fakePanes{sessions: []string{"claude_solo"}}
	responder := &fakeResponder{}
	tracker := monitor.NewTracker("claude")
	r := NewRouter(testConfig(), panes, tracker, NewRegistry(), macroTable(t), responder, "test", zerolog.Nop())

	r.Handle(context.Background(), Command{Sender: 100, ChatID: 42, Text: "test"})

	calls := panes.allCalls()
	if len(calls) != 1 {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0].arg != "run the full test suite and report failures" {
		t.Errorf("forwarded %q, want macro expansion", calls[0].arg)
	}
}

func macroTable(t *testing.T) *macro.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "macros.toml")
	content := "[macros]\ntest = \"run the full test suite and report failures\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := macro.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestSessionsAnnotatesStates(t *testing.T) {
	panes := &fakePanes{sessions: []string{"claude_alpha"}}
	responder := &fakeResponder{}
	r, tracker := newTestRouter(panes, responder)

	snap := screen.Capture{Lines: []string{"Thinking…"}, CapturedAt: time.Now()}
	tracker.Observe("claude_alpha", snap, screen.Classification{State: screen.StateWorking}, "/w", time.Time{})

	r.Handle(context.Background(), Command{Sender: 100, ChatID: 42, Text: "/sessions"})

	reply := responder.last()
	if !strings.Contains(reply, "claude_alpha") || !strings.Contains(reply, "working") {
		t.Errorf("sessions reply = %q", reply)
	}
}
