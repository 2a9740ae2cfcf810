// Package monitor drives discovered sessions through the
// capture → classify → track → dispatch pipeline.
package monitor

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xcawolfe-amzn/relay/internal/screen"
)

// numericSuffixRE matches the "-N" suffix tmux appends on name collision.
var numericSuffixRE = regexp.MustCompile(`-\d+$`)

// Normalize canonicalizes a session name: the multiplexer's numeric
// collision suffix is stripped and the configured prefix is ensured.
// Normalize is idempotent.
func Normalize(prefix, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = numericSuffixRE.ReplaceAllString(name, "")
	if !strings.HasPrefix(name, prefix+"_") {
		name = prefix + "_" + name
	}
	return name
}

// Session is the tracked state of one monitored pane.
type Session struct {
	// Name is the normalized session name.
	Name string
	// PaneName is the live (possibly suffixed) tmux name, used for
	// adapter operations.
	PaneName string
	// WorkDir is the last known working directory (best effort).
	WorkDir string
	// LastState is the most recent classified state.
	LastState screen.State
	// LastCaptureHash digests the last capture to detect "nothing changed".
	LastCaptureHash string
	// ContextTail holds the trailing meaningful lines of the last capture.
	ContextTail []string

	StartedAt          time.Time
	LastStateChangeAt  time.Time
	LastNotificationAt time.Time

	// waitingNotified is set once per contiguous WAITING_INPUT episode.
	waitingNotified bool
	// missCount counts consecutive discovery passes without this pane.
	missCount int
}

// EventKind identifies a notification-worthy edge.
type EventKind int

const (
	// EventCompletion marks the end of a WORKING episode.
	EventCompletion EventKind = iota
	// EventWaitingInput marks entry into WAITING_INPUT.
	EventWaitingInput
)

// Event is an edge produced by Observe.
type Event struct {
	Kind       EventKind
	Session    Session // value copy at edge time
	OccurredAt time.Time
}

// Tracker holds per-session state machines. All methods are safe for
// concurrent use; the monitor mutates it from tick workers and the bot
// reads snapshots from the command worker.
type Tracker struct {
	mu       sync.RWMutex
	prefix   string
	sessions map[string]*Session
}

// NewTracker creates a tracker for sessions under the given name prefix.
func NewTracker(prefix string) *Tracker {
	return &Tracker{
		prefix:   prefix,
		sessions: make(map[string]*Session),
	}
}

// Normalize canonicalizes a name using the tracker's prefix.
func (t *Tracker) Normalize(name string) string {
	return Normalize(t.prefix, name)
}

// Observe feeds one classified capture into the session's state machine
// and returns the notification events the transition produced.
//
// Edges that emit:
//
//	WORKING → WAITING_INPUT | IDLE            completion
//	WORKING | IDLE | UNKNOWN → WAITING_INPUT  waiting-input
//
// Everything else (entering WORKING, entering UNKNOWN, self-loops, and
// the session's first observation) is silent. A WAITING_INPUT
// notification re-arms only after the session leaves WAITING_INPUT.
// discovered is true when this call created the session entry.
func (t *Tracker) Observe(paneName string, snap screen.Capture, cls screen.Classification, workDir string, startedAt time.Time) (events []Event, discovered bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	name := Normalize(t.prefix, paneName)
	now := snap.CapturedAt
	if now.IsZero() {
		now = time.Now()
	}

	s, known := t.sessions[name]
	if !known {
		// First sight: remember state, never emit.
		s = &Session{
			Name:              name,
			PaneName:          paneName,
			LastState:         cls.State,
			LastStateChangeAt: now,
			StartedAt:         startedAt,
		}
		s.WorkDir = workDir
		s.LastCaptureHash = hashLines(snap.Lines)
		s.ContextTail = screen.ContextTail(snap.Lines, 3)
		s.waitingNotified = cls.State == screen.StateWaitingInput
		t.sessions[name] = s
		return nil, true
	}

	s.PaneName = paneName
	s.missCount = 0
	if workDir != "" {
		s.WorkDir = workDir
	}
	if s.StartedAt.IsZero() {
		s.StartedAt = startedAt
	}

	prev := s.LastState
	next := cls.State

	hash := hashLines(snap.Lines)
	unchanged := hash == s.LastCaptureHash
	s.LastCaptureHash = hash

	if next == prev {
		// Self-loop: keep the freshest context, emit nothing.
		if !unchanged {
			s.ContextTail = screen.ContextTail(snap.Lines, 3)
		}
		return nil, false
	}

	// Completions carry the pre-transition buffer tail; waiting-input
	// notifications carry the tail that triggered the classification.
	curTail := screen.ContextTail(snap.Lines, 3)
	preTail := s.ContextTail
	if len(preTail) == 0 {
		preTail = curTail
	}

	s.LastState = next
	s.LastStateChangeAt = now
	s.ContextTail = curTail

	emit := func(kind EventKind, tail []string) {
		s.LastNotificationAt = now
		events = append(events, Event{Kind: kind, Session: snapshotOf(s, tail), OccurredAt: now})
	}

	if prev == screen.StateWorking && (next == screen.StateWaitingInput || next == screen.StateIdle) {
		emit(EventCompletion, preTail)
	}
	if next == screen.StateWaitingInput {
		if prev == screen.StateWorking || prev == screen.StateIdle || prev == screen.StateUnknown {
			if !s.waitingNotified {
				emit(EventWaitingInput, curTail)
			}
		}
		s.waitingNotified = true
	} else {
		// Leaving WAITING_INPUT re-arms the waiting notification.
		s.waitingNotified = false
	}

	return events, false
}

// snapshotOf copies a session value for use outside the lock.
func snapshotOf(s *Session, tail []string) Session {
	out := *s
	out.ContextTail = append([]string(nil), tail...)
	return out
}

// BeginSweep marks every tracked session as unseen; Observe clears the
// mark for sessions rediscovered this tick.
func (t *Tracker) BeginSweep() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range t.sessions {
		s.missCount++
	}
}

// EndSweep removes sessions absent from two consecutive discovery passes
// and returns their names.
func (t *Tracker) EndSweep() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for name, s := range t.sessions {
		if s.missCount >= 2 {
			delete(t.sessions, name)
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	return removed
}

// Lookup returns a snapshot of a session by (normalized) name.
func (t *Tracker) Lookup(name string) (Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[Normalize(t.prefix, name)]
	if !ok {
		return Session{}, false
	}
	return snapshotOf(s, s.ContextTail), true
}

// Snapshot returns copies of all tracked sessions, sorted by name.
func (t *Tracker) Snapshot() []Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, snapshotOf(s, s.ContextTail))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of tracked sessions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// hashLines digests a capture for cheap change detection.
func hashLines(lines []string) string {
	h := sha256.New()
	for _, line := range lines {
		h.Write([]byte(line))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
