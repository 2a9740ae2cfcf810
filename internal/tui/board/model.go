// Package board renders a live session dashboard in the terminal,
// fed by the monitor's websocket event feed.
package board

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/xcawolfe-amzn/relay/internal/feed"
	"github.com/xcawolfe-amzn/relay/internal/style"
)

// row is the board's view of one session.
type row struct {
	Name    string
	State   string
	WorkDir string
	Since   time.Time
	SeenAt  time.Time
}

// eventMsg wraps a feed event for the bubbletea loop.
type eventMsg feed.Event

// disconnectedMsg reports that the event stream ended.
type disconnectedMsg struct{ err error }

// tickMsg re-renders ages once a second.
type tickMsg time.Time

// keyMap defines board keybindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// Model is the bubbletea model for the board.
type Model struct {
	events <-chan feed.Event
	rows   map[string]*row
	addr   string
	err    error
	width  int
}

// New creates a board model reading from the given event channel.
func New(addr string, events <-chan feed.Event) Model {
	return Model{
		events: events,
		rows:   make(map[string]*row),
		addr:   addr,
	}
}

// Init starts the event pump and the age ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.nextEvent(), tick())
}

func (m Model) nextEvent() tea.Cmd {
	return func() tea.Msg {
		e, ok := <-m.events
		if !ok {
			return disconnectedMsg{}
		}
		return eventMsg(e)
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles board messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tickMsg:
		return m, tick()
	case disconnectedMsg:
		m.err = msg.err
		return m, tea.Quit
	case eventMsg:
		m.apply(feed.Event(msg))
		return m, m.nextEvent()
	}
	return m, nil
}

// apply folds one feed event into the row set.
func (m *Model) apply(e feed.Event) {
	switch e.Type {
	case feed.TypeRemoved:
		delete(m.rows, e.Session)
	case feed.TypeSnapshot, feed.TypeDiscovered, feed.TypeStateChange:
		r, ok := m.rows[e.Session]
		if !ok {
			r = &row{Name: e.Session}
			m.rows[e.Session] = r
		}
		if e.State != "" {
			r.State = e.State
		}
		if e.WorkDir != "" {
			r.WorkDir = e.WorkDir
		}
		if !e.Since.IsZero() {
			r.Since = e.Since
		}
		r.SeenAt = e.At
	case feed.TypeNotification:
		// Notification events carry no board state.
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)

// View renders the board.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("relay board"))
	b.WriteString(style.Dim.Render("  " + m.addr))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(style.Dim.Render("  no sessions\n"))
	} else {
		fmt.Fprintf(&b, "  %-26s %-14s %-8s %s\n", "SESSION", "STATE", "FOR", "DIR")
		for _, r := range m.sorted() {
			age := "-"
			if !r.Since.IsZero() {
				age = shortDuration(time.Since(r.Since))
			}
			state := style.ForState(r.State).Render(fmt.Sprintf("%-14s", r.State))
			fmt.Fprintf(&b, "  %-26s %s %-8s %s\n", r.Name, state, age, r.WorkDir)
		}
	}

	b.WriteString("\n")
	b.WriteString(style.Dim.Render("  q to quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) sorted() []*row {
	out := make([]*row, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
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
