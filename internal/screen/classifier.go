// Package screen classifies captured pane buffers into session states.
// Classification is pure: identical buffers always yield identical results,
// and the classifier performs no I/O.
package screen

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// State is the classified condition of a session's pane.
type State int

const (
	// StateUnknown means the buffer was empty or unparseable.
	// Consumers treat it as "no transition".
	StateUnknown State = iota
	// StateWorking means the hosted tool is actively computing.
	StateWorking
	// StateWaitingInput means the tool is blocked on user input.
	StateWaitingInput
	// StateIdle means the pane shows a quiet prompt.
	StateIdle
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateWorking:
		return "working"
	case StateWaitingInput:
		return "waiting_input"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Capture is a snapshot of a pane's visible buffer.
type Capture struct {
	Lines      []string
	CapturedAt time.Time
}

// Classification is the result of classifying one capture.
type Classification struct {
	State    State
	Evidence string
}

// tailWindow is how many trailing lines are scanned for waiting prompts.
const tailWindow = 5

// menuItemRE matches continuation lines of a numbered option menu ("2. No").
var menuItemRE = regexp.MustCompile(`^\d+[.)]\s`)

// menuLeadRE matches the first line of a numbered option menu.
var menuLeadRE = regexp.MustCompile(`^(❯|1[.)])\s`)

// boxDrawing covers the Unicode box-drawing block used by TUI frames.
var boxDrawing = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x2500, Hi: 0x257f, Stride: 1}},
}

// stripBoxDrawing removes box-drawing glyphs so prompt patterns match
// text rendered inside TUI frames.
var stripBoxDrawing = runes.Remove(runes.In(boxDrawing))

// promptGlyphs end an idle buffer's last meaningful line.
var promptGlyphs = []string{"❯", ">", "$", "#", "%"}

// Classifier maps captures to states using configured token lists.
type Classifier struct {
	workingTokens  []string
	waitingPrompts []string
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithWorkingTokens replaces the default working-indicator tokens.
func WithWorkingTokens(tokens []string) Option {
	return func(c *Classifier) {
		if len(tokens) > 0 {
			c.workingTokens = tokens
		}
	}
}

// WithWaitingPrompts replaces the default waiting-prompt patterns.
func WithWaitingPrompts(prompts []string) Option {
	return func(c *Classifier) {
		if len(prompts) > 0 {
			c.waitingPrompts = prompts
		}
	}
}

// New creates a classifier with the default pattern tables.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		workingTokens:  DefaultWorkingTokens(),
		waitingPrompts: DefaultWaitingPrompts(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify maps a capture to a state. Priority is strict: working
// indicators beat waiting prompts beat idle. A tool can render a prompt
// glyph while still executing, so treating the prompt as idle would
// produce false completions.
func (c *Classifier) Classify(snap Capture) Classification {
	if isEmpty(snap.Lines) {
		return Classification{State: StateUnknown, Evidence: "empty buffer"}
	}

	// 1. Working indicators, matched as substrings over the raw buffer;
	// surrounding frame decoration is irrelevant here.
	for _, line := range snap.Lines {
		for _, tok := range c.workingTokens {
			if matchToken(line, tok) {
				return Classification{State: StateWorking, Evidence: "working token: " + tok}
			}
		}
	}

	// 2. Waiting prompts in the trailing window, frame glyphs stripped,
	// case-insensitive. No locale folding: plain ToLower substring match.
	tail := tailLines(snap.Lines, tailWindow)
	for _, line := range tail {
		clean := strings.ToLower(strings.TrimSpace(stripFrame(line)))
		if clean == "" {
			continue
		}
		for _, prompt := range c.waitingPrompts {
			if strings.Contains(clean, prompt) {
				return Classification{State: StateWaitingInput, Evidence: "prompt: " + prompt}
			}
		}
	}
	if evidence, ok := menuDetected(tail); ok {
		return Classification{State: StateWaitingInput, Evidence: evidence}
	}

	// 3. Idle: quiet buffer ending on a prompt glyph.
	if last, ok := lastMeaningfulLine(snap.Lines); ok {
		if endsOnPromptGlyph(last) {
			return Classification{State: StateIdle, Evidence: "prompt glyph: " + last}
		}
	}

	return Classification{State: StateUnknown, Evidence: "no recognized markers"}
}

// matchToken matches a working token against a line. Tokens carrying an
// uppercase letter encode the host tool's known casing and match exactly;
// all-lowercase tokens match case-insensitively.
func matchToken(line, token string) bool {
	if token != strings.ToLower(token) {
		return strings.Contains(line, token)
	}
	return strings.Contains(strings.ToLower(line), token)
}

// menuDetected finds a numbered-option menu: a line opening with "❯" or
// "1." immediately followed by another "N." line.
func menuDetected(tail []string) (string, bool) {
	var cleaned []string
	for _, line := range tail {
		c := strings.TrimSpace(stripFrame(line))
		if c != "" {
			cleaned = append(cleaned, c)
		}
	}
	for i := 0; i < len(cleaned)-1; i++ {
		// "❯ 1. Yes" and bare "1. Yes" both open a menu.
		if !strings.HasPrefix(cleaned[i], "❯") && !menuLeadRE.MatchString(cleaned[i]) {
			continue
		}
		if menuItemRE.MatchString(cleaned[i+1]) {
			return "numbered menu", true
		}
	}
	return "", false
}

// stripFrame removes box-drawing glyphs from a line.
func stripFrame(line string) string {
	out, _, err := transform.String(stripBoxDrawing, line)
	if err != nil {
		return line
	}
	return out
}

// endsOnPromptGlyph reports whether a line is a bare shell or tool prompt.
// A trailing "_" cursor artifact is ignored ("> _" is a quiet prompt).
func endsOnPromptGlyph(line string) bool {
	line = strings.TrimSpace(stripFrame(line))
	line = strings.TrimSpace(strings.TrimSuffix(line, "_"))
	if line == "" {
		return false
	}
	for _, glyph := range promptGlyphs {
		if strings.HasSuffix(line, glyph) {
			return true
		}
	}
	return false
}

// lastMeaningfulLine returns the last non-blank line of the buffer.
func lastMeaningfulLine(lines []string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return lines[i], true
		}
	}
	return "", false
}

// tailLines returns up to n trailing non-empty-ish lines (blank lines at
// the very bottom of a capture are skipped before counting).
func tailLines(lines []string, n int) []string {
	end := len(lines)
	for end > 0 && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	start := end - n
	if start < 0 {
		start = 0
	}
	return lines[start:end]
}

func isEmpty(lines []string) bool {
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			return false
		}
	}
	return true
}

// ContextTail returns the last n meaningful lines of a capture for use
// as notification context.
func ContextTail(lines []string, n int) []string {
	var out []string
	for i := len(lines) - 1; i >= 0 && len(out) < n; i-- {
		trimmed := strings.TrimSpace(stripFrame(lines[i]))
		if trimmed == "" {
			continue
		}
		out = append([]string{trimmed}, out...)
	}
	return out
}
