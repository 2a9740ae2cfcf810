package screen

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// DefaultWorkingTokens returns the built-in working indicators.
// "esc to interrupt" is the host tool's persistent activity footer; the
// gerund tokens are its spinner captions. Tokens with an uppercase
// letter match case-sensitively (see matchToken).
func DefaultWorkingTokens() []string {
	return []string{
		"esc to interrupt",
		"Running…",
		"Processing…",
		"Thinking…",
		"Compacting…",
		"Hatching…",
	}
}

// DefaultWaitingPrompts returns the built-in waiting-prompt patterns.
// All are stored lowercase; matching is a case-insensitive substring
// check against the trailing lines of a capture.
func DefaultWaitingPrompts() []string {
	return []string{
		"ready to code",
		"bash command",
		"select option",
		"choose an option",
		"enter your choice",
		"press enter to continue",
		"waiting for input",
		"type your response",
		"what would you like",
		"how can i help",
		"continue?",
		"proceed?",
		"confirm?",
	}
}

// patternsFile is the TOML shape of a pattern override file.
type patternsFile struct {
	WorkingTokens  []string `toml:"working_tokens"`
	WaitingPrompts []string `toml:"waiting_prompts"`
}

// LoadPatterns reads a TOML override file and returns classifier options.
// An empty path yields no options (defaults apply).
func LoadPatterns(path string) ([]Option, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading patterns file: %w", err)
	}
	var pf patternsFile
	if err := toml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing patterns file: %w", err)
	}

	var opts []Option
	if len(pf.WorkingTokens) > 0 {
		opts = append(opts, WithWorkingTokens(pf.WorkingTokens))
	}
	if len(pf.WaitingPrompts) > 0 {
		opts = append(opts, WithWaitingPrompts(lowerAll(pf.WaitingPrompts)))
	}
	return opts, nil
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
