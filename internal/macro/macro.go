// Package macro expands short prefix tokens in inbound chat text into
// longer canned prompts. Expansion is textual and one-pass: macros never
// expand other macros, and unknown tokens pass through unchanged.
package macro

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Table holds the macro definitions.
type Table struct {
	macros map[string]string
}

// tableFile is the TOML shape of a macro file:
//
//	[macros]
//	test = "run the full test suite and report failures"
//	lint = "run the linter and fix every warning"
type tableFile struct {
	Macros map[string]string `toml:"macros"`
}

// Empty returns a table with no macros; Expand is then the identity.
func Empty() *Table {
	return &Table{macros: map[string]string{}}
}

// Load reads a TOML macro table. An empty path yields an empty table.
func Load(path string) (*Table, error) {
	if path == "" {
		return Empty(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading macro table: %w", err)
	}
	var tf tableFile
	if err := toml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parsing macro table: %w", err)
	}
	if tf.Macros == nil {
		tf.Macros = map[string]string{}
	}
	return &Table{macros: tf.Macros}, nil
}

// Len returns the number of defined macros.
func (t *Table) Len() int { return len(t.macros) }

// Names returns the defined macro names (unsorted).
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.macros))
	for name := range t.macros {
		names = append(names, name)
	}
	return names
}

// Expand substitutes a recognized leading token with its expansion.
// The token must be the whole message or be followed by a space; the
// remainder of the message is appended after the expansion.
func (t *Table) Expand(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return text
	}

	token, rest, _ := strings.Cut(trimmed, " ")
	expansion, ok := t.macros[token]
	if !ok {
		return text
	}
	if rest == "" {
		return expansion
	}
	return expansion + " " + strings.TrimSpace(rest)
}
