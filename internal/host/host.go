// Package host defines what the bridge needs from the editor that embeds
// it, plus small in-memory implementations used by the terminal host and
// by tests.
package host

import (
	"unicode/utf8"

	"github.com/kobzarvs/nvbridge/internal/mode"
)

// Position is a zero-based line and a zero-based column counted in runes.
type Position struct {
	Line int
	Col  int
}

type Range struct {
	Start Position
	End   Position
}

// TextWidget is the visible text surface of one document.
type TextWidget interface {
	LineCount() int
	// Lines returns lines [start, end).
	Lines(start, end int) []string
	// ReplaceLines replaces lines [start, end) with lines.
	ReplaceLines(start, end int, lines []string) error
	Cursor() Position
	SetCursor(p Position)
	Selection() (Range, bool)
	SetSelection(r Range)
	ClearSelection()
	ScrollToLine(line int)
}

// Documents is the host's tab and file lifecycle.
type Documents interface {
	Current() string
	Paths() []string
	Widget(path string) (TextWidget, bool)
	Open(path string) error
	// Cycle moves the current document by delta and returns the new path.
	Cycle(delta int) (string, bool)
	Save(path string) error
	SaveAll() error
	Reload(path string) error
	// Close returns false when the host kept the document open, e.g.
	// because it is modified and the user declined.
	Close(path string, force bool) (bool, error)
	CloseAll(force bool) (bool, error)
	SetModified(path string, modified bool)
	Modified(path string) bool
}

// Indicator shows mode and messages to the user.
type Indicator interface {
	ShowMode(st mode.State, pending string)
	ShowMessage(msg string, isError bool)
}

// RuneCol converts a byte column into a rune column within line.
func RuneCol(line string, byteCol int) int {
	if byteCol <= 0 {
		return 0
	}
	if byteCol >= len(line) {
		return utf8.RuneCountInString(line)
	}
	return utf8.RuneCountInString(line[:byteCol])
}

// ByteCol converts a rune column into a byte column within line.
func ByteCol(line string, runeCol int) int {
	if runeCol <= 0 {
		return 0
	}
	i := 0
	for n := 0; n < runeCol && i < len(line); n++ {
		_, size := utf8.DecodeRuneInString(line[i:])
		i += size
	}
	return i
}
