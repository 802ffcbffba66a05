package host

import (
	"errors"
	"fmt"
	"sync"
	"unicode/utf8"
)

var ErrReadOnly = errors.New("buffer is read-only")

// ChangeFunc observes a replacement of lines [start, oldEnd) by lines.
type ChangeFunc func(start, oldEnd int, old, lines []string)

// LineBuffer is an in-memory TextWidget.
type LineBuffer struct {
	mu        sync.RWMutex
	lines     []string
	cursor    Position
	selection Range
	selected  bool
	top       int
	readOnly  bool
	onChange  []ChangeFunc
}

func NewLineBuffer(lines []string) *LineBuffer {
	b := &LineBuffer{}
	b.lines = normalize(append([]string(nil), lines...))
	return b
}

func normalize(lines []string) []string {
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}

// OnChange registers fn to run after every successful replacement.
func (b *LineBuffer) OnChange(fn ChangeFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

func (b *LineBuffer) SetReadOnly(ro bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.readOnly = ro
}

func (b *LineBuffer) LineCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

func (b *LineBuffer) Lines(start, end int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if start < 0 {
		start = 0
	}
	if end < 0 || end > len(b.lines) {
		end = len(b.lines)
	}
	if start >= end {
		return nil
	}
	return append([]string(nil), b.lines[start:end]...)
}

// All returns a copy of every line.
func (b *LineBuffer) All() []string {
	return b.Lines(0, -1)
}

func (b *LineBuffer) ReplaceLines(start, end int, lines []string) error {
	b.mu.Lock()
	if b.readOnly {
		b.mu.Unlock()
		return ErrReadOnly
	}
	if start < 0 || end < start || end > len(b.lines) {
		n := len(b.lines)
		b.mu.Unlock()
		return fmt.Errorf("replace [%d,%d) in %d lines: out of range", start, end, n)
	}
	old := append([]string(nil), b.lines[start:end]...)
	next := make([]string, 0, len(b.lines)-(end-start)+len(lines))
	next = append(next, b.lines[:start]...)
	next = append(next, lines...)
	next = append(next, b.lines[end:]...)
	b.lines = normalize(next)
	b.clampCursor()
	subs := append([]ChangeFunc(nil), b.onChange...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(start, end, old, lines)
	}
	return nil
}

func (b *LineBuffer) clampCursor() {
	if b.cursor.Line >= len(b.lines) {
		b.cursor.Line = len(b.lines) - 1
	}
	if n := utf8.RuneCountInString(b.lines[b.cursor.Line]); b.cursor.Col > n {
		b.cursor.Col = n
	}
}

func (b *LineBuffer) Cursor() Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

func (b *LineBuffer) SetCursor(p Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p.Line < 0 {
		p.Line = 0
	}
	if p.Col < 0 {
		p.Col = 0
	}
	b.cursor = p
	b.clampCursor()
}

func (b *LineBuffer) Selection() (Range, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.selection, b.selected
}

func (b *LineBuffer) SetSelection(r Range) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selection = r
	b.selected = true
}

func (b *LineBuffer) ClearSelection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = false
}

func (b *LineBuffer) ScrollToLine(line int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if line < 0 {
		line = 0
	}
	b.top = line
}

// Top is the line last passed to ScrollToLine.
func (b *LineBuffer) Top() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.top
}
