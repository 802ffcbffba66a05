package input

import (
	"strings"

	"github.com/kobzarvs/nvbridge/internal/keys"
	"github.com/kobzarvs/nvbridge/internal/mode"
)

type history struct {
	entries []string
	index   int
	prefix  string
}

func (h *history) add(s string) {
	if s == "" {
		return
	}
	if n := len(h.entries); n > 0 && h.entries[n-1] == s {
		return
	}
	h.entries = append(h.entries, s)
}

// Line is the host-side command and search line.
type Line struct {
	kind    mode.Kind
	prompt  rune
	buf     []rune
	cursor  int
	active  bool
	history map[mode.Kind]*history
}

// LineResult tells the resolver what a key did to the line.
type LineResult int

const (
	LineEdited LineResult = iota
	LineSubmitted
	LineCancelled
)

func NewLine() *Line {
	return &Line{
		history: map[mode.Kind]*history{
			mode.Command: {index: -1},
			mode.Search:  {index: -1},
		},
	}
}

func (l *Line) Open(kind mode.Kind, prompt rune, initial string) {
	l.kind = kind
	l.prompt = prompt
	l.buf = []rune(initial)
	l.cursor = len(l.buf)
	l.active = true
	l.history[kind].index = -1
}

func (l *Line) Active() bool   { return l.active }
func (l *Line) Kind() mode.Kind { return l.kind }
func (l *Line) Prompt() rune    { return l.prompt }
func (l *Line) Text() string    { return string(l.buf) }
func (l *Line) Cursor() int     { return l.cursor }

// History returns the submitted lines for kind, oldest first.
func (l *Line) History(kind mode.Kind) []string {
	if h, ok := l.history[kind]; ok {
		return append([]string(nil), h.entries...)
	}
	return nil
}

func (l *Line) close() {
	l.active = false
	l.buf = l.buf[:0]
	l.cursor = 0
	l.history[l.kind].index = -1
}

// Handle applies one key. On submit the returned text is the trimmed line.
func (l *Line) Handle(key string) (LineResult, string) {
	h := l.history[l.kind]
	switch key {
	case keys.Esc, "<C-c>":
		l.close()
		return LineCancelled, ""
	case keys.Enter, "<C-j>":
		text := strings.TrimSpace(string(l.buf))
		h.add(text)
		l.close()
		return LineSubmitted, text
	case "<BS>", "<C-h>":
		if len(l.buf) == 0 {
			l.close()
			return LineCancelled, ""
		}
		if l.cursor > 0 {
			l.buf = append(l.buf[:l.cursor-1], l.buf[l.cursor:]...)
			l.cursor--
			h.index = -1
		}
	case "<Del>":
		if l.cursor < len(l.buf) {
			l.buf = append(l.buf[:l.cursor], l.buf[l.cursor+1:]...)
			h.index = -1
		}
	case "<Left>", "<C-b>":
		if l.cursor > 0 {
			l.cursor--
		}
	case "<Right>", "<C-f>":
		if l.cursor < len(l.buf) {
			l.cursor++
		}
	case "<Home>", "<C-a>":
		l.cursor = 0
	case "<End>", "<C-e>":
		l.cursor = len(l.buf)
	case "<Up>", "<C-p>":
		l.historyUp(h)
	case "<Down>", "<C-n>":
		l.historyDown(h)
	case "<C-u>":
		l.buf = l.buf[:0]
		l.cursor = 0
		h.index = -1
	case "<C-k>":
		l.buf = l.buf[:l.cursor]
		h.index = -1
	case "<C-w>":
		if l.cursor > 0 {
			i := l.cursor - 1
			for i > 0 && l.buf[i-1] == ' ' {
				i--
			}
			for i > 0 && l.buf[i-1] != ' ' {
				i--
			}
			l.buf = append(l.buf[:i], l.buf[l.cursor:]...)
			l.cursor = i
			h.index = -1
		}
	default:
		if r, ok := keys.Char(key); ok {
			l.buf = append(l.buf[:l.cursor], append([]rune{r}, l.buf[l.cursor:]...)...)
			l.cursor++
			h.index = -1
		}
	}
	return LineEdited, ""
}

// historyUp moves to the previous entry starting with what was typed
// before browsing began.
func (l *Line) historyUp(h *history) {
	if len(h.entries) == 0 {
		return
	}
	if h.index == -1 {
		h.prefix = string(l.buf)
		h.index = len(h.entries)
	}
	for i := h.index - 1; i >= 0; i-- {
		if strings.HasPrefix(h.entries[i], h.prefix) {
			h.index = i
			l.buf = []rune(h.entries[i])
			l.cursor = len(l.buf)
			return
		}
	}
}

func (l *Line) historyDown(h *history) {
	if h.index == -1 {
		return
	}
	for i := h.index + 1; i < len(h.entries); i++ {
		if strings.HasPrefix(h.entries[i], h.prefix) {
			h.index = i
			l.buf = []rune(h.entries[i])
			l.cursor = len(l.buf)
			return
		}
	}
	h.index = -1
	l.buf = []rune(h.prefix)
	l.cursor = len(l.buf)
}
