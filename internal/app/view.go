package app

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/gitinfo"
	"github.com/kobzarvs/nvbridge/internal/highlight"
	"github.com/kobzarvs/nvbridge/internal/host"
	"github.com/kobzarvs/nvbridge/internal/input"
	"github.com/kobzarvs/nvbridge/internal/mode"
)

const tabWidth = 4

// View draws the current document, a status line and the command line.
// It is the host Indicator and is only touched from the bridge loop.
type View struct {
	screen tcell.Screen
	ws     *host.Workspace
	hl     *highlight.Highlighter
	line   *input.Line
	tops   map[string]int
	git    *gitinfo.Cache
	shown  string

	mode    mode.State
	pending string
	message string
	msgErr  bool

	styleMain    tcell.Style
	styleStatus  tcell.Style
	styleCommand tcell.Style
	styleMessage tcell.Style
	styleVisual  tcell.Style
	syntax       map[string]tcell.Style
}

func NewView(s tcell.Screen, ws *host.Workspace, hl *highlight.Highlighter, theme config.Theme) *View {
	fg := parseColor(theme.Foreground, tcell.ColorWhite)
	bg := parseColor(theme.Background, tcell.ColorBlack)
	main := tcell.StyleDefault.Foreground(fg).Background(bg)
	v := &View{
		screen:    s,
		ws:        ws,
		hl:        hl,
		tops:      make(map[string]int),
		git:       gitinfo.NewCache(),
		styleMain: main,
		styleStatus: tcell.StyleDefault.
			Foreground(parseColor(theme.StatuslineForeground, fg)).
			Background(parseColor(theme.StatuslineBackground, bg)),
		styleCommand: tcell.StyleDefault.
			Foreground(parseColor(theme.CommandlineForeground, fg)).
			Background(parseColor(theme.CommandlineBackground, bg)),
		styleMessage: tcell.StyleDefault.
			Foreground(parseColor(theme.MessageForeground, tcell.ColorRed)).
			Background(parseColor(theme.CommandlineBackground, bg)),
		styleVisual: main.Reverse(true),
	}
	v.syntax = map[string]tcell.Style{
		"keyword":  main.Foreground(parseColor(theme.SyntaxKeyword, fg)),
		"string":   main.Foreground(parseColor(theme.SyntaxString, fg)),
		"comment":  main.Foreground(parseColor(theme.SyntaxComment, fg)),
		"type":     main.Foreground(parseColor(theme.SyntaxType, fg)),
		"function": main.Foreground(parseColor(theme.SyntaxFunction, fg)),
		"number":   main.Foreground(parseColor(theme.SyntaxNumber, fg)),
		"constant": main.Foreground(parseColor(theme.SyntaxNumber, fg)),
	}
	return v
}

// SetLine connects the host command line to the view.
func (v *View) SetLine(l *input.Line) { v.line = l }

func (v *View) ShowMode(st mode.State, pending string) {
	v.mode = st
	v.pending = pending
}

func (v *View) ShowMessage(msg string, isError bool) {
	v.message = msg
	v.msgErr = isError
}

// Mode returns what was last shown.
func (v *View) Mode() mode.State { return v.mode }

// Message returns the transient message and whether it is an error.
func (v *View) Message() (string, bool) { return v.message, v.msgErr }

// textHeight is the number of rows for text.
func (v *View) textHeight() int {
	_, h := v.screen.Size()
	if h < 2 {
		return 0
	}
	return h - 2
}

// Position maps a screen cell to a document position, for mouse clicks.
func (v *View) Position(x, y int) (host.Position, bool) {
	buf, ok := v.ws.Buffer(v.ws.Current())
	if !ok || y < 0 || y >= v.textHeight() {
		return host.Position{}, false
	}
	top := v.top(v.ws.Current(), buf)
	line := top + y
	if line >= buf.LineCount() {
		line = buf.LineCount() - 1
	}
	text := []rune(buf.Lines(line, line+1)[0])
	col := 0
	for col < len(text) && visualCol(text, col+1) <= x {
		col++
	}
	return host.Position{Line: line, Col: col}, true
}

// top scrolls the window of path just enough to show the line the
// buffer was last scrolled to.
func (v *View) top(path string, buf *host.LineBuffer) int {
	h := v.textHeight()
	target := buf.Top()
	if n := buf.LineCount(); target >= n {
		target = n - 1
	}
	if h == 0 {
		return target
	}
	top := v.tops[path]
	if target < top {
		top = target
	}
	if target >= top+h {
		top = target - h + 1
	}
	if top < 0 {
		top = 0
	}
	v.tops[path] = top
	return top
}

func (v *View) Render() {
	s := v.screen
	s.Clear()
	w, h := s.Size()
	if w == 0 || h == 0 {
		s.Show()
		return
	}
	cursorX, cursorY := v.renderText(w)
	v.renderStatus(w, h-2)
	if x, ok := v.renderCommand(w, h-1); ok {
		cursorX, cursorY = x, h-1
	}

	if cursorY >= 0 {
		s.ShowCursor(cursorX, cursorY)
	} else {
		s.HideCursor()
	}
	s.SetCursorStyle(cursorStyle(v.mode.Kind, v.line != nil && v.line.Active()))
	s.Show()
}

func cursorStyle(k mode.Kind, lineOpen bool) tcell.CursorStyle {
	if lineOpen {
		return tcell.CursorStyleSteadyBar
	}
	switch mode.ShapeOf(k) {
	case mode.ShapeBar:
		return tcell.CursorStyleSteadyBar
	case mode.ShapeUnderline:
		return tcell.CursorStyleSteadyUnderline
	}
	return tcell.CursorStyleSteadyBlock
}

func (v *View) renderText(w int) (int, int) {
	height := v.textHeight()
	for y := 0; y < height; y++ {
		clearLine(v.screen, y, w, v.styleMain)
	}
	path := v.ws.Current()
	buf, ok := v.ws.Buffer(path)
	if !ok {
		return 0, -1
	}
	top := v.top(path, buf)
	end := top + height - 1
	lines := buf.Lines(top, end+1)
	spans := v.hl.Spans(path, top, end)
	sel, selected := buf.Selection()

	for i, text := range lines {
		row := top + i
		x := 0
		for col, r := range []rune(text) {
			style := v.styleMain
			if kind := highlight.KindAt(spans[row], col); kind != "" {
				if st, ok := v.syntax[kind]; ok {
					style = st
				}
			}
			if selected && inRange(sel, row, col) {
				style = v.styleVisual
			}
			if r == '\t' {
				next := x + tabWidth - x%tabWidth
				for ; x < next && x < w; x++ {
					v.screen.SetContent(x, i, ' ', nil, style)
				}
				continue
			}
			if x < w {
				v.screen.SetContent(x, i, r, nil, style)
			}
			x++
		}
	}

	cur := buf.Cursor()
	if cur.Line < top || cur.Line > end {
		return 0, -1
	}
	text := []rune(buf.Lines(cur.Line, cur.Line+1)[0])
	return visualCol(text, cur.Col), cur.Line - top
}

func inRange(r host.Range, line, col int) bool {
	start, end := r.Start, r.End
	if line < start.Line || line > end.Line {
		return false
	}
	if line == start.Line && col < start.Col {
		return false
	}
	if line == end.Line && col >= end.Col {
		return false
	}
	return true
}

func (v *View) renderStatus(w, y int) {
	path := v.ws.Current()
	name := "[No Name]"
	if path != "" && !v.ws.Untitled(path) {
		name = filepath.Base(path)
	}
	if path != "" && v.ws.Modified(path) {
		name += " [+]"
	}
	left := " " + v.mode.Kind.String()
	if v.mode.Recording != 0 {
		left += " recording @" + string(v.mode.Recording)
	}
	left += "  " + name
	if path != v.shown {
		// Switching documents is when a checkout elsewhere gets noticed.
		v.git.Forget()
		v.shown = path
	}
	if path != "" && !v.ws.Untitled(path) {
		if branch := v.git.Branch(path); branch != "" {
			left += "  " + branch
		}
	}

	right := v.pending
	if buf, ok := v.ws.Buffer(path); ok {
		cur := buf.Cursor()
		right = strings.TrimSpace(right + "  " + strconv.Itoa(cur.Line+1) + ":" + strconv.Itoa(cur.Col+1))
	}
	line := composeStatusLine(left, right+" ", w)
	for x, r := range line {
		v.screen.SetContent(x, y, r, nil, v.styleStatus)
	}
}

// renderCommand draws the open command/search line, or the last message.
// It reports the cursor column when the line is open.
func (v *View) renderCommand(w, y int) (int, bool) {
	clearLine(v.screen, y, w, v.styleCommand)
	if v.line != nil && v.line.Active() {
		text := []rune(string(v.line.Prompt()) + v.line.Text())
		for x := 0; x < len(text) && x < w; x++ {
			v.screen.SetContent(x, y, text[x], nil, v.styleCommand)
		}
		return 1 + v.line.Cursor(), true
	}
	style := v.styleCommand
	if v.msgErr {
		style = v.styleMessage
	}
	for x, r := range []rune(v.message) {
		if x >= w {
			break
		}
		v.screen.SetContent(x, y, r, nil, style)
	}
	return 0, false
}

func clearLine(s tcell.Screen, y, w int, style tcell.Style) {
	for x := 0; x < w; x++ {
		s.SetContent(x, y, ' ', nil, style)
	}
}

func composeStatusLine(left, right string, width int) []rune {
	if width <= 0 {
		return nil
	}
	l, r := []rune(left), []rune(right)
	if len(l)+len(r) > width {
		if len(r) >= width {
			r = r[len(r)-width:]
			l = nil
		} else {
			l = l[:width-len(r)]
		}
	}
	out := make([]rune, 0, width)
	out = append(out, l...)
	for i := len(l) + len(r); i < width; i++ {
		out = append(out, ' ')
	}
	return append(out, r...)
}

func visualCol(line []rune, col int) int {
	if col > len(line) {
		col = len(line)
	}
	x := 0
	for i := 0; i < col; i++ {
		if line[i] == '\t' {
			x += tabWidth - x%tabWidth
			continue
		}
		x++
	}
	return x
}

func parseColor(name string, fallback tcell.Color) tcell.Color {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	if strings.HasPrefix(name, "#") && len(name) == 7 {
		var r, g, b int32
		if _, err := fmt.Sscanf(name, "#%02x%02x%02x", &r, &g, &b); err != nil {
			return fallback
		}
		return tcell.NewRGBColor(r, g, b)
	}
	if strings.EqualFold(name, "default") {
		return tcell.ColorDefault
	}
	if c := tcell.GetColor(strings.ToLower(name)); c != tcell.ColorDefault {
		return c
	}
	return fallback
}
