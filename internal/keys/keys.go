// Package keys converts host key events into nvim key notation and works
// with notation strings ("<C-w>", "<Esc>", "gt").
package keys

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gdamore/tcell/v2"
)

const (
	Esc   = "<Esc>"
	Enter = "<CR>"
	Space = "<Space>"
	Lt    = "<lt>"
)

var specialNames = map[tcell.Key]string{
	tcell.KeyEnter:      "CR",
	tcell.KeyTab:        "Tab",
	tcell.KeyBacktab:    "S-Tab",
	tcell.KeyEscape:     "Esc",
	tcell.KeyBackspace:  "BS",
	tcell.KeyBackspace2: "BS",
	tcell.KeyDelete:     "Del",
	tcell.KeyInsert:     "Insert",
	tcell.KeyUp:         "Up",
	tcell.KeyDown:       "Down",
	tcell.KeyLeft:       "Left",
	tcell.KeyRight:      "Right",
	tcell.KeyHome:       "Home",
	tcell.KeyEnd:        "End",
	tcell.KeyPgUp:       "PageUp",
	tcell.KeyPgDn:       "PageDown",
}

// FromEvent returns the nvim notation for a tcell key event.
// ok is false for events with no notation (e.g. bare modifiers).
func FromEvent(ev *tcell.EventKey) (string, bool) {
	mods := ev.Modifiers()
	key := ev.Key()

	if key == tcell.KeyRune {
		r := ev.Rune()
		if mods&tcell.ModCtrl != 0 {
			return Normalize(wrap(modPrefix(mods&^tcell.ModShift) + runeName(toLower(r)))), true
		}
		if mods&(tcell.ModAlt|tcell.ModMeta) != 0 {
			return Normalize(wrap(modPrefix(mods&^tcell.ModShift) + runeName(r))), true
		}
		switch r {
		case '<':
			return Lt, true
		case ' ':
			return Space, true
		}
		return string(r), true
	}

	if name, ok := specialNames[key]; ok {
		if key == tcell.KeyEscape && mods&(tcell.ModAlt|tcell.ModMeta) == 0 {
			return Esc, true
		}
		if key == tcell.KeyBacktab {
			mods &^= tcell.ModShift
		}
		return wrap(modPrefix(mods) + name), true
	}

	if key >= tcell.KeyF1 && key <= tcell.KeyF64 {
		return wrap(modPrefix(mods) + "F" + strconv.Itoa(int(key-tcell.KeyF1)+1)), true
	}

	// Legacy control codes. Backspace, Tab, Enter and Escape share codes
	// with C-h, C-i, C-m and C-[ and are handled by specialNames above.
	if key >= tcell.KeyCtrlA && key <= tcell.KeyCtrlZ {
		return "<C-" + string(rune('a'+int(key-tcell.KeyCtrlA))) + ">", true
	}
	switch key {
	case tcell.KeyCtrlSpace:
		return "<C-Space>", true
	case tcell.KeyCtrlBackslash:
		return "<C-\\>", true
	case tcell.KeyCtrlRightSq:
		return "<C-]>", true
	case tcell.KeyCtrlCarat:
		return "<C-^>", true
	case tcell.KeyCtrlUnderscore:
		return "<C-_>", true
	}
	return "", false
}

func modPrefix(mods tcell.ModMask) string {
	var b strings.Builder
	if mods&tcell.ModCtrl != 0 {
		b.WriteString("C-")
	}
	if mods&tcell.ModShift != 0 {
		b.WriteString("S-")
	}
	if mods&(tcell.ModAlt|tcell.ModMeta) != 0 {
		b.WriteString("M-")
	}
	return b.String()
}

func runeName(r rune) string {
	switch r {
	case '<':
		return "lt"
	case ' ':
		return "Space"
	}
	return string(r)
}

func wrap(s string) string {
	return "<" + s + ">"
}

func toLower(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

var canonicalNames = map[string]string{
	"esc":       "Esc",
	"escape":    "Esc",
	"cr":        "CR",
	"enter":     "CR",
	"return":    "CR",
	"bs":        "BS",
	"backspace": "BS",
	"tab":       "Tab",
	"space":     "Space",
	"lt":        "lt",
	"bar":       "Bar",
	"bslash":    "Bslash",
	"del":       "Del",
	"delete":    "Del",
	"insert":    "Insert",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "PageUp",
	"pagedown":  "PageDown",
	"nop":       "Nop",
}

// Normalize rewrites one notation token into the canonical spelling used
// by the keymap tables: "<c-W>" becomes "<C-w>", "<enter>" becomes "<CR>"
// and the terminal alternate escape "<C-[>" becomes "<Esc>".
func Normalize(token string) string {
	if len(token) < 3 || token[0] != '<' || token[len(token)-1] != '>' {
		return token
	}
	body := token[1 : len(token)-1]

	var mods []string
	for len(body) > 2 && body[1] == '-' {
		switch m := strings.ToUpper(body[:1]); m {
		case "C", "S", "D":
			mods = append(mods, m)
		case "M", "A":
			mods = append(mods, "M")
		default:
			return token
		}
		body = body[2:]
	}

	name := body
	if canon, ok := canonicalNames[strings.ToLower(body)]; ok {
		name = canon
	} else if len(body) > 1 && (body[0] == 'f' || body[0] == 'F') && isDigits(body[1:]) {
		name = "F" + body[1:]
	} else if utf8.RuneCountInString(body) == 1 && hasMod(mods, "C") {
		name = strings.ToLower(body)
	}

	if len(mods) == 1 && mods[0] == "C" && name == "[" {
		return Esc
	}
	if len(mods) == 0 && name == "lt" {
		return Lt
	}
	if len(mods) == 0 {
		if utf8.RuneCountInString(name) == 1 {
			return name
		}
		return "<" + name + ">"
	}
	return "<" + strings.Join(mods, "-") + "-" + name + ">"
}

func hasMod(mods []string, m string) bool {
	for _, v := range mods {
		if v == m {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Split tokenizes a notation string into normalized keys.
// "3<C-w>j" yields ["3", "<C-w>", "j"]. A '<' without a closing '>' is a
// literal "<lt>".
func Split(seq string) []string {
	var out []string
	for i := 0; i < len(seq); {
		if seq[i] == '<' {
			if end := strings.IndexByte(seq[i+1:], '>'); end > 0 {
				tok := seq[i : i+end+2]
				if !strings.ContainsAny(tok[1:len(tok)-1], " <") {
					out = append(out, Normalize(tok))
					i += len(tok)
					continue
				}
			}
			out = append(out, Lt)
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(seq[i:])
		if r == ' ' {
			out = append(out, Space)
		} else {
			out = append(out, string(r))
		}
		i += size
	}
	return out
}

// Join concatenates normalized keys into one notation string.
func Join(tokens []string) string {
	return strings.Join(tokens, "")
}

// Escape makes literal text safe to pass to nvim_input.
func Escape(text string) string {
	return strings.ReplaceAll(text, "<", Lt)
}

// Char returns the literal character a single key stands for, used when a
// key is inserted into the host command line. ok is false for special keys.
func Char(key string) (rune, bool) {
	switch key {
	case Lt:
		return '<', true
	case Space:
		return ' ', true
	}
	if utf8.RuneCountInString(key) != 1 {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(key)
	return r, true
}

// Digit reports whether key is a single decimal digit.
func Digit(key string) (int, bool) {
	if len(key) != 1 || key[0] < '0' || key[0] > '9' {
		return 0, false
	}
	return int(key[0] - '0'), true
}
