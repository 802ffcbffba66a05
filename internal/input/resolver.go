// Package input decides, key by key, whether the host handles a keystroke
// itself or forwards it to nvim.
package input

import (
	"strconv"
	"strings"
	"time"

	"github.com/kobzarvs/nvbridge/internal/keys"
	"github.com/kobzarvs/nvbridge/internal/logger"
	"github.com/kobzarvs/nvbridge/internal/mode"
)

type ActionKind int

const (
	// Accumulate means the key was absorbed into pending state.
	Accumulate ActionKind = iota
	// Local means the host runs the named action itself.
	Local
	// Forward means Keys go to nvim as typed input.
	Forward
)

func (k ActionKind) String() string {
	switch k {
	case Local:
		return "local"
	case Forward:
		return "forward"
	}
	return "accumulate"
}

// Action is the result of resolving one key.
type Action struct {
	Kind ActionKind
	// Name is the local action, set when Kind is Local.
	Name string
	// Keys is the nvim notation to send, set when Kind is Forward.
	Keys string
	// Arg carries the submitted command or search text.
	Arg string
	// Count and Register are the prefixes captured for a Local action.
	Count    int
	Register rune
}

const maxCount = 99999999

// Resolver turns host keys into actions. It is driven from a single
// goroutine.
type Resolver struct {
	keymap  *Keymap
	machine *mode.Machine
	line    *Line
	timeout time.Duration
	now     func() time.Time

	seq []string
	// motion is a count typed after a pending operator, as in 2d3w.
	motion           string
	deadline         time.Time
	awaitingRegister bool
}

func NewResolver(km *Keymap, m *mode.Machine, timeout time.Duration) *Resolver {
	return &Resolver{
		keymap:  km,
		machine: m,
		line:    NewLine(),
		timeout: timeout,
		now:     time.Now,
	}
}

func (r *Resolver) SetTimeout(d time.Duration) { r.timeout = d }
func (r *Resolver) SetKeymap(km *Keymap)       { r.keymap = km }
func (r *Resolver) Line() *Line                { return r.line }

// Deadline returns when the pending sequence expires.
func (r *Resolver) Deadline() (time.Time, bool) {
	if len(r.seq) == 0 {
		return time.Time{}, false
	}
	return r.deadline, true
}

// Pending renders the unresolved input, e.g. `"a3g`.
func (r *Resolver) Pending() string {
	st := r.machine.State()
	var b strings.Builder
	if st.Register != 0 {
		b.WriteByte('"')
		b.WriteRune(st.Register)
	} else if r.awaitingRegister {
		b.WriteByte('"')
	}
	if st.Count > 0 {
		b.WriteString(strconv.Itoa(st.Count))
	}
	b.WriteString(keys.Join(r.seq))
	b.WriteString(r.motion)
	if st.PendingOp != 0 {
		b.WriteRune(st.PendingOp)
	}
	return b.String()
}

// Reset drops every pending prefix.
func (r *Resolver) Reset() {
	r.seq = nil
	r.motion = ""
	r.deadline = time.Time{}
	r.awaitingRegister = false
	r.machine.ClearPrefix()
}

// Resolve classifies one key.
func (r *Resolver) Resolve(key string) Action {
	key = keys.Normalize(key)
	st := r.machine.State()

	if st.Blocking {
		r.Reset()
		return Action{Kind: Forward, Keys: key}
	}

	if r.machine.LineOpen() {
		return r.resolveLine(key)
	}
	if st.Kind == mode.Command {
		// nvim's own command line, opened by a forwarded key.
		return Action{Kind: Forward, Keys: key}
	}

	if key == keys.Esc && r.pending(st) {
		r.Reset()
		return Action{Kind: Forward, Keys: keys.Esc}
	}

	if r.awaitingRegister {
		r.awaitingRegister = false
		if reg, ok := registerName(key); ok {
			r.machine.SetRegister(reg)
			return Action{Kind: Accumulate}
		}
		r.machine.SetRegister(0)
		st = r.machine.State()
	}

	if st.PendingOp != 0 {
		op := string(st.PendingOp)
		r.machine.EndCharOp()
		return r.forward(op + key)
	}

	if len(r.seq) == 0 {
		if key == "q" && st.Recording != 0 && st.Kind == mode.Normal {
			return r.forward(key)
		}
		if op, ok := charOp(st.Kind, key); ok {
			if err := r.machine.BeginCharOp(op); err == nil {
				return Action{Kind: Accumulate}
			}
		}
	}

	if d, ok := keys.Digit(key); ok && len(r.seq) > 0 && (d != 0 || r.motion != "") {
		if !st.Kind.Counted() || !operators[keys.Join(r.seq)] {
			return r.forward(r.literal(key))
		}
		r.motion += key
		r.deadline = r.now().Add(r.timeout)
		return Action{Kind: Accumulate}
	}

	if st.Kind.Counted() && len(r.seq) == 0 {
		if d, ok := keys.Digit(key); ok && (d != 0 || st.Count > 0) {
			n := st.Count*10 + d
			if n > maxCount {
				n = maxCount
			}
			r.machine.SetCount(n)
			return Action{Kind: Accumulate}
		}
		if key == `"` && st.Register == 0 {
			r.awaitingRegister = true
			return Action{Kind: Accumulate}
		}
	}

	seq := keys.Join(append(append([]string(nil), r.seq...), key))
	action, exact, prefix := r.keymap.Lookup(st.Kind, seq)
	switch {
	case prefix:
		r.seq = append(r.seq, key)
		r.deadline = r.now().Add(r.timeout)
		return Action{Kind: Accumulate}
	case exact && action != ActionNop && r.motion == "":
		return r.local(action, st)
	}
	return r.forward(r.literal(key))
}

// operators are the pending sequences that take a count before their
// motion.
var operators = map[string]bool{
	"d": true, "c": true, "y": true, ">": true, keys.Lt: true, "=": true, "!": true,
	"g~": true, "gu": true, "gU": true, "g?": true, "gq": true, "gw": true, "zf": true,
}

// literal is the pending sequence followed by key, as typed.
func (r *Resolver) literal(key string) string {
	return keys.Join(r.seq) + r.motion + key
}

// Expire flushes a pending sequence whose deadline has passed. An exact
// entry shadowed by a longer one runs as Local, anything else is
// forwarded literally.
func (r *Resolver) Expire(now time.Time) (Action, bool) {
	if len(r.seq) == 0 || now.Before(r.deadline) {
		return Action{}, false
	}
	st := r.machine.State()
	seq := keys.Join(r.seq)
	logger.Debug("pending sequence expired", "seq", seq, "count", r.motion)
	if action, exact, _ := r.keymap.Lookup(st.Kind, seq); exact && action != ActionNop && r.motion == "" {
		return r.local(action, st), true
	}
	return r.forward(r.literal("")), true
}

func (r *Resolver) pending(st mode.State) bool {
	return len(r.seq) > 0 || r.motion != "" || r.awaitingRegister || st.Count > 0 || st.Register != 0 || st.PendingOp != 0
}

// forward prefixes keys with the register and count in nvim's own syntax
// and resets the pending state.
func (r *Resolver) forward(seq string) Action {
	st := r.machine.State()
	var b strings.Builder
	if st.Register != 0 {
		b.WriteByte('"')
		b.WriteString(keys.Escape(string(st.Register)))
	}
	if st.Count > 0 {
		b.WriteString(strconv.Itoa(st.Count))
	}
	b.WriteString(seq)
	r.Reset()
	return Action{Kind: Forward, Keys: b.String()}
}

func (r *Resolver) local(name string, st mode.State) Action {
	a := Action{Kind: Local, Name: name, Count: st.Count, Register: st.Register}
	r.Reset()
	switch name {
	case ActionEnterCommand:
		initial := ""
		if st.Kind.IsVisual() {
			initial = "'<,'>"
		} else if st.Count > 0 {
			initial = ".,.+" + strconv.Itoa(st.Count-1)
		}
		r.openLine(mode.Command, ':', initial)
	case ActionSearchForward:
		r.openLine(mode.Search, '/', "")
	case ActionSearchBackward:
		r.openLine(mode.Search, '?', "")
	}
	return a
}

func (r *Resolver) openLine(kind mode.Kind, prompt rune, initial string) {
	if err := r.machine.EnterLine(kind); err != nil {
		logger.Warn("cannot open line", "err", err)
		return
	}
	r.line.Open(kind, prompt, initial)
}

func (r *Resolver) resolveLine(key string) Action {
	res, text := r.line.Handle(key)
	switch res {
	case LineSubmitted:
		r.machine.ExitLine()
		name := ActionExecuteCommand
		if r.line.Kind() == mode.Search {
			name = ActionExecuteSearch
		}
		return Action{Kind: Local, Name: name, Arg: text}
	case LineCancelled:
		r.machine.ExitLine()
		return Action{Kind: Local, Name: ActionCancelLine}
	}
	return Action{Kind: Local, Name: ActionLineEdit}
}

// charOp reports whether key holds for a one-character argument in kind.
func charOp(kind mode.Kind, key string) (rune, bool) {
	if len(key) != 1 {
		return 0, false
	}
	var set string
	switch {
	case kind == mode.Normal:
		set = "fFtTrmq@'`"
	case kind.IsVisual():
		set = "fFtTr'`"
	case kind == mode.OperatorPending:
		set = "fFtT'`"
	default:
		return 0, false
	}
	if strings.IndexByte(set, key[0]) < 0 {
		return 0, false
	}
	return rune(key[0]), true
}

func registerName(key string) (rune, bool) {
	if key == keys.Lt {
		return 0, false
	}
	if len(key) != 1 {
		return 0, false
	}
	c := key[0]
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return rune(c), true
	case strings.IndexByte(`"-*+_/:.%#`, c) >= 0:
		return rune(c), true
	}
	return 0, false
}
