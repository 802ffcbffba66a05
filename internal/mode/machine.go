package mode

import "fmt"

// State is the host view of the editing mode.
type State struct {
	Kind     Kind
	Blocking bool
	// Count is the pending count prefix, 0 when none was typed.
	Count int
	// Register is the pending register prefix, 0 when none.
	Register rune
	// PendingOp is the held single-char operator (f, t, r, m, q, @, ...).
	PendingOp rune
	// Recording is the register a macro is being recorded into.
	Recording rune
	// Raw is the last mode string nvim reported.
	Raw string
}

// localTransitions lists the transitions the host decides on its own.
// Everything else is mirrored from nvim.
var localTransitions = map[Kind][]Kind{
	Normal:          {Command, Search, PendingCharOp},
	Visual:          {Command, PendingCharOp},
	VisualLine:      {Command, PendingCharOp},
	VisualBlock:     {Command, PendingCharOp},
	OperatorPending: {PendingCharOp},
	Command:         {Normal},
	Search:          {Normal},
	PendingCharOp:   {Normal},
}

func CanTransition(from, to Kind) bool {
	for _, k := range localTransitions[from] {
		if k == to {
			return true
		}
	}
	return false
}

// Machine mirrors the mode nvim reports and layers the host-held state on
// top of it: an open command/search line, count and register prefixes and
// held char operators.
type Machine struct {
	base      Kind
	raw       string
	blocking  bool
	line      Kind
	lineOpen  bool
	count     int
	register  rune
	pendingOp rune
	recording rune
}

func NewMachine() *Machine {
	return &Machine{base: Normal, raw: "n"}
}

func (m *Machine) State() State {
	st := State{
		Kind:      m.base,
		Blocking:  m.blocking,
		Count:     m.count,
		Register:  m.register,
		PendingOp: m.pendingOp,
		Recording: m.recording,
		Raw:       m.raw,
	}
	switch {
	case m.lineOpen:
		st.Kind = m.line
		st.Blocking = false
	case m.pendingOp != 0:
		st.Kind = PendingCharOp
		st.Blocking = false
	case m.blocking:
		if m.base != OperatorPending {
			st.Kind = PendingCharOp
		}
	}
	return st
}

// Mirror records the mode nvim reported. It reports whether the visible
// kind or the blocking flag changed.
func (m *Machine) Mirror(raw string, blocking bool) (State, bool) {
	before := m.State()
	m.raw = raw
	m.base = Parse(raw)
	m.blocking = blocking
	if m.base == Command {
		// nvim's own command line is never blocking.
		m.blocking = false
	}
	after := m.State()
	return after, before.Kind != after.Kind || before.Blocking != after.Blocking
}

// LineOpen reports whether the host command/search line is being edited.
func (m *Machine) LineOpen() bool {
	return m.lineOpen
}

// EnterLine opens the host command or search line.
func (m *Machine) EnterLine(k Kind) error {
	if !k.IsLine() {
		return fmt.Errorf("mode: %s is not a line mode", k)
	}
	from := m.State().Kind
	if !CanTransition(from, k) {
		return fmt.Errorf("mode: cannot enter %s from %s", k, from)
	}
	m.line = k
	m.lineOpen = true
	return nil
}

// ExitLine closes the host line and falls back to the mirrored mode.
func (m *Machine) ExitLine() {
	m.lineOpen = false
}

// BeginCharOp holds a single-char operator until its argument arrives.
func (m *Machine) BeginCharOp(op rune) error {
	from := m.State().Kind
	if !CanTransition(from, PendingCharOp) {
		return fmt.Errorf("mode: cannot hold %q in %s", op, from)
	}
	m.pendingOp = op
	return nil
}

func (m *Machine) EndCharOp() {
	m.pendingOp = 0
}

func (m *Machine) SetCount(n int) {
	m.count = n
}

func (m *Machine) SetRegister(r rune) {
	m.register = r
}

func (m *Machine) SetRecording(r rune) {
	m.recording = r
}

// ClearPrefix drops count, register and held operator.
func (m *Machine) ClearPrefix() {
	m.count = 0
	m.register = 0
	m.pendingOp = 0
}
