package mode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := map[string]Kind{
		"n":      Normal,
		"nt":     Normal,
		"no":     OperatorPending,
		"nov":    OperatorPending,
		"no\x16": OperatorPending,
		"niI":    Insert,
		"niR":    Replace,
		"i":      Insert,
		"ic":     Insert,
		"R":      Replace,
		"Rv":     Replace,
		"v":      Visual,
		"vs":     Visual,
		"V":      VisualLine,
		"\x16":   VisualBlock,
		"\x16s":  VisualBlock,
		"s":      Visual,
		"S":      VisualLine,
		"\x13":   VisualBlock,
		"c":      Command,
		"cv":     Command,
		"r":      Normal,
		"rm":     Normal,
		"":       Normal,
	}
	for raw, want := range tests {
		assert.Equal(t, want, Parse(raw), "%q", raw)
	}
}

func TestShapes(t *testing.T) {
	assert.Equal(t, ShapeBlock, ShapeOf(Normal))
	assert.Equal(t, ShapeBlock, ShapeOf(VisualLine))
	assert.Equal(t, ShapeBar, ShapeOf(Insert))
	assert.Equal(t, ShapeBar, ShapeOf(Search))
	assert.Equal(t, ShapeUnderline, ShapeOf(Replace))
	assert.Equal(t, ShapeUnderline, ShapeOf(OperatorPending))
}

func TestMirror(t *testing.T) {
	m := NewMachine()
	st, changed := m.Mirror("i", false)
	assert.True(t, changed)
	assert.Equal(t, Insert, st.Kind)

	_, changed = m.Mirror("ic", false)
	assert.False(t, changed)

	st, changed = m.Mirror("n", false)
	assert.True(t, changed)
	assert.Equal(t, Normal, st.Kind)
	assert.Equal(t, "n", st.Raw)
}

func TestBlockingOnlyInPendingKinds(t *testing.T) {
	m := NewMachine()
	st, _ := m.Mirror("n", true)
	assert.True(t, st.Blocking)
	assert.Equal(t, PendingCharOp, st.Kind)

	st, _ = m.Mirror("no", true)
	assert.True(t, st.Blocking)
	assert.Equal(t, OperatorPending, st.Kind)

	st, _ = m.Mirror("c", true)
	assert.False(t, st.Blocking)
	assert.Equal(t, Command, st.Kind)
}

func TestLineModeIsLocal(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.EnterLine(Search))
	assert.True(t, m.LineOpen())

	// a late notification from nvim does not close the host line
	st, _ := m.Mirror("n", false)
	assert.Equal(t, Search, st.Kind)
	assert.False(t, st.Blocking)

	m.ExitLine()
	assert.Equal(t, Normal, m.State().Kind)
}

func TestEnterLineRejectedFromInsert(t *testing.T) {
	m := NewMachine()
	m.Mirror("i", false)
	assert.Error(t, m.EnterLine(Command))
	assert.Error(t, m.EnterLine(Normal))
}

func TestCharOpHeldLocally(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.BeginCharOp('f'))
	st := m.State()
	assert.Equal(t, PendingCharOp, st.Kind)
	assert.Equal(t, 'f', st.PendingOp)

	m.EndCharOp()
	assert.Equal(t, Normal, m.State().Kind)

	m.Mirror("i", false)
	assert.Error(t, m.BeginCharOp('f'))
}

func TestPrefixes(t *testing.T) {
	m := NewMachine()
	m.SetCount(12)
	m.SetRegister('a')
	m.SetRecording('q')
	st := m.State()
	assert.Equal(t, 12, st.Count)
	assert.Equal(t, 'a', st.Register)
	assert.Equal(t, 'q', st.Recording)

	m.ClearPrefix()
	st = m.State()
	assert.Zero(t, st.Count)
	assert.Zero(t, st.Register)
	assert.Equal(t, 'q', st.Recording)
}

func TestKindHelpers(t *testing.T) {
	assert.True(t, VisualBlock.IsVisual())
	assert.False(t, Insert.IsVisual())
	assert.True(t, Command.IsLine())
	assert.True(t, OperatorPending.Counted())
	assert.False(t, Insert.Counted())
	assert.Equal(t, "V-LINE", VisualLine.String())
}
