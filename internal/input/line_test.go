package input

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kobzarvs/nvbridge/internal/mode"
)

func typeLine(l *Line, text string) {
	for _, r := range text {
		if r == ' ' {
			l.Handle("<Space>")
			continue
		}
		l.Handle(string(r))
	}
}

func submit(l *Line, kind mode.Kind, text string) {
	l.Open(kind, ':', "")
	typeLine(l, text)
	l.Handle("<CR>")
}

func TestLineEditing(t *testing.T) {
	l := NewLine()
	l.Open(mode.Command, ':', "")
	typeLine(l, "foo bar")
	assert.Equal(t, "foo bar", l.Text())

	l.Handle("<C-w>")
	assert.Equal(t, "foo ", l.Text())

	l.Handle("<Home>")
	l.Handle("x")
	assert.Equal(t, "xfoo ", l.Text())
	assert.Equal(t, 1, l.Cursor())

	l.Handle("<C-k>")
	assert.Equal(t, "x", l.Text())

	l.Handle("<C-u>")
	assert.Equal(t, "", l.Text())
}

func TestLineSubmitTrimsAndDedupesHistory(t *testing.T) {
	l := NewLine()
	submit(l, mode.Command, " w ")
	submit(l, mode.Command, "w")
	assert.Equal(t, []string{"w"}, l.History(mode.Command))
	assert.False(t, l.Active())
}

func TestLineHistoryPrefixFilter(t *testing.T) {
	l := NewLine()
	submit(l, mode.Command, "set nu")
	submit(l, mode.Command, "w")
	submit(l, mode.Command, "set list")

	l.Open(mode.Command, ':', "")
	typeLine(l, "se")
	l.Handle("<Up>")
	assert.Equal(t, "set list", l.Text())
	l.Handle("<Up>")
	assert.Equal(t, "set nu", l.Text())
	l.Handle("<Up>")
	assert.Equal(t, "set nu", l.Text())
	l.Handle("<Down>")
	assert.Equal(t, "set list", l.Text())
	l.Handle("<Down>")
	assert.Equal(t, "se", l.Text())
}

func TestSearchHistoryIsSeparate(t *testing.T) {
	l := NewLine()
	submit(l, mode.Command, "w")
	submit(l, mode.Search, "needle")
	assert.Equal(t, []string{"needle"}, l.History(mode.Search))

	l.Open(mode.Search, '/', "")
	l.Handle("<Up>")
	assert.Equal(t, "needle", l.Text())
}

func TestLineCancel(t *testing.T) {
	l := NewLine()
	l.Open(mode.Command, ':', "abc")
	res, _ := l.Handle("<C-c>")
	assert.Equal(t, LineCancelled, res)
	assert.Empty(t, l.History(mode.Command))
}
