package highlight

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/host"
)

func TestSpansFollowEdits(t *testing.T) {
	h := New(config.DefaultLanguages())
	buf := host.NewLineBuffer([]string{"package main", "", "var ñ = \"x\""})
	require.True(t, h.Attach("main.go", buf))

	spans := h.Spans("main.go", 0, 2)
	assert.Equal(t, "keyword", KindAt(spans[0], 0))
	assert.Equal(t, "keyword", KindAt(spans[2], 0))
	// Columns are runes: the string starts after the two-byte ñ.
	assert.Equal(t, "string", KindAt(spans[2], 8))

	require.NoError(t, buf.ReplaceLines(1, 1, []string{"// note"}))
	spans = h.Spans("main.go", 0, 3)
	assert.Equal(t, "comment", KindAt(spans[1], 3))
	assert.Equal(t, "keyword", KindAt(spans[3], 0))
	assert.Equal(t, "string", KindAt(spans[3], 8))

	require.NoError(t, buf.ReplaceLines(0, 2, nil))
	spans = h.Spans("main.go", 0, 5)
	assert.Equal(t, "keyword", KindAt(spans[1], 0))
}

func TestClearedBufferReparses(t *testing.T) {
	h := New(config.DefaultLanguages())
	buf := host.NewLineBuffer([]string{"package main"})
	require.True(t, h.Attach("x.go", buf))

	require.NoError(t, buf.ReplaceLines(0, 1, nil))
	assert.Empty(t, h.Spans("x.go", 0, 0)[0])

	require.NoError(t, buf.ReplaceLines(0, 1, []string{"package x"}))
	assert.Equal(t, "keyword", KindAt(h.Spans("x.go", 0, 0)[0], 0))
}

func TestUnsupportedPath(t *testing.T) {
	h := New(config.DefaultLanguages())
	buf := host.NewLineBuffer([]string{"hello"})
	assert.False(t, h.Supported("notes.txt"))
	assert.False(t, h.Attach("notes.txt", buf))
	assert.Nil(t, h.Spans("notes.txt", 0, 0))
	assert.True(t, h.Supported("config.toml"))
}

func TestDetachIgnoresLaterChanges(t *testing.T) {
	h := New(config.DefaultLanguages())
	buf := host.NewLineBuffer([]string{"a = 1"})
	require.True(t, h.Attach("c.toml", buf))
	assert.Equal(t, "field", KindAt(h.Spans("c.toml", 0, 0)[0], 0))

	h.Detach("c.toml")
	require.NoError(t, buf.ReplaceLines(0, 1, []string{"b = 2"}))
	assert.Nil(t, h.Spans("c.toml", 0, 0))
}

func TestKindAtPrefersNarrowest(t *testing.T) {
	spans := []Span{
		{StartCol: 0, EndCol: 10, Kind: "string"},
		{StartCol: 2, EndCol: 4, Kind: "escape"},
	}
	assert.Equal(t, "string", KindAt(spans, 1))
	assert.Equal(t, "escape", KindAt(spans, 3))
	assert.Equal(t, "", KindAt(spans, 10))
}
