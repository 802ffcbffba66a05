package host

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestColumnConversion(t *testing.T) {
	line := "añb€c"
	if got := RuneCol(line, 3); got != 2 {
		t.Fatalf("RuneCol(3) = %d, want 2", got)
	}
	if got := ByteCol(line, 2); got != 3 {
		t.Fatalf("ByteCol(2) = %d, want 3", got)
	}
	if got := ByteCol(line, 4); got != 7 {
		t.Fatalf("ByteCol(4) = %d, want 7", got)
	}
	if got := RuneCol(line, 100); got != 5 {
		t.Fatalf("RuneCol past end = %d, want 5", got)
	}
	if got := ByteCol(line, 100); got != len(line) {
		t.Fatalf("ByteCol past end = %d, want %d", got, len(line))
	}
}

func TestLineBufferReplace(t *testing.T) {
	b := NewLineBuffer([]string{"a", "b", "c"})
	var seen [][]string
	b.OnChange(func(start, oldEnd int, old, lines []string) {
		seen = append(seen, old)
	})

	require.NoError(t, b.ReplaceLines(1, 2, []string{"B1", "B2"}))
	assert.Equal(t, []string{"a", "B1", "B2", "c"}, b.All())
	assert.Equal(t, [][]string{{"b"}}, seen)

	require.NoError(t, b.ReplaceLines(4, 4, []string{"d"}))
	assert.Equal(t, []string{"a", "B1", "B2", "c", "d"}, b.All())

	require.Error(t, b.ReplaceLines(3, 9, nil))
	require.Error(t, b.ReplaceLines(2, 1, nil))

	require.NoError(t, b.ReplaceLines(0, b.LineCount(), nil))
	assert.Equal(t, []string{""}, b.All())
}

func TestLineBufferCursorClamped(t *testing.T) {
	b := NewLineBuffer([]string{"hello", "hi"})
	b.SetCursor(Position{Line: 9, Col: 9})
	assert.Equal(t, Position{Line: 1, Col: 2}, b.Cursor())

	require.NoError(t, b.ReplaceLines(1, 2, nil))
	assert.Equal(t, Position{Line: 0, Col: 2}, b.Cursor())
}

func TestLineBufferReadOnly(t *testing.T) {
	b := NewLineBuffer([]string{"x"})
	b.SetReadOnly(true)
	assert.ErrorIs(t, b.ReplaceLines(0, 1, []string{"y"}), ErrReadOnly)
	assert.Equal(t, []string{"x"}, b.All())
}

func TestSplitJoinLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, SplitLines([]byte("a\r\nb\n")))
	assert.Equal(t, []string{""}, SplitLines(nil))
	assert.Equal(t, "a\nb\n", JoinLines([]string{"a", "b"}))
}

func TestWorkspaceOpenSaveReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	w := NewWorkspace()
	var opened []string
	w.OnOpen = func(p string, _ *LineBuffer) { opened = append(opened, p) }

	require.NoError(t, w.Open(path))
	require.NoError(t, w.Open(path))
	assert.Equal(t, []string{path}, opened)
	assert.Equal(t, path, w.Current())

	buf, ok := w.Buffer(path)
	require.True(t, ok)
	require.NoError(t, buf.ReplaceLines(1, 1, []string{"", "func main() {}"}))
	w.SetModified(path, true)

	require.NoError(t, w.Save(path))
	assert.False(t, w.Modified(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "package main\n\nfunc main() {}\n", string(data))

	require.NoError(t, os.WriteFile(path, []byte("package other\n"), 0o644))
	require.NoError(t, w.Reload(path))
	assert.Equal(t, []string{"package other"}, buf.All())
}

func TestWorkspaceMissingFileOpensEmpty(t *testing.T) {
	w := NewWorkspace()
	path := filepath.Join(t.TempDir(), "new.txt")
	require.NoError(t, w.Open(path))
	buf, ok := w.Buffer(path)
	require.True(t, ok)
	assert.Equal(t, []string{""}, buf.All())
}

func TestWorkspaceUntitled(t *testing.T) {
	w := NewWorkspace()
	a := w.NewUntitled()
	b := w.NewUntitled()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(filepath.Base(a), untitledPrefix))
	assert.True(t, w.Untitled(a))
	assert.ErrorIs(t, w.Save(a), ErrUntitled)
}

func TestWorkspaceCycle(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkspace()
	var paths []string
	for _, name := range []string{"a", "b", "c"} {
		p := filepath.Join(dir, name)
		require.NoError(t, w.Open(p))
		paths = append(paths, p)
	}
	next, ok := w.Cycle(1)
	require.True(t, ok)
	assert.Equal(t, paths[0], next)
	prev, _ := w.Cycle(-1)
	assert.Equal(t, paths[2], prev)
}

func TestWorkspaceCloseModified(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkspace()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, w.Open(a))
	require.NoError(t, w.Open(b))
	w.SetModified(a, true)

	closed, err := w.Close(a, false)
	require.NoError(t, err)
	assert.False(t, closed)

	w.Confirm = func(string) bool { return true }
	closed, err = w.Close(a, false)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, []string{b}, w.Paths())

	_, err = w.Close(a, true)
	assert.ErrorIs(t, err, ErrNoDocument)
}

func TestWorkspaceCloseAllReportsKept(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkspace()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	require.NoError(t, w.Open(a))
	require.NoError(t, w.Open(b))
	w.SetModified(b, true)

	all, err := w.CloseAll(false)
	require.NoError(t, err)
	assert.False(t, all)
	assert.Equal(t, []string{b}, w.Paths())
	assert.Equal(t, b, w.Current())

	all, err = w.CloseAll(true)
	require.NoError(t, err)
	assert.True(t, all)
	assert.Empty(t, w.Paths())
	assert.Equal(t, "", w.Current())
}

func TestWorkspaceSaveAllCollectsErrors(t *testing.T) {
	dir := t.TempDir()
	w := NewWorkspace()
	good := filepath.Join(dir, "good")
	require.NoError(t, w.Open(good))
	w.SetModified(good, true)
	u := w.NewUntitled()
	w.SetModified(u, true)

	err := w.SaveAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUntitled)
	assert.False(t, w.Modified(good))
	_, statErr := os.Stat(good)
	assert.NoError(t, statErr)
}
