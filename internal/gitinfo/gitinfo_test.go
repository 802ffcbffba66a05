package gitinfo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHead(t *testing.T, gitDir, head string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(gitDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte(head+"\n"), 0o644))
}

func TestBranchFromNestedFile(t *testing.T) {
	root := t.TempDir()
	writeHead(t, filepath.Join(root, ".git"), "ref: refs/heads/feature/sync")
	sub := filepath.Join(root, "pkg", "x")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	file := filepath.Join(sub, "main.go")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	assert.Equal(t, "feature/sync", Branch(file))
	assert.Equal(t, "feature/sync", Branch(sub))
}

func TestBranchDetached(t *testing.T) {
	root := t.TempDir()
	writeHead(t, filepath.Join(root, ".git"), "0123456789abcdef0123456789abcdef01234567")
	assert.Equal(t, "detached:0123456", Branch(root))
}

func TestBranchFollowsGitFile(t *testing.T) {
	root := t.TempDir()
	writeHead(t, filepath.Join(root, "real"), "ref: refs/heads/wt")
	work := filepath.Join(root, "work")
	require.NoError(t, os.MkdirAll(work, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(work, ".git"), []byte("gitdir: ../real\n"), 0o644))

	assert.Equal(t, "wt", Branch(work))
}

func TestBranchOutsideRepo(t *testing.T) {
	assert.Empty(t, Branch(filepath.Join(t.TempDir(), "missing.txt")))
}

func TestCacheForget(t *testing.T) {
	root := t.TempDir()
	gitDir := filepath.Join(root, ".git")
	writeHead(t, gitDir, "ref: refs/heads/main")
	file := filepath.Join(root, "a.txt")

	c := NewCache()
	assert.Equal(t, "main", c.Branch(file))

	writeHead(t, gitDir, "ref: refs/heads/dev")
	assert.Equal(t, "main", c.Branch(file))
	c.Forget()
	assert.Equal(t, "dev", c.Branch(file))
}
