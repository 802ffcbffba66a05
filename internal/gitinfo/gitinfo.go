// Package gitinfo reads the checked-out branch of the repository a
// document lives in, for the status line.
package gitinfo

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var errNoRepo = errors.New("git dir not found")

// Branch returns the branch checked out in the repository containing
// path, "detached:<sha7>" for a detached HEAD, or "" outside a repository.
func Branch(path string) string {
	gitDir, err := findGitDir(path)
	if err != nil {
		return ""
	}
	branch, err := readHead(gitDir)
	if err != nil {
		return ""
	}
	return branch
}

// Cache remembers branches per directory until Forget is called.
type Cache struct {
	mu   sync.Mutex
	dirs map[string]string
}

func NewCache() *Cache {
	return &Cache{dirs: make(map[string]string)}
}

func (c *Cache) Branch(path string) string {
	dir := filepath.Dir(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.dirs[dir]; ok {
		return b
	}
	b := Branch(dir)
	c.dirs[dir] = b
	return b
}

// Forget drops every cached entry, e.g. after a write that may have come
// with a checkout.
func (c *Cache) Forget() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.dirs)
}

// findGitDir walks up from path to the first .git directory, following
// "gitdir:" files used by worktrees and submodules.
func findGitDir(path string) (string, error) {
	dir := path
	info, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		dir = filepath.Dir(dir)
	}
	for {
		candidate := filepath.Join(dir, ".git")
		if info, err := os.Stat(candidate); err == nil {
			if info.IsDir() {
				return candidate, nil
			}
			if target, ok := readGitFile(candidate); ok {
				if !filepath.IsAbs(target) {
					target = filepath.Join(dir, target)
				}
				return target, nil
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errNoRepo
		}
		dir = parent
	}
}

func readGitFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	line := strings.TrimSpace(string(data))
	target, ok := strings.CutPrefix(line, "gitdir:")
	return strings.TrimSpace(target), ok
}

func readHead(gitDir string) (string, error) {
	f, err := os.Open(filepath.Join(gitDir, "HEAD"))
	if err != nil {
		return "", err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return "", errors.New("empty HEAD")
	}
	line := strings.TrimSpace(sc.Text())
	if ref, ok := strings.CutPrefix(line, "ref:"); ok {
		return strings.TrimPrefix(strings.TrimSpace(ref), "refs/heads/"), nil
	}
	if len(line) >= 7 {
		return "detached:" + line[:7], nil
	}
	return "detached", nil
}
