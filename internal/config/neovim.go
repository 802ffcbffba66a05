package config

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidExecutable = errors.New("invalid nvim executable")

// Version is a semantic nvim version.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// ParseVersion accepts "0.10.2", "v0.10.2" and "NVIM v0.11.0-dev-12+gabc".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "NVIM")
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "v")
	if i := strings.IndexAny(s, "-+ "); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("parse version %q", s)
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Version{}, fmt.Errorf("parse version %q: %w", s, err)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// Validate resolves the executable and checks its version against
// MinVersion. The resolved path is returned for use at startup.
func Validate(ctx context.Context, opts NeovimOptions) (string, Version, error) {
	path := opts.Path
	if path == "" {
		path = "nvim"
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return "", Version{}, fmt.Errorf("%w: %s: %v", ErrInvalidExecutable, path, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, resolved, "--version").Output()
	if err != nil {
		return "", Version{}, fmt.Errorf("%w: %s --version: %v", ErrInvalidExecutable, resolved, err)
	}
	first, _, _ := bufio.NewReader(bytes.NewReader(out)).ReadLine()
	if !bytes.HasPrefix(first, []byte("NVIM")) {
		return "", Version{}, fmt.Errorf("%w: %s is not nvim (%q)", ErrInvalidExecutable, resolved, first)
	}
	v, err := ParseVersion(string(first))
	if err != nil {
		return "", Version{}, fmt.Errorf("%w: %v", ErrInvalidExecutable, err)
	}
	if opts.MinVersion != "" {
		minV, err := ParseVersion(opts.MinVersion)
		if err != nil {
			return "", Version{}, fmt.Errorf("min-version: %w", err)
		}
		if v.Less(minV) {
			return resolved, v, fmt.Errorf("%w: nvim %s is older than %s", ErrInvalidExecutable, v, minV)
		}
	}
	return resolved, v, nil
}

func (n NeovimOptions) Timeout() time.Duration {
	return time.Duration(n.RPCTimeout) * time.Millisecond
}

func (n NeovimOptions) ExtendedTimeout() time.Duration {
	return time.Duration(n.RPCExtendedTimeout) * time.Millisecond
}

func (n NeovimOptions) Window() time.Duration {
	return time.Duration(n.RecoveryWindow) * time.Millisecond
}

func (n NeovimOptions) PendingTimeout() time.Duration {
	return time.Duration(n.TimeoutLen) * time.Millisecond
}
