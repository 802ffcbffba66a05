package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func TestConfigDirEnv(t *testing.T) {
	t.Setenv("NVBRIDGE_CONFIG_HOME", "/tmp/nvbridge-config")
	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/nvbridge-config", dir)

	t.Setenv("NVBRIDGE_CONFIG_HOME", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	dir, err = ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg/nvbridge", dir)
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	t.Setenv("NVBRIDGE_CONFIG_HOME", t.TempDir())
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default().Neovim, cfg.Neovim)
	assert.Equal(t, "visual_block", cfg.Keymap.Visual["<C-b>"])
}

func TestLoadWithOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NVBRIDGE_CONFIG_HOME", dir)

	writeFile(t, filepath.Join(dir, "config.toml"), `
[neovim]
path = "/opt/nvim/bin/nvim"
args = ["-u", "NONE"]
clean = true
timeoutlen = 300
rpc-timeout = 50

[theme]
commandline-background = "#123456"

[keymap.normal]
"gt" = "nop"
"<leader>w" = "save"

[keymap.insert]
"<C-q>" = "save_and_close"
`)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/opt/nvim/bin/nvim", cfg.Neovim.Path)
	assert.Equal(t, []string{"-u", "NONE"}, cfg.Neovim.Args)
	assert.True(t, cfg.Neovim.Clean)
	assert.Equal(t, 300, cfg.Neovim.TimeoutLen)
	assert.Equal(t, 50, cfg.Neovim.RPCTimeout)
	assert.Equal(t, Default().Neovim.RPCExtendedTimeout, cfg.Neovim.RPCExtendedTimeout)
	assert.Equal(t, "#123456", cfg.Theme.CommandlineBackground)
	assert.Equal(t, Default().Theme.Foreground, cfg.Theme.Foreground)
	assert.Equal(t, "nop", cfg.Keymap.Normal["gt"])
	assert.Equal(t, "save", cfg.Keymap.Normal["<leader>w"])
	assert.Equal(t, "enter_command", cfg.Keymap.Normal[":"])
	assert.Equal(t, "save_and_close", cfg.Keymap.Insert["<C-q>"])
	assert.Equal(t, "save", cfg.Keymap.Insert["<C-s>"])

	// defaults are not mutated by the merge
	assert.Equal(t, "next_document", Default().Keymap.Normal["gt"])
}

func TestLoadInvalidToml(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NVBRIDGE_CONFIG_HOME", dir)
	writeFile(t, filepath.Join(dir, "config.toml"), "[neovim\npath=")
	_, err := Load()
	assert.Error(t, err)
}

func TestDurations(t *testing.T) {
	n := Default().Neovim
	assert.Equal(t, "1s", n.PendingTimeout().String())
	assert.Equal(t, "500ms", n.Timeout().String())
	assert.Equal(t, "2s", n.ExtendedTimeout().String())
	assert.Equal(t, "10s", n.Window().String())
}

func TestStoreNotifies(t *testing.T) {
	s := NewStore(Default())
	var got []int
	s.Subscribe(func(c Config) { got = append(got, c.Neovim.TimeoutLen) })

	cfg := s.Get()
	cfg.Neovim.TimeoutLen = 250
	s.Set(cfg)
	assert.Equal(t, []int{250}, got)
	assert.Equal(t, 250, s.Get().Neovim.TimeoutLen)
}

func TestStoreReload(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NVBRIDGE_CONFIG_HOME", dir)
	s := NewStore(Default())
	writeFile(t, filepath.Join(dir, "config.toml"), "[neovim]\ntimeoutlen = 42\n")

	var seen int
	s.Subscribe(func(c Config) { seen = c.Neovim.TimeoutLen })
	require.NoError(t, s.Reload())
	assert.Equal(t, 42, seen)
}

func TestParseVersion(t *testing.T) {
	tests := map[string]Version{
		"NVIM v0.10.2":             {0, 10, 2},
		"NVIM v0.11.0-dev-12+gabc": {0, 11, 0},
		"0.9":                      {0, 9, 0},
		"v1.0.1":                   {1, 0, 1},
	}
	for in, want := range tests {
		got, err := ParseVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseVersion("vim 9")
	assert.Error(t, err)
	assert.True(t, Version{0, 8, 3}.Less(Version{0, 9, 0}))
	assert.False(t, Version{0, 10, 0}.Less(Version{0, 9, 5}))
}

func fakeNvim(t *testing.T, firstLine string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixture")
	}
	path := filepath.Join(t.TempDir(), "nvim")
	writeFile(t, path, "#!/bin/sh\necho '"+firstLine+"'\necho 'Build type: Release'\n")
	require.NoError(t, os.Chmod(path, 0o755))
	return path
}

func TestValidate(t *testing.T) {
	path := fakeNvim(t, "NVIM v0.10.1")
	resolved, v, err := Validate(context.Background(), NeovimOptions{Path: path, MinVersion: "0.9.0"})
	require.NoError(t, err)
	assert.Equal(t, path, resolved)
	assert.Equal(t, Version{0, 10, 1}, v)
}

func TestValidateTooOld(t *testing.T) {
	path := fakeNvim(t, "NVIM v0.8.3")
	_, v, err := Validate(context.Background(), NeovimOptions{Path: path, MinVersion: "0.9.0"})
	require.ErrorIs(t, err, ErrInvalidExecutable)
	assert.Equal(t, Version{0, 8, 3}, v)
}

func TestValidateNotNvim(t *testing.T) {
	path := fakeNvim(t, "VIM - Vi IMproved 9.0")
	_, _, err := Validate(context.Background(), NeovimOptions{Path: path})
	require.ErrorIs(t, err, ErrInvalidExecutable)
}

func TestValidateMissing(t *testing.T) {
	_, _, err := Validate(context.Background(), NeovimOptions{Path: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, ErrInvalidExecutable)
}
