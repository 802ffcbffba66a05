package config

import (
	"path/filepath"
	"testing"
)

func TestLanguagesMatch(t *testing.T) {
	cfg := Languages{
		Languages: []Language{
			{Name: "go", FileTypes: []string{"go", "go.mod", ".go"}},
			{Name: "git", FileTypes: []string{".gitignore", "Makefile"}},
		},
	}

	if got := cfg.Match("main.go"); got == nil || got.Name != "go" {
		t.Fatalf("Match main.go = %#v, want go", got)
	}
	if got := cfg.Match("go.mod"); got == nil || got.Name != "go" {
		t.Fatalf("Match go.mod = %#v, want go", got)
	}
	if got := cfg.Match(".gitignore"); got == nil || got.Name != "git" {
		t.Fatalf("Match .gitignore = %#v, want git", got)
	}
	if got := cfg.Match("Makefile"); got == nil || got.Name != "git" {
		t.Fatalf("Match Makefile = %#v, want git", got)
	}
	if got := cfg.Match("unknown.txt"); got != nil {
		t.Fatalf("Match unknown.txt = %#v, want nil", got)
	}
}

func TestDefaultFiletypes(t *testing.T) {
	langs := DefaultLanguages()
	cases := map[string]string{
		"/src/main.go":   "go",
		"/src/go.mod":    "gomod",
		"/src/run.sh":    "sh",
		"/src/notes.txt": "",
	}
	for path, want := range cases {
		if got := langs.Filetype(path); got != want {
			t.Fatalf("Filetype(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestLoadLanguages(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NVBRIDGE_CONFIG_HOME", dir)

	writeFile(t, filepath.Join(dir, "languages.toml"), `
[[language]]
name = "golang"
file-types = ["go"]
filetype = "go"
`)

	cfg, err := LoadLanguages()
	if err != nil {
		t.Fatalf("LoadLanguages error: %v", err)
	}
	got := cfg.Match("x.go")
	if got == nil || got.Name != "golang" {
		t.Fatalf("Match x.go = %#v, want golang", got)
	}
	if ft := cfg.Filetype("x.go"); ft != "go" {
		t.Fatalf("Filetype = %q, want go", ft)
	}
	if ft := cfg.Filetype("x.lua"); ft != "lua" {
		t.Fatalf("Filetype x.lua = %q, want built-in lua", ft)
	}
}

func TestLoadLanguagesMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NVBRIDGE_CONFIG_HOME", dir)

	cfg, err := LoadLanguages()
	if err != nil {
		t.Fatalf("LoadLanguages error: %v", err)
	}
	if len(cfg.Languages) != len(DefaultLanguages().Languages) {
		t.Fatalf("Languages len = %d, want built-in list", len(cfg.Languages))
	}
}

func TestLoadLanguageServers(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NVBRIDGE_CONFIG_HOME", dir)

	writeFile(t, filepath.Join(dir, "languages.toml"), `
[[language]]
name = "python"
file-types = ["py"]
roots = ["pyproject.toml"]
language-servers = ["pyright"]

[language-server.pyright]
command = "pyright-langserver"
args = ["--stdio"]
`)

	cfg, err := LoadLanguages()
	if err != nil {
		t.Fatalf("LoadLanguages error: %v", err)
	}
	py := cfg.Match("x.py")
	if py == nil || len(py.LanguageServers) != 1 || py.LanguageServers[0] != "pyright" {
		t.Fatalf("Match x.py = %#v, want pyright server", py)
	}
	srv := cfg.LanguageServers["pyright"]
	if srv.Command != "pyright-langserver" || len(srv.Args) != 1 || srv.Args[0] != "--stdio" {
		t.Fatalf("pyright = %#v", srv)
	}
	if cfg.LanguageServers["gopls"].Command != "gopls" {
		t.Fatalf("built-in gopls missing: %#v", cfg.LanguageServers)
	}
}
