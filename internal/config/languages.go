package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type LanguageServer struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

type Language struct {
	Name      string   `toml:"name"`
	FileTypes []string `toml:"file-types"`
	// Filetype is the nvim 'filetype' value; Name is used when empty.
	Filetype        string   `toml:"filetype"`
	Roots           []string `toml:"roots"`
	LanguageServers []string `toml:"language-servers"`
}

// NvimFiletype returns the value the nvim buffer's 'filetype' is set to.
func (l Language) NvimFiletype() string {
	if l.Filetype != "" {
		return l.Filetype
	}
	return l.Name
}

type Languages struct {
	Languages       []Language                `toml:"language"`
	LanguageServers map[string]LanguageServer `toml:"language-server"`
}

func DefaultLanguages() Languages {
	return Languages{Languages: []Language{
		{Name: "go", FileTypes: []string{"go"}, Roots: []string{"go.work", "go.mod"}, LanguageServers: []string{"gopls"}},
		{Name: "gomod", FileTypes: []string{"go.mod", "go.work"}, Roots: []string{"go.work", "go.mod"}, LanguageServers: []string{"gopls"}},
		{Name: "lua", FileTypes: []string{"lua"}},
		{Name: "python", FileTypes: []string{"py", "pyi"}},
		{Name: "bash", FileTypes: []string{"sh", "bash", ".bashrc"}, Filetype: "sh"},
		{Name: "yaml", FileTypes: []string{"yaml", "yml"}},
		{Name: "toml", FileTypes: []string{"toml"}},
		{Name: "json", FileTypes: []string{"json"}},
		{Name: "markdown", FileTypes: []string{"md", "markdown"}},
		{Name: "make", FileTypes: []string{"Makefile", "mk"}},
	}, LanguageServers: map[string]LanguageServer{
		"gopls": {Command: "gopls"},
	}}
}

func (l Languages) Match(path string) *Language {
	base := filepath.Base(path)
	baseLower := strings.ToLower(base)
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(base), "."))
	for i := range l.Languages {
		lang := &l.Languages[i]
		for _, ft := range lang.FileTypes {
			ftLower := strings.ToLower(ft)
			if ftLower == baseLower {
				return lang
			}
			if ext != "" && (ftLower == ext || strings.HasPrefix(ftLower, ".") && strings.TrimPrefix(ftLower, ".") == ext) {
				return lang
			}
		}
	}
	return nil
}

// Filetype returns the nvim filetype for path, or "" to let nvim detect it.
func (l Languages) Filetype(path string) string {
	if lang := l.Match(path); lang != nil {
		return lang.NvimFiletype()
	}
	return ""
}

// LoadLanguages reads languages.toml. Entries from the file take priority
// over the built-in list.
func LoadLanguages() (Languages, error) {
	defaults := DefaultLanguages()
	path, err := LanguagesPath()
	if err != nil {
		return defaults, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaults, nil
		}
		return defaults, err
	}

	var cfg Languages
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return defaults, err
	}
	cfg.Languages = append(cfg.Languages, defaults.Languages...)
	if cfg.LanguageServers == nil {
		cfg.LanguageServers = map[string]LanguageServer{}
	}
	for name, srv := range defaults.LanguageServers {
		if _, ok := cfg.LanguageServers[name]; !ok {
			cfg.LanguageServers[name] = srv
		}
	}
	return cfg, nil
}

func LanguagesPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "languages.toml"), nil
}
