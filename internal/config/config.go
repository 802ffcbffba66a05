package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"
)

type Keymap struct {
	Normal   map[string]string `toml:"normal"`
	Visual   map[string]string `toml:"visual"`
	Insert   map[string]string `toml:"insert"`
	Operator map[string]string `toml:"operator"`
}

type NeovimOptions struct {
	Path  string   `toml:"path"`
	Args  []string `toml:"args"`
	Clean bool     `toml:"clean"`
	// Listen attaches to a running nvim (socket path or host:port)
	// instead of spawning one.
	Listen string `toml:"listen"`
	// TimeoutLen is how long a keymap prefix waits for its next key, in ms.
	TimeoutLen         int    `toml:"timeoutlen"`
	RPCTimeout         int    `toml:"rpc-timeout"`
	RPCExtendedTimeout int    `toml:"rpc-extended-timeout"`
	RecoveryThreshold  int    `toml:"recovery-threshold"`
	RecoveryWindow     int    `toml:"recovery-window"`
	MinVersion         string `toml:"min-version"`
}

type Theme struct {
	Foreground            string `toml:"foreground"`
	Background            string `toml:"background"`
	StatuslineForeground  string `toml:"statusline-foreground"`
	StatuslineBackground  string `toml:"statusline-background"`
	CommandlineForeground string `toml:"commandline-foreground"`
	CommandlineBackground string `toml:"commandline-background"`
	MessageForeground     string `toml:"message-foreground"`
	SyntaxKeyword         string `toml:"syntax-keyword"`
	SyntaxString          string `toml:"syntax-string"`
	SyntaxComment         string `toml:"syntax-comment"`
	SyntaxType            string `toml:"syntax-type"`
	SyntaxFunction        string `toml:"syntax-function"`
	SyntaxNumber          string `toml:"syntax-number"`
}

type Config struct {
	Neovim NeovimOptions `toml:"neovim"`
	Theme  Theme         `toml:"theme"`
	Keymap Keymap        `toml:"keymap"`
}

func Default() Config {
	return Config{
		Neovim: NeovimOptions{
			Path:               "nvim",
			TimeoutLen:         1000,
			RPCTimeout:         500,
			RPCExtendedTimeout: 2000,
			RecoveryThreshold:  1,
			RecoveryWindow:     10000,
			MinVersion:         "0.9.0",
		},
		Theme: Theme{
			Foreground:            "#B3B1AD",
			Background:            "#0A0E14",
			StatuslineForeground:  "#B3B1AD",
			StatuslineBackground:  "#0F1419",
			CommandlineForeground: "#B3B1AD",
			CommandlineBackground: "#0F1419",
			MessageForeground:     "#F07178",
			SyntaxKeyword:         "#FFA759",
			SyntaxString:          "#BAE67E",
			SyntaxComment:         "#5C6773",
			SyntaxType:            "#5CCFE6",
			SyntaxFunction:        "#FFD173",
			SyntaxNumber:          "#D4BFFF",
		},
		Keymap: Keymap{
			Normal: map[string]string{
				":":     "enter_command",
				"/":     "search_forward",
				"?":     "search_backward",
				"gt":    "next_document",
				"gT":    "prev_document",
				"ZZ":    "save_and_close",
				"ZQ":    "close_discard",
				"gJ":    "join_no_space",
				"gd":    "goto_definition",
				"<C-s>": "save",

				// Doubled operators hold the first key so that a count and
				// both keys reach nvim in one batch.
				"dd":       "nop",
				"cc":       "nop",
				"yy":       "nop",
				">>":       "nop",
				"<lt><lt>": "nop",
				"==":       "nop",
				"g~~":      "nop",
				"guu":      "nop",
				"gUU":      "nop",
			},
			Visual: map[string]string{
				"<C-b>": "visual_block",
				":":     "enter_command",
				"<C-s>": "save",
			},
			Insert: map[string]string{
				"<C-s>": "save",
			},
			Operator: map[string]string{},
		},
	}
}

func Load() (Config, error) {
	cfg := Default()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	return Parse(cfg, data)
}

// Parse overlays the TOML document in data onto base.
func Parse(base Config, data []byte) (Config, error) {
	cfg := base
	var user Config
	if _, err := toml.Decode(string(data), &user); err != nil {
		return cfg, err
	}

	n := user.Neovim
	if n.Path != "" {
		cfg.Neovim.Path = n.Path
	}
	if n.Args != nil {
		cfg.Neovim.Args = n.Args
	}
	if n.Clean {
		cfg.Neovim.Clean = true
	}
	if n.Listen != "" {
		cfg.Neovim.Listen = n.Listen
	}
	if n.TimeoutLen > 0 {
		cfg.Neovim.TimeoutLen = n.TimeoutLen
	}
	if n.RPCTimeout > 0 {
		cfg.Neovim.RPCTimeout = n.RPCTimeout
	}
	if n.RPCExtendedTimeout > 0 {
		cfg.Neovim.RPCExtendedTimeout = n.RPCExtendedTimeout
	}
	if n.RecoveryThreshold > 0 {
		cfg.Neovim.RecoveryThreshold = n.RecoveryThreshold
	}
	if n.RecoveryWindow > 0 {
		cfg.Neovim.RecoveryWindow = n.RecoveryWindow
	}
	if n.MinVersion != "" {
		cfg.Neovim.MinVersion = n.MinVersion
	}

	mergeTheme(&cfg.Theme, user.Theme)

	cfg.Keymap = Keymap{
		Normal:   mergeKeys(base.Keymap.Normal, user.Keymap.Normal),
		Visual:   mergeKeys(base.Keymap.Visual, user.Keymap.Visual),
		Insert:   mergeKeys(base.Keymap.Insert, user.Keymap.Insert),
		Operator: mergeKeys(base.Keymap.Operator, user.Keymap.Operator),
	}
	return cfg, nil
}

func mergeKeys(dst, src map[string]string) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

func mergeTheme(dst *Theme, src Theme) {
	set := func(d *string, s string) {
		if s != "" {
			*d = s
		}
	}
	set(&dst.Foreground, src.Foreground)
	set(&dst.Background, src.Background)
	set(&dst.StatuslineForeground, src.StatuslineForeground)
	set(&dst.StatuslineBackground, src.StatuslineBackground)
	set(&dst.CommandlineForeground, src.CommandlineForeground)
	set(&dst.CommandlineBackground, src.CommandlineBackground)
	set(&dst.MessageForeground, src.MessageForeground)
	set(&dst.SyntaxKeyword, src.SyntaxKeyword)
	set(&dst.SyntaxString, src.SyntaxString)
	set(&dst.SyntaxComment, src.SyntaxComment)
	set(&dst.SyntaxType, src.SyntaxType)
	set(&dst.SyntaxFunction, src.SyntaxFunction)
	set(&dst.SyntaxNumber, src.SyntaxNumber)
}

func ConfigDir() (string, error) {
	if v := os.Getenv("NVBRIDGE_CONFIG_HOME"); v != "" {
		return filepath.Clean(v), nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "nvbridge"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "nvbridge"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Store holds the live configuration and tells subscribers about changes.
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	subs []func(Config)
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg}
}

func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set replaces the configuration and notifies subscribers in order.
func (s *Store) Set(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg
	subs := append([]func(Config){}, s.subs...)
	s.mu.Unlock()
	for _, fn := range subs {
		fn(cfg)
	}
}

func (s *Store) Subscribe(fn func(Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// Reload reads the config file again and publishes it.
func (s *Store) Reload() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	s.Set(cfg)
	return nil
}
