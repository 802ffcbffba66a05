// Package app is a small terminal host for the bridge: a tcell screen
// showing host documents whose editing is done by nvim.
package app

import (
	"context"
	"fmt"

	"github.com/gdamore/tcell/v2"

	"github.com/kobzarvs/nvbridge/internal/bridge"
	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/highlight"
	"github.com/kobzarvs/nvbridge/internal/host"
	"github.com/kobzarvs/nvbridge/internal/keys"
	"github.com/kobzarvs/nvbridge/internal/logger"
	"github.com/kobzarvs/nvbridge/internal/lsp"
	"github.com/kobzarvs/nvbridge/internal/nvim"
)

// Overrides are command line settings applied on top of config.toml.
type Overrides struct {
	Nvim       string
	Clean      bool
	Listen     string
	TimeoutLen int
}

func (o Overrides) Apply(cfg *config.Config) {
	if o.Nvim != "" {
		cfg.Neovim.Path = o.Nvim
	}
	if o.Clean {
		cfg.Neovim.Clean = true
	}
	if o.Listen != "" {
		cfg.Neovim.Listen = o.Listen
	}
	if o.TimeoutLen > 0 {
		cfg.Neovim.TimeoutLen = o.TimeoutLen
	}
}

// App is the top-level runtime.
type App struct {
	args      []string
	overrides Overrides
}

func New(args []string, o Overrides) *App {
	return &App{args: args, overrides: o}
}

func (a *App) Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.overrides.Apply(&cfg)
	langs, err := config.LoadLanguages()
	if err != nil {
		return err
	}

	if cfg.Neovim.Listen == "" {
		path, v, err := config.Validate(ctx, cfg.Neovim)
		if err != nil {
			return err
		}
		cfg.Neovim.Path = path
		logger.Info("using nvim", "path", path, "version", v.String())
	}
	store := config.NewStore(cfg)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	client, err := nvim.Start(ctx, nvim.OptionsFrom(cfg.Neovim))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	s, err := tcell.NewScreen()
	if err != nil {
		return err
	}
	if err := s.Init(); err != nil {
		return err
	}
	s.EnableMouse()
	defer s.Fini()

	ws := host.NewWorkspace()
	hl := highlight.New(langs)
	ws.OnOpen = func(path string, buf *host.LineBuffer) { hl.Attach(path, buf) }
	if err := openArgs(ws, a.args); err != nil {
		return err
	}

	servers := lsp.NewManager(langs)
	defer func() { _ = servers.Stop() }()

	view := NewView(s, ws, hl, cfg.Theme)
	br := bridge.New(client, ws, view, store, bridge.Options{
		Filetype:    langs.Filetype,
		Definitions: servers,
		Idle:        view.Render,
	})
	view.SetLine(br.Line())

	keyCh := make(chan string)
	go pump(s, br, view, keyCh)

	err = br.Run(ctx, keyCh)
	if err == context.Canceled {
		err = nil
	}
	if client.Lost() {
		logger.Warn("exiting after nvim session loss")
	}
	return err
}

// openArgs opens every file named on the command line, or an untitled
// document when there are none. The first file ends up current.
func openArgs(ws *host.Workspace, args []string) error {
	if len(args) == 0 {
		ws.NewUntitled()
		return nil
	}
	for _, path := range args {
		if err := ws.Open(path); err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
	}
	return ws.Open(args[0])
}

// pump turns screen events into bridge input. It runs until the bridge
// stops.
func pump(s tcell.Screen, br *bridge.Bridge, view *View, keyCh chan<- string) {
	var dragFrom *tcell.EventMouse
	for {
		ev := s.PollEvent()
		if ev == nil {
			return
		}
		switch ev := ev.(type) {
		case *tcell.EventKey:
			key, ok := keys.FromEvent(ev)
			if !ok {
				continue
			}
			select {
			case keyCh <- key:
			case <-br.Done():
				return
			}
		case *tcell.EventMouse:
			x, y := ev.Position()
			switch {
			case ev.Buttons()&tcell.Button1 != 0 && dragFrom == nil:
				dragFrom = ev
			case ev.Buttons()&tcell.Button1 == 0 && dragFrom != nil:
				fx, fy := dragFrom.Position()
				dragFrom = nil
				br.Do(func(context.Context) error {
					from, ok1 := view.Position(fx, fy)
					to, ok2 := view.Position(x, y)
					if !ok1 || !ok2 {
						return nil
					}
					if from == to {
						br.MoveCursor(to)
						return nil
					}
					if to.Line < from.Line || to.Line == from.Line && to.Col < from.Col {
						from, to = to, from
					}
					to.Col++
					br.Select(host.Range{Start: from, End: to}, bridge.SelectChar)
					return nil
				})
			}
		case *tcell.EventResize:
			br.Do(func(context.Context) error {
				s.Sync()
				return nil
			})
		}
		select {
		case <-br.Done():
			return
		default:
		}
	}
}
