// Package bridge runs the single event loop that joins the host, the
// input resolver, the sync engine and the notification router.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/kobzarvs/nvbridge/internal/bufsync"
	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/host"
	"github.com/kobzarvs/nvbridge/internal/input"
	"github.com/kobzarvs/nvbridge/internal/keys"
	"github.com/kobzarvs/nvbridge/internal/logger"
	"github.com/kobzarvs/nvbridge/internal/lsp"
	"github.com/kobzarvs/nvbridge/internal/mode"
	"github.com/kobzarvs/nvbridge/internal/notify"
	"github.com/kobzarvs/nvbridge/internal/nvim"
	"github.com/kobzarvs/nvbridge/internal/protocol"
	"github.com/kobzarvs/nvbridge/internal/session"
)

// Remote is everything the loop asks of nvim.
type Remote interface {
	bufsync.Remote
	Focus(ctx context.Context, handle int) error
	Input(ctx context.Context, keys string) error
	State(ctx context.Context) (protocol.State, error)
	SetCursor(ctx context.Context, handle int, cur protocol.Cursor) error
	SetSelection(ctx context.Context, handle int, vmode string, start, end protocol.Cursor) error
	JoinNoSpace(ctx context.Context, count int) error
	Command(ctx context.Context, cmd string) error
	MarkSaved(ctx context.Context, handle int) error
	Ready() <-chan struct{}
	Drain() []protocol.Event
}

// Selection kinds passed to Select, in nvim's visualmode() spelling.
const (
	SelectChar  = "v"
	SelectLine  = "V"
	SelectBlock = "\x16"
)

type request func(ctx context.Context) error

// Definitions finds where the symbol at pos in path is defined. lines is
// the document as the host holds it.
type Definitions interface {
	Definition(ctx context.Context, path string, lines []string, pos lsp.Position) ([]lsp.Location, error)
}

type Options struct {
	// Filetype maps a path to an nvim filetype.
	Filetype func(path string) string
	// HostAction runs keymap actions the bridge does not know. It reports
	// whether it handled the action.
	HostAction func(ctx context.Context, a input.Action) bool
	// Definitions serves goto_definition. Without it, or without a server
	// for the file, the keys go to nvim.
	Definitions Definitions
	// Idle runs on the loop goroutine after every handled input, request
	// or notification. The demo host redraws from it.
	Idle func()
}

type Bridge struct {
	remote   Remote
	docs     host.Documents
	ui       host.Indicator
	store    *config.Store
	opts     Options
	machine  *mode.Machine
	resolver *input.Resolver
	engine   *bufsync.Engine
	router   *notify.Router

	requests chan request
	done     chan struct{}
	doneOnce sync.Once
}

func New(remote Remote, docs host.Documents, ui host.Indicator, store *config.Store, opts Options) *Bridge {
	cfg := store.Get()
	b := &Bridge{
		remote:   remote,
		docs:     docs,
		ui:       ui,
		store:    store,
		opts:     opts,
		machine:  mode.NewMachine(),
		requests: make(chan request, 64),
		done:     make(chan struct{}),
	}
	b.resolver = input.NewResolver(input.NewKeymap(cfg.Keymap), b.machine, cfg.Neovim.PendingTimeout())

	engineOpts := []bufsync.Option{
		bufsync.WithOnLost(func(err error) {
			logger.Error("nvim session lost", "err", err)
			b.ui.ShowMessage(err.Error(), true)
		}),
	}
	if opts.Filetype != nil {
		engineOpts = append(engineOpts, bufsync.WithFiletype(opts.Filetype))
	}
	b.engine = bufsync.New(remote, docs, session.NewTable(), engineOpts...)

	b.router = notify.NewRouter(b.engine, remote, docs, ui, b.machine, notify.Hooks{
		Activate: b.activate,
		Quit:     b.Stop,
		Pending:  b.resolver.Pending,
	})

	store.Subscribe(func(cfg config.Config) {
		b.submit(func(context.Context) error {
			b.resolver.SetKeymap(input.NewKeymap(cfg.Keymap))
			b.resolver.SetTimeout(cfg.Neovim.PendingTimeout())
			logger.Info("keymap reloaded")
			return nil
		})
	})
	return b
}

// Engine exposes the sync engine, mostly for tests and diagnostics.
func (b *Bridge) Engine() *bufsync.Engine { return b.engine }

// Mode returns the current mode state. Call it from the loop goroutine
// or after Run returned.
func (b *Bridge) Mode() mode.State { return b.machine.State() }

// Line is the host command and search line.
func (b *Bridge) Line() *input.Line { return b.resolver.Line() }

// Pending renders unresolved input.
func (b *Bridge) Pending() string { return b.resolver.Pending() }

// Done is closed once the bridge stopped.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Stop ends Run. Safe from any goroutine and more than once.
func (b *Bridge) Stop() {
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *Bridge) submit(req request) {
	select {
	case b.requests <- req:
	case <-b.done:
	}
}

// Do runs fn on the loop goroutine.
func (b *Bridge) Do(fn func(ctx context.Context) error) {
	b.submit(fn)
}

// Open switches the host and nvim to path.
func (b *Bridge) Open(path string) {
	b.submit(func(ctx context.Context) error { return b.activate(ctx, path) })
}

// MoveCursor pushes a cursor the host placed itself (a mouse click) to nvim.
func (b *Bridge) MoveCursor(pos host.Position) {
	b.submit(func(ctx context.Context) error { return b.moveCursor(ctx, pos) })
}

// Select pushes a host selection to nvim as a visual selection of kind
// SelectChar, SelectLine or SelectBlock.
func (b *Bridge) Select(r host.Range, kind string) {
	b.submit(func(ctx context.Context) error { return b.selectRange(ctx, r, kind) })
}

// Replace overwrites the current document in nvim with lines, for edits
// the host made on its own (paste, format).
func (b *Bridge) Replace(lines []string) {
	b.submit(func(ctx context.Context) error { return b.replace(ctx, lines) })
}

// Run drives everything until ctx ends, the key channel closes or Stop is
// called. The current document, if any, is registered first.
func (b *Bridge) Run(ctx context.Context, keyCh <-chan string) error {
	defer b.Stop()
	if cur := b.docs.Current(); cur != "" {
		b.report(b.activate(ctx, cur))
	}
	b.idle()

	ready := b.remote.Ready()
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		var expire <-chan time.Time
		if deadline, ok := b.resolver.Deadline(); ok {
			timer.Reset(time.Until(deadline))
			expire = timer.C
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case key, ok := <-keyCh:
			if !ok {
				return nil
			}
			b.report(b.HandleKey(ctx, key))
		case req := <-b.requests:
			b.report(req(ctx))
		case <-ready:
			b.report(b.drain(ctx))
		case now := <-expire:
			if a, ok := b.resolver.Expire(now); ok {
				b.report(b.perform(ctx, a))
			}
		}
		timer.Stop()
		b.idle()
	}
}

func (b *Bridge) idle() {
	if b.opts.Idle != nil {
		b.opts.Idle()
	}
}

// HandleKey resolves one key and acts on it.
func (b *Bridge) HandleKey(ctx context.Context, key string) error {
	return b.perform(ctx, b.resolver.Resolve(key))
}

func (b *Bridge) perform(ctx context.Context, a input.Action) error {
	switch a.Kind {
	case input.Forward:
		return b.forward(ctx, a.Keys)
	case input.Local:
		return b.local(ctx, a)
	}
	b.router.Refresh()
	return nil
}

func (b *Bridge) report(err error) {
	if err == nil {
		return
	}
	var remote *nvim.RemoteError
	switch {
	case errors.Is(err, protocol.ErrSessionLost):
		logger.Debug("dropped after session loss", "err", err)
	case errors.As(err, &remote):
		b.ui.ShowMessage(remote.Err.Error(), true)
	default:
		logger.Warn("bridge", "err", err)
		b.ui.ShowMessage(err.Error(), true)
	}
}

func (b *Bridge) alive() error {
	if b.engine.Lost() {
		return protocol.ErrSessionLost
	}
	return nil
}

// forward sends keys as one batch and reads back the state.
func (b *Bridge) forward(ctx context.Context, seq ...string) error {
	if err := b.alive(); err != nil {
		return err
	}
	for _, s := range seq {
		if err := b.remote.Input(ctx, s); err != nil {
			return fmt.Errorf("input %q: %w", s, err)
		}
	}
	return b.sync(ctx)
}

// sync applies the notifications nvim already sent and then the state it
// reports now.
func (b *Bridge) sync(ctx context.Context) error {
	st, err := b.remote.State(ctx)
	if err != nil {
		return fmt.Errorf("state: %w", err)
	}
	err = b.drain(ctx)
	handle, _ := b.engine.HandleOf(b.docs.Current())
	return multierr.Append(err, b.router.Update(ctx, handle, st))
}

// drain handles every notification queued so far without waiting for more.
func (b *Bridge) drain(ctx context.Context) error {
	var errs error
	for _, ev := range b.remote.Drain() {
		errs = multierr.Append(errs, b.router.OnEvent(ctx, ev))
	}
	return errs
}

func (b *Bridge) local(ctx context.Context, a input.Action) error {
	count := a.Count
	if count == 0 {
		count = 1
	}
	switch a.Name {
	case input.ActionEnterCommand, input.ActionSearchForward, input.ActionSearchBackward,
		input.ActionLineEdit, input.ActionCancelLine:
		b.router.Refresh()
		return nil

	case input.ActionExecuteCommand:
		b.router.Refresh()
		return b.execute(ctx, a.Arg)

	case input.ActionExecuteSearch:
		b.router.Refresh()
		if a.Arg == "" {
			return b.forward(ctx, string(b.resolver.Line().Prompt())+keys.Enter)
		}
		return b.forward(ctx, string(b.resolver.Line().Prompt())+keys.Escape(a.Arg)+keys.Enter)

	case input.ActionVisualBlock:
		// Leaving visual first makes <C-q> start a new block instead of
		// toggling back to normal.
		return b.forward(ctx, keys.Esc, "<C-q>")

	case input.ActionNextDocument, input.ActionPrevDocument:
		delta := count
		if a.Name == input.ActionPrevDocument {
			delta = -count
		}
		path, ok := b.docs.Cycle(delta)
		if !ok {
			return nil
		}
		return b.activate(ctx, path)

	case input.ActionSave:
		return b.router.OnEvent(ctx, protocol.Event{Kind: protocol.EventSaveRequested, Path: b.docs.Current()})

	case input.ActionSaveAndClose:
		return b.router.OnEvent(ctx, protocol.Event{Kind: protocol.EventSaveCloseRequested, Path: b.docs.Current()})

	case input.ActionCloseDiscard:
		return b.router.OnEvent(ctx, protocol.Event{Kind: protocol.EventCloseRequested, Path: b.docs.Current(), Force: true})

	case input.ActionJoinNoSpace:
		if err := b.alive(); err != nil {
			return err
		}
		if err := b.remote.JoinNoSpace(ctx, count); err != nil {
			return err
		}
		return b.sync(ctx)

	case input.ActionGotoDefinition:
		return b.gotoDefinition(ctx, a)
	}

	if b.opts.HostAction != nil && b.opts.HostAction(ctx, a) {
		return nil
	}
	logger.Debug("unhandled action", "action", a.Name)
	return nil
}

// gotoDefinition asks the language server for the definition under the
// cursor, shows its document and moves the cursor there.
func (b *Bridge) gotoDefinition(ctx context.Context, a input.Action) error {
	if err := b.alive(); err != nil {
		return err
	}
	path, _, w, err := b.current()
	if err != nil {
		return err
	}
	if b.opts.Definitions == nil {
		return b.forward(ctx, nvimKeys(a, "gd"))
	}
	lines := w.Lines(0, w.LineCount())
	cur := w.Cursor()
	pos := lsp.Position{Line: cur.Line}
	if cur.Line < len(lines) {
		pos.Character = lsp.UTF16Col(lines[cur.Line], cur.Col)
	}
	locs, err := b.opts.Definitions.Definition(ctx, path, lines, pos)
	if errors.Is(err, lsp.ErrNoServer) {
		logger.Debug("no language server, gd goes to nvim", "path", path, "err", err)
		return b.forward(ctx, nvimKeys(a, "gd"))
	}
	if err != nil {
		return fmt.Errorf("definition: %w", err)
	}
	if len(locs) == 0 {
		b.ui.ShowMessage("No definition found", false)
		return nil
	}
	loc := locs[0]
	if target := loc.Path(); target != path {
		if err := b.activate(ctx, target); err != nil {
			return err
		}
		if w, err = b.currentWidget(); err != nil {
			return err
		}
	}
	line := loc.Range.Start.Line
	if n := w.LineCount(); line >= n {
		line = n - 1
	}
	if line < 0 {
		line = 0
	}
	col := 0
	if text := w.Lines(line, line+1); len(text) == 1 {
		col = lsp.RuneCol(text[0], loc.Range.Start.Character)
	}
	return b.moveCursor(ctx, host.Position{Line: line, Col: col})
}

func (b *Bridge) currentWidget() (host.TextWidget, error) {
	_, _, w, err := b.current()
	return w, err
}

// nvimKeys rebuilds the register and count prefixes of a.
func nvimKeys(a input.Action, seq string) string {
	prefix := ""
	if a.Register != 0 {
		prefix = `"` + keys.Escape(string(a.Register))
	}
	if a.Count > 0 {
		prefix += strconv.Itoa(a.Count)
	}
	return prefix + seq
}

// execute runs a submitted command line. File commands the host owns go
// through the router, the rest to nvim.
func (b *Bridge) execute(ctx context.Context, cmd string) error {
	if cmd == "" {
		return nil
	}
	if ev, ok := notify.ClassifyExCommand(cmd); ok {
		if ev.Path == "" {
			ev.Path = b.docs.Current()
		}
		return b.router.OnEvent(ctx, ev)
	}
	if err := b.alive(); err != nil {
		return err
	}
	if err := b.remote.Command(ctx, cmd); err != nil {
		b.report(err)
		if errors.Is(err, protocol.ErrSessionLost) {
			return err
		}
	}
	return b.sync(ctx)
}

// activate shows path in the host and makes it nvim's current buffer.
func (b *Bridge) activate(ctx context.Context, path string) error {
	if err := b.docs.Open(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	path = b.docs.Current()
	if err := b.alive(); err != nil {
		return err
	}
	w, ok := b.docs.Widget(path)
	if !ok {
		return fmt.Errorf("activate %s: %w", path, bufsync.ErrNoWidget)
	}
	reg, err := b.engine.RegisterAndAttach(ctx, path, w.Lines(0, w.LineCount()))
	if err != nil {
		return err
	}
	if err := b.remote.Focus(ctx, reg.Handle); err != nil {
		return fmt.Errorf("focus %s: %w", path, err)
	}
	return b.sync(ctx)
}

func (b *Bridge) current() (string, int, host.TextWidget, error) {
	path := b.docs.Current()
	if path == "" {
		return "", 0, nil, host.ErrNoDocument
	}
	handle, ok := b.engine.HandleOf(path)
	if !ok {
		return "", 0, nil, fmt.Errorf("%s: %w", path, session.ErrNotFound)
	}
	w, ok := b.docs.Widget(path)
	if !ok {
		return "", 0, nil, fmt.Errorf("%s: %w", path, bufsync.ErrNoWidget)
	}
	return path, handle, w, nil
}

func byteCursor(w host.TextWidget, pos host.Position) protocol.Cursor {
	col := 0
	if line := w.Lines(pos.Line, pos.Line+1); len(line) == 1 {
		col = host.ByteCol(line[0], pos.Col)
	}
	return protocol.Cursor{Line: pos.Line, Col: col}
}

func (b *Bridge) moveCursor(ctx context.Context, pos host.Position) error {
	if err := b.alive(); err != nil {
		return err
	}
	_, handle, w, err := b.current()
	if err != nil {
		return err
	}
	if err := b.remote.SetCursor(ctx, handle, byteCursor(w, pos)); err != nil {
		return err
	}
	return b.sync(ctx)
}

func (b *Bridge) selectRange(ctx context.Context, r host.Range, kind string) error {
	if err := b.alive(); err != nil {
		return err
	}
	_, handle, w, err := b.current()
	if err != nil {
		return err
	}
	// The host range end is exclusive, nvim's visual end is the last
	// selected character.
	end := r.End
	if end.Col > 0 {
		end.Col--
	}
	err = b.remote.SetSelection(ctx, handle, kind, byteCursor(w, r.Start), byteCursor(w, end))
	if err != nil {
		return err
	}
	return b.sync(ctx)
}

func (b *Bridge) replace(ctx context.Context, lines []string) error {
	path, _, w, err := b.current()
	if err != nil {
		return err
	}
	if err := w.ReplaceLines(0, w.LineCount(), lines); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	if _, err := b.engine.PushFullContent(ctx, path, lines); err != nil {
		return err
	}
	return nil
}
