// Package nvim owns the embedded nvim process: it starts or dials it,
// installs the bridge script, makes bounded RPC calls and turns nvim's
// notifications into protocol events.
package nvim

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/neovim/go-client/nvim"

	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/logger"
	"github.com/kobzarvs/nvbridge/internal/protocol"
)

//go:embed bridge.lua
var bridgeScript string

// ErrTimeout is wrapped by every call that did not answer in time.
var ErrTimeout = errors.New("nvim request timed out")

// RemoteError is an error nvim itself returned. The session stays usable.
type RemoteError struct {
	Op  string
	Err error
}

func (e *RemoteError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *RemoteError) Unwrap() error { return e.Err }

type Options struct {
	Path   string
	Args   []string
	Clean  bool
	Listen string

	Timeout         time.Duration
	ExtendedTimeout time.Duration
	// Threshold timeouts inside Window tear the session down.
	Threshold int
	Window    time.Duration
}

func OptionsFrom(n config.NeovimOptions) Options {
	return Options{
		Path:            n.Path,
		Args:            n.Args,
		Clean:           n.Clean,
		Listen:          n.Listen,
		Timeout:         n.Timeout(),
		ExtendedTimeout: n.ExtendedTimeout(),
		Threshold:       n.RecoveryThreshold,
		Window:          n.Window(),
	}
}

// Client is one nvim session. Calls are safe from any goroutine.
type Client struct {
	v    *nvim.Nvim
	opts Options
	clip Clipboard
	now  func() time.Time

	events   *Queue
	lost     atomic.Bool
	closing  atomic.Bool
	lostOnce sync.Once

	mu       sync.Mutex
	timeouts []time.Time
}

func newClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.ExtendedTimeout < opts.Timeout {
		opts.ExtendedTimeout = opts.Timeout
	}
	if opts.Threshold <= 0 {
		opts.Threshold = 1
	}
	return &Client{
		opts:   opts,
		clip:   SystemClipboard(),
		now:    time.Now,
		events: NewQueue(),
	}
}

// Start spawns nvim, or dials Listen when set, and installs the bridge.
// ctx bounds the lifetime of a spawned process.
func Start(ctx context.Context, opts Options) (*Client, error) {
	var (
		v   *nvim.Nvim
		err error
	)
	if opts.Listen != "" {
		v, err = nvim.Dial(opts.Listen,
			nvim.DialContext(ctx),
			nvim.DialServe(false),
			nvim.DialLogf(logger.Debugf))
	} else {
		args := []string{"--embed", "--headless"}
		if opts.Clean {
			args = append(args, "--clean")
		}
		args = append(args, opts.Args...)
		path := opts.Path
		if path == "" {
			path = "nvim"
		}
		v, err = nvim.NewChildProcess(
			nvim.ChildProcessCommand(path),
			nvim.ChildProcessArgs(args...),
			nvim.ChildProcessContext(ctx),
			nvim.ChildProcessServe(false),
			nvim.ChildProcessLogf(logger.Debugf))
	}
	if err != nil {
		return nil, fmt.Errorf("start nvim: %w", err)
	}

	c := newClient(opts)
	if err := c.attach(ctx, v); err != nil {
		c.closing.Store(true)
		_ = v.Close()
		return nil, err
	}
	logger.Info("nvim session started", "listen", opts.Listen, "path", opts.Path)
	return c, nil
}

// SetClipboard replaces the clipboard behind the + and * registers.
func (c *Client) SetClipboard(cb Clipboard) { c.clip = cb }

func (c *Client) attach(ctx context.Context, v *nvim.Nvim) error {
	c.v = v
	handlers := map[string]interface{}{
		"nvbridge_lines":              c.onLines,
		"nvbridge_changedtick":        c.onChangedTick,
		"nvbridge_detach":             c.onDetach,
		"nvbridge_cursor":             c.onCursor,
		"nvbridge_modified":           c.onModified,
		"nvbridge_enter":              c.onEnter,
		"nvbridge_save":               c.onSave,
		"nvbridge_close":              c.onClose,
		"nvbridge_save_close":         c.onSaveClose,
		"nvbridge_save_all_close_all": c.onSaveAllCloseAll,
		"nvbridge_clipboard_copy":     c.onClipboardCopy,
		"nvbridge_clipboard_paste":    c.onClipboardPaste,
	}
	for name, fn := range handlers {
		if err := v.RegisterHandler(name, fn); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	go c.serve()

	return c.do(ctx, "setup", c.opts.ExtendedTimeout, func() error {
		return v.ExecLua(bridgeScript, nil, v.ChannelID())
	})
}

func (c *Client) serve() {
	err := c.v.Serve()
	if err == nil {
		err = io.EOF
	}
	c.markLost(fmt.Errorf("nvim exited: %w", err))
}

// Ready is signalled when notifications are waiting to be drained.
func (c *Client) Ready() <-chan struct{} { return c.events.Ready() }

// Drain takes the queued notifications in arrival order. After the session
// is lost the last one is an EventSessionLost and nothing follows it.
func (c *Client) Drain() []protocol.Event { return c.events.Drain() }

// Lost reports whether the session is gone.
func (c *Client) Lost() bool { return c.lost.Load() }

// Close ends the session without reporting it as lost.
func (c *Client) Close() error {
	c.closing.Store(true)
	c.markLost(errors.New("closed"))
	return nil
}

func (c *Client) markLost(err error) {
	c.lostOnce.Do(func() {
		c.lost.Store(true)
		if !c.closing.Load() {
			logger.Warn("nvim session lost", "err", err)
			c.events.Push(protocol.Event{
				Kind:    protocol.EventSessionLost,
				Message: "nvim session lost: " + err.Error(),
				Err:     fmt.Errorf("%w: %v", protocol.ErrSessionLost, err),
			})
		}
		c.events.Close()
		if c.v != nil {
			v := c.v
			go func() { _ = v.Close() }()
		}
	})
}

// recordTimeout notes a timeout and reports whether the threshold was
// reached inside the window.
func (c *Client) recordTimeout(at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.timeouts[:0]
	for _, t := range c.timeouts {
		if c.opts.Window <= 0 || at.Sub(t) < c.opts.Window {
			kept = append(kept, t)
		}
	}
	c.timeouts = append(kept, at)
	return len(c.timeouts) >= c.opts.Threshold
}

// do runs fn with a deadline. fn keeps running after a timeout; its result
// is dropped.
func (c *Client) do(ctx context.Context, op string, timeout time.Duration, fn func() error) error {
	if c.lost.Load() {
		return fmt.Errorf("%s: %w", op, protocol.ErrSessionLost)
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if c.lost.Load() {
			return fmt.Errorf("%s: %w", op, protocol.ErrSessionLost)
		}
		return &RemoteError{Op: op, Err: err}
	case <-timer.C:
		logger.Warn("nvim call timed out", "op", op, "timeout", timeout)
		if c.recordTimeout(c.now()) {
			c.markLost(fmt.Errorf("%s timed out after %s", op, timeout))
			return fmt.Errorf("%s: %w: %w", op, ErrTimeout, protocol.ErrSessionLost)
		}
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) lua(ctx context.Context, op string, timeout time.Duration, result interface{}, fn string, args ...interface{}) error {
	code := "return nvbridge." + fn + "(...)"
	return c.do(ctx, op, timeout, func() error {
		return c.v.ExecLua(code, result, args...)
	})
}

type bufferReply struct {
	Buf      int      `msgpack:"buf"`
	Tick     int64    `msgpack:"tick"`
	IsNew    bool     `msgpack:"is_new"`
	Attached bool     `msgpack:"attached"`
	Lines    []string `msgpack:"lines"`
	Line     int      `msgpack:"line"`
	Col      int      `msgpack:"col"`
}

// RegisterAndAttach creates or reuses the buffer for path. Content is
// only written into a buffer that was never initialized.
func (c *Client) RegisterAndAttach(ctx context.Context, path string, lines []string, filetype string) (protocol.Registration, error) {
	if lines == nil {
		lines = []string{}
	}
	var r bufferReply
	if err := c.lua(ctx, "register", c.opts.ExtendedTimeout, &r, "register_and_attach", path, lines, filetype); err != nil {
		return protocol.Registration{}, err
	}
	return protocol.Registration{
		Handle:   r.Buf,
		Revision: r.Tick,
		IsNew:    r.IsNew,
		Attached: r.Attached,
		Cursor:   protocol.Cursor{Line: r.Line, Col: r.Col},
	}, nil
}

// UpdateBuffer replaces the whole buffer and returns the new changedtick.
func (c *Client) UpdateBuffer(ctx context.Context, handle int, lines []string) (int64, error) {
	if lines == nil {
		lines = []string{}
	}
	var tick int64
	if err := c.lua(ctx, "update", c.opts.Timeout, &tick, "buffer_update", handle, lines); err != nil {
		return 0, err
	}
	return tick, nil
}

func (c *Client) BufferContent(ctx context.Context, handle int) (protocol.Snapshot, error) {
	var r bufferReply
	if err := c.lua(ctx, "content", c.opts.Timeout, &r, "get_content", handle); err != nil {
		return protocol.Snapshot{}, err
	}
	return snapshot(r), nil
}

// Reload rereads the file from disk inside nvim.
func (c *Client) Reload(ctx context.Context, handle int) (protocol.Snapshot, error) {
	var r bufferReply
	if err := c.lua(ctx, "reload", c.opts.ExtendedTimeout, &r, "reload", handle); err != nil {
		return protocol.Snapshot{}, err
	}
	return snapshot(r), nil
}

func snapshot(r bufferReply) protocol.Snapshot {
	return protocol.Snapshot{
		Lines:    r.Lines,
		Revision: r.Tick,
		Cursor:   protocol.Cursor{Line: r.Line, Col: r.Col},
	}
}

// Revision returns the changedtick of handle.
func (c *Client) Revision(ctx context.Context, handle int) (int64, error) {
	var tick int64
	if err := c.lua(ctx, "revision", c.opts.Timeout, &tick, "revision", handle); err != nil {
		return 0, err
	}
	return tick, nil
}

func (c *Client) DeleteBuffer(ctx context.Context, handle int) error {
	return c.lua(ctx, "delete", c.opts.Timeout, nil, "delete_buffer", handle)
}

// Focus makes handle the current buffer without reporting a BufferEnter.
func (c *Client) Focus(ctx context.Context, handle int) error {
	return c.lua(ctx, "focus", c.opts.Timeout, nil, "focus", handle)
}

func (c *Client) MarkSaved(ctx context.Context, handle int) error {
	return c.lua(ctx, "mark_saved", c.opts.Timeout, nil, "mark_saved", handle)
}

func (c *Client) SetCursor(ctx context.Context, handle int, cur protocol.Cursor) error {
	return c.lua(ctx, "set_cursor", c.opts.Timeout, nil, "set_cursor", handle, cur.Line, cur.Col)
}

// SetSelection selects from start to end in one call, using vmode ("v",
// "V" or "\x16").
func (c *Client) SetSelection(ctx context.Context, handle int, vmode string, start, end protocol.Cursor) error {
	return c.lua(ctx, "set_visual", c.opts.Timeout, nil, "set_visual",
		handle, vmode, start.Line, start.Col, end.Line, end.Col)
}

func (c *Client) JoinNoSpace(ctx context.Context, count int) error {
	return c.lua(ctx, "join", c.opts.Timeout, nil, "join_no_space", count)
}

// Input queues keys as if typed.
func (c *Client) Input(ctx context.Context, keys string) error {
	return c.do(ctx, "input", c.opts.Timeout, func() error {
		_, err := c.v.Input(keys)
		return err
	})
}

// Command runs an ex command.
func (c *Client) Command(ctx context.Context, cmd string) error {
	return c.do(ctx, "command", c.opts.Timeout, func() error {
		return c.v.Command(cmd)
	})
}

// State reads the mode first. Cursor and recording register are only
// fetched when nvim is not waiting for more input, because those calls
// would block until it is.
func (c *Client) State(ctx context.Context) (protocol.State, error) {
	var m *nvim.Mode
	err := c.do(ctx, "mode", c.opts.Timeout, func() error {
		var err error
		m, err = c.v.Mode()
		return err
	})
	if err != nil {
		return protocol.State{}, err
	}
	st := protocol.State{Mode: m.Mode, Blocking: m.Blocking}
	if m.Blocking || strings.HasPrefix(m.Mode, "no") {
		return st, nil
	}

	var (
		pos [2]int
		rec string
	)
	err = c.do(ctx, "state", c.opts.Timeout, func() error {
		b := c.v.NewBatch()
		b.WindowCursor(0, &pos)
		b.Call("reg_recording", &rec)
		return b.Execute()
	})
	if err != nil {
		return st, err
	}
	st.Cursor = protocol.Cursor{Line: pos[0] - 1, Col: pos[1]}
	if rec != "" {
		st.Recording = []rune(rec)[0]
	}
	return st, nil
}

func (c *Client) onLines(buf int, tick int64, first, last int, lines []string) {
	c.events.Push(protocol.Event{
		Kind:   protocol.EventLines,
		Handle: buf,
		Change: protocol.BufferChange{Revision: tick, FirstLine: first, LastLine: last, Lines: lines},
	})
}

func (c *Client) onChangedTick(buf int, tick int64) {
	c.events.Push(protocol.Event{
		Kind:   protocol.EventChangedTick,
		Handle: buf,
		Change: protocol.BufferChange{Revision: tick},
	})
}

func (c *Client) onDetach(buf int) {
	c.events.Push(protocol.Event{Kind: protocol.EventDetached, Handle: buf})
}

func (c *Client) onCursor(buf, line, col int, mode, trigger string) {
	kind := protocol.EventCursorMoved
	if trigger == "mode" {
		kind = protocol.EventModeChanged
	}
	c.events.Push(protocol.Event{
		Kind:   kind,
		Handle: buf,
		Cursor: protocol.Cursor{Line: line, Col: col},
		Mode:   mode,
	})
}

func (c *Client) onModified(buf int, modified bool) {
	c.events.Push(protocol.Event{Kind: protocol.EventModifiedChanged, Handle: buf, Modified: modified})
}

func (c *Client) onEnter(buf int, name string) {
	c.events.Push(protocol.Event{Kind: protocol.EventBufferEnter, Handle: buf, Path: name})
}

func (c *Client) onSave(buf int) {
	c.events.Push(protocol.Event{Kind: protocol.EventSaveRequested, Handle: buf})
}

func (c *Client) onClose(buf int, force, all bool) {
	c.events.Push(protocol.Event{Kind: protocol.EventCloseRequested, Handle: buf, Force: force, All: all})
}

func (c *Client) onSaveClose(buf int) {
	c.events.Push(protocol.Event{Kind: protocol.EventSaveCloseRequested, Handle: buf})
}

func (c *Client) onSaveAllCloseAll(buf int) {
	c.events.Push(protocol.Event{Kind: protocol.EventSaveAllCloseAll, Handle: buf, All: true})
}

func (c *Client) onClipboardCopy(lines []string, regtype string) {
	if err := c.clip.WriteAll(clipboardText(lines, regtype)); err != nil {
		logger.Warn("clipboard write failed", "err", err)
	}
}

func (c *Client) onClipboardPaste() ([]interface{}, error) {
	text, err := c.clip.ReadAll()
	if err != nil {
		logger.Warn("clipboard read failed", "err", err)
		return []interface{}{[]string{""}, "v"}, nil
	}
	lines, regtype := clipboardLines(text)
	return []interface{}{lines, regtype}, nil
}
