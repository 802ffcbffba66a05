// Package bufsync keeps host documents and nvim buffers in step: it
// registers documents, applies nvim's line changes to host widgets and
// pushes host edits back.
package bufsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/kobzarvs/nvbridge/internal/host"
	"github.com/kobzarvs/nvbridge/internal/logger"
	"github.com/kobzarvs/nvbridge/internal/protocol"
	"github.com/kobzarvs/nvbridge/internal/session"
)

var ErrNoWidget = errors.New("document has no widget")

// Remote is the nvim side of the protocol.
type Remote interface {
	RegisterAndAttach(ctx context.Context, path string, lines []string, filetype string) (protocol.Registration, error)
	UpdateBuffer(ctx context.Context, handle int, lines []string) (int64, error)
	BufferContent(ctx context.Context, handle int) (protocol.Snapshot, error)
	Reload(ctx context.Context, handle int) (protocol.Snapshot, error)
	DeleteBuffer(ctx context.Context, handle int) error
}

// Widgets finds the widget showing a document.
type Widgets interface {
	Widget(path string) (host.TextWidget, bool)
}

type Option func(*Engine)

// WithFiletype sets how a path maps to an nvim filetype.
func WithFiletype(fn func(path string) string) Option {
	return func(e *Engine) { e.filetype = fn }
}

// WithOnLost sets the callback run once when the session is lost.
func WithOnLost(fn func(err error)) Option {
	return func(e *Engine) { e.onLost = fn }
}

type Engine struct {
	remote   Remote
	widgets  Widgets
	table    *session.Table
	filetype func(string) string
	onLost   func(error)

	mu sync.Mutex
	// echoes holds the ticks of host pushes whose notification has not
	// arrived yet, per handle.
	echoes map[int]map[int64]struct{}

	lost     atomic.Bool
	lostOnce sync.Once
}

func New(remote Remote, widgets Widgets, table *session.Table, opts ...Option) *Engine {
	e := &Engine{
		remote:   remote,
		widgets:  widgets,
		table:    table,
		filetype: func(string) string { return "" },
		echoes:   make(map[int]map[int64]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Table() *session.Table { return e.table }

// Lost reports whether the nvim session is gone.
func (e *Engine) Lost() bool { return e.lost.Load() }

// MarkLost detaches every session. Only the first call reaches OnLost.
func (e *Engine) MarkLost(err error) {
	e.lostOnce.Do(func() {
		e.lost.Store(true)
		e.table.MarkAllLost()
		logger.Warn("sync engine lost its session", "err", err)
		if e.onLost != nil {
			e.onLost(err)
		}
	})
}

func (e *Engine) alive(op string) error {
	if e.lost.Load() {
		return fmt.Errorf("%s: %w", op, protocol.ErrSessionLost)
	}
	return nil
}

func (e *Engine) fail(op string, err error) error {
	if errors.Is(err, protocol.ErrSessionLost) {
		e.MarkLost(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RegisterAndAttach makes sure nvim has an initialized, attached buffer
// for path. lines only seed a buffer nvim has never initialized.
func (e *Engine) RegisterAndAttach(ctx context.Context, path string, lines []string) (protocol.Registration, error) {
	if err := e.alive("register"); err != nil {
		return protocol.Registration{}, err
	}
	release, err := e.table.Acquire(ctx, path)
	if err != nil {
		return protocol.Registration{}, err
	}
	defer release()
	return e.register(ctx, path, lines)
}

func (e *Engine) register(ctx context.Context, path string, lines []string) (protocol.Registration, error) {
	key := session.Key(path)
	reg, err := e.remote.RegisterAndAttach(ctx, key, lines, e.filetype(key))
	if err != nil {
		return reg, e.fail("register "+key, err)
	}

	if prev, ok := e.table.Get(key); ok && prev.Handle != reg.Handle {
		e.dropEchoes(prev.Handle)
		if _, err := e.table.Update(key, func(s *session.BufferSession) {
			s.Attached = false
			s.Revision = 0
		}); err != nil {
			return reg, err
		}
	}
	_, err = e.table.Update(key, func(s *session.BufferSession) {
		s.Handle = reg.Handle
		s.Initialized = true
		s.Attached = reg.Attached
		s.Lost = false
		if reg.Revision > s.Revision {
			s.Revision = reg.Revision
		}
		s.Cursor = reg.Cursor
	})
	if err != nil {
		return reg, err
	}
	logger.Debug("registered buffer", "path", key, "handle", reg.Handle, "rev", reg.Revision, "new", reg.IsNew)
	return reg, nil
}

// ApplyIncremental replaces the change's line range in the widget of
// path. On failure the widget keeps its previous content.
func (e *Engine) ApplyIncremental(path string, change protocol.BufferChange) error {
	w, ok := e.widgets.Widget(path)
	if !ok {
		return fmt.Errorf("apply %s: %w", path, ErrNoWidget)
	}
	return applyChange(w, change)
}

func applyChange(w host.TextWidget, c protocol.BufferChange) error {
	n := w.LineCount()
	first, last := c.FirstLine, c.LastLine
	if last < 0 {
		last = n
	}
	if first < 0 || first > last || last > n {
		return fmt.Errorf("%w: %s over %d lines", protocol.ErrRangeInvalid, c, n)
	}

	before := w.Lines(0, n)
	cursor := w.Cursor()
	if err := w.ReplaceLines(first, last, c.Lines); err != nil {
		if rerr := w.ReplaceLines(0, w.LineCount(), before); rerr != nil {
			return multierr.Append(err, fmt.Errorf("restore: %w", rerr))
		}
		w.SetCursor(cursor)
		return err
	}
	return nil
}

func replaceAll(w host.TextWidget, lines []string) error {
	return applyChange(w, protocol.BufferChange{FirstLine: 0, LastLine: -1, Lines: lines})
}

// PushFullContent overwrites the nvim buffer with the host's lines and
// returns the new revision. nvim keeps its undo history.
func (e *Engine) PushFullContent(ctx context.Context, path string, lines []string) (int64, error) {
	if err := e.alive("push"); err != nil {
		return 0, err
	}
	release, err := e.table.Acquire(ctx, path)
	if err != nil {
		return 0, err
	}
	defer release()

	s, ok := e.table.Get(path)
	if !ok || !s.Initialized {
		return 0, fmt.Errorf("push %s: %w", path, session.ErrNotFound)
	}
	tick, err := e.remote.UpdateBuffer(ctx, s.Handle, lines)
	if err != nil {
		return 0, e.fail("push "+s.Path, err)
	}
	e.expectEcho(s.Handle, tick)
	if _, err := e.table.Update(path, func(s *session.BufferSession) {
		if tick > s.Revision {
			s.Revision = tick
		}
	}); err != nil {
		return tick, err
	}
	return tick, nil
}

// Resync replaces the host content with nvim's full buffer.
func (e *Engine) Resync(ctx context.Context, path string) error {
	if err := e.alive("resync"); err != nil {
		return err
	}
	release, err := e.table.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer release()
	s, ok := e.table.Get(path)
	if !ok {
		return fmt.Errorf("resync %s: %w", path, session.ErrNotFound)
	}
	return e.resync(ctx, s)
}

func (e *Engine) resync(ctx context.Context, s session.BufferSession) error {
	snap, err := e.remote.BufferContent(ctx, s.Handle)
	if err != nil {
		return e.fail("resync "+s.Path, err)
	}
	w, ok := e.widgets.Widget(s.Path)
	if !ok {
		return fmt.Errorf("resync %s: %w", s.Path, ErrNoWidget)
	}
	if err := replaceAll(w, snap.Lines); err != nil {
		return fmt.Errorf("resync %s: %w", s.Path, err)
	}
	e.dropEchoesUpTo(s.Handle, snap.Revision)
	_, err = e.table.Update(s.Path, func(s *session.BufferSession) {
		if snap.Revision > s.Revision {
			s.Revision = snap.Revision
		}
	})
	return err
}

// ReloadFromDisk discards nvim's buffer for the file on disk, re-attaches
// and copies the result into the host widget.
func (e *Engine) ReloadFromDisk(ctx context.Context, path string) (protocol.Snapshot, error) {
	if err := e.alive("reload"); err != nil {
		return protocol.Snapshot{}, err
	}
	release, err := e.table.Acquire(ctx, path)
	if err != nil {
		return protocol.Snapshot{}, err
	}
	defer release()

	s, ok := e.table.Get(path)
	if !ok {
		return protocol.Snapshot{}, fmt.Errorf("reload %s: %w", path, session.ErrNotFound)
	}
	snap, err := e.remote.Reload(ctx, s.Handle)
	if err != nil {
		return snap, e.fail("reload "+s.Path, err)
	}
	e.expectEcho(s.Handle, snap.Revision)

	w, ok := e.widgets.Widget(s.Path)
	if !ok {
		return snap, fmt.Errorf("reload %s: %w", s.Path, ErrNoWidget)
	}
	if err := replaceAll(w, snap.Lines); err != nil {
		return snap, fmt.Errorf("reload %s: %w", s.Path, err)
	}
	_, err = e.table.Update(s.Path, func(s *session.BufferSession) {
		s.Attached = true
		if snap.Revision > s.Revision {
			s.Revision = snap.Revision
		}
		s.Cursor = snap.Cursor
	})
	return snap, err
}

// HandleLines applies a change nvim reported for handle.
func (e *Engine) HandleLines(ctx context.Context, handle int, change protocol.BufferChange) error {
	if err := e.alive("lines"); err != nil {
		return err
	}
	s, ok := e.table.ByHandle(handle)
	if !ok {
		logger.Debug("lines for unknown buffer dropped", "handle", handle, "change", change.String())
		return nil
	}
	release, err := e.table.Acquire(ctx, s.Path)
	if err != nil {
		return err
	}
	defer release()
	if s, ok = e.table.ByHandle(handle); !ok {
		return nil
	}

	if e.takeEcho(handle, change.Revision) {
		_, err := e.table.Update(s.Path, func(s *session.BufferSession) {
			if change.Revision > s.Revision {
				s.Revision = change.Revision
			}
		})
		return err
	}
	if change.Revision <= s.Revision {
		logger.Warn("stale buffer change, resyncing",
			"path", s.Path, "stored", s.Revision, "change", change.String())
		return e.resync(ctx, s)
	}

	if err := e.ApplyIncremental(s.Path, change); err != nil {
		if errors.Is(err, protocol.ErrRangeInvalid) {
			logger.Warn("change does not fit host buffer, resyncing", "path", s.Path, "err", err)
			return e.resync(ctx, s)
		}
		return err
	}
	_, err = e.table.Update(s.Path, func(s *session.BufferSession) {
		s.Revision = change.Revision
	})
	return err
}

// HandleChangedTick records a revision bump that came without a text change.
func (e *Engine) HandleChangedTick(ctx context.Context, handle int, tick int64) error {
	s, ok := e.table.ByHandle(handle)
	if !ok {
		return nil
	}
	release, err := e.table.Acquire(ctx, s.Path)
	if err != nil {
		return err
	}
	defer release()
	_, err = e.table.Update(s.Path, func(s *session.BufferSession) {
		if tick > s.Revision {
			s.Revision = tick
		}
	})
	return err
}

// HandleDetach reacts to nvim dropping its subscription. A document that
// is still open is attached again and resynced, anything else is forgotten.
func (e *Engine) HandleDetach(ctx context.Context, handle int) error {
	if err := e.alive("detach"); err != nil {
		return err
	}
	s, ok := e.table.ByHandle(handle)
	if !ok {
		return nil
	}
	release, err := e.table.Acquire(ctx, s.Path)
	if err != nil {
		return err
	}
	defer release()

	w, open := e.widgets.Widget(s.Path)
	if !open {
		e.dropEchoes(handle)
		e.table.Delete(s.Path)
		return nil
	}
	if _, err := e.table.Update(s.Path, func(s *session.BufferSession) { s.Attached = false }); err != nil {
		return err
	}
	logger.Info("buffer detached, attaching again", "path", s.Path, "handle", handle)
	if _, err := e.register(ctx, s.Path, w.Lines(0, w.LineCount())); err != nil {
		return err
	}
	s, _ = e.table.Get(s.Path)
	return e.resync(ctx, s)
}

// Detach deletes the nvim buffer of path and forgets its session.
func (e *Engine) Detach(ctx context.Context, path string) error {
	release, err := e.table.Acquire(ctx, path)
	if err != nil {
		return err
	}
	defer release()

	s, ok := e.table.Get(path)
	if !ok {
		e.table.Delete(path)
		return nil
	}
	e.dropEchoes(s.Handle)
	e.table.Delete(path)
	if e.lost.Load() {
		return nil
	}
	if err := e.remote.DeleteBuffer(ctx, s.Handle); err != nil {
		return e.fail("detach "+s.Path, err)
	}
	return nil
}

// PathOf returns the document registered under handle.
func (e *Engine) PathOf(handle int) (string, bool) {
	s, ok := e.table.ByHandle(handle)
	return s.Path, ok
}

// HandleOf returns the nvim buffer of path.
func (e *Engine) HandleOf(path string) (int, bool) {
	s, ok := e.table.Get(path)
	if !ok || s.Handle == 0 {
		return 0, false
	}
	return s.Handle, true
}

// TrackCursor stores the last cursor and mode nvim reported for handle.
func (e *Engine) TrackCursor(handle int, cur protocol.Cursor, mode string) {
	s, ok := e.table.ByHandle(handle)
	if !ok {
		return
	}
	_, _ = e.table.Update(s.Path, func(s *session.BufferSession) {
		s.Cursor = cur
		if mode != "" {
			s.LastMode = mode
		}
	})
}

func (e *Engine) expectEcho(handle int, tick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.echoes[handle]
	if !ok {
		m = make(map[int64]struct{})
		e.echoes[handle] = m
	}
	m[tick] = struct{}{}
}

func (e *Engine) takeEcho(handle int, tick int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.echoes[handle]
	if _, ok := m[tick]; !ok {
		return false
	}
	delete(m, tick)
	return true
}

func (e *Engine) dropEchoesUpTo(handle int, tick int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for t := range e.echoes[handle] {
		if t <= tick {
			delete(e.echoes[handle], t)
		}
	}
}

func (e *Engine) dropEchoes(handle int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.echoes, handle)
}
