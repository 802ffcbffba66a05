// Package notify relays what nvim reports to the host: cursor and mode
// updates, modified flags, buffer switches and the save and close
// requests that the host owns.
package notify

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/multierr"

	"github.com/kobzarvs/nvbridge/internal/host"
	"github.com/kobzarvs/nvbridge/internal/logger"
	"github.com/kobzarvs/nvbridge/internal/mode"
	"github.com/kobzarvs/nvbridge/internal/protocol"
)

const msgNoWrite = "E37: No write since last change (add ! to override)"

// Sync is the part of the sync engine the router drives.
type Sync interface {
	HandleLines(ctx context.Context, handle int, change protocol.BufferChange) error
	HandleChangedTick(ctx context.Context, handle int, tick int64) error
	HandleDetach(ctx context.Context, handle int) error
	ReloadFromDisk(ctx context.Context, path string) (protocol.Snapshot, error)
	Detach(ctx context.Context, path string) error
	TrackCursor(handle int, cur protocol.Cursor, mode string)
	PathOf(handle int) (string, bool)
	HandleOf(path string) (int, bool)
	MarkLost(err error)
}

// Marker clears nvim's modified flag after the host saved.
type Marker interface {
	MarkSaved(ctx context.Context, handle int) error
}

// Hooks are optional callbacks into the owner of the router.
type Hooks struct {
	// Activate shows path and makes it nvim's current buffer.
	Activate func(ctx context.Context, path string) error
	// Quit runs after the last document closed.
	Quit func()
	// Pending renders unresolved input for the mode indicator.
	Pending func() string
}

type view struct {
	handle int
	cursor protocol.Cursor
	mode   string
}

// Router is driven from the bridge's event loop only.
type Router struct {
	sync    Sync
	marker  Marker
	docs    host.Documents
	ui      host.Indicator
	machine *mode.Machine
	hooks   Hooks

	blocking bool
	// lines holds line and changedtick events in arrival order.
	lines []protocol.Event
	held  *view

	last      view
	delivered bool
}

func NewRouter(s Sync, marker Marker, docs host.Documents, ui host.Indicator, m *mode.Machine, hooks Hooks) *Router {
	return &Router{
		sync:    s,
		marker:  marker,
		docs:    docs,
		ui:      ui,
		machine: m,
		hooks:   hooks,
	}
}

// Blocking reports whether host-visible updates are held back.
func (r *Router) Blocking() bool { return r.blocking }

// OnEvent handles one notification.
func (r *Router) OnEvent(ctx context.Context, ev protocol.Event) error {
	switch ev.Kind {
	case protocol.EventLines:
		if r.blocking {
			r.lines = append(r.lines, ev)
			return nil
		}
		return r.sync.HandleLines(ctx, ev.Handle, ev.Change)

	case protocol.EventChangedTick:
		if r.blocking {
			r.lines = append(r.lines, ev)
			return nil
		}
		return r.sync.HandleChangedTick(ctx, ev.Handle, ev.Change.Revision)

	case protocol.EventDetached:
		return r.sync.HandleDetach(ctx, ev.Handle)

	case protocol.EventCursorMoved, protocol.EventModeChanged:
		r.sync.TrackCursor(ev.Handle, ev.Cursor, ev.Mode)
		if ev.Mode != "" {
			r.machine.Mirror(ev.Mode, r.blocking)
		}
		v := view{handle: ev.Handle, cursor: ev.Cursor, mode: ev.Mode}
		if r.blocking {
			r.held = &v
			return nil
		}
		r.deliver(v)
		return nil

	case protocol.EventModifiedChanged:
		if path, ok := r.pathOf(ev); ok {
			r.docs.SetModified(path, ev.Modified)
		}
		return nil

	case protocol.EventBufferEnter:
		return r.enter(ctx, ev.Path)

	case protocol.EventSaveRequested:
		if ev.All {
			return r.saveAll(ctx)
		}
		path, ok := r.pathOf(ev)
		if !ok {
			return nil
		}
		return r.save(ctx, path)

	case protocol.EventCloseRequested:
		if ev.All {
			return r.closeAll(ctx, ev.Force)
		}
		path, ok := r.pathOf(ev)
		if !ok {
			return nil
		}
		return r.close(ctx, path, ev.Force)

	case protocol.EventSaveCloseRequested:
		path, ok := r.pathOf(ev)
		if !ok {
			return nil
		}
		if err := r.save(ctx, path); err != nil {
			return err
		}
		return r.close(ctx, path, false)

	case protocol.EventSaveAllCloseAll:
		if err := r.saveAll(ctx); err != nil {
			return err
		}
		return r.closeAll(ctx, false)

	case protocol.EventReloadRequested:
		path, ok := r.pathOf(ev)
		if !ok {
			return nil
		}
		return r.reload(ctx, path)

	case protocol.EventSessionLost:
		err := ev.Err
		if err == nil {
			err = protocol.ErrSessionLost
		}
		r.sync.MarkLost(err)
		r.blocking = false
		r.lines = nil
		r.held = nil
		msg := ev.Message
		if msg == "" {
			msg = err.Error()
		}
		r.ui.ShowMessage(msg, true)
		return nil

	case protocol.EventMessage:
		r.ui.ShowMessage(ev.Message, ev.Err != nil)
		return nil
	}
	logger.Debug("unhandled event", "kind", ev.Kind.String())
	return nil
}

// SetBlocking holds cursor, mode and buffer updates while b is true. When
// it turns false the held line and changedtick events are applied in
// order and one cursor/mode update with the latest values is delivered.
func (r *Router) SetBlocking(ctx context.Context, b bool) error {
	if b {
		r.blocking = true
		return nil
	}
	if st := r.machine.State(); st.Blocking {
		r.machine.Mirror(st.Raw, false)
	}
	return r.release(ctx, nil)
}

// Update takes the state nvim reported after a forwarded batch of keys.
// handle is the current buffer.
func (r *Router) Update(ctx context.Context, handle int, st protocol.State) error {
	r.machine.Mirror(st.Mode, st.Blocking)
	r.machine.SetRecording(st.Recording)
	if st.Blocking || strings.HasPrefix(st.Mode, "no") {
		// Cursor is not fetched in these states.
		r.blocking = true
		return nil
	}
	return r.release(ctx, &view{handle: handle, cursor: st.Cursor, mode: st.Mode})
}

func (r *Router) release(ctx context.Context, final *view) error {
	if !r.blocking && final == nil {
		return nil
	}
	r.blocking = false
	lines := r.lines
	r.lines = nil
	var errs error
	for _, ev := range lines {
		if ev.Kind == protocol.EventChangedTick {
			errs = multierr.Append(errs, r.sync.HandleChangedTick(ctx, ev.Handle, ev.Change.Revision))
			continue
		}
		errs = multierr.Append(errs, r.sync.HandleLines(ctx, ev.Handle, ev.Change))
	}
	v := r.held
	r.held = nil
	if final != nil {
		v = final
	}
	if v != nil {
		r.deliver(*v)
	}
	return errs
}

// deliver shows a cursor and mode unless both equal the last delivered pair.
func (r *Router) deliver(v view) {
	if r.delivered && v == r.last {
		return
	}
	r.last = v
	r.delivered = true

	if path, ok := r.sync.PathOf(v.handle); ok && path == r.docs.Current() {
		if w, ok := r.docs.Widget(path); ok {
			moveCursor(w, v.cursor)
		}
	}
	r.ui.ShowMode(r.machine.State(), r.pending())
}

// Refresh redraws the mode indicator, e.g. after pending input changed.
func (r *Router) Refresh() {
	r.ui.ShowMode(r.machine.State(), r.pending())
}

func (r *Router) pending() string {
	if r.hooks.Pending == nil {
		return ""
	}
	return r.hooks.Pending()
}

func moveCursor(w host.TextWidget, cur protocol.Cursor) {
	n := w.LineCount()
	line := cur.Line
	if line >= n {
		line = n - 1
	}
	if line < 0 {
		line = 0
	}
	col := 0
	if text := w.Lines(line, line+1); len(text) == 1 {
		col = host.RuneCol(text[0], cur.Col)
	}
	w.SetCursor(host.Position{Line: line, Col: col})
	w.ScrollToLine(line)
}

func (r *Router) pathOf(ev protocol.Event) (string, bool) {
	if ev.Path != "" {
		return ev.Path, true
	}
	if ev.Handle != 0 {
		if path, ok := r.sync.PathOf(ev.Handle); ok {
			return path, true
		}
		logger.Debug("event for unknown buffer", "kind", ev.Kind.String(), "handle", ev.Handle)
		return "", false
	}
	if cur := r.docs.Current(); cur != "" {
		return cur, true
	}
	return "", false
}

func (r *Router) enter(ctx context.Context, path string) error {
	if path == "" || path == r.docs.Current() {
		return nil
	}
	if r.hooks.Activate != nil {
		return r.hooks.Activate(ctx, path)
	}
	return r.docs.Open(path)
}

func (r *Router) save(ctx context.Context, path string) error {
	if err := r.docs.Save(path); err != nil {
		r.ui.ShowMessage(err.Error(), true)
		return fmt.Errorf("save %s: %w", path, err)
	}
	r.markSaved(ctx, path)
	r.ui.ShowMessage(fmt.Sprintf("%q written", filepath.Base(path)), false)
	return nil
}

func (r *Router) markSaved(ctx context.Context, path string) {
	handle, ok := r.sync.HandleOf(path)
	if !ok || r.marker == nil {
		return
	}
	if err := r.marker.MarkSaved(ctx, handle); err != nil {
		logger.Warn("mark saved failed", "path", path, "err", err)
	}
}

func (r *Router) saveAll(ctx context.Context) error {
	var modified []string
	for _, p := range r.docs.Paths() {
		if r.docs.Modified(p) {
			modified = append(modified, p)
		}
	}
	err := r.docs.SaveAll()
	for _, p := range modified {
		if !r.docs.Modified(p) {
			r.markSaved(ctx, p)
		}
	}
	if err != nil {
		r.ui.ShowMessage(err.Error(), true)
		return fmt.Errorf("save all: %w", err)
	}
	return nil
}

// close detaches the session only once the host really closed the document.
func (r *Router) close(ctx context.Context, path string, force bool) error {
	closed, err := r.docs.Close(path, force)
	if err != nil {
		r.ui.ShowMessage(err.Error(), true)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if !closed {
		r.ui.ShowMessage(msgNoWrite, true)
		return nil
	}
	err = r.sync.Detach(ctx, path)
	return multierr.Append(err, r.afterClose(ctx))
}

func (r *Router) closeAll(ctx context.Context, force bool) error {
	before := r.docs.Paths()
	all, err := r.docs.CloseAll(force)
	open := make(map[string]bool)
	for _, p := range r.docs.Paths() {
		open[p] = true
	}
	for _, p := range before {
		if !open[p] {
			err = multierr.Append(err, r.sync.Detach(ctx, p))
		}
	}
	if !all {
		r.ui.ShowMessage(msgNoWrite, true)
	}
	return multierr.Append(err, r.afterClose(ctx))
}

func (r *Router) afterClose(ctx context.Context) error {
	next := r.docs.Current()
	if next == "" {
		if r.hooks.Quit != nil {
			r.hooks.Quit()
		}
		return nil
	}
	if r.hooks.Activate != nil {
		return r.hooks.Activate(ctx, next)
	}
	return nil
}

func (r *Router) reload(ctx context.Context, path string) error {
	snap, err := r.sync.ReloadFromDisk(ctx, path)
	if err != nil {
		if errors.Is(err, protocol.ErrSessionLost) {
			return err
		}
		r.ui.ShowMessage(err.Error(), true)
		return err
	}
	r.docs.SetModified(path, false)
	if w, ok := r.docs.Widget(path); ok {
		moveCursor(w, snap.Cursor)
	}
	return nil
}
