// Package protocol holds the values exchanged between the host side and the
// embedded nvim: buffer changes, registrations, editor state and the
// notifications nvim sends back.
package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionLost reports that the nvim process is gone or stopped
	// answering. Sessions are detached and every later call fails fast.
	ErrSessionLost = errors.New("nvim session lost")
	// ErrUnknownHandle is returned when a notification names a buffer
	// no session owns.
	ErrUnknownHandle = errors.New("unknown buffer handle")
	// ErrRangeInvalid is returned when a change does not fit the host buffer.
	ErrRangeInvalid = errors.New("line range out of bounds")
)

// Cursor is a zero-based line and a zero-based byte column, as nvim reports it.
type Cursor struct {
	Line int
	Col  int
}

// BufferChange replaces the half-open line range [FirstLine, LastLine) with
// Lines. LastLine == -1 means the end of the buffer.
type BufferChange struct {
	Revision  int64
	FirstLine int
	LastLine  int
	Lines     []string
}

func (c BufferChange) String() string {
	return fmt.Sprintf("rev=%d [%d,%d) +%d", c.Revision, c.FirstLine, c.LastLine, len(c.Lines))
}

// Registration is the outcome of registering a document with nvim.
type Registration struct {
	Handle   int
	Revision int64
	IsNew    bool
	Attached bool
	Cursor   Cursor
}

// Snapshot is the full content of a buffer at a revision.
type Snapshot struct {
	Lines    []string
	Revision int64
	Cursor   Cursor
}

// State is what nvim reports after a forwarded batch of keys.
type State struct {
	Mode     string
	Blocking bool
	Cursor   Cursor
	// Recording is the register a macro is being recorded into, 0 if none.
	Recording rune
}

type EventKind int

const (
	EventLines EventKind = iota
	EventChangedTick
	EventDetached
	EventCursorMoved
	EventModeChanged
	EventModifiedChanged
	EventBufferEnter
	EventSaveRequested
	EventCloseRequested
	EventSaveCloseRequested
	EventSaveAllCloseAll
	EventReloadRequested
	EventSessionLost
	EventMessage
)

var eventNames = [...]string{
	EventLines:              "lines",
	EventChangedTick:        "changedtick",
	EventDetached:           "detached",
	EventCursorMoved:        "cursor",
	EventModeChanged:        "mode",
	EventModifiedChanged:    "modified",
	EventBufferEnter:        "enter",
	EventSaveRequested:      "save",
	EventCloseRequested:     "close",
	EventSaveCloseRequested: "save_close",
	EventSaveAllCloseAll:    "save_all_close_all",
	EventReloadRequested:    "reload",
	EventSessionLost:        "lost",
	EventMessage:            "message",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is a notification coming from nvim (or synthesized by the host
// command line for ex commands it classifies itself).
type Event struct {
	Kind     EventKind
	Handle   int
	Path     string
	Change   BufferChange
	Cursor   Cursor
	Mode     string
	Modified bool
	Force    bool
	All      bool
	Message  string
	Err      error
}
