// Package session keeps one BufferSession per open document.
package session

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"github.com/kobzarvs/nvbridge/internal/protocol"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrNotInitialized    = errors.New("session attached before initialization")
	ErrRevisionRegressed = errors.New("session revision went backwards while attached")
)

// BufferSession is the host view of one nvim buffer.
type BufferSession struct {
	Handle      int
	Path        string
	Revision    int64
	Initialized bool
	Attached    bool
	Cursor      protocol.Cursor
	LastMode    string
	// Lost is set when the nvim process went away under this session.
	Lost bool
}

type entry struct {
	session BufferSession
	// gate admits one in-flight mutating operation.
	gate chan struct{}
}

// Table owns sessions keyed by absolute path.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	handles  map[int]string
}

func NewTable() *Table {
	return &Table{
		sessions: make(map[string]*entry),
		handles:  make(map[int]string),
	}
}

// Key normalizes a document path into the table key.
func Key(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Acquire waits until no other operation holds the session for path and
// returns the release func. The session does not need to exist yet.
func (t *Table) Acquire(ctx context.Context, path string) (func(), error) {
	key := Key(path)
	t.mu.Lock()
	e, ok := t.sessions[key]
	if !ok {
		e = &entry{session: BufferSession{Path: key}, gate: make(chan struct{}, 1)}
		t.sessions[key] = e
	}
	gate := e.gate
	t.mu.Unlock()

	select {
	case gate <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() { once.Do(func() { <-gate }) }, nil
}

// Get returns the session for path. Placeholders created by Acquire for
// documents never registered are reported as missing.
func (t *Table) Get(path string) (BufferSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.sessions[Key(path)]
	if !ok || !e.session.Initialized && e.session.Handle == 0 {
		return BufferSession{}, false
	}
	return e.session, true
}

// ByHandle looks a session up by nvim buffer handle.
func (t *Table) ByHandle(handle int) (BufferSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	key, ok := t.handles[handle]
	if !ok {
		return BufferSession{}, false
	}
	e, ok := t.sessions[key]
	if !ok {
		return BufferSession{}, false
	}
	return e.session, true
}

// Update applies fn to the session for path, creating it if needed, and
// rejects results that break the session invariants.
func (t *Table) Update(path string, fn func(s *BufferSession)) (BufferSession, error) {
	key := Key(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[key]
	if !ok {
		e = &entry{session: BufferSession{Path: key}, gate: make(chan struct{}, 1)}
		t.sessions[key] = e
	}
	next := e.session
	fn(&next)
	next.Path = key

	if next.Attached && !next.Initialized {
		return e.session, ErrNotInitialized
	}
	if e.session.Attached && next.Attached && next.Revision < e.session.Revision {
		return e.session, ErrRevisionRegressed
	}

	if e.session.Handle != 0 && e.session.Handle != next.Handle {
		delete(t.handles, e.session.Handle)
	}
	if next.Handle != 0 {
		t.handles[next.Handle] = key
	}
	e.session = next
	return next, nil
}

// Delete forgets the session for path.
func (t *Table) Delete(path string) {
	key := Key(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.sessions[key]
	if !ok {
		return
	}
	if e.session.Handle != 0 {
		delete(t.handles, e.session.Handle)
	}
	delete(t.sessions, key)
}

// Paths returns the registered document paths in sorted order.
func (t *Table) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.sessions))
	for key, e := range t.sessions {
		if e.session.Initialized {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// MarkAllLost detaches every session after the nvim process went away.
func (t *Table) MarkAllLost() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.sessions {
		e.session.Attached = false
		e.session.Lost = true
	}
}
