package bufsync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/kobzarvs/nvbridge/internal/host"
	"github.com/kobzarvs/nvbridge/internal/protocol"
)

type fakeBuf struct {
	path        string
	lines       []string
	tick        int64
	initialized bool
	attached    bool
	inits       int
}

// fakeRemote models the nvim side: buffers with changedticks.
type fakeRemote struct {
	mu     sync.Mutex
	bufs   map[int]*fakeBuf
	byPath map[string]int
	disk   map[string][]string
	next   int
	err    error
	calls  []string
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		bufs:   make(map[int]*fakeBuf),
		byPath: make(map[string]int),
		disk:   make(map[string][]string),
		next:   1,
	}
}

func (f *fakeRemote) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeRemote) RegisterAndAttach(_ context.Context, path string, lines []string, _ string) (protocol.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("register"); err != nil {
		return protocol.Registration{}, err
	}
	h, ok := f.byPath[path]
	isNew := !ok
	if !ok {
		h = f.next
		f.next++
		f.byPath[path] = h
		f.bufs[h] = &fakeBuf{path: path, lines: []string{""}, tick: 2}
	}
	b := f.bufs[h]
	if !b.initialized {
		b.lines = append([]string(nil), lines...)
		if len(b.lines) == 0 {
			b.lines = []string{""}
		}
		b.tick++
		b.initialized = true
		b.inits++
	}
	b.attached = true
	return protocol.Registration{Handle: h, Revision: b.tick, IsNew: isNew, Attached: true}, nil
}

func (f *fakeRemote) UpdateBuffer(_ context.Context, handle int, lines []string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("update"); err != nil {
		return 0, err
	}
	b, ok := f.bufs[handle]
	if !ok {
		return 0, errors.New("Invalid buffer id")
	}
	b.lines = append([]string(nil), lines...)
	b.tick++
	return b.tick, nil
}

func (f *fakeRemote) BufferContent(_ context.Context, handle int) (protocol.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("content"); err != nil {
		return protocol.Snapshot{}, err
	}
	b, ok := f.bufs[handle]
	if !ok {
		return protocol.Snapshot{}, errors.New("Invalid buffer id")
	}
	return protocol.Snapshot{Lines: append([]string(nil), b.lines...), Revision: b.tick}, nil
}

func (f *fakeRemote) Reload(_ context.Context, handle int) (protocol.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("reload"); err != nil {
		return protocol.Snapshot{}, err
	}
	b := f.bufs[handle]
	b.lines = append([]string(nil), f.disk[b.path]...)
	b.tick++
	b.attached = true
	return protocol.Snapshot{Lines: append([]string(nil), b.lines...), Revision: b.tick}, nil
}

func (f *fakeRemote) DeleteBuffer(_ context.Context, handle int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("delete"); err != nil {
		return err
	}
	if b, ok := f.bufs[handle]; ok {
		delete(f.byPath, b.path)
		delete(f.bufs, handle)
	}
	return nil
}

// edit changes a buffer the way a forwarded key would and returns the
// notification nvim sends for it.
func (f *fakeRemote) edit(handle, first, last int, lines []string) protocol.BufferChange {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bufs[handle]
	next := append([]string(nil), b.lines[:first]...)
	next = append(next, lines...)
	next = append(next, b.lines[last:]...)
	if len(next) == 0 {
		next = []string{""}
		lines = []string{""}
	}
	b.lines = next
	b.tick++
	return protocol.BufferChange{Revision: b.tick, FirstLine: first, LastLine: last, Lines: append([]string(nil), lines...)}
}

func (f *fakeRemote) lines(handle int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.bufs[handle].lines...)
}

// widgetMap is a Widgets over plain LineBuffers.
type widgetMap map[string]host.TextWidget

func (m widgetMap) Widget(path string) (host.TextWidget, bool) {
	w, ok := m[path]
	return w, ok
}

// flakyWidget fails the next replacement after half applying it.
type flakyWidget struct {
	*host.LineBuffer
	armed bool
}

func (w *flakyWidget) ReplaceLines(start, end int, lines []string) error {
	if !w.armed {
		return w.LineBuffer.ReplaceLines(start, end, lines)
	}
	w.armed = false
	if err := w.LineBuffer.ReplaceLines(start, end, nil); err != nil {
		return err
	}
	return fmt.Errorf("widget refused %d lines", len(lines))
}
