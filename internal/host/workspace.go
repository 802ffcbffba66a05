package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

var (
	ErrNoDocument = errors.New("no such document")
	ErrUntitled   = errors.New("no file name")
)

const untitledPrefix = "untitled-"

type document struct {
	path     string
	buf      *LineBuffer
	modified bool
	untitled bool
}

// Workspace is an in-memory Documents backed by files on disk.
type Workspace struct {
	mu      sync.Mutex
	docs    []*document
	current int

	// Confirm is asked before a modified document is closed without
	// force. A nil Confirm keeps the document open.
	Confirm func(path string) bool
	// OnOpen runs after a document is added.
	OnOpen func(path string, buf *LineBuffer)
}

func NewWorkspace() *Workspace {
	return &Workspace{current: -1}
}

// SplitLines splits file content the way nvim reads it: CRLF is folded
// and a final newline ends the last line instead of starting a new one.
func SplitLines(data []byte) []string {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}

func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func (w *Workspace) find(path string) int {
	path = absPath(path)
	for i, d := range w.docs {
		if d.path == path {
			return i
		}
	}
	return -1
}

func (w *Workspace) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current < 0 || w.current >= len(w.docs) {
		return ""
	}
	return w.docs[w.current].path
}

func (w *Workspace) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.docs))
	for i, d := range w.docs {
		out[i] = d.path
	}
	return out
}

func (w *Workspace) Widget(path string) (TextWidget, bool) {
	buf, ok := w.Buffer(path)
	if !ok {
		return nil, false
	}
	return buf, true
}

// Buffer returns the concrete buffer for path.
func (w *Workspace) Buffer(path string) (*LineBuffer, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	i := w.find(path)
	if i < 0 {
		return nil, false
	}
	return w.docs[i].buf, true
}

// Open focuses path, loading it from disk when it is not open yet. A
// missing file opens as an empty new document.
func (w *Workspace) Open(path string) error {
	w.mu.Lock()
	if i := w.find(path); i >= 0 {
		w.current = i
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	lines := []string{""}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		lines = SplitLines(data)
	case os.IsNotExist(err):
	default:
		return err
	}
	w.add(&document{path: absPath(path), buf: NewLineBuffer(lines)})
	return nil
}

// NewUntitled adds an empty document with a generated name.
func (w *Workspace) NewUntitled() string {
	path := absPath(untitledPrefix + uuid.NewString())
	w.add(&document{path: path, buf: NewLineBuffer(nil), untitled: true})
	return path
}

func (w *Workspace) add(d *document) {
	w.mu.Lock()
	w.docs = append(w.docs, d)
	w.current = len(w.docs) - 1
	onOpen := w.OnOpen
	w.mu.Unlock()
	if onOpen != nil {
		onOpen(d.path, d.buf)
	}
}

func (w *Workspace) Cycle(delta int) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.docs)
	if n == 0 {
		return "", false
	}
	w.current = ((w.current+delta)%n + n) % n
	return w.docs[w.current].path, true
}

func (w *Workspace) Save(path string) error {
	w.mu.Lock()
	i := w.find(path)
	if i < 0 {
		w.mu.Unlock()
		return fmt.Errorf("save %s: %w", path, ErrNoDocument)
	}
	d := w.docs[i]
	w.mu.Unlock()

	if d.untitled {
		return fmt.Errorf("save %s: %w", filepath.Base(d.path), ErrUntitled)
	}
	if err := os.WriteFile(d.path, []byte(JoinLines(d.buf.All())), 0o644); err != nil {
		return err
	}
	w.SetModified(d.path, false)
	return nil
}

func (w *Workspace) SaveAll() error {
	var errs error
	for _, p := range w.Paths() {
		if !w.Modified(p) {
			continue
		}
		errs = multierr.Append(errs, w.Save(p))
	}
	return errs
}

// Reload replaces the content of path with what is on disk.
func (w *Workspace) Reload(path string) error {
	buf, ok := w.Buffer(path)
	if !ok {
		return fmt.Errorf("reload %s: %w", path, ErrNoDocument)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := buf.ReplaceLines(0, buf.LineCount(), SplitLines(data)); err != nil {
		return err
	}
	w.SetModified(path, false)
	return nil
}

func (w *Workspace) Close(path string, force bool) (bool, error) {
	w.mu.Lock()
	i := w.find(path)
	if i < 0 {
		w.mu.Unlock()
		return false, fmt.Errorf("close %s: %w", path, ErrNoDocument)
	}
	d := w.docs[i]
	confirm := w.Confirm
	w.mu.Unlock()

	if d.modified && !force && (confirm == nil || !confirm(d.path)) {
		return false, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if i = w.find(path); i < 0 {
		return true, nil
	}
	w.docs = append(w.docs[:i], w.docs[i+1:]...)
	if i < w.current {
		w.current--
	}
	if w.current >= len(w.docs) {
		w.current = len(w.docs) - 1
	}
	return true, nil
}

// CloseAll closes every document and reports false when any stays open.
func (w *Workspace) CloseAll(force bool) (bool, error) {
	all := true
	var errs error
	for _, p := range w.Paths() {
		closed, err := w.Close(p, force)
		errs = multierr.Append(errs, err)
		all = all && closed
	}
	return all, errs
}

func (w *Workspace) SetModified(path string, modified bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i := w.find(path); i >= 0 {
		w.docs[i].modified = modified
	}
}

func (w *Workspace) Modified(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i := w.find(path); i >= 0 {
		return w.docs[i].modified
	}
	return false
}

// Untitled reports whether path was created by NewUntitled.
func (w *Workspace) Untitled(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if i := w.find(path); i >= 0 {
		return w.docs[i].untitled
	}
	return false
}
