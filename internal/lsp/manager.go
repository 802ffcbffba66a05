// Package lsp talks to language servers over stdio for go-to-definition.
package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"

	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/logger"
)

// ErrNoServer means no language server is configured or installed for a
// file.
var ErrNoServer = errors.New("no language server")

const requestTimeout = 10 * time.Second

type Manager struct {
	langs   config.Languages
	servers map[string]*server
	mu      sync.Mutex
}

func NewManager(langs config.Languages) *Manager {
	return &Manager{
		langs:   langs,
		servers: make(map[string]*server),
	}
}

func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, srv := range m.servers {
		srv.stop()
		delete(m.servers, name)
	}
	return nil
}

// Definition opens path with the given content on its server, or updates
// it, and asks where the symbol at pos is defined.
func (m *Manager) Definition(ctx context.Context, path string, lines []string, pos Position) ([]Location, error) {
	lang, srv, err := m.serverFor(path)
	if err != nil {
		return nil, err
	}
	uri := fileURI(path)
	if err := srv.sync(ctx, uri, lang.NvimFiletype(), strings.Join(lines, "\n")+"\n"); err != nil {
		return nil, err
	}
	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     pos,
	}
	return srv.requestLocations(ctx, "textDocument/definition", params)
}

func (m *Manager) serverFor(path string) (*config.Language, *server, error) {
	lang := m.langs.Match(path)
	if lang == nil || len(lang.LanguageServers) == 0 {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNoServer)
	}
	name := lang.LanguageServers[0]
	cfg, ok := m.langs.LanguageServers[name]
	if !ok || cfg.Command == "" {
		return nil, nil, fmt.Errorf("%s not configured: %w", name, ErrNoServer)
	}
	srv, err := m.getServer(name, cfg, findRoot(path, lang.Roots))
	if err != nil {
		return nil, nil, err
	}
	return lang, srv, nil
}

func (m *Manager) getServer(name string, cfg config.LanguageServer, root string) (*server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if srv, ok := m.servers[name]; ok && !srv.exited() {
		return srv, nil
	}
	command, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", name, err, ErrNoServer)
	}
	cmd := exec.Command(command, cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	srv := &server{
		name:     name,
		cmd:      cmd,
		stdin:    stdin,
		reader:   bufio.NewReader(stdout),
		rootURI:  fileURI(root),
		docs:     make(map[string]*document),
		handlers: make(map[int]chan response),
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
	m.servers[name] = srv
	go srv.readLoop()
	if err := srv.initialize(); err != nil {
		srv.stop()
		delete(m.servers, name)
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	logger.Info("language server started", "name", name, "root", root)
	return srv, nil
}

// Position is a zero-based line and UTF-16 offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// Path is the file the location points into.
func (l Location) Path() string { return URIToPath(l.URI) }

type TextDocumentIdentifier struct {
	URI string `json:"uri"`
}

type TextDocumentPositionParams struct {
	TextDocument TextDocumentIdentifier `json:"textDocument"`
	Position     Position               `json:"position"`
}

type server struct {
	name     string
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	reader   *bufio.Reader
	rootURI  string
	mu       sync.Mutex
	wmu      sync.Mutex
	nextID   int
	initID   int
	docs     map[string]*document
	handlers map[int]chan response
	ready    chan struct{}
	done     chan struct{}
}

type document struct {
	version int
	text    string
}

type response struct {
	result json.RawMessage
	err    *rpcError
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("lsp: %s (%d)", e.Message, e.Code) }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type initializeParams struct {
	ProcessID    int               `json:"processId"`
	RootURI      string            `json:"rootUri"`
	Capabilities map[string]any    `json:"capabilities"`
	ClientInfo   map[string]string `json:"clientInfo"`
}

type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int    `json:"version"`
	Text       string `json:"text"`
}

type didOpenParams struct {
	TextDocument textDocumentItem `json:"textDocument"`
}

type versionedDocument struct {
	URI     string `json:"uri"`
	Version int    `json:"version"`
}

type contentChange struct {
	Text string `json:"text"`
}

type didChangeParams struct {
	TextDocument   versionedDocument `json:"textDocument"`
	ContentChanges []contentChange   `json:"contentChanges"`
}

func (s *server) initialize() error {
	s.mu.Lock()
	s.nextID++
	s.initID = s.nextID
	id := s.initID
	s.mu.Unlock()
	return s.send(rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  "initialize",
		Params: initializeParams{
			ProcessID:    os.Getpid(),
			RootURI:      s.rootURI,
			Capabilities: map[string]any{},
			ClientInfo:   map[string]string{"name": "nvbridge"},
		},
	})
}

// sync sends didOpen the first time uri is seen and a full didChange when
// its text differs from what the server has.
func (s *server) sync(ctx context.Context, uri, languageID, text string) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	doc, ok := s.docs[uri]
	if ok && doc.text == text {
		s.mu.Unlock()
		return nil
	}
	if !ok {
		s.docs[uri] = &document{version: 1, text: text}
		s.mu.Unlock()
		return s.notify("textDocument/didOpen", didOpenParams{
			TextDocument: textDocumentItem{URI: uri, LanguageID: languageID, Version: 1, Text: text},
		})
	}
	doc.version++
	doc.text = text
	version := doc.version
	s.mu.Unlock()
	return s.notify("textDocument/didChange", didChangeParams{
		TextDocument:   versionedDocument{URI: uri, Version: version},
		ContentChanges: []contentChange{{Text: text}},
	})
}

// wait blocks until the initialize handshake is done.
func (s *server) wait(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	select {
	case <-s.ready:
		return nil
	case <-s.done:
		return fmt.Errorf("%s exited before initializing", s.name)
	case <-ctx.Done():
		return fmt.Errorf("%s initialize: %w", s.name, ctx.Err())
	}
}

func (s *server) exited() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *server) readLoop() {
	defer close(s.done)
	for {
		msg, err := readMessage(s.reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("language server read failed", "name", s.name, "err", err)
			}
			s.failPending()
			return
		}
		var envelope struct {
			ID     *int            `json:"id"`
			Method string          `json:"method"`
			Result json.RawMessage `json:"result"`
			Error  *rpcError       `json:"error"`
		}
		if err := json.Unmarshal(msg, &envelope); err != nil {
			logger.Debug("bad language server message", "name", s.name, "err", err)
			continue
		}
		// Server-to-client requests and notifications are not handled.
		if envelope.ID == nil || envelope.Method != "" {
			continue
		}
		s.handleResponse(*envelope.ID, response{result: envelope.Result, err: envelope.Error})
	}
}

func (s *server) handleResponse(id int, resp response) {
	s.mu.Lock()
	if ch, ok := s.handlers[id]; ok {
		delete(s.handlers, id)
		s.mu.Unlock()
		ch <- resp
		return
	}
	initDone := id == s.initID
	s.mu.Unlock()
	if !initDone {
		return
	}
	if resp.err != nil {
		logger.Warn("language server initialize failed", "name", s.name, "err", resp.err)
		s.stop()
		return
	}
	if err := s.notify("initialized", map[string]any{}); err != nil {
		logger.Warn("language server initialized", "name", s.name, "err", err)
	}
	close(s.ready)
}

func (s *server) failPending() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.handlers {
		delete(s.handlers, id)
		ch <- response{err: &rpcError{Message: s.name + " exited"}}
	}
}

func (s *server) notify(method string, params any) error {
	return s.send(rpcNotification{JSONRPC: "2.0", Method: method, Params: params})
}

func (s *server) send(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(payload))
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := io.WriteString(s.stdin, header); err != nil {
		return err
	}
	_, err = s.stdin.Write(payload)
	return err
}

// request sends a JSON-RPC request and waits for the response.
func (s *server) request(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	ch := make(chan response, 1)
	s.handlers[id] = ch
	s.mu.Unlock()

	forget := func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
	if err := s.send(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		forget()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	select {
	case resp := <-ch:
		if resp.err != nil {
			return nil, resp.err
		}
		return resp.result, nil
	case <-ctx.Done():
		forget()
		return nil, ctx.Err()
	}
}

// requestLocations parses a Location, []Location or []LocationLink reply.
func (s *server) requestLocations(ctx context.Context, method string, params any) ([]Location, error) {
	result, err := s.request(ctx, method, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return parseLocations(result)
}

func parseLocations(result json.RawMessage) ([]Location, error) {
	if len(result) == 0 || string(result) == "null" {
		return nil, nil
	}
	var items []struct {
		Location
		TargetURI            string `json:"targetUri"`
		TargetSelectionRange Range  `json:"targetSelectionRange"`
	}
	if strings.HasPrefix(strings.TrimSpace(string(result)), "[") {
		if err := json.Unmarshal(result, &items); err != nil {
			return nil, fmt.Errorf("locations: %w", err)
		}
	} else {
		var loc Location
		if err := json.Unmarshal(result, &loc); err != nil {
			return nil, fmt.Errorf("location: %w", err)
		}
		return []Location{loc}, nil
	}
	locs := make([]Location, 0, len(items))
	for _, it := range items {
		if it.TargetURI != "" {
			locs = append(locs, Location{URI: it.TargetURI, Range: it.TargetSelectionRange})
			continue
		}
		locs = append(locs, it.Location)
	}
	return locs, nil
}

func (s *server) stop() {
	_ = s.stdin.Close()
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	_ = s.cmd.Process.Kill()
	_, _ = s.cmd.Process.Wait()
}

func readMessage(r *bufio.Reader) ([]byte, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(name), "content-length") {
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				length = n
			}
		}
	}
	if length < 0 {
		return nil, errors.New("missing content-length")
	}
	buf := make([]byte, length)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

func findRoot(path string, markers []string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Dir(path)
	}
	dir := filepath.Dir(abs)
	if len(markers) == 0 {
		return dir
	}
	for {
		for _, marker := range markers {
			if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
				return dir
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return filepath.Dir(abs)
}

func fileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return u.String()
}

// URIToPath converts a file:// URI to a filesystem path.
func URIToPath(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return uri
	}
	return filepath.FromSlash(u.Path)
}

// UTF16Col converts a rune column in line to UTF-16 code units.
func UTF16Col(line string, col int) int {
	n := 0
	for i, r := range []rune(line) {
		if i >= col {
			break
		}
		n += utf16.RuneLen(r)
	}
	return n
}

// RuneCol converts a UTF-16 offset in line to a rune column. Offsets past
// the end give the line length.
func RuneCol(line string, units int) int {
	col, n := 0, 0
	for _, r := range line {
		if n >= units {
			break
		}
		n += utf16.RuneLen(r)
		col++
	}
	return col
}
