// Package highlight keeps a tree-sitter tree per host document and
// re-parses it incrementally from the line replacements the sync engine
// applies.
package highlight

import (
	"context"
	"sort"
	"sync"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/yaml"

	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/host"
	"github.com/kobzarvs/nvbridge/internal/logger"
)

// Span is a highlighted run on one line. Columns count runes, EndCol is
// exclusive.
type Span struct {
	StartCol int
	EndCol   int
	Kind     string
}

type grammar struct {
	lang  *sitter.Language
	query string
}

var grammars = map[string]grammar{
	"go":   {golang.GetLanguage(), goQuery},
	"yaml": {yaml.GetLanguage(), yamlQuery},
	"toml": {toml.GetLanguage(), tomlQuery},
	"bash": {bash.GetLanguage(), bashQuery},
}

type document struct {
	lang  string
	lines []string
	tree  *sitter.Tree
}

type Highlighter struct {
	langs config.Languages

	mu      sync.Mutex
	parsers map[string]*sitter.Parser
	queries map[string]*sitter.Query
	docs    map[string]*document
}

func New(langs config.Languages) *Highlighter {
	return &Highlighter{
		langs:   langs,
		parsers: make(map[string]*sitter.Parser),
		queries: make(map[string]*sitter.Query),
		docs:    make(map[string]*document),
	}
}

// Supported reports whether path has a grammar.
func (h *Highlighter) Supported(path string) bool {
	lang := h.langs.Match(path)
	if lang == nil {
		return false
	}
	_, ok := grammars[lang.Name]
	return ok
}

// Attach parses buf and follows its changes. It reports false when path
// has no grammar.
func (h *Highlighter) Attach(path string, buf *host.LineBuffer) bool {
	lang := h.langs.Match(path)
	if lang == nil {
		return false
	}
	if _, ok := grammars[lang.Name]; !ok {
		return false
	}

	h.mu.Lock()
	doc := &document{lang: lang.Name, lines: buf.All()}
	h.docs[path] = doc
	h.parse(doc, nil)
	h.mu.Unlock()

	buf.OnChange(func(start, oldEnd int, _, lines []string) {
		h.apply(path, start, oldEnd, lines)
	})
	return true
}

// Detach forgets path. Later changes of its buffer are ignored.
func (h *Highlighter) Detach(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.docs, path)
}

func (h *Highlighter) parser(lang string) (*sitter.Parser, *sitter.Query) {
	g := grammars[lang]
	p := h.parsers[lang]
	if p == nil {
		p = sitter.NewParser()
		p.SetLanguage(g.lang)
		h.parsers[lang] = p
		q, err := sitter.NewQuery([]byte(g.query), g.lang)
		if err != nil {
			logger.Warn("highlight query", "lang", lang, "err", err)
		} else {
			h.queries[lang] = q
		}
	}
	return p, h.queries[lang]
}

func (h *Highlighter) parse(doc *document, edit *sitter.EditInput) {
	p, _ := h.parser(doc.lang)
	prev := doc.tree
	if prev != nil && edit != nil {
		prev.Edit(*edit)
	} else {
		prev = nil
	}
	tree, err := p.ParseCtx(context.Background(), prev, source(doc.lines))
	if err != nil {
		logger.Warn("highlight parse", "lang", doc.lang, "err", err)
		return
	}
	doc.tree = tree
}

func source(lines []string) []byte {
	return []byte(host.JoinLines(lines))
}

// offset is the byte index where line i starts.
func offset(lines []string, i int) uint32 {
	n := 0
	for _, l := range lines[:i] {
		n += len(l) + 1
	}
	return uint32(n)
}

func (h *Highlighter) apply(path string, start, oldEnd int, lines []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[path]
	if !ok {
		return
	}
	if start > len(doc.lines) || oldEnd > len(doc.lines) || oldEnd < start {
		logger.Debug("highlight out of step", "path", path)
		return
	}

	next := make([]string, 0, len(doc.lines)-(oldEnd-start)+len(lines))
	next = append(next, doc.lines[:start]...)
	next = append(next, lines...)
	next = append(next, doc.lines[oldEnd:]...)

	if len(next) == 0 {
		// The buffer keeps one empty line.
		doc.lines = []string{""}
		h.parse(doc, nil)
		return
	}

	startByte := offset(doc.lines, start)
	edit := sitter.EditInput{
		StartIndex:  startByte,
		OldEndIndex: offset(doc.lines, oldEnd),
		NewEndIndex: startByte + offset(lines, len(lines)),
		StartPoint:  sitter.Point{Row: uint32(start)},
		OldEndPoint: sitter.Point{Row: uint32(oldEnd)},
		NewEndPoint: sitter.Point{Row: uint32(start + len(lines))},
	}
	doc.lines = next
	h.parse(doc, &edit)
}

// Spans returns highlights for lines [startLine, endLine], keyed by line.
func (h *Highlighter) Spans(path string, startLine, endLine int) map[int][]Span {
	if startLine < 0 || endLine < startLine {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	doc, ok := h.docs[path]
	if !ok || doc.tree == nil {
		return nil
	}
	_, query := h.parser(doc.lang)
	if query == nil {
		return nil
	}
	if endLine >= len(doc.lines) {
		endLine = len(doc.lines) - 1
	}
	src := source(doc.lines)

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.SetPointRange(
		sitter.Point{Row: uint32(startLine)},
		sitter.Point{Row: uint32(endLine + 1)},
	)
	cursor.Exec(query, doc.tree.RootNode())

	out := make(map[int][]Span)
	for {
		match, ok := cursor.NextMatch()
		if !ok {
			break
		}
		match = cursor.FilterPredicates(match, src)
		if match == nil {
			continue
		}
		for _, c := range match.Captures {
			kind := query.CaptureNameForId(c.Index)
			sp, ep := c.Node.StartPoint(), c.Node.EndPoint()
			for row := int(sp.Row); row <= int(ep.Row); row++ {
				if row < startLine || row > endLine {
					continue
				}
				line := doc.lines[row]
				from, to := 0, utf8.RuneCountInString(line)
				if row == int(sp.Row) {
					from = host.RuneCol(line, int(sp.Column))
				}
				if row == int(ep.Row) {
					to = host.RuneCol(line, int(ep.Column))
				}
				if to > from {
					out[row] = append(out[row], Span{StartCol: from, EndCol: to, Kind: kind})
				}
			}
		}
	}
	for row := range out {
		spans := out[row]
		sort.SliceStable(spans, func(i, j int) bool { return spans[i].StartCol < spans[j].StartCol })
	}
	return out
}

// KindAt returns the narrowest capture covering col.
func KindAt(spans []Span, col int) string {
	kind := ""
	width := -1
	for _, s := range spans {
		if col < s.StartCol || col >= s.EndCol {
			continue
		}
		if w := s.EndCol - s.StartCol; width < 0 || w < width {
			kind, width = s.Kind, w
		}
	}
	return kind
}
