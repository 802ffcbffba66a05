package input

import (
	"github.com/kobzarvs/nvbridge/internal/config"
	"github.com/kobzarvs/nvbridge/internal/keys"
	"github.com/kobzarvs/nvbridge/internal/mode"
)

// Local action names. Keymap values outside this list are passed through
// to the host untouched.
const (
	ActionNop            = "nop"
	ActionEnterCommand   = "enter_command"
	ActionSearchForward  = "search_forward"
	ActionSearchBackward = "search_backward"
	ActionVisualBlock    = "visual_block"
	ActionNextDocument   = "next_document"
	ActionPrevDocument   = "prev_document"
	ActionSave           = "save"
	ActionSaveAndClose   = "save_and_close"
	ActionCloseDiscard   = "close_discard"
	ActionJoinNoSpace    = "join_no_space"
	ActionGotoDefinition = "goto_definition"

	ActionLineEdit       = "line_edit"
	ActionExecuteCommand = "execute_command"
	ActionExecuteSearch  = "execute_search"
	ActionCancelLine     = "cancel_line"
)

type table struct {
	entries map[string]string
	// prefixes holds every strict prefix of an entry.
	prefixes map[string]struct{}
}

func newTable(src map[string]string) *table {
	t := &table{
		entries:  make(map[string]string, len(src)),
		prefixes: make(map[string]struct{}),
	}
	for lhs, action := range src {
		toks := keys.Split(lhs)
		if len(toks) == 0 {
			continue
		}
		t.entries[keys.Join(toks)] = action
		for i := 1; i < len(toks); i++ {
			t.prefixes[keys.Join(toks[:i])] = struct{}{}
		}
	}
	return t
}

// Keymap holds one table per mode group.
type Keymap struct {
	normal   *table
	visual   *table
	insert   *table
	operator *table
}

func NewKeymap(cfg config.Keymap) *Keymap {
	return &Keymap{
		normal:   newTable(cfg.Normal),
		visual:   newTable(cfg.Visual),
		insert:   newTable(cfg.Insert),
		operator: newTable(cfg.Operator),
	}
}

func (k *Keymap) tableFor(kind mode.Kind) *table {
	switch {
	case kind == mode.Normal:
		return k.normal
	case kind.IsVisual():
		return k.visual
	case kind == mode.Insert, kind == mode.Replace:
		return k.insert
	case kind == mode.OperatorPending:
		return k.operator
	}
	return nil
}

// Lookup matches seq against the table for kind. exact reports a full
// entry, prefix reports that a longer entry starts with seq.
func (k *Keymap) Lookup(kind mode.Kind, seq string) (action string, exact, prefix bool) {
	t := k.tableFor(kind)
	if t == nil {
		return "", false, false
	}
	action, exact = t.entries[seq]
	_, prefix = t.prefixes[seq]
	return action, exact, prefix
}
