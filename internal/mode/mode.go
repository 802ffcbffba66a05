// Package mode models the editing modes the host mirrors from nvim.
package mode

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Normal Kind = iota
	Insert
	Replace
	Visual
	VisualLine
	VisualBlock
	Command
	Search
	OperatorPending
	PendingCharOp
)

var kindNames = [...]string{
	Normal:          "NORMAL",
	Insert:          "INSERT",
	Replace:         "REPLACE",
	Visual:          "VISUAL",
	VisualLine:      "V-LINE",
	VisualBlock:     "V-BLOCK",
	Command:         "COMMAND",
	Search:          "SEARCH",
	OperatorPending: "O-PENDING",
	PendingCharOp:   "PENDING",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("mode(%d)", int(k))
}

// IsVisual reports whether k is one of the three visual kinds.
func (k Kind) IsVisual() bool {
	return k == Visual || k == VisualLine || k == VisualBlock
}

// IsLine reports whether k is edited by the host command line.
func (k Kind) IsLine() bool {
	return k == Command || k == Search
}

// Counted reports whether digits typed in k build a count.
func (k Kind) Counted() bool {
	return k == Normal || k == OperatorPending || k.IsVisual()
}

// Shape is the cursor shape the host draws for a kind.
type Shape int

const (
	ShapeBlock Shape = iota
	ShapeBar
	ShapeUnderline
)

func ShapeOf(k Kind) Shape {
	switch k {
	case Insert, Command, Search:
		return ShapeBar
	case Replace, OperatorPending, PendingCharOp:
		return ShapeUnderline
	default:
		return ShapeBlock
	}
}

// Parse maps an nvim mode string (as returned by nvim_get_mode or
// mode(1)) to a Kind.
func Parse(raw string) Kind {
	switch {
	case raw == "":
		return Normal
	case strings.HasPrefix(raw, "no"):
		return OperatorPending
	case strings.HasPrefix(raw, "niR"), strings.HasPrefix(raw, "niV"):
		return Replace
	case strings.HasPrefix(raw, "niI"):
		return Insert
	}
	switch raw[0] {
	case 'v', 's':
		return Visual
	case 'V', 'S':
		return VisualLine
	case 0x16, 0x13:
		return VisualBlock
	case 'i':
		return Insert
	case 'R':
		return Replace
	case 'c':
		return Command
	case 't':
		return Insert
	}
	// n, nt, r (hit-enter and more prompts), ! and anything new.
	return Normal
}
