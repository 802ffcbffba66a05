package notify

import (
	"strings"

	"github.com/kobzarvs/nvbridge/internal/protocol"
)

var exCommands = map[string]protocol.Event{
	"w":      {Kind: protocol.EventSaveRequested},
	"w!":     {Kind: protocol.EventSaveRequested},
	"write":  {Kind: protocol.EventSaveRequested},
	"write!": {Kind: protocol.EventSaveRequested},
	"up":     {Kind: protocol.EventSaveRequested},
	"update": {Kind: protocol.EventSaveRequested},

	"wa":   {Kind: protocol.EventSaveRequested, All: true},
	"wall": {Kind: protocol.EventSaveRequested, All: true},

	"q":     {Kind: protocol.EventCloseRequested},
	"quit":  {Kind: protocol.EventCloseRequested},
	"clo":   {Kind: protocol.EventCloseRequested},
	"close": {Kind: protocol.EventCloseRequested},
	"q!":    {Kind: protocol.EventCloseRequested, Force: true},
	"quit!": {Kind: protocol.EventCloseRequested, Force: true},

	"qa":       {Kind: protocol.EventCloseRequested, All: true},
	"qall":     {Kind: protocol.EventCloseRequested, All: true},
	"quitall":  {Kind: protocol.EventCloseRequested, All: true},
	"qa!":      {Kind: protocol.EventCloseRequested, All: true, Force: true},
	"qall!":    {Kind: protocol.EventCloseRequested, All: true, Force: true},
	"quitall!": {Kind: protocol.EventCloseRequested, All: true, Force: true},

	"wq":   {Kind: protocol.EventSaveCloseRequested},
	"wq!":  {Kind: protocol.EventSaveCloseRequested},
	"x":    {Kind: protocol.EventSaveCloseRequested},
	"x!":   {Kind: protocol.EventSaveCloseRequested},
	"xit":  {Kind: protocol.EventSaveCloseRequested},
	"exit": {Kind: protocol.EventSaveCloseRequested},

	"wqa":   {Kind: protocol.EventSaveAllCloseAll, All: true},
	"wqall": {Kind: protocol.EventSaveAllCloseAll, All: true},
	"xa":    {Kind: protocol.EventSaveAllCloseAll, All: true},
	"xall":  {Kind: protocol.EventSaveAllCloseAll, All: true},

	"e!":    {Kind: protocol.EventReloadRequested},
	"edit!": {Kind: protocol.EventReloadRequested},
}

// ClassifyExCommand maps the file and tab commands the host owns to the
// event nvim would have sent for them. Anything else, including those
// commands with arguments or a range, belongs to nvim.
func ClassifyExCommand(cmd string) (protocol.Event, bool) {
	cmd = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(cmd), ":"))
	ev, ok := exCommands[cmd]
	return ev, ok
}
