package nvim

import (
	"strings"

	"github.com/atotto/clipboard"
)

// Clipboard backs nvim's + and * registers.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) { return clipboard.ReadAll() }

func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// SystemClipboard uses the OS clipboard.
func SystemClipboard() Clipboard { return systemClipboard{} }

// clipboardLines turns clipboard text into a register value. Text ending
// in a newline is linewise.
func clipboardLines(text string) ([]string, string) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	if strings.HasSuffix(text, "\n") {
		return strings.Split(strings.TrimSuffix(text, "\n"), "\n"), "V"
	}
	return strings.Split(text, "\n"), "v"
}

func clipboardText(lines []string, regtype string) string {
	text := strings.Join(lines, "\n")
	if regtype == "V" {
		text += "\n"
	}
	return text
}
