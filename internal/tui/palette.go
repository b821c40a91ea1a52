package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type palette struct {
	Text    string
	Muted   string
	Accent  string
	Own     string
	Other   string
	Border  string
	Focus   string
	Success string
	Warning string
	Error   string
}

var palettes = map[string]palette{
	"default": {
		Text:    "252",
		Muted:   "244",
		Accent:  "39",
		Own:     "81",
		Other:   "183",
		Border:  "240",
		Focus:   "39",
		Success: "42",
		Warning: "214",
		Error:   "203",
	},
	"dark": {
		Text:    "255",
		Muted:   "245",
		Accent:  "111",
		Own:     "117",
		Other:   "219",
		Border:  "238",
		Focus:   "111",
		Success: "78",
		Warning: "221",
		Error:   "210",
	},
	"light": {
		Text:    "235",
		Muted:   "242",
		Accent:  "25",
		Own:     "24",
		Other:   "90",
		Border:  "250",
		Focus:   "25",
		Success: "28",
		Warning: "130",
		Error:   "160",
	},
}

func resolvePalette(theme string) palette {
	if p, ok := palettes[strings.ToLower(strings.TrimSpace(theme))]; ok {
		return p
	}
	return palettes["default"]
}

func (p palette) fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func (p palette) pane(focused bool) lipgloss.Style {
	border := p.Border
	if focused {
		border = p.Focus
	}
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(border)).
		Padding(0, 1)
}
