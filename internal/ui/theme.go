package ui

import "strings"

// Theme bundles palette + symbols + box borders.
type Theme struct {
	Name                                      string
	Mono                                      bool
	Title, Muted, Accent, Success, Error, Pending string
	BoxUnchecked, BoxChecked                  string
	CornerTL, CornerTR, CornerBL, CornerBR    string
	H, V                                      string
	SymDone, SymUnchecked, SymFail            string
	BarFull, BarEmpty                         string
}

// Themes lists the theme names ThemeByName understands.
var Themes = []string{"classic", "neon", "mono"}

// ThemeByName returns the named theme, falling back to classic.
func ThemeByName(name string) Theme {
	switch strings.ToLower(name) {
	case "neon":
		return Theme{
			Name:  "neon",
			Title: "\033[95m", // bright magenta
			Muted: fgGray, Accent: "\033[96m",
			Success: fgGreen, Error: fgRed, Pending: "\033[93m",
			BoxUnchecked: "◻", BoxChecked: "◼",
			CornerTL: "╭", CornerTR: "╮", CornerBL: "╰", CornerBR: "╯",
			H: "─", V: "│",
			SymDone: "✔", SymUnchecked: "•", SymFail: "✖",
			BarFull: "█", BarEmpty: "░",
		}
	case "mono":
		return Theme{
			Name:         "mono",
			Mono:         true,
			BoxUnchecked: "[ ]", BoxChecked: "[x]",
			CornerTL: "+", CornerTR: "+", CornerBL: "+", CornerBR: "+",
			H: "-", V: "|",
			SymDone: "x", SymUnchecked: "-", SymFail: "!",
			BarFull: "#", BarEmpty: ".",
		}
	default: // classic
		return Theme{
			Name:  "classic",
			Title: bold, Muted: fgGray, Accent: fgBlue,
			Success: fgGreen, Error: fgRed, Pending: fgYellow,
			BoxUnchecked: "☐", BoxChecked: "☑",
			CornerTL: "┌", CornerTR: "┐", CornerBL: "└", CornerBR: "┘",
			H: "─", V: "│",
			SymDone: "✔", SymUnchecked: "•", SymFail: "✖",
			BarFull: "█", BarEmpty: "░",
		}
	}
}
