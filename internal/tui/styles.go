package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/idilsaglam/tada/internal/ui"
)

type styles struct {
	title    lipgloss.Style
	success  lipgloss.Style
	pending  lipgloss.Style
	accent   lipgloss.Style
	muted    lipgloss.Style
	err      lipgloss.Style
	selected lipgloss.Style
	done     lipgloss.Style
	help     lipgloss.Style
	border   lipgloss.Style
}

func newStyles(t ui.Theme) styles {
	plain := lipgloss.NewStyle()
	s := styles{
		title:    plain.Bold(true),
		success:  plain.Foreground(lipgloss.Color("42")),
		pending:  plain.Foreground(lipgloss.Color("214")),
		accent:   plain.Foreground(lipgloss.Color("12")),
		muted:    plain.Faint(true),
		err:      plain.Foreground(lipgloss.Color("9")).Bold(true),
		selected: plain.Bold(true).Reverse(true),
		done:     plain.Faint(true).Strikethrough(true),
		help:     plain.Faint(true),
		border:   plain.Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("8")).Padding(0, 1),
	}
	switch {
	case t.Mono:
		s.success, s.pending, s.accent = plain, plain, plain
		s.err = plain.Bold(true)
		s.border = plain.Border(lipgloss.NormalBorder()).Padding(0, 1)
	case t.Name == "neon":
		s.title = plain.Bold(true).Foreground(lipgloss.Color("201"))
		s.accent = plain.Foreground(lipgloss.Color("51"))
		s.pending = plain.Foreground(lipgloss.Color("226"))
		s.border = s.border.BorderForeground(lipgloss.Color("201"))
	}
	return s
}
