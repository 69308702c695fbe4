package ui

import (
	"fmt"

	"github.com/idilsaglam/tada/internal/model"
)

const maxTitle = 80

// ListOptions tune RenderList.
type ListOptions struct {
	Group bool   // split into pending and done
	Owner string // shown in the header when set
}

// RenderList prints the collection in a panel. Indexes are 1-based
// positions in items regardless of grouping.
func (p *Printer) RenderList(items []model.TodoItem, opt ListOptions) {
	t := p.theme
	done, pending := model.Stats(items)

	title := "Todos"
	if opt.Owner != "" {
		title += " (" + opt.Owner + ")"
	}
	header := fmt.Sprintf("%s  %s %d  %s %d  %s %d",
		p.C(t.Title, title),
		p.C(t.Success, t.SymDone), done,
		p.C(t.Pending, t.SymUnchecked), pending,
		p.C(t.Accent, "Total"), len(items),
	)

	lines := []string{header, p.C(t.Muted, p.ProgressBar(done, done+pending, 28)), ""}
	if opt.Group {
		lines = append(lines, p.groupLines(items)...)
	} else {
		lines = append(lines, p.itemLines(items, func(model.TodoItem) bool { return true })...)
	}
	lines = append(lines, "", p.C(t.Muted, "Tip: add with `todo add \"Buy milk\"`"))
	p.Panel(lines)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func (p *Printer) itemLines(items []model.TodoItem, keep func(model.TodoItem) bool) []string {
	t := p.theme
	var out []string
	for i, it := range items {
		if !keep(it) {
			continue
		}
		box, color := t.BoxUnchecked, t.Muted
		if it.Completed {
			box, color = t.BoxChecked, t.Success
		}
		out = append(out, fmt.Sprintf("%s %s %s",
			p.C(dim, fmt.Sprintf("%2d.", i+1)), p.C(color, box), truncate(it.Text, maxTitle)))
		if it.Description != "" {
			out = append(out, "      "+p.C(t.Muted, truncate(it.Description, maxTitle)))
		}
	}
	if len(out) == 0 {
		return []string{p.C(t.Muted, "no items")}
	}
	return out
}

func (p *Printer) groupLines(items []model.TodoItem) []string {
	t := p.theme
	section := func(name string, want bool) []string {
		lines := []string{p.C(t.Accent, name)}
		body := p.itemLines(items, func(it model.TodoItem) bool { return it.Completed == want })
		if len(body) == 1 && body[0] == p.C(t.Muted, "no items") {
			return append(lines, p.C(t.Muted, "(none)"))
		}
		return append(lines, body...)
	}
	lines := section("Pending", false)
	lines = append(lines, "")
	return append(lines, section("Done", true)...)
}
