// Package tui is the interactive todo list. It renders the todo cache and
// re-renders whenever the cache reports a change, so optimistic edits
// and their rollbacks show up as they happen.
package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/idilsaglam/tada/internal/apperr"
	"github.com/idilsaglam/tada/internal/model"
	"github.com/idilsaglam/tada/internal/todocache"
	"github.com/idilsaglam/tada/internal/ui"
)

// Todos is the part of the todo cache the list needs.
type Todos interface {
	Snapshot() todocache.Snapshot
	OnChange(fn func()) (unsubscribe func())
	Load(ctx context.Context, owner string) ([]model.TodoItem, error)
	Create(ctx context.Context, text, description string) (model.TodoItem, error)
	Toggle(ctx context.Context, id int64) (model.TodoItem, error)
	Update(ctx context.Context, id int64, patch model.TodoPatch) (model.TodoItem, error)
	Remove(ctx context.Context, id int64) error
	Invalidate()
	ClearError()
}

// Options tune the interactive list.
type Options struct {
	Theme string
}

type (
	changedMsg struct{}
	loadedMsg  struct{ err error }
	doneMsg    struct{ err error }
)

type mode int

const (
	browsing mode = iota
	adding
	editing
)

// listItem adapts model.TodoItem to bubbles/list.Item
type listItem struct {
	item model.TodoItem
}

func (i listItem) Title() string       { return i.item.Text }
func (i listItem) Description() string { return i.item.Description }
func (i listItem) FilterValue() string { return i.item.Text }

type keys struct {
	toggle, remove, add, edit, undo, reload, dismiss key.Binding
}

func newKeys() keys {
	return keys{
		toggle:  key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle")),
		remove:  key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		add:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add")),
		edit:    key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit")),
		undo:    key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo")),
		reload:  key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
		dismiss: key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "dismiss")),
	}
}

// Model is the Bubble Tea model of the list.
type Model struct {
	ctx    context.Context
	todos  Todos
	owner  string
	theme  ui.Theme
	styles styles
	keys   keys

	list   list.Model
	snap   todocache.Snapshot
	loaded bool

	mode     mode
	editID   int64
	ti       textinput.Model
	inputErr string

	opErr     string
	undo      *model.TodoItem
	signedOut bool
}

// itemDelegate renders one item per line.
type itemDelegate struct {
	theme  ui.Theme
	styles styles
}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	li, _ := item.(listItem)
	it := li.item
	box := d.styles.muted.Render(d.theme.BoxUnchecked)
	text := it.Text
	if it.Completed {
		box = d.styles.success.Render(d.theme.BoxChecked)
		text = d.styles.done.Render(text)
	}
	line := box + " " + text
	if it.Description != "" {
		line += d.styles.muted.Render("  " + it.Description)
	}
	if it.Provisional() {
		line += d.styles.muted.Render("  (saving)")
	}
	prefix := "  "
	if index == m.Index() {
		prefix = d.styles.selected.Render("> ")
	}
	fmt.Fprintln(w, prefix+line)
}

// New builds the model for owner's list.
func New(ctx context.Context, todos Todos, owner string, opts Options) Model {
	theme := ui.ThemeByName(opts.Theme)
	st := newStyles(theme)
	k := newKeys()

	l := list.New(nil, itemDelegate{theme: theme, styles: st}, 80, 20)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = st.title
	l.Styles.HelpStyle = st.help
	l.Styles.PaginationStyle = st.help
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")
	extra := func() []key.Binding {
		return []key.Binding{k.toggle, k.add, k.edit, k.remove, k.undo, k.reload}
	}
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 200

	m := Model{
		ctx:    ctx,
		todos:  todos,
		owner:  owner,
		theme:  theme,
		styles: st,
		keys:   k,
		list:   l,
		ti:     ti,
	}
	m.list.Title = m.header()
	return m
}

// Run shows the list until the user quits or ctx ends.
func Run(ctx context.Context, todos Todos, owner string, opts Options) error {
	p := tea.NewProgram(New(ctx, todos, owner, opts), tea.WithAltScreen(), tea.WithContext(ctx))
	stop := todos.OnChange(func() { go p.Send(changedMsg{}) })
	defer stop()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return m.load
}

func (m Model) load() tea.Msg {
	_, err := m.todos.Load(m.ctx, m.owner)
	return loadedMsg{err: err}
}

// run performs a cache operation off the event loop.
func (m Model) run(op func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg { return doneMsg{err: op(ctx)} }
}

func (m Model) selected() (model.TodoItem, bool) {
	li, ok := m.list.SelectedItem().(listItem)
	return li.item, ok
}

func (m Model) header() string {
	done, pending := model.Stats(m.snap.Items)
	title := fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		m.styles.title.Render("Todos"),
		m.styles.success.Render(m.theme.SymDone), done,
		m.styles.pending.Render(m.theme.SymUnchecked), pending,
		m.styles.accent.Render("Total"), len(m.snap.Items),
	)
	if m.snap.Pending > 0 {
		title += m.styles.muted.Render(fmt.Sprintf("  saving %d", m.snap.Pending))
	}
	return title
}

func (m *Model) refresh() tea.Cmd {
	m.snap = m.todos.Snapshot()
	if m.loaded && m.snap.Owner == "" {
		m.signedOut = true
	}
	items := make([]list.Item, 0, len(m.snap.Items))
	for _, it := range m.snap.Items {
		items = append(items, listItem{item: it})
	}
	m.list.Title = m.header()
	return m.list.SetItems(items)
}

func (m *Model) setError(err error) {
	if err == nil {
		return
	}
	m.opErr = apperr.UserMessage(err)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width-4, msg.Height-6)
		return m, nil
	case changedMsg:
		return m, m.refresh()
	case loadedMsg:
		if msg.err == nil {
			m.loaded = true
		}
		m.setError(msg.err)
		return m, m.refresh()
	case doneMsg:
		m.setError(msg.err)
		return m, m.refresh()
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}

	switch m.mode {
	case adding, editing:
		return m.updateInput(msg)
	}

	kmsg, ok := msg.(tea.KeyMsg)
	if !ok || m.list.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.list, cmd = m.list.Update(msg)
		return m, cmd
	}
	if m.signedOut {
		if kmsg.String() == "q" || kmsg.String() == "esc" {
			return m, tea.Quit
		}
		return m, nil
	}

	switch {
	case kmsg.String() == "esc" && m.list.FilterState() == list.FilterApplied:
		m.list.ResetFilter()
		return m, nil
	case kmsg.String() == "q" || kmsg.String() == "esc":
		return m, tea.Quit
	case key.Matches(kmsg, m.keys.toggle):
		if it, ok := m.selected(); ok {
			return m, m.run(func(ctx context.Context) error {
				_, err := m.todos.Toggle(ctx, it.ID)
				return err
			})
		}
		return m, nil
	case key.Matches(kmsg, m.keys.remove):
		if it, ok := m.selected(); ok {
			m.undo = &it
			return m, m.run(func(ctx context.Context) error {
				return m.todos.Remove(ctx, it.ID)
			})
		}
		return m, nil
	case key.Matches(kmsg, m.keys.undo):
		if m.undo == nil {
			return m, nil
		}
		it := *m.undo
		m.undo = nil
		return m, m.run(func(ctx context.Context) error {
			created, err := m.todos.Create(ctx, it.Text, it.Description)
			if err != nil || !it.Completed {
				return err
			}
			_, err = m.todos.Toggle(ctx, created.ID)
			return err
		})
	case key.Matches(kmsg, m.keys.add):
		m.mode = adding
		m.inputErr = ""
		m.ti.SetValue("")
		m.ti.Placeholder = "New item title..."
		return m, m.ti.Focus()
	case key.Matches(kmsg, m.keys.edit):
		it, ok := m.selected()
		if !ok {
			return m, nil
		}
		m.mode = editing
		m.editID = it.ID
		m.inputErr = ""
		m.ti.SetValue(it.Text)
		m.ti.CursorEnd()
		m.ti.Placeholder = "Edit item title..."
		return m, m.ti.Focus()
	case key.Matches(kmsg, m.keys.reload):
		m.todos.Invalidate()
		return m, m.load
	case key.Matches(kmsg, m.keys.dismiss):
		m.opErr = ""
		m.todos.ClearError()
		return m, m.refresh()
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if kmsg, ok := msg.(tea.KeyMsg); ok {
		switch kmsg.String() {
		case "enter":
			text := strings.TrimSpace(m.ti.Value())
			if text == "" {
				m.inputErr = "Title cannot be empty"
				return m, nil
			}
			var cmd tea.Cmd
			if m.mode == adding {
				cmd = m.run(func(ctx context.Context) error {
					_, err := m.todos.Create(ctx, text, "")
					return err
				})
			} else {
				id := m.editID
				cmd = m.run(func(ctx context.Context) error {
					_, err := m.todos.Update(ctx, id, model.TodoPatch{Text: &text})
					return err
				})
			}
			m.closeInput()
			return m, cmd
		case "esc":
			m.closeInput()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m *Model) closeInput() {
	m.mode = browsing
	m.ti.SetValue("")
	m.ti.Blur()
}

func (m Model) banner() string {
	switch {
	case m.signedOut:
		return m.styles.err.Render(m.theme.SymFail+" Signed out. Run 'todo login' and start again.") +
			m.styles.help.Render("  q quit")
	case m.opErr != "":
		return m.styles.err.Render(m.theme.SymFail+" "+m.opErr) + m.styles.help.Render("  x dismiss")
	case m.snap.Err != nil:
		return m.styles.err.Render(m.theme.SymFail+" "+apperr.UserMessage(m.snap.Err)) + m.styles.help.Render("  x dismiss")
	}
	return ""
}

func (m Model) View() string {
	content := m.list.View()
	if b := m.banner(); b != "" {
		content = b + "\n" + content
	}
	if m.mode != browsing {
		title := "Add new item"
		if m.mode == editing {
			title = "Edit item"
		}
		if m.inputErr != "" {
			title += ": " + m.styles.err.Render(m.inputErr)
		}
		content += "\n" + m.styles.border.Render(title+"\n"+m.ti.View())
	}
	return m.styles.border.Render(content)
}
