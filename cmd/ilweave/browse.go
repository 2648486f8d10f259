package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/ilweave/model"
)

var (
	browseTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#7D56F4")).
				Padding(0, 1)

	browseTypeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	browseMemberStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#98FB98"))

	browseSelectedStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FAFAFA")).
				Background(lipgloss.Color("#7D56F4"))

	browseErrorStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF6B6B"))

	browseHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

var browseCmd = &cobra.Command{
	Use:   "browse <assembly>",
	Short: "Browse types and members interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return fmt.Errorf("browse needs an interactive terminal")
		}
		bm := newBrowseModel(cmd.Context(), args[0])
		defer bm.close()
		p := tea.NewProgram(bm, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
		_, err := p.Run()
		return err
	},
}

type browseState int

const (
	stateLoading browseState = iota
	stateTypeList
	stateTypeDetail
)

type typeItem struct {
	name string
	td   *model.TypeDef
}

type browseModel struct {
	ctx      context.Context
	err      error
	module   *model.Module
	done     func()
	filename string
	items    []typeItem
	visible  []int
	filter   textinput.Model
	detail   []string
	selected int
	scroll   int
	height   int
	state    browseState
}

type browseLoadedMsg struct {
	err    error
	module *model.Module
	done   func()
	items  []typeItem
}

func newBrowseModel(ctx context.Context, filename string) *browseModel {
	ti := textinput.New()
	ti.Placeholder = "filter types"
	ti.Prompt = "/ "
	ti.Width = 40
	ti.Focus()
	return &browseModel{
		ctx:      ctx,
		filename: filename,
		filter:   ti,
		height:   20,
		state:    stateLoading,
	}
}

func (m *browseModel) close() {
	if m.done != nil {
		m.done()
		m.done = nil
	}
}

func (m *browseModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.load)
}

func (m *browseModel) load() tea.Msg {
	mod, done, err := openModule(m.ctx, m.filename)
	if err != nil {
		return browseLoadedMsg{err: err}
	}
	types, err := mod.AllTypes()
	if err != nil {
		done()
		return browseLoadedMsg{err: err}
	}
	items := make([]typeItem, 0, len(types))
	for _, td := range types {
		name, err := td.FullName()
		if err != nil {
			done()
			return browseLoadedMsg{err: err}
		}
		items = append(items, typeItem{name: name, td: td})
	}
	return browseLoadedMsg{module: mod, done: done, items: items}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.height = max(msg.Height-6, 3)
		return m, nil

	case browseLoadedMsg:
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.module = msg.module
		m.done = msg.done
		m.items = msg.items
		m.state = stateTypeList
		m.applyFilter()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return m, tea.Quit

		case "up":
			m.move(-1)
			return m, nil

		case "down":
			m.move(1)
			return m, nil

		case "pgup":
			m.move(-m.height)
			return m, nil

		case "pgdown":
			m.move(m.height)
			return m, nil

		case "enter":
			if m.state == stateTypeList && len(m.visible) > 0 {
				m.detail, m.err = describeType(m.items[m.visible[m.selected]].td)
				m.scroll = 0
				m.state = stateTypeDetail
			}
			return m, nil

		case "esc":
			switch m.state {
			case stateTypeDetail:
				m.state = stateTypeList
				m.detail = nil
				m.err = nil
			case stateTypeList:
				if m.filter.Value() == "" {
					return m, tea.Quit
				}
				m.filter.SetValue("")
				m.applyFilter()
			default:
				return m, tea.Quit
			}
			return m, nil
		}
	}

	if m.state == stateTypeList {
		before := m.filter.Value()
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		if m.filter.Value() != before {
			m.applyFilter()
		}
		return m, cmd
	}
	return m, nil
}

func (m *browseModel) move(delta int) {
	switch m.state {
	case stateTypeList:
		m.selected = clamp(m.selected+delta, 0, len(m.visible)-1)
	case stateTypeDetail:
		m.scroll = clamp(m.scroll+delta, 0, len(m.detail)-1)
	}
}

func (m *browseModel) applyFilter() {
	q := strings.ToLower(m.filter.Value())
	m.visible = m.visible[:0]
	for i, it := range m.items {
		if q == "" || strings.Contains(strings.ToLower(it.name), q) {
			m.visible = append(m.visible, i)
		}
	}
	m.selected = clamp(m.selected, 0, len(m.visible)-1)
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// describeType lists the members of td, one per line, in declaration order.
func describeType(td *model.TypeDef) ([]string, error) {
	mod := td.Module()
	lines := []string{browseTypeStyle.Render(mod.FormatToken(td.Token()))}
	if ext := td.Extends(); !ext.IsNil() {
		lines = append(lines, "  extends "+browseTypeStyle.Render(mod.FormatToken(ext)))
	}
	ifaces, err := td.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, ii := range ifaces {
		lines = append(lines, "  implements "+browseTypeStyle.Render(mod.FormatToken(ii.Interface)))
	}
	nested, err := td.NestedTypes()
	if err != nil {
		return nil, err
	}
	for _, n := range nested {
		lines = append(lines, "  nested "+browseTypeStyle.Render(n.Name()))
	}
	fields, err := td.Fields()
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		lines = append(lines, memberLine(mod, f))
	}
	methods, err := td.Methods()
	if err != nil {
		return nil, err
	}
	for _, md := range methods {
		lines = append(lines, memberLine(mod, md))
	}
	props, err := td.Properties()
	if err != nil {
		return nil, err
	}
	for _, p := range props {
		lines = append(lines, fmt.Sprintf("  %s property %s", p.Token(), browseMemberStyle.Render(p.Name())))
	}
	events, err := td.Events()
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		lines = append(lines, fmt.Sprintf("  %s event %s", e.Token(), browseMemberStyle.Render(e.Name())))
	}
	return lines, nil
}

func memberLine(mod *model.Module, d model.Declaration) string {
	return fmt.Sprintf("  %s %s", d.Token(), browseMemberStyle.Render(mod.FormatToken(d.Token())))
}

func (m *browseModel) View() string {
	if m.err != nil && m.state != stateTypeDetail {
		return browseErrorStyle.Render(fmt.Sprintf("Error: %v\n\nPress esc to quit.", m.err))
	}
	if m.state == stateLoading {
		return "Loading assembly..."
	}

	var b strings.Builder
	b.WriteString(browseTitleStyle.Render("ilweave"))
	b.WriteString(" ")
	b.WriteString(m.filename)
	b.WriteString("\n\n")

	switch m.state {
	case stateTypeList:
		b.WriteString(m.filter.View())
		b.WriteString(fmt.Sprintf("  %d/%d\n\n", len(m.visible), len(m.items)))
		start := max(m.selected-m.height+1, 0)
		end := min(start+m.height, len(m.visible))
		for i := start; i < end; i++ {
			name := m.items[m.visible[i]].name
			if i == m.selected {
				b.WriteString(browseSelectedStyle.Render("> " + name))
			} else {
				b.WriteString("  " + browseTypeStyle.Render(name))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(browseHelpStyle.Render("type to filter • ↑/↓ select • enter members • esc clear/quit"))

	case stateTypeDetail:
		if m.err != nil {
			b.WriteString(browseErrorStyle.Render(fmt.Sprintf("Error: %v", m.err)))
			b.WriteString("\n")
		}
		end := min(m.scroll+m.height, len(m.detail))
		for _, line := range m.detail[m.scroll:end] {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		b.WriteString(browseHelpStyle.Render("↑/↓ scroll • esc back • ctrl+c quit"))
	}
	return b.String()
}
