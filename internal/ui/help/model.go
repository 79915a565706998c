// Package help renders the key reference, split into the keys that work
// everywhere and the keys of the open notification panel.
package help

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifybell/internal/keys"
	"github.com/nhle/notifybell/internal/theme"
)

const mouseHint = "Click the bell to open the panel, click an item to open it, " +
	"click outside the panel to close it."

// section is one titled block of bindings.
type section struct {
	title    string
	bindings []key.Binding
}

// Model is the help view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a help view for k.
func New(k *keys.KeyMap, width, height int) Model {
	m := Model{keys: k, help: help.New()}
	m.SetSize(width, height)
	return m
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.WindowSizeMsg); ok {
		m.SetSize(msg.Width, msg.Height)
	}
	return m, nil
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 8
}

func (m Model) sections() []section {
	return []section{
		{
			title:    "Anywhere",
			bindings: []key.Binding{m.keys.Bell, m.keys.Refresh, m.keys.Back, m.keys.Help, m.keys.Logout, m.keys.Quit},
		},
		{
			title:    "Notification panel",
			bindings: []key.Binding{m.keys.Up, m.keys.Down, m.keys.Select, m.keys.MarkAllRead, m.keys.Back},
		},
	}
}

// View renders the sections, one binding per row, and the mouse hint.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Keyboard Shortcuts")

	heading := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue)

	blocks := []string{title}
	for _, s := range m.sections() {
		blocks = append(blocks,
			heading.Render(s.title),
			m.help.FullHelpView([][]key.Binding{s.bindings}),
			"",
		)
	}
	blocks = append(blocks, theme.HelpStyle.Render(mouseHint))

	return theme.PanelStyle.
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4).
		Render(lipgloss.JoinVertical(lipgloss.Left, blocks...))
}
