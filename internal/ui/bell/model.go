package bell

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/jonboulle/clockwork"

	"github.com/nhle/notifybell/internal/keys"
	"github.com/nhle/notifybell/internal/model"
	"github.com/nhle/notifybell/internal/store"
	"github.com/nhle/notifybell/internal/theme"
)

const markAllLabel = "Mark all read (m)"

const (
	maxPanelWidth = 56
	maxVisible    = 8
	itemHeight    = 2
	// Rows above the first item: top border and the title row.
	itemsOffset = 2
)

// NavigateMsg asks the application to route to Path.
type NavigateMsg struct {
	Path string
}

// Actions receives the read intents captured by the panel. *store.Store
// satisfies it.
type Actions interface {
	MarkRead(id string)
	MarkAllRead()
}

// Model is the bell with its dropdown panel. The panel is closed by
// default; it opens from the bell key or a click on the bell and closes on
// any press outside its bounds.
type Model struct {
	actions Actions
	keys    *keys.KeyMap
	clock   clockwork.Clock

	view   store.View
	open   bool
	cursor int
	offset int

	width, height int
	// panelTop is the screen row the panel's top border is drawn on.
	panelTop int
}

// New creates a closed bell.
func New(a Actions, k *keys.KeyMap, clock clockwork.Clock) Model {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return Model{
		actions:  a,
		keys:     k,
		clock:    clock,
		panelTop: 1,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// IsOpen reports whether the panel is showing.
func (m Model) IsOpen() bool {
	return m.open
}

// SetSize updates the terminal dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.clampCursor()
}

// SetPanelTop sets the screen row the panel is drawn from.
func (m *Model) SetPanelTop(row int) {
	m.panelTop = row
}

// SetView replaces the rendered store state.
func (m *Model) SetView(v store.View) {
	m.view = v
	m.clampCursor()
}

// UnreadCount returns the unread counter of the current view.
func (m Model) UnreadCount() int {
	return m.view.UnreadCount
}

// Close hides the panel.
func (m *Model) Close() {
	m.open = false
}

// Toggle opens or closes the panel. Opening starts at the newest item.
func (m *Model) Toggle() {
	m.open = !m.open
	if m.open {
		m.cursor = 0
		m.offset = 0
	}
}

// Update handles messages for the bell.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.SetSize(msg.Width, msg.Height)
		return m, nil

	case tea.MouseMsg:
		return m.handleMouse(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Bell) {
		m.Toggle()
		return m, nil
	}
	if !m.open {
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Back):
		m.Close()
	case key.Matches(msg, m.keys.Down):
		if m.cursor < len(m.view.Notifications)-1 {
			m.cursor++
		}
		m.scrollToCursor()
	case key.Matches(msg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
		m.scrollToCursor()
	case key.Matches(msg, m.keys.Select):
		return m.activate(m.cursor)
	case key.Matches(msg, m.keys.MarkAllRead):
		m.markAllRead()
	}
	return m, nil
}

func (m Model) handleMouse(msg tea.MouseMsg) (Model, tea.Cmd) {
	if msg.Action != tea.MouseActionPress {
		return m, nil
	}

	if m.onBell(msg.X, msg.Y) {
		if msg.Button == tea.MouseButtonLeft {
			m.Toggle()
		}
		return m, nil
	}
	if !m.open {
		return m, nil
	}

	left, top, width, height := m.panelBounds()
	if msg.X < left || msg.X >= left+width || msg.Y < top || msg.Y >= top+height {
		m.Close()
		return m, nil
	}
	if msg.Button != tea.MouseButtonLeft {
		return m, nil
	}

	row := msg.Y - top
	if row == itemsOffset-1 {
		// The action sits at the right end of the title row.
		if msg.X >= left+width-2-lipgloss.Width(markAllLabel) {
			m.markAllRead()
		}
		return m, nil
	}
	if row < itemsOffset || len(m.view.Notifications) == 0 {
		return m, nil
	}
	idx := m.offset + (row-itemsOffset)/itemHeight
	if idx >= m.offset+m.visibleCount() || idx >= len(m.view.Notifications) {
		return m, nil
	}
	return m.activate(idx)
}

// activate marks the item read when needed, asks for navigation when it
// carries a link and closes the panel, in that order.
func (m Model) activate(idx int) (Model, tea.Cmd) {
	if idx < 0 || idx >= len(m.view.Notifications) {
		return m, nil
	}

	n := m.view.Notifications[idx]
	if !n.Read {
		m.actions.MarkRead(n.ID)
		m.markLocal(idx)
	}

	var cmd tea.Cmd
	if n.Link != "" {
		path := n.Link
		cmd = func() tea.Msg { return NavigateMsg{Path: path} }
	}

	m.Close()
	return m, cmd
}

func (m *Model) markAllRead() {
	if m.view.UnreadCount <= 0 {
		return
	}
	m.actions.MarkAllRead()

	items := make([]model.Notification, len(m.view.Notifications))
	copy(items, m.view.Notifications)
	for i := range items {
		items[i].Read = true
	}
	m.view.Notifications = items
	m.view.UnreadCount = 0
}

// markLocal mirrors an optimistic read until the next store view arrives.
func (m *Model) markLocal(idx int) {
	items := make([]model.Notification, len(m.view.Notifications))
	copy(items, m.view.Notifications)
	items[idx].Read = true
	m.view.Notifications = items
	if m.view.UnreadCount > 0 {
		m.view.UnreadCount--
	}
}

// BellLabel is the header segment for the bell: the glyph plus the badge.
func (m Model) BellLabel() string {
	badge := FormatBadge(m.view.UnreadCount)
	if badge == "" {
		return "🔔"
	}
	return "🔔 " + theme.BadgeStyle.Render(badge)
}

// onBell reports whether (x, y) hits the bell segment, which the header
// draws flush with the right edge of the first row.
func (m Model) onBell(x, y int) bool {
	if y != 0 {
		return false
	}
	w := lipgloss.Width(theme.HeaderStyle.Render(m.BellLabel()))
	return x >= m.width-w && x < m.width
}

func (m Model) panelWidth() int {
	if m.width > 0 && m.width < maxPanelWidth {
		return m.width
	}
	return maxPanelWidth
}

func (m Model) visibleCount() int {
	n := maxVisible
	if m.height > 0 {
		room := (m.height - m.panelTop - itemsOffset - 1) / itemHeight
		if room < n {
			n = room
		}
	}
	if n < 1 {
		n = 1
	}
	if total := len(m.view.Notifications); total < n {
		n = total
	}
	return n
}

func (m Model) panelBounds() (left, top, width, height int) {
	width = m.panelWidth()
	rows := 1
	if len(m.view.Notifications) > 0 {
		rows = m.visibleCount() * itemHeight
	}
	height = itemsOffset + rows + 1
	return m.width - width, m.panelTop, width, height
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.view.Notifications) {
		m.cursor = len(m.view.Notifications) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	m.scrollToCursor()
}

func (m *Model) scrollToCursor() {
	visible := m.visibleCount()
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+visible {
		m.offset = m.cursor - visible + 1
	}
	if last := len(m.view.Notifications) - visible; m.offset > last {
		m.offset = last
	}
	if m.offset < 0 {
		m.offset = 0
	}
}

// View renders the panel, or nothing while it is closed.
func (m Model) View() string {
	if !m.open {
		return ""
	}

	width := m.panelWidth()
	inner := width - 4

	title := theme.UnreadStyle.Render("Notifications")
	if m.view.UnreadCount > 0 {
		action := theme.HelpStyle.Render(markAllLabel)
		gap := inner - lipgloss.Width(title) - lipgloss.Width(action)
		if gap < 1 {
			gap = 1
		}
		title += strings.Repeat(" ", gap) + action
	}

	lines := []string{fit(title, inner)}
	if len(m.view.Notifications) == 0 {
		lines = append(lines, fit(theme.DimmedStyle.Render("No notifications yet"), inner))
	} else {
		now := m.clock.Now()
		end := m.offset + m.visibleCount()
		for i := m.offset; i < end; i++ {
			lines = append(lines, m.renderItem(m.view.Notifications[i], i == m.cursor, inner, now)...)
		}
	}

	return theme.PanelStyle.Width(width - 2).Render(strings.Join(lines, "\n"))
}

// renderItem draws one notification on itemHeight lines: the title row
// with its age, then the message.
func (m Model) renderItem(n model.Notification, selected bool, width int, now time.Time) []string {
	cursor := " "
	if selected {
		cursor = lipgloss.NewStyle().Bold(true).Foreground(theme.ColorBlue).Render("›")
	}
	marker := " "
	titleStyle := theme.DimmedStyle
	if !n.Read {
		marker = theme.TypeStyle(n.Type).Render("●")
		titleStyle = theme.UnreadStyle
	}
	if selected {
		titleStyle = titleStyle.Foreground(theme.ColorBlue)
	}

	when := theme.DimmedStyle.Render(RelativeTime(n, now))
	head := cursor + marker + " " + IconFor(n.Type) + " "
	room := width - lipgloss.Width(head) - lipgloss.Width(when) - 1
	if room < 1 {
		room = 1
	}
	title := fit(titleStyle.Render(n.Title), room)
	gap := width - lipgloss.Width(head) - lipgloss.Width(title) - lipgloss.Width(when)
	if gap < 1 {
		gap = 1
	}

	line1 := head + title + strings.Repeat(" ", gap) + when
	line2 := strings.Repeat(" ", 5) + theme.DimmedStyle.Render(n.Message)
	return []string{fit(line1, width), fit(line2, width)}
}

// fit cuts s to width cells.
func fit(s string, width int) string {
	return ansi.Truncate(s, width, "…")
}
