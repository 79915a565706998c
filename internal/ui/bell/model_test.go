package bell

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/notifybell/internal/keys"
	"github.com/nhle/notifybell/internal/model"
	"github.com/nhle/notifybell/internal/store"
)

type recordingActions struct {
	read    []string
	readAll int
}

func (a *recordingActions) MarkRead(id string) { a.read = append(a.read, id) }
func (a *recordingActions) MarkAllRead()       { a.readAll++ }

var now = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)

func item(id string, read bool, link string) model.Notification {
	return model.Notification{
		ID:        id,
		Type:      model.TypeMilestoneFunded,
		Title:     "Milestone " + id + " funded",
		Message:   "Funds are in escrow",
		Link:      link,
		CreatedAt: now.Add(-2 * time.Hour).Format(time.RFC3339),
		Read:      read,
	}
}

func newBell(t *testing.T, items ...model.Notification) (Model, *recordingActions) {
	t.Helper()
	actions := &recordingActions{}
	m := New(actions, keys.DefaultKeyMap(), clockwork.NewFakeClockAt(now))
	m.SetSize(80, 24)

	unread := 0
	for _, n := range items {
		if !n.Read {
			unread++
		}
	}
	m.SetView(store.View{Notifications: items, UnreadCount: unread})
	return m, actions
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func press(x, y int) tea.MouseMsg {
	return tea.MouseMsg{X: x, Y: y, Action: tea.MouseActionPress, Button: tea.MouseButtonLeft}
}

func TestFormatBadge(t *testing.T) {
	tests := []struct {
		count int
		want  string
	}{
		{-1, ""},
		{0, ""},
		{1, "1"},
		{9, "9"},
		{10, "9+"},
		{999, "9+"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBadge(tt.count), "count %d", tt.count)
	}
}

func TestRelativeTime(t *testing.T) {
	n := model.Notification{}
	assert.Equal(t, JustNow, RelativeTime(n, now))

	n.CreatedAt = "yesterday-ish"
	assert.Equal(t, JustNow, RelativeTime(n, now))

	n.CreatedAt = now.Add(-20 * time.Second).Format(time.RFC3339)
	assert.Equal(t, JustNow, RelativeTime(n, now))

	n.CreatedAt = now.Add(-2 * time.Hour).Format(time.RFC3339)
	assert.Equal(t, "2 hours ago", RelativeTime(n, now))

	n.CreatedAt = now.Add(-3 * 24 * time.Hour).Format("2006-01-02T15:04:05.999999")
	assert.Equal(t, "3 days ago", RelativeTime(n, now))
}

func TestIconFor(t *testing.T) {
	assert.Equal(t, "💵", IconFor(model.TypePaymentReceived))
	assert.Equal(t, "🔔", IconFor(model.NotificationType("profile_viewed")))
}

func TestPanelClosedByDefault(t *testing.T) {
	m, _ := newBell(t, item("a", false, ""))
	assert.False(t, m.IsOpen())
	assert.Empty(t, m.View())
}

func TestBellLabelShowsBadge(t *testing.T) {
	m, _ := newBell(t)
	assert.Equal(t, "🔔", m.BellLabel())

	m.SetView(store.View{UnreadCount: 12})
	assert.Contains(t, m.BellLabel(), "9+")
}

func TestBellKeyTogglesPanel(t *testing.T) {
	m, _ := newBell(t, item("a", false, ""))

	m, _ = m.Update(keyPress("b"))
	assert.True(t, m.IsOpen())
	assert.Contains(t, m.View(), "Milestone a funded")
	assert.Contains(t, m.View(), "2 hours ago")

	m, _ = m.Update(keyPress("esc"))
	assert.False(t, m.IsOpen())
}

func TestClickOnBellOpensAndOutsideClickCloses(t *testing.T) {
	m, _ := newBell(t, item("a", false, ""))

	m, _ = m.Update(press(79, 0))
	require.True(t, m.IsOpen())

	// Inside the panel, on the border.
	m, _ = m.Update(press(60, 1))
	assert.True(t, m.IsOpen())

	m, _ = m.Update(press(5, 12))
	assert.False(t, m.IsOpen())
}

func TestOutsideClickIgnoredWhileClosed(t *testing.T) {
	m, actions := newBell(t, item("a", false, ""))

	m, cmd := m.Update(press(5, 12))
	assert.False(t, m.IsOpen())
	assert.Nil(t, cmd)
	assert.Empty(t, actions.read)
}

func TestActivateUnreadItemWithLink(t *testing.T) {
	m, actions := newBell(t, item("a", false, "/contracts/a"), item("b", false, ""))
	m.Toggle()

	m, cmd := m.Update(keyPress("enter"))

	assert.Equal(t, []string{"a"}, actions.read)
	assert.False(t, m.IsOpen())
	require.NotNil(t, cmd)
	assert.Equal(t, NavigateMsg{Path: "/contracts/a"}, cmd())
	assert.Equal(t, 1, m.UnreadCount())
}

func TestActivateReadItemWithoutLink(t *testing.T) {
	m, actions := newBell(t, item("a", true, ""))
	m.Toggle()

	m, cmd := m.Update(keyPress("enter"))

	assert.Empty(t, actions.read)
	assert.Nil(t, cmd)
	assert.False(t, m.IsOpen())
}

func TestClickOnItemActivatesIt(t *testing.T) {
	m, actions := newBell(t, item("a", false, ""), item("b", false, "/milestones/b"))
	m.Toggle()

	// Panel top is row 1; items start two rows lower, two rows each.
	m, cmd := m.Update(press(50, 6))

	assert.Equal(t, []string{"b"}, actions.read)
	require.NotNil(t, cmd)
	assert.Equal(t, NavigateMsg{Path: "/milestones/b"}, cmd())
	assert.False(t, m.IsOpen())
}

func TestCursorMovesDown(t *testing.T) {
	m, actions := newBell(t, item("a", true, ""), item("b", false, ""))
	m.Toggle()

	m, _ = m.Update(keyPress("down"))
	m, _ = m.Update(keyPress("down"))
	_, _ = m.Update(keyPress("enter"))

	assert.Equal(t, []string{"b"}, actions.read)
}

func TestMarkAllReadOnlyWithUnread(t *testing.T) {
	m, actions := newBell(t, item("a", true, ""))
	m.Toggle()
	assert.NotContains(t, m.View(), "Mark all read")

	m, _ = m.Update(keyPress("m"))
	assert.Zero(t, actions.readAll)

	m, actions = newBell(t, item("a", false, ""), item("b", false, ""))
	m.Toggle()
	assert.Contains(t, m.View(), "Mark all read")

	m, _ = m.Update(keyPress("m"))
	assert.Equal(t, 1, actions.readAll)
	assert.Zero(t, m.UnreadCount())
	assert.NotContains(t, m.View(), "Mark all read")
	assert.True(t, m.IsOpen())
}

func TestClickMarkAllRead(t *testing.T) {
	m, actions := newBell(t, item("a", false, ""))
	m.Toggle()

	m, _ = m.Update(press(75, 2))
	assert.Equal(t, 1, actions.readAll)
	assert.True(t, m.IsOpen())
}

func TestEmptyPanel(t *testing.T) {
	m, _ := newBell(t)
	m.Toggle()

	view := m.View()
	assert.Contains(t, view, "No notifications yet")
	assert.Equal(t, 4, len(strings.Split(view, "\n")))

	m, cmd := m.Update(keyPress("enter"))
	assert.Nil(t, cmd)
	assert.True(t, m.IsOpen())
}
