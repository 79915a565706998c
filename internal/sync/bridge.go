package sync

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/notifybell/internal/store"
)

// startTimeout bounds the snapshot fetch done while signing in.
const startTimeout = 30 * time.Second

// UpdateMsg is a tea.Msg carrying the latest store view.
type UpdateMsg struct {
	View store.View
}

// StartedMsg is a tea.Msg sent once the session is seeded and the channel
// is opening.
type StartedMsg struct{}

// StartFailedMsg is a tea.Msg returned by StartCmd when the backend
// rejected the token.
type StartFailedMsg struct {
	Err error
}

// LoggedOutMsg is a tea.Msg sent when the backend rejected a running
// session.
type LoggedOutMsg struct {
	Reason string
}

// StartCmd returns a tea.Cmd that signs in with token in the background.
func (m *Manager) StartCmd(token string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(m.ctx, startTimeout)
		defer cancel()

		if err := m.Start(ctx, token); err != nil {
			return StartFailedMsg{Err: err}
		}
		return StartedMsg{}
	}
}

// WaitForNextUpdate returns a tea.Cmd that blocks until the store changes
// or the session ends. It should be re-issued after each message to keep
// listening.
func (m *Manager) WaitForNextUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-m.events:
			return msg
		case v := <-m.updates:
			return UpdateMsg{View: v}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// publish keeps only the newest view pending; the UI renders the latest
// state, not every intermediate one.
func (m *Manager) publish(v store.View) {
	for {
		select {
		case m.updates <- v:
			return
		default:
		}
		select {
		case <-m.updates:
		default:
		}
	}
}

// emit queues a lifecycle message without blocking.
func (m *Manager) emit(msg any) {
	select {
	case m.events <- msg:
	default:
		m.log.Warn().Msgf("dropping %T, event queue full", msg)
	}
}

// RefreshCmd returns a tea.Cmd that reloads the snapshot and re-seeds the
// store. A rejected token ends the session.
func (m *Manager) RefreshCmd() tea.Cmd {
	return func() tea.Msg {
		token, active, epoch := m.signedIn()
		if !active {
			return nil
		}

		ctx, cancel := context.WithTimeout(m.ctx, startTimeout)
		defer cancel()

		snap, err := m.snapshots.Load(ctx, token)
		if err != nil {
			if m.current(epoch) {
				m.expire("snapshot rejected credential")
			}
			return nil
		}
		m.seedIfCurrent(epoch, snap)
		return nil
	}
}
