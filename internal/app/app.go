package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/nhle/notifybell/internal/credential"
	"github.com/nhle/notifybell/internal/keys"
	"github.com/nhle/notifybell/internal/model"
	"github.com/nhle/notifybell/internal/store"
	appsync "github.com/nhle/notifybell/internal/sync"
	"github.com/nhle/notifybell/internal/theme"
	"github.com/nhle/notifybell/internal/ui"
	"github.com/nhle/notifybell/internal/ui/bell"
	helpview "github.com/nhle/notifybell/internal/ui/help"
	"github.com/nhle/notifybell/internal/ui/login"
)

const title = "notifybell"

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewLogin ViewState = iota
	ViewHome
	ViewPage
	ViewHelp
)

// Session is the part of *appsync.Manager the UI drives.
type Session interface {
	Store() *store.Store
	StartCmd(token string) tea.Cmd
	WaitForNextUpdate() tea.Cmd
	RefreshCmd() tea.Cmd
	Logout() error
	Close() error
}

// TokenVault persists the bearer token between runs. *credential.Vault
// satisfies it.
type TokenVault interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
}

// Deps are the collaborators of the root model.
type Deps struct {
	// BaseURL prefills the sign-in form and is used with Token.
	BaseURL string
	// Token signs in right away when set.
	Token string

	// Connect builds a session against baseURL.
	Connect func(baseURL string) Session

	// Vault may be nil, in which case tokens are never remembered.
	Vault TokenVault

	// SaveBaseURL persists a server address entered in the form. May be nil.
	SaveBaseURL func(baseURL string) error

	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Model is the root Bubble Tea model. It routes between the sign-in form,
// the home screen and pages opened from notifications, and draws the bell
// panel over whichever is showing.
type Model struct {
	deps Deps
	log  zerolog.Logger

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap

	login    login.Model
	bell     bell.Model
	helpView helpview.Model

	session Session
	baseURL string
	conn    model.ConnectionState
	route   string
	status  string
	ready   bool
}

// noActions backs the bell before any session exists.
type noActions struct{}

func (noActions) MarkRead(string) {}
func (noActions) MarkAllRead()    {}

// New creates the root model. With a token in deps it connects right away;
// otherwise it starts on the sign-in form.
func New(deps Deps) Model {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	k := keys.DefaultKeyMap()

	m := Model{
		deps:        deps,
		log:         deps.Logger.With().Str("component", "app").Logger(),
		currentView: ViewLogin,
		layout:      ui.NewLayout(80, 24),
		keys:        k,
		login:       login.New(deps.BaseURL, 80, 24),
		bell:        bell.New(noActions{}, k, deps.Clock),
		helpView:    helpview.New(k, 80, 24),
		baseURL:     deps.BaseURL,
	}

	if deps.Token != "" && deps.BaseURL != "" {
		m.useSession(deps.BaseURL)
		m.currentView = ViewHome
		m.status = "Signing in..."
	}
	return m
}

// Init starts the session when a token was supplied, or the form.
func (m Model) Init() tea.Cmd {
	if m.session != nil {
		return tea.Batch(m.session.StartCmd(m.deps.Token), m.session.WaitForNextUpdate())
	}
	return m.login.Init()
}

// Close ends the current session, if any.
func (m Model) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Close()
}

// CurrentView returns the active view.
func (m Model) CurrentView() ViewState {
	return m.currentView
}

// useSession points the model at a session for baseURL, replacing the
// current one when the server changed. It reports whether a new session
// was created.
func (m *Model) useSession(baseURL string) bool {
	if m.session != nil && baseURL == m.baseURL {
		return false
	}
	if m.session != nil {
		if err := m.session.Close(); err != nil {
			m.log.Warn().Err(err).Msg("closing previous session")
		}
	}

	m.session = m.deps.Connect(baseURL)
	m.baseURL = baseURL
	m.bell = bell.New(m.session.Store(), m.keys, m.deps.Clock)
	m.sizeBell()
	return true
}

func (m *Model) sizeBell() {
	m.bell.SetSize(m.layout.Width, m.layout.Height)
	m.bell.SetPanelTop(m.layout.HeaderHeight)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.login.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.sizeBell()
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case login.SubmitMsg:
		return m.signIn(msg)

	case login.CancelMsg:
		return m, tea.Quit

	case appsync.StartedMsg:
		m.status = ""
		return m, nil

	case appsync.StartFailedMsg:
		m.log.Warn().Err(msg.Err).Msg("sign-in rejected")
		return m, m.toLogin("The server rejected the token, sign in again")

	case appsync.LoggedOutMsg:
		m.log.Info().Str("reason", msg.Reason).Msg("session ended by server")
		cmd := m.toLogin("Session ended (" + msg.Reason + "), sign in again")
		return m, tea.Batch(cmd, m.session.WaitForNextUpdate())

	case appsync.UpdateMsg:
		m.bell.SetView(msg.View)
		m.conn = msg.View.State
		if m.session == nil {
			return m, nil
		}
		return m, m.session.WaitForNextUpdate()

	case bell.NavigateMsg:
		m.route = msg.Path
		m.previousView = ViewHome
		m.currentView = ViewPage
		return m, nil

	case tea.MouseMsg:
		if m.currentView == ViewLogin {
			return m, nil
		}
		var cmd tea.Cmd
		m.bell, cmd = m.bell.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.currentView == ViewLogin {
			return m.updateActiveView(msg)
		}
		if m.bell.IsOpen() {
			var cmd tea.Cmd
			m.bell, cmd = m.bell.Update(msg)
			return m, cmd
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewPage || m.currentView == ViewHelp {
				m.currentView = ViewHome
			}
			return m, nil

		case key.Matches(msg, m.keys.Refresh):
			if m.session != nil {
				return m, m.session.RefreshCmd()
			}
			return m, nil

		case key.Matches(msg, m.keys.Logout):
			return m, m.signOut()

		case key.Matches(msg, m.keys.Bell):
			var cmd tea.Cmd
			m.bell, cmd = m.bell.Update(msg)
			return m, cmd
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// signIn remembers what the form asked to and starts a session.
func (m Model) signIn(msg login.SubmitMsg) (tea.Model, tea.Cmd) {
	if msg.Remember && m.deps.Vault != nil {
		if err := m.deps.Vault.Set(credential.TokenKey, msg.Token); err != nil {
			m.log.Warn().Err(err).Msg("remembering token")
		}
	}
	if msg.BaseURL != m.deps.BaseURL && m.deps.SaveBaseURL != nil {
		if err := m.deps.SaveBaseURL(msg.BaseURL); err != nil {
			m.log.Warn().Err(err).Msg("saving server address")
		} else {
			m.deps.BaseURL = msg.BaseURL
		}
	}

	created := m.useSession(msg.BaseURL)
	m.currentView = ViewHome
	m.status = "Signing in..."

	cmds := []tea.Cmd{m.session.StartCmd(msg.Token)}
	if created {
		cmds = append(cmds, m.session.WaitForNextUpdate())
	}
	return m, tea.Batch(cmds...)
}

// signOut ends the session and forgets the remembered token.
func (m *Model) signOut() tea.Cmd {
	var err error
	if m.session != nil {
		err = m.session.Logout()
	}
	if m.deps.Vault != nil {
		err = multierr.Append(err, m.deps.Vault.Delete(credential.TokenKey))
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("signing out")
	}
	return m.toLogin("Signed out")
}

// toLogin resets the UI to the sign-in form with notice shown above it.
func (m *Model) toLogin(notice string) tea.Cmd {
	m.currentView = ViewLogin
	m.previousView = ViewLogin
	m.route = ""
	m.status = ""
	m.conn = model.StateDisconnected
	m.bell.Close()
	m.bell.SetView(store.View{})
	return m.login.Reset(notice)
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewLogin:
		m.login, cmd = m.login.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewHome, ViewPage:
		m.bell, cmd = m.bell.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var header string
	if m.currentView == ViewLogin {
		header = m.layout.RenderHeader(title)
	} else {
		header = m.layout.RenderHeader(title, m.connectionLabel(), m.bell.BellLabel())
	}
	content := m.renderContent()
	statusBar := m.layout.RenderStatusBar(m.keyHints())

	frame := m.layout.RenderWithFrame(header, content, statusBar)
	if m.bell.IsOpen() {
		frame = ui.Overlay(frame, m.bell.View(), m.layout.HeaderHeight, m.layout.Width)
	}
	return frame
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewLogin:
		return m.login.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewPage:
		return m.renderPage()
	default:
		return m.renderHome()
	}
}

func (m Model) renderHome() string {
	lines := []string{
		lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).Render("Signed in to " + m.baseURL),
		"",
	}
	switch unread := m.bell.UnreadCount(); unread {
	case 0:
		lines = append(lines, theme.DimmedStyle.Render("You're all caught up."))
	case 1:
		lines = append(lines, theme.UnreadStyle.Render("1 unread notification"))
	default:
		lines = append(lines, theme.UnreadStyle.Render(fmt.Sprintf("%d unread notifications", unread)))
	}
	lines = append(lines, "", theme.HelpStyle.Render("Press b or click the bell to open notifications."))
	if m.status != "" {
		lines = append(lines, "", theme.DimmedStyle.Render(m.status))
	}
	return theme.ContentStyle.Render(strings.Join(lines, "\n"))
}

func (m Model) renderPage() string {
	lines := []string{
		lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite).Render(m.route),
		"",
		theme.DimmedStyle.Render(m.baseURL + m.route),
	}
	return theme.ContentStyle.Render(strings.Join(lines, "\n"))
}

// connectionLabel is the header segment showing the live channel state.
func (m Model) connectionLabel() string {
	style := theme.ConnectionStyle(m.conn)
	switch m.conn {
	case model.StateConnected:
		return style.Render("● live")
	case model.StateConnecting:
		return style.Render("◌ connecting")
	default:
		return style.Render("○ offline")
	}
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.bell.IsOpen() {
		return "j/k move | enter open | m mark all read | esc close"
	}

	switch m.currentView {
	case ViewLogin:
		return "tab next field | enter submit | ctrl+c quit"
	case ViewHelp:
		return "? close help | esc back"
	case ViewPage:
		return "esc back | b notifications | q quit"
	default:
		return "b notifications | r refresh | L sign out | ? help | q quit"
	}
}
