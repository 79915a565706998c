// Package login is the sign-in form shown before a session starts and
// again after the backend rejects the token.
package login

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifybell/internal/authtoken"
	"github.com/nhle/notifybell/internal/theme"
)

// SubmitMsg carries the credentials entered by the user.
type SubmitMsg struct {
	BaseURL  string
	Token    string
	Remember bool
}

// CancelMsg signals the user aborted the form.
type CancelMsg struct{}

// Model is the Bubble Tea model for the sign-in form.
type Model struct {
	form *huh.Form

	// Form field values (huh binds to these)
	baseURL  string
	token    string
	remember bool

	notice        string
	width, height int
}

// New creates a sign-in form prefilled with baseURL.
func New(baseURL string, width, height int) Model {
	m := Model{
		baseURL:  baseURL,
		remember: true,
		width:    width,
		height:   height,
	}
	m.form = m.buildForm()
	return m
}

// Init starts the form.
func (m Model) Init() tea.Cmd {
	return m.form.Init()
}

// Reset clears the token and shows notice above the form, e.g. why the
// previous session ended.
func (m *Model) Reset(notice string) tea.Cmd {
	m.token = ""
	m.notice = notice
	m.form = m.buildForm()
	return m.form.Init()
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	if m.form != nil {
		m.form = m.form.WithWidth(m.formWidth())
	}
}

// Update handles messages for the form.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		return m, m.submit()
	case huh.StateAborted:
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

func (m Model) submit() tea.Cmd {
	msg := SubmitMsg{
		BaseURL:  strings.TrimRight(strings.TrimSpace(m.baseURL), "/"),
		Token:    strings.TrimSpace(m.token),
		Remember: m.remember,
	}
	return func() tea.Msg { return msg }
}

// View renders the form.
func (m Model) View() string {
	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1).
		Render("Sign in to receive notifications")

	parts := []string{title}
	if m.notice != "" {
		parts = append(parts, theme.ErrorStyle.Render(m.notice), "")
	}
	parts = append(parts, m.form.View())

	return theme.ContentStyle.Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Server").
				Description("REST base URL of the backend").
				Placeholder("https://api.example.com").
				Value(&m.baseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Access token").
				Description("Bearer token issued when you signed in on the web").
				EchoMode(huh.EchoModePassword).
				Value(&m.token).
				Validate(validateToken),
			huh.NewConfirm().
				Title("Remember token").
				Description("Store the token in the system keyring").
				Value(&m.remember),
		),
	).WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return errors.New("URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("URL must start with http:// or https://")
	}
	if parsed.Host == "" {
		return errors.New("URL must include a host (e.g., https://example.com)")
	}
	return nil
}

func validateToken(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("token is required")
	}
	if exp, ok := authtoken.Expiry(s); ok && !exp.After(time.Now()) {
		return fmt.Errorf("token expired %s", exp.Local().Format(time.DateTime))
	}
	return nil
}
