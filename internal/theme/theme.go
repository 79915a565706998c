package theme

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/notifybell/internal/model"
)

// Adaptive color pairs (dark terminal value, light terminal value).
var (
	ColorBlue    = lipgloss.AdaptiveColor{Dark: "#5B9BD5", Light: "#2B6CB0"}
	ColorGreen   = lipgloss.AdaptiveColor{Dark: "#6BCB77", Light: "#2F855A"}
	ColorYellow  = lipgloss.AdaptiveColor{Dark: "#FFD93D", Light: "#B7791F"}
	ColorRed     = lipgloss.AdaptiveColor{Dark: "#FF6B6B", Light: "#C53030"}
	ColorOrange  = lipgloss.AdaptiveColor{Dark: "#FFA94D", Light: "#C05621"}
	ColorMagenta = lipgloss.AdaptiveColor{Dark: "#CC5DE8", Light: "#805AD5"}
	ColorGray    = lipgloss.AdaptiveColor{Dark: "#868E96", Light: "#718096"}
	ColorWhite   = lipgloss.AdaptiveColor{Dark: "#F8F9FA", Light: "#1A202C"}
	ColorSubtle  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#CBD5E0"}
	ColorBorder  = lipgloss.AdaptiveColor{Dark: "#495057", Light: "#E2E8F0"}
)

// HeaderStyle is used for the header bar segments.
var HeaderStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite).
	Background(ColorBlue).
	Padding(0, 1)

// StatusBarStyle is used for the bottom status bar.
var StatusBarStyle = lipgloss.NewStyle().
	Foreground(ColorWhite).
	Background(ColorSubtle).
	Padding(0, 1)

// PanelStyle wraps the notification dropdown.
var PanelStyle = lipgloss.NewStyle().
	Padding(0, 1).
	Border(lipgloss.RoundedBorder()).
	BorderForeground(ColorBorder)

// ContentStyle wraps the routed page in the content area.
var ContentStyle = lipgloss.NewStyle().
	Padding(1, 2)

// HelpStyle is used for keyboard shortcut hints and help text.
var HelpStyle = lipgloss.NewStyle().
	Foreground(ColorGray).
	Italic(true)

// DimmedStyle renders read items and secondary text.
var DimmedStyle = lipgloss.NewStyle().
	Foreground(ColorGray)

// UnreadStyle marks unread items.
var UnreadStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(ColorWhite)

// BadgeStyle renders the unread badge next to the bell.
var BadgeStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("#FFFFFF")).
	Background(ColorRed).
	Padding(0, 1)

// ErrorStyle renders error lines.
var ErrorStyle = lipgloss.NewStyle().
	Foreground(ColorRed)

// ConnectionStyle returns the color for the live channel indicator.
func ConnectionStyle(state model.ConnectionState) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch state {
	case model.StateConnected:
		return base.Foreground(ColorGreen)
	case model.StateConnecting:
		return base.Foreground(ColorYellow)
	default:
		return base.Foreground(ColorGray)
	}
}

// TypeStyle returns a color-coded style for the given notification type.
func TypeStyle(t model.NotificationType) lipgloss.Style {
	base := lipgloss.NewStyle().Bold(true)

	switch t {
	case model.TypeNewProposal:
		return base.Foreground(ColorBlue)
	case model.TypeContractCreated, model.TypeContractSigned:
		return base.Foreground(ColorMagenta)
	case model.TypeMilestoneSubmitted:
		return base.Foreground(ColorYellow)
	case model.TypeMilestoneApproved:
		return base.Foreground(ColorGreen)
	case model.TypeMilestoneFunded, model.TypePaymentReceived:
		return base.Foreground(ColorOrange)
	default:
		return base.Foreground(ColorGray)
	}
}
