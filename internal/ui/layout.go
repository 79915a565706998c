package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/nhle/notifybell/internal/theme"
)

// Layout manages the terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
}

// NewLayout creates a Layout with the given terminal dimensions.
// HeaderHeight and StatusBarHeight default to 1.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height available for the main content area,
// accounting for the header and status bar.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the top header bar: the title on the left and the
// given segments right-aligned, in order. The last segment ends at the
// right edge of the terminal.
func (l Layout) RenderHeader(title string, segments ...string) string {
	parts := []string{theme.HeaderStyle.Render(title)}
	used := lipgloss.Width(parts[0])

	right := make([]string, 0, len(segments))
	for _, s := range segments {
		r := theme.HeaderStyle.Render(s)
		used += lipgloss.Width(r)
		right = append(right, r)
	}

	gap := l.Width - used
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.HeaderStyle.GetBackground()).
		Render("")

	parts = append(parts, filler)
	parts = append(parts, right...)
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame composes a full terminal view by vertically joining
// the header, content area, and status bar. Content is padded or cut to
// the content height so the status bar stays on the last line.
func (l Layout) RenderWithFrame(
	header string,
	content string,
	statusBar string,
) string {
	content = lipgloss.NewStyle().
		Height(l.ContentHeight()).
		MaxHeight(l.ContentHeight()).
		Render(content)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		content,
		statusBar,
	)
}

// Overlay draws panel over base with its top-right corner at row top of
// base, right-aligned to width. Lines of base not covered are kept.
func Overlay(base, panel string, top, width int) string {
	baseLines := strings.Split(base, "\n")
	panelLines := strings.Split(panel, "\n")
	panelWidth := lipgloss.Width(panel)
	left := width - panelWidth
	if left < 0 {
		left = 0
	}

	for i, pl := range panelLines {
		row := top + i
		for row >= len(baseLines) {
			baseLines = append(baseLines, "")
		}
		prefix := ansi.Truncate(baseLines[row], left, "")
		pad := left - ansi.StringWidth(prefix)
		if pad < 0 {
			pad = 0
		}
		baseLines[row] = prefix + strings.Repeat(" ", pad) + pl
	}
	return strings.Join(baseLines, "\n")
}
