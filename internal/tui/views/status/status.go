package status

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/stream-pulse/pulse/internal/tui/client"
	"github.com/stream-pulse/pulse/internal/tui/theme"
)

// Model holds the status bar state.
type Model struct {
	Connected bool
	// Spinner is the rendered spinner frame shown while connecting.
	Spinner string

	SessionID    string
	Pattern      string
	PatternValid bool

	Upstream      string
	UpstreamError string
	Sessions      int
	Published     uint64

	Width int
}

// New creates a status bar model.
func New() Model {
	return Model{PatternValid: true, Upstream: "unknown"}
}

// SetStatus copies the polled server status into the bar.
func (m *Model) SetStatus(s *client.Status) {
	if s == nil {
		return
	}
	m.Sessions = s.Sessions
	m.Published = s.Totals.Published
	if s.Upstream != nil {
		m.Upstream = string(s.Upstream.Status)
		m.UpstreamError = s.Upstream.LastError
	}
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	if m.Connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render(m.Spinner + " Connecting...")
	}

	var filterStr string
	switch {
	case m.Pattern == "":
		filterStr = theme.StyleDimmed.Render("filter: (all)")
	case !m.PatternValid:
		filterStr = theme.StyleError.Render(fmt.Sprintf("filter: %q invalid, showing all", m.Pattern))
	default:
		filterStr = lipgloss.NewStyle().Foreground(theme.ColorBright).Render(fmt.Sprintf("filter: %q", m.Pattern))
	}

	upstream := "upstream: " + m.Upstream
	if m.UpstreamError != "" {
		upstream += " (" + m.UpstreamError + ")"
	}
	upstreamStr := lipgloss.NewStyle().Foreground(theme.UpstreamColor(m.Upstream)).Render(upstream)

	counts := theme.StyleDimmed.Render(fmt.Sprintf("%d sessions  %d published", m.Sessions, m.Published))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := connStr + sep + filterStr + sep + upstreamStr + sep + counts

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)

	return bar
}
