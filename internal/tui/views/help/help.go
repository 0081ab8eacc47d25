// Package help renders the key reference overlay from markdown.
package help

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/stream-pulse/pulse/internal/tui/theme"
)

// Binding is one key and what it does.
type Binding struct {
	Key  string
	Desc string
}

const intro = `# pulse

Live view of one filtered session. Every event whose text matches the
filter is shown in the feed; the dashboard counts deliveries per tick.

Filters are **case-insensitive regular expressions**. An empty filter shows
everything. An invalid expression also shows everything and is marked in
the status bar. Changing the filter resets the maxima.
`

// Markdown builds the help document for bindings.
func Markdown(bindings []Binding) string {
	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n## Keys\n\n| key | action |\n|---|---|\n")
	for _, kb := range bindings {
		fmt.Fprintf(&b, "| `%s` | %s |\n", kb.Key, kb.Desc)
	}
	return b.String()
}

// Model caches the rendered overlay; glamour rendering is too slow to
// repeat on every frame.
type Model struct {
	bindings []Binding
	style    string
	width    int
	rendered string
	err      error
}

// New creates a help overlay. style is a glamour standard style name such
// as "dark", "light" or "notty".
func New(bindings []Binding, style string) Model {
	if style == "" {
		style = "dark"
	}
	return Model{bindings: bindings, style: style}
}

// SetWidth re-renders the document when the width changes.
func (m *Model) SetWidth(width int) {
	if width == m.width && (m.rendered != "" || m.err != nil) {
		return
	}
	m.width = width
	m.rendered, m.err = render(Markdown(m.bindings), m.style, max(width-8, 20))
}

func render(md, style string, wrap int) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(style),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return "", err
	}
	return r.Render(md)
}

// View renders the overlay panel.
func (m Model) View() string {
	body := m.rendered
	if m.err != nil || body == "" {
		body = Markdown(m.bindings)
	}
	footer := theme.StyleDimmed.Render("esc:close")
	return lipgloss.NewStyle().
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, strings.TrimRight(body, "\n"), footer))
}
