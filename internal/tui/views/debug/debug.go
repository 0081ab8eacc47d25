// Package debug keeps a log of connection, filter and upstream activity
// and renders it as an overlay.
package debug

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/stream-pulse/pulse/internal/tui/theme"
)

const maxEntries = 200

// Kind classifies an entry.
type Kind string

const (
	KindConn     Kind = "ws"
	KindFilter   Kind = "flt"
	KindUpstream Kind = "up"
	KindError    Kind = "err"
)

var kinds = []Kind{KindConn, KindFilter, KindUpstream, KindError}

// Entry is one log line. Repeat counts consecutive identical messages, so a
// reconnect loop shows up as one line.
type Entry struct {
	Time    time.Time
	Kind    Kind
	Message string
	Repeat  int
}

type Model struct {
	Entries []Entry
	// Offset is how many entries the view is scrolled up from the newest.
	Offset int
	counts map[Kind]int
}

func New() Model {
	return Model{counts: make(map[Kind]int)}
}

// Add records a message. A repeat of the newest entry bumps its count and
// timestamp instead of adding a line.
func (m *Model) Add(kind Kind, message string) {
	if m.counts == nil {
		m.counts = make(map[Kind]int)
	}
	m.counts[kind]++
	m.Offset = 0

	if n := len(m.Entries); n > 0 {
		last := &m.Entries[n-1]
		if last.Kind == kind && last.Message == message {
			last.Repeat++
			last.Time = time.Now()
			return
		}
	}
	m.Entries = append(m.Entries, Entry{Time: time.Now(), Kind: kind, Message: message, Repeat: 1})
	if len(m.Entries) > maxEntries {
		m.Entries = m.Entries[len(m.Entries)-maxEntries:]
	}
}

// Count returns how many messages of kind were added, repeats included.
func (m Model) Count(kind Kind) int {
	return m.counts[kind]
}

func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

func (m Model) summary() string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, lipgloss.NewStyle().Foreground(kindColor(k)).Render(fmt.Sprintf("%s %d", k, m.counts[k])))
	}
	return strings.Join(parts, "  ")
}

// View renders the log inside a width x height panel, newest entries at the
// bottom.
func (m Model) View(width, height int) string {
	inner := max(width-4, 20)
	rows := max(height-6, 3)

	title := theme.StyleHeader.Render(" ACTIVITY ") + "  " + m.summary()
	footer := theme.StyleDimmed.Render("j/k:scroll  esc:close")

	var body string
	if len(m.Entries) == 0 {
		body = theme.StyleDimmed.Render("  Nothing logged yet.")
	} else {
		end := len(m.Entries) - m.Offset
		start := max(end-rows, 0)
		lines := make([]string, 0, end-start)
		for _, e := range m.Entries[start:end] {
			lines = append(lines, renderEntry(e, inner))
		}
		body = strings.Join(lines, "\n")
		if m.Offset > 0 {
			footer = theme.StyleDimmed.Render(fmt.Sprintf("↓ %d newer  ", m.Offset)) + footer
		}
	}

	return lipgloss.NewStyle().
		Width(inner).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", footer))
}

func renderEntry(e Entry, width int) string {
	ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
	kind := lipgloss.NewStyle().Foreground(kindColor(e.Kind)).Width(4).Render(string(e.Kind))
	msg := e.Message
	if e.Repeat > 1 {
		msg = fmt.Sprintf("%s (x%d)", msg, e.Repeat)
	}
	// 12 for the timestamp, 4 for the kind, 2 separators.
	if room := width - 18; room > 3 && len(msg) > room {
		msg = msg[:room-3] + "..."
	}
	return ts + " " + kind + " " + msg
}

func kindColor(k Kind) lipgloss.Color {
	switch k {
	case KindConn:
		return theme.ColorInfo
	case KindFilter:
		return theme.ColorAccent
	case KindUpstream:
		return theme.ColorWarning
	case KindError:
		return theme.ColorDanger
	}
	return theme.ColorDimmed
}
