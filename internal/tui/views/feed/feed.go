// Package feed shows the most recent filtered events in a table.
package feed

import (
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/stream-pulse/pulse/internal/tui/client"
	"github.com/stream-pulse/pulse/internal/tui/theme"
)

// MaxEvents bounds the feed; older events fall off the bottom.
const MaxEvents = 100

const (
	colTime   = 8
	colAuthor = 14
)

// Model holds the feed state. Events are kept newest first.
type Model struct {
	table  table.Model
	events []client.Event
	width  int
}

// New creates an empty feed.
func New() Model {
	t := table.New(
		table.WithColumns(columns(80)),
		table.WithHeight(10),
		table.WithFocused(false),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(theme.ColorBorder).
		BorderBottom(true).
		Bold(true)
	s.Selected = s.Cell
	t.SetStyles(s)
	return Model{table: t, width: 80}
}

func columns(width int) []table.Column {
	text := max(width-colTime-colAuthor-6, 10)
	return []table.Column{
		{Title: "Time", Width: colTime},
		{Title: "Author", Width: colAuthor},
		{Title: "Text", Width: text},
	}
}

// Add puts ev at the top of the feed.
func (m *Model) Add(ev client.Event) {
	m.events = append([]client.Event{ev}, m.events...)
	if len(m.events) > MaxEvents {
		m.events = m.events[:MaxEvents]
	}
	m.syncRows()
}

// Clear empties the feed, e.g. after the filter changes.
func (m *Model) Clear() {
	m.events = nil
	m.syncRows()
}

// SetSize fits the table into width x height cells.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.table.SetColumns(columns(width))
	m.table.SetWidth(width)
	m.table.SetHeight(max(height, 3))
}

// Events returns the feed contents, newest first.
func (m Model) Events() []client.Event {
	return m.events
}

func (m Model) Len() int {
	return len(m.events)
}

func (m *Model) syncRows() {
	rows := make([]table.Row, 0, len(m.events))
	for _, ev := range m.events {
		rows = append(rows, row(ev))
	}
	m.table.SetRows(rows)
	m.table.GotoTop()
}

func row(ev client.Event) table.Row {
	at := ev.CreatedAt
	if at.IsZero() {
		at = ev.ReceivedAt
	}
	ts := ""
	if !at.IsZero() {
		ts = at.Local().Format(time.TimeOnly)
	}
	author := ev.Author
	if author == "" {
		author = "-"
	}
	return table.Row{ts, author, strings.Join(strings.Fields(ev.Text), " ")}
}

// View renders the feed.
func (m Model) View() string {
	if len(m.events) == 0 {
		return theme.StyleDimmed.Render("  No matching events yet")
	}
	return m.table.View()
}
