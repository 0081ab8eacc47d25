// Package dashboard renders the metrics panel: a stats row, a spring-animated
// velocity gauge and a velocity history sparkline.
package dashboard

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	"github.com/stream-pulse/pulse/internal/tui/client"
	"github.com/stream-pulse/pulse/internal/tui/theme"
)

const (
	// HistorySize is how many ticks the sparkline keeps.
	HistorySize = 120
	// FPS drives the gauge animation.
	FPS = 30
)

// Model holds the dashboard state.
type Model struct {
	Width int

	latest  client.Metrics
	ticks   int
	history []float64

	spring   harmonica.Spring
	gaugePos float64
	gaugeVel float64
	target   float64
}

// New creates a dashboard model.
func New() Model {
	return Model{
		spring: harmonica.NewSpring(harmonica.FPS(FPS), 6.0, 0.6),
	}
}

// SetMetrics records one tick. The gauge target is the velocity relative to
// the running maximum; Animate moves the gauge towards it.
func (m *Model) SetMetrics(u client.Metrics) {
	m.latest = u
	m.ticks++
	m.history = append(m.history, float64(u.Velocity))
	if len(m.history) > HistorySize {
		m.history = m.history[len(m.history)-HistorySize:]
	}
	m.target = 0
	if u.MaxVelocity > 0 {
		m.target = float64(u.Velocity) / float64(u.MaxVelocity)
	}
}

// Reset clears history after the filter changes; maxima restart on the
// server at the same time.
func (m *Model) Reset() {
	m.latest = client.Metrics{}
	m.ticks = 0
	m.history = nil
	m.target = 0
}

// Latest returns the most recent metrics record.
func (m Model) Latest() client.Metrics {
	return m.latest
}

// History returns the velocity history, oldest first.
func (m Model) History() []float64 {
	return m.history
}

// Animate advances the gauge spring by one frame and reports whether it is
// still moving.
func (m *Model) Animate() bool {
	m.gaugePos, m.gaugeVel = m.spring.Update(m.gaugePos, m.gaugeVel, m.target)
	if math.Abs(m.gaugePos-m.target) < 0.001 && math.Abs(m.gaugeVel) < 0.001 {
		m.gaugePos, m.gaugeVel = m.target, 0
		return false
	}
	return true
}

// Gauge returns the current animated gauge position (0..1, may overshoot).
func (m Model) Gauge() float64 {
	return m.gaugePos
}

// View renders the full dashboard: stats row, gauge and sparkline.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}
	inner := width - 4

	sections := []string{
		m.renderStatsRow(),
		m.renderGauge(inner),
		m.renderSparkline(inner),
	}
	return lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(theme.ColorBorder).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) renderStatsRow() string {
	u := m.latest
	statStyle := lipgloss.NewStyle().Padding(0, 1)

	stats := []string{
		statStyle.Foreground(theme.ColorVelocity).Render(
			fmt.Sprintf("Velocity: %d/tick", u.Velocity)),
		statStyle.Foreground(theme.AccelerationColor(u.Acceleration)).Render(
			fmt.Sprintf("Acceleration: %+d", u.Acceleration)),
		statStyle.Foreground(theme.ColorPeak).Render(
			fmt.Sprintf("Max velocity: %d", u.MaxVelocity)),
		statStyle.Foreground(theme.ColorPeak).Render(
			fmt.Sprintf("Max acceleration: %d", u.MaxAcceleration)),
	}
	if !u.At.IsZero() {
		stats = append(stats, theme.StyleDimmed.Padding(0, 1).Render(u.At.Local().Format(time.TimeOnly)))
	}
	return strings.Join(stats, lipgloss.NewStyle().Foreground(theme.ColorBorder).Render("|"))
}

// renderGauge draws velocity against the running maximum.
func (m Model) renderGauge(width int) string {
	labelWidth := 6
	fillWidth := max(width-labelWidth-1, 8)

	frac := max(0, min(m.gaugePos, 1))
	filled := int(math.Round(frac * float64(fillWidth)))
	empty := fillWidth - filled

	color := theme.GaugeColor(frac)
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", empty))
	label := fmt.Sprintf(" %3.0f%%", frac*100)

	return " " + bar + lipgloss.NewStyle().Foreground(color).Render(label)
}

func (m Model) renderSparkline(width int) string {
	if len(m.history) == 0 {
		return theme.StyleDimmed.Render(" waiting for the first tick...")
	}
	top, bot := Sparkline(m.history, width-1, theme.ColorVelocity, 0)
	return lipgloss.JoinVertical(lipgloss.Left, " "+top, " "+bot)
}
