// Package theme provides the Lip Gloss color palette and reusable styles
// for the pulse TUI. It is a leaf package with no internal imports to avoid
// import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Metric colors.
var (
	ColorVelocity     = lipgloss.Color("#06b6d4")
	ColorAcceleration = lipgloss.Color("#a855f7")
	ColorDeceleration = lipgloss.Color("#d97706")
	ColorPeak         = lipgloss.Color("#f59e0b")
)

// Gauge thresholds, as a fraction of the running maximum.
var (
	ColorGaugeLow  = lipgloss.Color("#22c55e") // <50%
	ColorGaugeMid  = lipgloss.Color("#d97706") // 50-80%
	ColorGaugeHigh = lipgloss.Color("#dc2626") // >80%
)

// Feed colors.
var (
	ColorAuthor    = lipgloss.Color("#3b82f6")
	ColorTimestamp = lipgloss.Color("#6b7280")
	ColorMatch     = lipgloss.Color("#f9fafb")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorBg      = lipgloss.Color("#111827")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
	ColorInfo    = lipgloss.Color("#2563eb")
	ColorAccent  = lipgloss.Color("#7c3aed")
)

// UpstreamColor returns the color for an upstream status string.
func UpstreamColor(status string) lipgloss.Color {
	switch status {
	case "streaming":
		return ColorHealthy
	case "connecting", "idle":
		return ColorWarning
	case "failed":
		return ColorDanger
	default:
		return ColorDimmed
	}
}

// GaugeColor returns the color for a gauge filled to frac (0..1).
func GaugeColor(frac float64) lipgloss.Color {
	switch {
	case frac > 0.8:
		return ColorGaugeHigh
	case frac > 0.5:
		return ColorGaugeMid
	default:
		return ColorGaugeLow
	}
}

// AccelerationColor distinguishes speeding up from slowing down.
func AccelerationColor(acc int) lipgloss.Color {
	switch {
	case acc > 0:
		return ColorAcceleration
	case acc < 0:
		return ColorDeceleration
	default:
		return ColorDimmed
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
