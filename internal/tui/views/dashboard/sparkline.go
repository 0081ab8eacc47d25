package dashboard

import (
	"math"

	"github.com/charmbracelet/lipgloss"
)

// ceilingSteps are the discrete scaling ceilings for the sparkline. The first
// step with peak < step*0.85 wins, leaving ~15% headroom.
var ceilingSteps = [...]float64{5, 10, 25, 50, 100, 250, 500, 1000}

func selectCeiling(peak, knownMax float64) float64 {
	if knownMax > 0 {
		return knownMax
	}
	for _, step := range ceilingSteps {
		if peak < step*0.85 {
			return step
		}
	}
	return peak / 0.85
}

// Sparkline renders the newest 2*width values as a 2-row braille chart, one
// value per braille column, newest on the right. Shorter histories are
// left-padded with blank cells so the chart scrolls in from the right.
// knownMax > 0 fixes the ceiling; otherwise it is derived from the peak.
func Sparkline(data []float64, width int, color lipgloss.Color, knownMax float64) (string, string) {
	if width < 1 {
		return "", ""
	}

	n := width * 2
	if len(data) > n {
		data = data[len(data)-n:]
	}
	samples := make([]float64, n)
	copy(samples[n-len(data):], data)

	var peak float64
	for _, v := range samples {
		peak = max(peak, v)
	}
	ceiling := selectCeiling(peak, knownMax)

	topChars := make([]rune, width)
	botChars := make([]rune, width)
	for i := 0; i < width; i++ {
		lh := dotHeight(samples[i*2], ceiling)
		rh := dotHeight(samples[i*2+1], ceiling)

		botChars[i] = rune(0x2800 | leftColBits(min(lh, 4)) | rightColBits(min(rh, 4)))
		topChars[i] = rune(0x2800 | leftColBits(max(lh-4, 0)) | rightColBits(max(rh-4, 0)))
	}

	style := lipgloss.NewStyle().Foreground(color)
	return style.Render(string(topChars)), style.Render(string(botChars))
}

// dotHeight converts a value to a dot height (0-8). Any positive value gets
// at least one dot.
func dotHeight(v, ceiling float64) int {
	if v <= 0 || ceiling <= 0 {
		return 0
	}
	h := int(math.Round(v / ceiling * 8))
	return max(1, min(h, 8))
}

// leftColBits maps a fill height (0-4 dots from the bottom) to left-column
// braille bits.
func leftColBits(h int) int {
	switch h {
	case 1:
		return 0x40 // dot 7
	case 2:
		return 0x44 // dots 7,3
	case 3:
		return 0x46 // dots 7,3,2
	case 4:
		return 0x47 // dots 7,3,2,1
	default:
		return 0
	}
}

func rightColBits(h int) int {
	switch h {
	case 1:
		return 0x80 // dot 8
	case 2:
		return 0xA0 // dots 8,6
	case 3:
		return 0xB0 // dots 8,6,5
	case 4:
		return 0xB8 // dots 8,6,5,4
	default:
		return 0
	}
}
