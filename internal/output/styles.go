package output

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nethalo/sqlforge/internal/model"
)

// Colors
var (
	ColorOK      = lipgloss.Color("#04B575") // green
	ColorWarning = lipgloss.Color("#FFB800") // yellow
	ColorError   = lipgloss.Color("#FF4040") // red
	ColorInfo    = lipgloss.Color("#00BFFF") // cyan
	ColorMuted   = lipgloss.Color("#666666") // gray
	ColorLabel   = lipgloss.Color("#AAAAAA") // light gray for labels
)

// Box styles
var (
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorInfo).
			Padding(0, 1)

	OKBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorOK).
			Padding(0, 1)

	WarningBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1)

	ErrorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorError).
			Padding(0, 1)
)

// Text styles
var (
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorInfo)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorLabel).
			Width(14)

	ValueStyle = lipgloss.NewStyle()

	OKText = lipgloss.NewStyle().
		Foreground(ColorOK).
		Bold(true)

	WarningText = lipgloss.NewStyle().
			Foreground(ColorWarning).
			Bold(true)

	ErrorText = lipgloss.NewStyle().
			Foreground(ColorError).
			Bold(true)

	MutedText = lipgloss.NewStyle().
			Foreground(ColorMuted)

	CodeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#E0E0E0"))
)

// Indicators
const (
	IconOK      = "✅"
	IconWarning = "⚠"
	IconError   = "❌"
	IconInfo    = "ℹ"
	IconLocked  = "🔒"
	IconEdit    = "✏"
)

// tierText colors a tier by how many entities it joins.
func tierText(t model.Tier) string {
	switch t {
	case model.TierA:
		return OKText.Render(string(t))
	case model.TierB:
		return WarningText.Render(string(t))
	case model.TierC:
		return ErrorText.Render(string(t))
	default:
		return string(t)
	}
}
