// Package theme provides the Lip Gloss color palette and reusable styles
// for the chat TUI. It is a leaf package with no internal imports to avoid
// import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Speaker colors.
var (
	ColorUser      = lipgloss.Color("#3b82f6")
	ColorAssistant = lipgloss.Color("#10b981")
	ColorSystem    = lipgloss.Color("#9ca3af")
	ColorDefault   = lipgloss.Color("#9ca3af")
)

// Metric bar thresholds.
var (
	ColorMetricLow  = lipgloss.Color("#22c55e") // <85%
	ColorMetricMid  = lipgloss.Color("#d97706") // 85-95%
	ColorMetricHigh = lipgloss.Color("#dc2626") // >95%
)

// Protocol event colors for the debug log.
var (
	ColorEventWS   = lipgloss.Color("#2563eb")
	ColorEventChat = lipgloss.Color("#7c3aed")
	ColorEventHTTP = lipgloss.Color("#d97706")
	ColorEventErr  = lipgloss.Color("#dc2626")
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
)

// Role identifies who produced a chat turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// RoleColor returns the Lip Gloss color for a speaker.
func RoleColor(r Role) lipgloss.Color {
	switch r {
	case RoleUser:
		return ColorUser
	case RoleAssistant:
		return ColorAssistant
	case RoleSystem:
		return ColorSystem
	default:
		return ColorDefault
	}
}

// RoleLabel returns the label printed before a turn.
func RoleLabel(r Role) string {
	switch r {
	case RoleUser:
		return "您"
	case RoleAssistant:
		return "小美"
	default:
		return "系统"
	}
}

// MetricColor returns the color for how far a reading sits within its
// reference range.
func MetricColor(pct float64) lipgloss.Color {
	switch {
	case pct > 0.95:
		return ColorMetricHigh
	case pct > 0.85:
		return ColorMetricMid
	default:
		return ColorMetricLow
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

	StyleError = lipgloss.NewStyle().
			Foreground(ColorDanger)
)
