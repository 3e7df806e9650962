package status

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/health-companion/server/internal/tui/client"
	"github.com/health-companion/server/internal/tui/theme"
)

// Model holds the header bar state.
type Model struct {
	Connected bool
	Streaming bool
	Replies   int
	Welcome   *client.Welcome
	Width     int
}

// New creates a status bar model.
func New() Model {
	return Model{}
}

// SetWelcome records the greeting shown on the left of the bar.
func (m *Model) SetWelcome(w *client.Welcome) {
	m.Welcome = w
}

// View renders the status bar.
func (m Model) View() string {
	width := m.Width
	if width < 40 {
		width = 40
	}

	var connStr string
	switch {
	case m.Connected && m.Streaming:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorAssistant).Render("● 正在回复")
	case m.Connected:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● 已连接")
	default:
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ 连接中...")
	}

	var parts []string
	if m.Welcome != nil {
		parts = append(parts, theme.StyleHeader.Render(m.Welcome.Greeting))
		if m.Welcome.Date != "" {
			parts = append(parts, theme.StyleDimmed.Render(m.Welcome.Date))
		}
		if w := m.Welcome.Weather; w.Desc != "" {
			parts = append(parts, fmt.Sprintf("%s %s", w.Desc, w.Temp))
		}
	} else {
		parts = append(parts, theme.StyleHeader.Render("小美健康助手"))
	}
	parts = append(parts, connStr, theme.StyleDimmed.Render(fmt.Sprintf("%d replies", m.Replies)))

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := strings.Join(parts, sep)

	bar := lipgloss.NewStyle().
		Width(width).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)

	return bar
}
