// Package health renders the vital signs and connected devices overlay.
package health

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/health-companion/server/internal/tui/client"
	"github.com/health-companion/server/internal/tui/theme"
)

const (
	panelWidth = 64
	barWidth   = 20
	labelWidth = 10
)

var (
	stylePanel = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(theme.ColorBorder).
			Padding(0, 1)

	styleLabel = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed).
			Width(labelWidth)

	styleValue = lipgloss.NewStyle().
			Foreground(theme.ColorBright)

	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorBright)

	styleFooter = lipgloss.NewStyle().
			Foreground(theme.ColorDimmed)

	styleSectionHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(theme.ColorDimmed)
)

// Model holds the state for the health overlay.
type Model struct {
	Status  *client.HealthStatus
	Devices []client.Device
	Loading bool
	Err     string
}

// New creates an empty health model.
func New() Model {
	return Model{}
}

// View renders the health panel.
func (m Model) View() string {
	return stylePanel.Width(panelWidth).Render(m.renderInner())
}

func (m Model) renderInner() string {
	var b strings.Builder

	b.WriteString(styleTitle.Render("健康状态") + "\n")
	b.WriteString(strings.Repeat("─", panelWidth-4) + "\n")

	switch {
	case m.Loading && m.Status == nil:
		b.WriteString(theme.StyleDimmed.Render("加载中...") + "\n")
	case m.Status != nil:
		s := m.Status
		if s.StatusText != "" {
			b.WriteString(lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render(s.StatusText) + "\n\n")
		}
		writeMetric(&b, "心率", s.HeartRate)
		writeMetric(&b, "血压", s.BloodPressure)
		writeMetric(&b, "体温", s.Temperature)
		writeMetric(&b, "睡眠", s.Sleep)
	}

	if len(m.Devices) > 0 {
		b.WriteString("\n")
		b.WriteString(styleSectionHeader.Render(fmt.Sprintf("设备 (%d)", len(m.Devices))) + "\n")
		for _, d := range m.Devices {
			b.WriteString(renderDevice(d) + "\n")
		}
	}

	if m.Err != "" {
		b.WriteString("\n")
		b.WriteString(theme.StyleError.Render("加载失败: "+m.Err) + "\n")
	}

	b.WriteString("\n")
	b.WriteString(styleFooter.Render("[r] refresh  [esc] close"))
	return b.String()
}

func writeMetric(b *strings.Builder, label string, mt client.Metric) {
	if mt.Range == "" && mt.Value == nil {
		return
	}
	pct := float64(mt.Percent) / 100
	value := FormatValue(mt.Value)
	if mt.Unit != "" {
		value += " " + mt.Unit
	}
	bar := renderBar(pct, barWidth, theme.MetricColor(pct))
	row := fmt.Sprintf("%s %-12s", bar, value)
	if mt.Range != "" {
		row += theme.StyleDimmed.Render(" (" + mt.Range + ")")
	}
	writeRow(b, label, row)
}

func renderDevice(d client.Device) string {
	glyph := lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("●")
	line := fmt.Sprintf("  %s %s  %s", glyph, d.Name, theme.StyleDimmed.Render(d.Status))
	if d.Badge.Text != "" {
		line += "  [" + d.Badge.Text + "]"
	}
	return line
}

// FormatValue renders a metric value that may be a number or a string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprint(x)
	}
}

func writeRow(b *strings.Builder, label, value string) {
	b.WriteString(styleLabel.Render(label+":") + styleValue.Render(value) + "\n")
}

func renderBar(pct float64, width int, color lipgloss.Color) string {
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	filled := int(pct * float64(width))
	empty := width - filled
	bar := strings.Repeat("█", filled) + strings.Repeat("░", empty)
	return lipgloss.NewStyle().Foreground(color).Render(bar)
}
