// Package debug provides a scrollable overlay of protocol events. The
// chunks of one streamed reply are folded into a single entry.
package debug

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/health-companion/server/internal/tui/theme"
)

const maxEntries = 200

// Event kinds.
const (
	KindWS    = "ws"
	KindChat  = "chat"
	KindReply = "reply"
	KindHTTP  = "http"
	KindErr   = "err"
)

// Outcome is how a streamed reply ended.
type Outcome int

const (
	Streaming Outcome = iota
	Done
	Interrupted
)

// Entry is a single event log line.
type Entry struct {
	Time    time.Time
	Kind    string
	Message string

	// Reply entries only.
	Chunks  int
	Runes   int
	Outcome Outcome
	Elapsed time.Duration
}

// Model holds debug log state.
type Model struct {
	Entries []Entry
	Offset  int // scroll offset (from bottom)

	open    int // 1-based index of the reply still streaming; 0 when none
	replies int
	errors  int
	now     func() time.Time
}

// New creates an empty debug model.
func New() Model {
	return Model{now: time.Now}
}

func (m *Model) clock() time.Time {
	if m.now == nil {
		return time.Now()
	}
	return m.now()
}

// Add appends a log entry and caps the buffer.
func (m *Model) Add(kind, message string) {
	if kind == KindErr {
		m.errors++
	}
	m.push(Entry{Time: m.clock(), Kind: kind, Message: message})
}

// AddChunk records one chunk. Consecutive chunks of a reply extend the
// same entry, even when other events arrive in between.
func (m *Model) AddChunk(content string) {
	if m.open == 0 {
		m.replies++
		m.push(Entry{Time: m.clock(), Kind: KindReply})
		m.open = len(m.Entries)
	}
	e := &m.Entries[m.open-1]
	e.Message += content
	e.Chunks++
	e.Runes += utf8.RuneCountInString(content)
	m.Offset = 0
}

// EndReply closes the reply entry still streaming, if any.
func (m *Model) EndReply(outcome Outcome) {
	if m.open == 0 {
		if outcome == Done {
			// A reply with no chunks still completes.
			m.replies++
			m.push(Entry{Time: m.clock(), Kind: KindReply, Outcome: Done})
		}
		return
	}
	e := &m.Entries[m.open-1]
	e.Outcome = outcome
	e.Elapsed = m.clock().Sub(e.Time)
	m.open = 0
}

func (m *Model) push(e Entry) {
	m.Entries = append(m.Entries, e)
	if over := len(m.Entries) - maxEntries; over > 0 {
		m.Entries = m.Entries[over:]
		// A reply that scrolled out of the buffer is forgotten.
		m.open = max(m.open-over, 0)
	}
	// Reset scroll to bottom on new entry.
	m.Offset = 0
}

// ScrollUp moves the viewport up.
func (m *Model) ScrollUp(n int) {
	m.Offset = min(m.Offset+n, max(len(m.Entries)-1, 0))
}

// ScrollDown moves the viewport down.
func (m *Model) ScrollDown(n int) {
	m.Offset = max(m.Offset-n, 0)
}

func panelStyle(width int) lipgloss.Style {
	return lipgloss.NewStyle().
		Width(width).
		Padding(1, 2).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder)
}

// View renders the log as an overlay panel.
func (m Model) View(width, height int) string {
	innerW := max(width-4, 20)
	visible := max(height-6, 3)

	title := theme.StyleHeader.Render(" PROTOCOL LOG ") +
		theme.StyleDimmed.Render(fmt.Sprintf(" %d replies  %d errors", m.replies, m.errors))
	help := theme.StyleDimmed.Render(fmt.Sprintf("j/k:scroll  esc:close  %d entries", len(m.Entries)))

	if len(m.Entries) == 0 {
		body := theme.StyleDimmed.Render("  No events recorded yet.")
		return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, "", body, "", help))
	}

	end := max(len(m.Entries)-m.Offset, 0)
	start := max(end-visible, 0)

	lines := make([]string, 0, end-start)
	for _, e := range m.Entries[start:end] {
		ts := theme.StyleDimmed.Render(e.Time.Format("15:04:05.000"))
		kind := lipgloss.NewStyle().Foreground(kindColor(e)).Width(5).Render(e.Kind)
		lines = append(lines, fmt.Sprintf("%s %s %s", ts, kind, truncate(describe(e), innerW-25)))
	}

	var more string
	if m.Offset > 0 {
		more = theme.StyleDimmed.Render(fmt.Sprintf(" ↓ %d more", m.Offset))
	}
	return panelStyle(innerW).Render(lipgloss.JoinVertical(lipgloss.Left, title, strings.Join(lines, "\n"), more, help))
}

// truncate shortens s to width display cells. Chunk payloads are mostly
// double-width CJK text.
func truncate(s string, width int) string {
	if width < 4 {
		return s
	}
	return ansi.Truncate(s, width, "...")
}

func describe(e Entry) string {
	if e.Kind != KindReply {
		return e.Message
	}
	var status string
	switch e.Outcome {
	case Streaming:
		status = "…"
	case Done:
		status = "done " + e.Elapsed.Round(time.Millisecond).String()
	case Interrupted:
		status = "interrupted"
	}
	return fmt.Sprintf("← %d chunks/%d runes [%s] %s", e.Chunks, e.Runes, status, e.Message)
}

func kindColor(e Entry) lipgloss.Color {
	switch e.Kind {
	case KindWS:
		return theme.ColorEventWS
	case KindErr:
		return theme.ColorEventErr
	case KindChat:
		return theme.ColorEventChat
	case KindReply:
		if e.Outcome == Interrupted {
			return theme.ColorWarning
		}
		return theme.ColorEventChat
	case KindHTTP:
		return theme.ColorEventHTTP
	default:
		return theme.ColorDimmed
	}
}
