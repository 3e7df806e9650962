package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/tui/client"
	"github.com/health-companion/server/internal/tui/theme"
	"github.com/health-companion/server/internal/tui/views/debug"
	"github.com/health-companion/server/internal/tui/views/health"
	"github.com/health-companion/server/internal/tui/views/status"
)

// Overlay identifies which modal is active.
type Overlay int

const (
	OverlayNone Overlay = iota
	OverlayHealth
	OverlayDebug
)

const (
	typingFPS    = 30
	typingTravel = 8 // cells the typing dot swings across
	chromeHeight = 9 // status bar, typing line, input box, help
)

// turn is one entry in the conversation.
type turn struct {
	role        theme.Role
	text        string
	done        bool
	interrupted bool
	isError     bool
	rendered    string // markdown rendering of a finished assistant reply
}

// --- internal messages ---

type welcomeMsg struct {
	welcome *client.Welcome
	err     error
}

type healthMsg struct {
	status  *client.HealthStatus
	devices []client.Device
	err     error
}

type typingTickMsg time.Time

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	http   *client.HTTPClient
	logger *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	input    textinput.Model
	viewport viewport.Model
	renderer *glamour.TermRenderer

	turns     []turn
	streaming bool
	overlay   Overlay

	// Typing indicator animation.
	spring    harmonica.Spring
	dotPos    float64
	dotVel    float64
	dotTarget float64
	animating bool

	// Sub-views.
	statusBar status.Model
	debugLog  debug.Model
	health    health.Model

	connected bool
}

// New creates the root model.
func New(ws *client.WSClient, http *client.HTTPClient, logger *zap.Logger) Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	in := textinput.New()
	in.Placeholder = "请输入您的健康问题..."
	in.Prompt = "› "
	in.CharLimit = 500
	in.Focus()

	return Model{
		ws:        ws,
		http:      http,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		keys:      DefaultKeyMap(),
		input:     in,
		viewport:  viewport.New(80, 10),
		spring:    harmonica.NewSpring(harmonica.FPS(typingFPS), 8.0, 0.25),
		dotTarget: 1,
		statusBar: status.New(),
		debugLog:  debug.New(),
		health:    health.New(),
	}
}

// Init starts the WebSocket connection and fetches the greeting.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.ws.Listen(m.ctx), m.fetchWelcome(), textinput.Blink)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.statusBar.Connected = true
		m.debugLog.Add(debug.KindWS, "connected")
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.statusBar.Connected = false
		m.interruptReply()
		if msg.Err != nil {
			m.debugLog.Add(debug.KindWS, "disconnected: "+msg.Err.Error())
		}
		m.refreshViewport()
		return m, m.ws.Listen(m.ctx)

	case client.WSChunkMsg:
		m.debugLog.AddChunk(msg.Content)
		t := m.currentReply()
		if t == nil {
			m.turns = append(m.turns, turn{role: theme.RoleAssistant})
			t = &m.turns[len(m.turns)-1]
		}
		t.text += msg.Content
		m.setStreaming(true)
		m.refreshViewport()
		typing := m.startTyping()
		return m, tea.Batch(m.ws.ReadLoop(m.ctx), typing)

	case client.WSDoneMsg:
		m.debugLog.EndReply(debug.Done)
		if t := m.currentReply(); t != nil {
			t.done = true
			t.rendered = m.renderMarkdown(t.text)
		}
		m.statusBar.Replies++
		m.setStreaming(false)
		m.refreshViewport()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSErrorMsg:
		m.debugLog.Add(debug.KindErr, "← error "+msg.Content)
		m.turns = append(m.turns, turn{role: theme.RoleSystem, text: msg.Content, done: true, isError: true})
		m.refreshViewport()
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSSendFailedMsg:
		m.debugLog.Add(debug.KindErr, "send failed: "+msg.Err.Error())
		m.interruptReply()
		m.turns = append(m.turns, turn{role: theme.RoleSystem, text: "发送失败: " + msg.Err.Error(), done: true, isError: true})
		m.refreshViewport()
		return m, nil

	case welcomeMsg:
		if msg.err != nil {
			m.debugLog.Add(debug.KindHTTP, "welcome: "+msg.err.Error())
			return m, nil
		}
		m.statusBar.SetWelcome(msg.welcome)
		return m, nil

	case healthMsg:
		m.health.Loading = false
		if msg.err != nil {
			m.health.Err = msg.err.Error()
			m.debugLog.Add(debug.KindHTTP, "health: "+msg.err.Error())
			return m, nil
		}
		m.health.Err = ""
		m.health.Status = msg.status
		m.health.Devices = msg.devices
		return m, nil

	case typingTickMsg:
		if !m.streaming {
			m.animating = false
			m.dotPos, m.dotVel = 0, 0
			return m, nil
		}
		m.dotPos, m.dotVel = m.spring.Update(m.dotPos, m.dotVel, m.dotTarget)
		if math.Abs(m.dotPos-m.dotTarget) < 0.05 && math.Abs(m.dotVel) < 0.5 {
			m.dotTarget = 1 - m.dotTarget
		}
		return m, typingTick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.cancel()
		return m, tea.Quit
	}

	if m.overlay != OverlayNone {
		return m.handleOverlayKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Health):
		m.overlay = OverlayHealth
		m.health.Loading = true
		return m, m.fetchHealth()

	case key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayDebug
		return m, nil

	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfPageUp()
		return m, nil

	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfPageDown()
		return m, nil

	case key.Matches(msg, m.keys.Send):
		return m.send()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleOverlayKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.overlay = OverlayNone
	case m.overlay == OverlayHealth && key.Matches(msg, m.keys.Health):
		m.overlay = OverlayNone
	case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Debug):
		m.overlay = OverlayNone
	case m.overlay == OverlayHealth && key.Matches(msg, m.keys.Refresh):
		m.health.Loading = true
		return m, m.fetchHealth()
	case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Up):
		m.debugLog.ScrollUp(1)
	case m.overlay == OverlayDebug && key.Matches(msg, m.keys.Down):
		m.debugLog.ScrollDown(1)
	}
	return m, nil
}

// send submits the input line. A reply still being typed is abandoned;
// the server cancels it when the new message arrives.
func (m Model) send() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return m, nil
	}
	if !m.connected {
		m.turns = append(m.turns, turn{role: theme.RoleSystem, text: "未连接，消息未发送", done: true, isError: true})
		m.refreshViewport()
		return m, nil
	}

	m.input.Reset()
	cmd := m.beginExchange(text)
	m.refreshViewport()
	return m, cmd
}

func (m *Model) beginExchange(text string) tea.Cmd {
	m.interruptReply()
	m.turns = append(m.turns,
		turn{role: theme.RoleUser, text: text, done: true},
		turn{role: theme.RoleAssistant},
	)
	m.setStreaming(true)
	m.debugLog.Add(debug.KindChat, "→ chat "+text)
	return tea.Batch(m.ws.SendCmd(text), m.startTyping())
}

// currentReply returns the assistant turn still being typed, if any.
func (m *Model) currentReply() *turn {
	if len(m.turns) == 0 {
		return nil
	}
	t := &m.turns[len(m.turns)-1]
	if t.role != theme.RoleAssistant || t.done {
		// An error event may sit between the chunks of a reply.
		for i := len(m.turns) - 1; i >= 0; i-- {
			c := &m.turns[i]
			if c.role == theme.RoleUser {
				return nil
			}
			if c.role == theme.RoleAssistant && !c.done {
				return c
			}
		}
		return nil
	}
	return t
}

func (m *Model) interruptReply() {
	if t := m.currentReply(); t != nil {
		t.done = true
		t.interrupted = true
	}
	m.debugLog.EndReply(debug.Interrupted)
	m.setStreaming(false)
}

func (m *Model) setStreaming(on bool) {
	m.streaming = on
	m.statusBar.Streaming = on
}

func (m *Model) startTyping() tea.Cmd {
	if m.animating {
		return nil
	}
	m.animating = true
	return typingTick()
}

func typingTick() tea.Cmd {
	return tea.Tick(time.Second/typingFPS, func(t time.Time) tea.Msg {
		return typingTickMsg(t)
	})
}

func (m *Model) resize(width, height int) {
	m.width = width
	m.height = height
	m.statusBar.Width = width - 2
	m.input.Width = max(10, width-6)
	m.viewport.Width = width
	m.viewport.Height = max(3, height-chromeHeight)

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(max(20, width-4)),
	)
	if err != nil {
		m.logger.Warn("markdown renderer unavailable", zap.Error(err))
		r = nil
	}
	m.renderer = r
	for i := range m.turns {
		if t := &m.turns[i]; t.role == theme.RoleAssistant && t.done && !t.interrupted {
			t.rendered = m.renderMarkdown(t.text)
		}
	}
	m.refreshViewport()
}

func (m *Model) renderMarkdown(text string) string {
	if m.renderer == nil {
		return ""
	}
	out, err := m.renderer.Render(text)
	if err != nil {
		m.logger.Debug("markdown render failed", zap.Error(err))
		return ""
	}
	return strings.Trim(out, "\n")
}

func (m *Model) refreshViewport() {
	m.viewport.SetContent(m.renderConversation())
	m.viewport.GotoBottom()
}

func (m Model) renderConversation() string {
	if len(m.turns) == 0 {
		return theme.StyleDimmed.Render("  您好，我是小美AI助手，请问有什么可以帮您？")
	}

	wrap := lipgloss.NewStyle().Width(max(20, m.viewport.Width-2))
	var blocks []string
	for _, t := range m.turns {
		label := lipgloss.NewStyle().Bold(true).Foreground(theme.RoleColor(t.role)).Render(theme.RoleLabel(t.role))

		var body string
		switch {
		case t.isError:
			body = theme.StyleError.Render(t.text)
		case t.rendered != "":
			body = t.rendered
		default:
			body = wrap.Render(t.text)
		}
		if t.interrupted {
			body += " " + theme.StyleDimmed.Render("(已中断)")
		}
		blocks = append(blocks, label+"\n"+body)
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) fetchWelcome() tea.Cmd {
	if m.http == nil {
		return nil
	}
	h := m.http
	return func() tea.Msg {
		w, err := h.GetWelcome()
		return welcomeMsg{welcome: w, err: err}
	}
}

func (m Model) fetchHealth() tea.Cmd {
	if m.http == nil {
		return nil
	}
	h := m.http
	return func() tea.Msg {
		st, err := h.GetHealthStatus()
		if err != nil {
			return healthMsg{err: err}
		}
		devices, err := h.GetDevices()
		return healthMsg{status: st, devices: devices, err: err}
	}
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	var body string
	switch m.overlay {
	case OverlayHealth:
		body = lipgloss.Place(m.width, m.viewport.Height, lipgloss.Center, lipgloss.Center, m.health.View())
	case OverlayDebug:
		body = m.debugLog.View(m.width, m.viewport.Height)
	default:
		body = m.viewport.View()
	}

	sections := []string{m.statusBar.View()}
	if !m.connected {
		sections = append(sections, theme.StyleError.Render("  DISCONNECTED · Reconnecting..."))
	}
	sections = append(sections,
		body,
		m.typingLine(),
		theme.StyleBorder.Width(max(10, m.width-2)).Render(m.input.View()),
		theme.StyleDimmed.Render("  enter:send  pgup/pgdn:scroll  ctrl+h:health  ctrl+d:protocol log  esc:close  ctrl+c:quit"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) typingLine() string {
	if !m.streaming {
		return ""
	}
	offset := int(math.Round(m.dotPos * typingTravel))
	offset = min(max(offset, 0), typingTravel)
	dot := lipgloss.NewStyle().Foreground(theme.ColorAssistant).Render("●")
	return theme.StyleDimmed.Render(fmt.Sprintf("  %s正在输入 ", theme.RoleLabel(theme.RoleAssistant))) +
		strings.Repeat(" ", offset) + dot
}
