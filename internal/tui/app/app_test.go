package app

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/health-companion/server/internal/tui/client"
	"github.com/health-companion/server/internal/tui/theme"
)

func newModel(t *testing.T) Model {
	t.Helper()
	m := New(nil, nil, nil)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return updated.(Model)
}

func step(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	updated, _ := m.Update(msg)
	return updated.(Model)
}

func connected(t *testing.T) Model {
	t.Helper()
	return step(t, newModel(t), client.WSConnectedMsg{})
}

func lastTurn(m Model) turn {
	return m.turns[len(m.turns)-1]
}

func TestViewBeforeResize(t *testing.T) {
	m := New(nil, nil, nil)
	if got := m.View(); got != "Initializing..." {
		t.Errorf("View() = %q", got)
	}
}

func TestDisconnectedBanner(t *testing.T) {
	m := newModel(t)
	v := m.View()
	if !strings.Contains(v, "DISCONNECTED") || !strings.Contains(v, "Reconnecting") {
		t.Error("disconnected banner missing")
	}

	m = step(t, m, client.WSConnectedMsg{})
	if strings.Contains(m.View(), "DISCONNECTED") {
		t.Error("banner should clear once connected")
	}
}

func TestChunksAccumulateUntilDone(t *testing.T) {
	m := connected(t)
	m.beginExchange("我最近睡眠不好")

	for _, c := range []string{"睡", "眠", "很重要"} {
		m = step(t, m, client.WSChunkMsg{Content: c})
	}
	if got := lastTurn(m); got.text != "睡眠很重要" || got.done {
		t.Fatalf("streaming turn = %+v", got)
	}
	if !m.streaming || !m.statusBar.Streaming {
		t.Error("model should be streaming")
	}

	m = step(t, m, client.WSDoneMsg{})
	got := lastTurn(m)
	if !got.done || got.interrupted {
		t.Errorf("finished turn = %+v", got)
	}
	if got.rendered == "" {
		t.Error("finished reply should be rendered as markdown")
	}
	if m.streaming {
		t.Error("streaming should stop on done")
	}
	if m.statusBar.Replies != 1 {
		t.Errorf("Replies = %d, want 1", m.statusBar.Replies)
	}
}

func TestNewMessageInterruptsReply(t *testing.T) {
	m := connected(t)
	m.beginExchange("first")
	m = step(t, m, client.WSChunkMsg{Content: "半"})
	m.beginExchange("second")

	if len(m.turns) != 4 {
		t.Fatalf("turns = %d, want 4", len(m.turns))
	}
	first := m.turns[1]
	if !first.interrupted || first.text != "半" {
		t.Errorf("first reply = %+v, want interrupted", first)
	}
	if cur := lastTurn(m); cur.role != theme.RoleAssistant || cur.done {
		t.Errorf("current reply = %+v", cur)
	}
	if !strings.Contains(m.renderConversation(), "(已中断)") {
		t.Error("interrupted marker missing")
	}
}

func TestErrorEventKeepsReplyStreaming(t *testing.T) {
	m := connected(t)
	m.beginExchange("hi")
	m = step(t, m, client.WSChunkMsg{Content: "A"})
	m = step(t, m, client.WSErrorMsg{Content: "消息处理失败"})
	m = step(t, m, client.WSChunkMsg{Content: "B"})
	m = step(t, m, client.WSDoneMsg{})

	reply := m.turns[1]
	if reply.text != "AB" || !reply.done {
		t.Errorf("reply = %+v, want AB done", reply)
	}
	errTurn := m.turns[2]
	if !errTurn.isError || errTurn.text != "消息处理失败" {
		t.Errorf("error turn = %+v", errTurn)
	}
}

func TestEnterWhileDisconnected(t *testing.T) {
	m := newModel(t)
	m.input.SetValue("你好")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})

	if len(m.turns) != 1 || m.turns[0].role != theme.RoleSystem {
		t.Fatalf("turns = %+v, want a single system notice", m.turns)
	}
	if m.input.Value() != "你好" {
		t.Error("input should be kept for retry")
	}
}

func TestEnterSends(t *testing.T) {
	m := connected(t)
	m.input.SetValue("  你好  ")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(Model)

	if cmd == nil {
		t.Error("enter should produce a send command")
	}
	if m.turns[0].text != "你好" || m.turns[0].role != theme.RoleUser {
		t.Errorf("user turn = %+v", m.turns[0])
	}
	if m.input.Value() != "" {
		t.Error("input should be cleared")
	}
}

func TestEnterIgnoresBlank(t *testing.T) {
	m := connected(t)
	m.input.SetValue("   ")
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if len(m.turns) != 0 {
		t.Errorf("turns = %d, want 0", len(m.turns))
	}
}

func TestDisconnectInterruptsReply(t *testing.T) {
	m := connected(t)
	m.beginExchange("hi")
	m = step(t, m, client.WSChunkMsg{Content: "A"})
	m = step(t, m, client.WSDisconnectedMsg{Err: errors.New("eof")})

	if !lastTurn(m).interrupted {
		t.Error("reply should be interrupted on disconnect")
	}
	if m.connected || m.streaming {
		t.Error("model should be idle and disconnected")
	}
}

func TestSendFailed(t *testing.T) {
	m := connected(t)
	m.beginExchange("hi")
	m = step(t, m, client.WSSendFailedMsg{Err: client.ErrNotConnected})

	if !m.turns[1].interrupted {
		t.Error("pending reply should be interrupted")
	}
	if got := lastTurn(m); !got.isError || !strings.Contains(got.text, "发送失败") {
		t.Errorf("last turn = %+v", got)
	}
}

func TestOverlayToggles(t *testing.T) {
	m := connected(t)

	m = step(t, m, tea.KeyMsg{Type: tea.KeyCtrlH})
	if m.overlay != OverlayHealth || !m.health.Loading {
		t.Fatalf("overlay = %d loading = %v", m.overlay, m.health.Loading)
	}
	m = step(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.overlay != OverlayNone {
		t.Error("esc should close the overlay")
	}

	m = step(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	if m.overlay != OverlayDebug {
		t.Fatal("ctrl+d should open the protocol log")
	}
	if !strings.Contains(m.View(), "PROTOCOL LOG") {
		t.Error("protocol log not rendered")
	}
	m = step(t, m, tea.KeyMsg{Type: tea.KeyCtrlD})
	if m.overlay != OverlayNone {
		t.Error("ctrl+d should toggle the protocol log off")
	}
}

func TestHealthResult(t *testing.T) {
	m := connected(t)
	m = step(t, m, tea.KeyMsg{Type: tea.KeyCtrlH})
	m = step(t, m, healthMsg{
		status:  &client.HealthStatus{StatusText: "您的健康指标处于正常范围"},
		devices: []client.Device{{ID: 1, Name: "智能手表"}},
	})

	if m.health.Loading || m.health.Status == nil || len(m.health.Devices) != 1 {
		t.Errorf("health = %+v", m.health)
	}
	if !strings.Contains(m.View(), "智能手表") {
		t.Error("health overlay should list devices")
	}

	m = step(t, m, healthMsg{err: errors.New("boom")})
	if m.health.Err != "boom" {
		t.Errorf("Err = %q", m.health.Err)
	}
}

func TestWelcomeInHeader(t *testing.T) {
	m := newModel(t)
	m = step(t, m, welcomeMsg{welcome: &client.Welcome{Greeting: "下午好，王先生"}})
	if !strings.Contains(m.View(), "下午好，王先生") {
		t.Error("greeting should appear in the status bar")
	}
}

func TestTypingIndicatorMoves(t *testing.T) {
	m := connected(t)
	m.beginExchange("hi")

	for range 10 {
		m = step(t, m, typingTickMsg(time.Now()))
	}
	if m.dotPos <= 0 {
		t.Errorf("dotPos = %v, want > 0 after ticks", m.dotPos)
	}
	if !strings.Contains(m.typingLine(), "正在输入") {
		t.Error("typing line missing while streaming")
	}

	m = step(t, m, client.WSDoneMsg{})
	m = step(t, m, typingTickMsg(time.Now()))
	if m.animating || m.dotPos != 0 {
		t.Error("animation should stop once the reply is done")
	}
	if m.typingLine() != "" {
		t.Error("typing line should be empty when idle")
	}
}
