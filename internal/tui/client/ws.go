package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/jsonx"
)

const (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
	writeTimeout       = 10 * time.Second
	pongTimeout        = 60 * time.Second
	pingInterval       = 30 * time.Second
)

var ErrNotConnected = errors.New("not connected")

// WSClient manages the chat connection.
type WSClient struct {
	url    string
	logger *zap.Logger

	mu      sync.Mutex
	writeMu sync.Mutex // serialises all conn writes (ping, chat)
	conn    *websocket.Conn
	pingCtx context.CancelFunc // cancels the active ping goroutine
}

// NewWSClient creates a client that connects to the given WebSocket URL.
func NewWSClient(url string, logger *zap.Logger) *WSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSClient{url: url, logger: logger}
}

// --- Bubble Tea messages ---

// WSConnectedMsg is sent when the WebSocket connects.
type WSConnectedMsg struct{}

// WSDisconnectedMsg is sent when the connection drops.
type WSDisconnectedMsg struct{ Err error }

// WSChunkMsg carries the next piece of the reply being typed.
type WSChunkMsg struct{ Content string }

// WSDoneMsg marks the end of a reply.
type WSDoneMsg struct{}

// WSErrorMsg carries a server-side diagnostic.
type WSErrorMsg struct{ Content string }

// WSSendFailedMsg reports a chat message that could not be written.
type WSSendFailedMsg struct{ Err error }

// Listen returns a Bubble Tea command that connects, retrying with
// exponential backoff until it succeeds or ctx is cancelled.
func (c *WSClient) Listen(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		delay := reconnectBaseDelay
		for {
			select {
			case <-ctx.Done():
				return nil
			default:
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
			if err != nil {
				c.logger.Debug("ws dial failed", zap.Error(err), zap.Duration("retry_in", delay))
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(delay):
				}
				delay = min(delay*2, reconnectMaxDelay)
				continue
			}

			// Cancel any previous ping goroutine.
			c.mu.Lock()
			if c.pingCtx != nil {
				c.pingCtx()
			}
			pingCtx, pingCancel := context.WithCancel(ctx)
			c.conn = conn
			c.pingCtx = pingCancel
			c.mu.Unlock()

			go c.pingLoop(pingCtx, conn)

			c.logger.Info("ws connected", zap.String("url", c.url))
			return WSConnectedMsg{}
		}
	}
}

// ReadLoop returns a Bubble Tea command that reads frames until one
// produces a message. It should be re-issued after every message.
func (c *WSClient) ReadLoop(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return WSDisconnectedMsg{Err: ErrNotConnected}
		}

		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongTimeout))
			return nil
		})
		conn.SetReadDeadline(time.Now().Add(pongTimeout))

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				c.mu.Lock()
				if c.conn == conn {
					c.conn = nil
				}
				c.mu.Unlock()
				conn.Close()
				c.logger.Info("ws disconnected", zap.Error(err))
				return WSDisconnectedMsg{Err: err}
			}

			var f Frame
			if err := jsonx.Unmarshal(data, &f); err != nil {
				c.logger.Debug("ignoring undecodable frame", zap.Error(err))
				continue
			}
			if msg := dispatch(f); msg != nil {
				return msg
			}
		}
	}
}

// pingLoop sends periodic pings on the given connection. It exits when the
// context is cancelled or the connection changes.
func (c *WSClient) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			cc := c.conn
			c.mu.Unlock()
			if cc != conn {
				return
			}
			c.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// Send writes a chat message.
func (c *WSClient) Send(content string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := jsonx.Marshal(chatFrame{Type: MsgChat, Content: content})
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("sending chat: %w", err)
	}
	return nil
}

// SendCmd wraps Send as a Bubble Tea command. It yields a message only on
// failure.
func (c *WSClient) SendCmd(content string) tea.Cmd {
	return func() tea.Msg {
		if err := c.Send(content); err != nil {
			return WSSendFailedMsg{Err: err}
		}
		return nil
	}
}

// Close drops the current connection, if any.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pingCtx != nil {
		c.pingCtx()
		c.pingCtx = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func dispatch(f Frame) tea.Msg {
	switch f.Type {
	case MsgChunk:
		return WSChunkMsg{Content: f.Content}
	case MsgDone:
		return WSDoneMsg{}
	case MsgError:
		return WSErrorMsg{Content: f.Content}
	}
	return nil
}
