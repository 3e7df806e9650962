package ws

import (
	"errors"
	"fmt"

	"github.com/health-companion/server/internal/jsonx"
)

type MessageType string

const (
	// Inbound.
	MsgChat MessageType = "chat"

	// Outbound.
	MsgChunk MessageType = "chunk"
	MsgDone  MessageType = "done"
	MsgError MessageType = "error"
)

// ErrorContent is the diagnostic sent back for any inbound message that
// cannot be handled.
const ErrorContent = "消息处理失败"

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrUnsupportedKind  = errors.New("unsupported message type")
)

// InboundMessage is a parsed client frame.
type InboundMessage struct {
	Type    MessageType
	Content string
}

// Event is one outbound frame. Content is omitted for done events.
type Event struct {
	Type    MessageType `json:"type"`
	Content string      `json:"content,omitempty"`
}

func chunkEvent(content string) Event { return Event{Type: MsgChunk, Content: content} }
func doneEvent() Event                { return Event{Type: MsgDone} }
func errorEvent() Event               { return Event{Type: MsgError, Content: ErrorContent} }

type inboundFrame struct {
	Type    *string `json:"type"`
	Content *string `json:"content"`
}

// ParseInbound decodes a client frame. The only accepted shape is
// {"type":"chat","content":<string>}. Other well-formed types return
// ErrUnsupportedKind; anything else returns ErrMalformedMessage.
func ParseInbound(data []byte) (InboundMessage, error) {
	var f inboundFrame
	if err := jsonx.Unmarshal(data, &f); err != nil {
		return InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if f.Type == nil {
		return InboundMessage{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}

	msg := InboundMessage{Type: MessageType(*f.Type)}
	switch msg.Type {
	case MsgChat:
		if f.Content == nil {
			return msg, fmt.Errorf("%w: chat without content", ErrMalformedMessage)
		}
		msg.Content = *f.Content
		return msg, nil
	default:
		return msg, fmt.Errorf("%w: %q", ErrUnsupportedKind, *f.Type)
	}
}
