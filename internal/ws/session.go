package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/jsonx"
	"github.com/health-companion/server/internal/session"
	"github.com/health-companion/server/internal/typewriter"
)

const (
	writeWait         = 10 * time.Second
	maxMessageSize    = 64 * 1024
	defaultSendBuffer = 256
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("client send buffer full")

	// errSuperseded stops a delivery whose reply was preempted between a
	// tick firing and the chunk being queued.
	errSuperseded = errors.New("reply superseded")
)

// Resolver turns a user message into the full reply text.
type Resolver interface {
	Resolve(text string) string
}

// Options are the per-connection settings shared by every session.
type Options struct {
	SendBuffer   int
	PingInterval time.Duration // 0 disables keepalive pings
	PongWait     time.Duration // must exceed PingInterval; defaults to twice it
}

func (o Options) withDefaults() Options {
	if o.SendBuffer < 1 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.PingInterval < 0 {
		o.PingInterval = 0
	}
	if o.PingInterval > 0 && o.PongWait <= o.PingInterval {
		o.PongWait = 2 * o.PingInterval
	}
	return o
}

// Session owns one chat connection. A reader goroutine handles inbound
// frames in order, a writer goroutine drains the outbound queue, and at
// most one typewriter delivery is active at a time.
type Session struct {
	id        string
	conn      *websocket.Conn
	resolver  Resolver
	scheduler *typewriter.Scheduler
	store     *session.Store
	hub       *Hub
	logger    *zap.Logger
	opts      Options

	// mu guards everything below and is held while queueing outbound
	// frames, so nothing from a superseded reply is queued once a newer
	// chat message has been accepted. It is never held while cancelling
	// a delivery.
	mu     sync.Mutex
	send   chan []byte
	active *typewriter.Handle
	gen    uint64
	state  session.State
	closed bool

	closeOnce sync.Once
	done      chan struct{}
	queued    atomic.Int64
}

func newSession(id string, conn *websocket.Conn, srv *Server) *Session {
	return &Session{
		id:        id,
		conn:      conn,
		resolver:  srv.resolver,
		scheduler: srv.scheduler,
		store:     srv.store,
		hub:       srv.hub,
		logger:    srv.logger.With(zap.String("session", id)),
		opts:      srv.opts,
		send:      make(chan []byte, srv.opts.SendBuffer),
		state:     session.Idle,
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// State returns the session's current lifecycle state.
func (s *Session) State() session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Serve runs the session until the connection closes. It blocks.
func (s *Session) Serve() {
	go s.writePump()
	s.readPump()
}

func (s *Session) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(maxMessageSize)
	if s.opts.PingInterval > 0 {
		s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.opts.PongWait))
		})
	}

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				s.logger.Info("connection error", zap.Error(err))
			} else {
				s.logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
		s.handle(data)
	}
}

func (s *Session) writePump() {
	var ping <-chan time.Time
	if s.opts.PingInterval > 0 {
		ticker := time.NewTicker(s.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer s.Close()

	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				return
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ping:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

func (s *Session) handle(data []byte) {
	now := time.Now()
	s.store.Mutate(s.id, func(st *session.SessionState) {
		st.MessageCount++
		st.LastMessageAt = &now
	})

	msg, err := ParseInbound(data)
	if err != nil {
		s.logger.Debug("rejecting inbound message", zap.Error(err), zap.Int("bytes", len(data)))
		s.sendError()
		return
	}

	switch msg.Type {
	case MsgChat:
		s.startReply(msg.Content)
	}
}

func (s *Session) sendError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err := s.enqueueLocked(errorEvent()); err != nil {
		return
	}
	s.store.Mutate(s.id, func(st *session.SessionState) { st.ErrorsSent++ })
}

// startReply preempts any delivery in progress and starts typing the
// reply for text.
func (s *Session) startReply(text string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.active
	s.active = nil
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	if prev != nil {
		prev.Cancel()
		s.store.Mutate(s.id, func(st *session.SessionState) { st.RepliesPreempted++ })
		s.logger.Debug("reply preempted", zap.Uint64("reply", gen-1))
	}

	full := s.resolver.Resolve(text)

	emit := func(chunk string) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed {
			return ErrSessionClosed
		}
		if s.gen != gen {
			return errSuperseded
		}
		return s.enqueueLocked(chunkEvent(chunk))
	}
	onDone := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.gen != gen {
			return
		}
		if err := s.enqueueLocked(doneEvent()); err != nil {
			return
		}
		s.active = nil
		s.setStateLocked(session.Idle)
		s.store.Mutate(s.id, func(st *session.SessionState) { st.RepliesCompleted++ })
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.gen != gen {
		return
	}
	s.active = s.scheduler.Start(full, emit, onDone)
	s.setStateLocked(session.Streaming)
	s.store.Mutate(s.id, func(st *session.SessionState) { st.RepliesStarted++ })
	s.logger.Debug("reply started",
		zap.Uint64("reply", gen),
		zap.Int("runes", len([]rune(full))))
}

// setStateLocked records a state transition. Caller must hold s.mu.
func (s *Session) setStateLocked(st session.State) {
	s.state = st
	s.store.Mutate(s.id, func(ss *session.SessionState) { ss.State = st })
}

// enqueueLocked queues ev for the writer. A full queue means the client
// is not reading; the session is closed rather than blocking the
// delivery. Caller must hold s.mu.
func (s *Session) enqueueLocked(ev Event) error {
	data, err := jsonx.Marshal(ev)
	if err != nil {
		s.logger.Error("marshal event", zap.Error(err))
		return err
	}
	select {
	case s.send <- data:
		s.queued.Add(1)
		return nil
	default:
		s.logger.Warn("client too slow, disconnecting")
		go s.Close()
		return ErrSlowClient
	}
}

// Close tears the session down: the active delivery is cancelled, the
// outbound queue is closed, and the connection is released. Safe to call
// more than once and from any goroutine.
func (s *Session) Close() {
	s.closeWith(0, "")
}

// Shutdown is Close with a going-away close frame sent first.
func (s *Session) Shutdown() {
	s.closeWith(websocket.CloseGoingAway, "server shutting down")
}

func (s *Session) closeWith(code int, reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		active := s.active
		s.active = nil
		s.gen++
		s.state = session.Terminated
		close(s.send)
		s.mu.Unlock()

		if active != nil {
			active.Cancel()
		}

		if code != 0 {
			msg := websocket.FormatCloseMessage(code, reason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		}
		s.conn.Close()

		s.store.Remove(s.id)
		s.hub.remove(s)
		close(s.done)
		s.logger.Info("session closed")
	})
}
