package ws

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/session"
	"github.com/health-companion/server/internal/typewriter"
)

// Server upgrades HTTP requests into chat sessions.
type Server struct {
	hub            *Hub
	store          *session.Store
	resolver       Resolver
	scheduler      *typewriter.Scheduler
	opts           Options
	logger         *zap.Logger
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	allowAll       bool
}

func NewServer(hub *Hub, store *session.Store, resolver Resolver, scheduler *typewriter.Scheduler, opts Options, allowedOrigins []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		hub:            hub,
		store:          store,
		resolver:       resolver,
		scheduler:      scheduler,
		opts:           opts.withDefaults(),
		logger:         logger,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range allowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			s.allowAll = true
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	if len(s.allowedOrigins) == 0 {
		s.allowAll = true
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// SetupRoutes registers the upgrade handler at /ws and for upgrade
// requests on /.
func (s *Server) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/ws", s.handleWS)
	r.HandleFunc("/", s.handleWS).MatcherFunc(isUpgrade)
}

func isUpgrade(r *http.Request, _ *mux.RouteMatch) bool {
	return websocket.IsWebSocketUpgrade(r)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub.Full() {
		http.Error(w, ErrTooManyConnections.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	id := uuid.NewString()
	sess := newSession(id, conn, s)
	s.store.Update(&session.SessionState{
		ID:          id,
		RemoteAddr:  r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		State:       session.Idle,
		ConnectedAt: time.Now(),
	})
	if err := s.hub.add(sess); err != nil {
		s.store.Remove(id)
		s.logger.Warn("rejecting connection", zap.String("remote", r.RemoteAddr), zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	s.logger.Info("client connected",
		zap.String("session", id),
		zap.String("remote", r.RemoteAddr),
		zap.Int("clients", s.hub.ClientCount()))

	sess.Serve()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.allowAll {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.allowedOrigins[origin] {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if s.allowedHosts[parsed.Host] || parsed.Host == r.Host {
		return true
	}

	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Listen binds the chat listener so bind failures surface before serving.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return ln, nil
}
