package ws

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/health-companion/server/internal/jsonx"
	"github.com/health-companion/server/internal/session"
	"github.com/health-companion/server/internal/typewriter"
)

const testFallback = "fallback"

type mapResolver map[string]string

func (m mapResolver) Resolve(text string) string {
	if r, ok := m[text]; ok {
		return r
	}
	return testFallback
}

type testEnv struct {
	srv   *httptest.Server
	hub   *Hub
	store *session.Store
	url   string
}

func newTestEnv(t *testing.T, interval time.Duration, maxConns int, replies mapResolver) *testEnv {
	t.Helper()
	return newTestEnvWith(t, typewriter.New(interval, 2), Options{SendBuffer: 64}, maxConns, replies)
}

func newTestEnvWith(t *testing.T, scheduler *typewriter.Scheduler, opts Options, maxConns int, replies mapResolver) *testEnv {
	t.Helper()

	hub := NewHub(maxConns)
	store := session.NewStore()
	chat := NewServer(hub, store, replies, scheduler, opts, nil, zap.NewNop())

	r := mux.NewRouter()
	chat.SetupRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.CloseAll()
		srv.Close()
	})

	return &testEnv{
		srv:   srv,
		hub:   hub,
		store: store,
		url:   "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(e.url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitForSession returns the single registered server-side session.
func (e *testEnv) waitForSession(t *testing.T) *Session {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e.hub.mu.RLock()
		for s := range e.hub.sessions {
			e.hub.mu.RUnlock()
			return s
		}
		e.hub.mu.RUnlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timed out waiting for session registration")
	return nil
}

func sendChat(t *testing.T, conn *websocket.Conn, content string) {
	t.Helper()
	if err := conn.WriteJSON(map[string]string{"type": "chat", "content": content}); err != nil {
		t.Fatalf("write chat: %v", err)
	}
}

func readEvent(t *testing.T, conn *websocket.Conn, timeout time.Duration) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var ev Event
	if err := jsonx.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event %q: %v", data, err)
	}
	return ev
}

// readUntilDone collects events up to and including the first done.
func readUntilDone(t *testing.T, conn *websocket.Conn) []Event {
	t.Helper()
	var events []Event
	for {
		ev := readEvent(t, conn, 2*time.Second)
		events = append(events, ev)
		if ev.Type == MsgDone {
			return events
		}
	}
}

// expectSilence fails if any frame arrives within d.
func expectSilence(t *testing.T, conn *websocket.Conn, d time.Duration) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(d))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("unexpected frame: %s", data)
	}
	var netErr interface{ Timeout() bool }
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("expected read timeout, got %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func chunkContents(events []Event) []string {
	var out []string
	for _, ev := range events {
		if ev.Type == MsgChunk {
			out = append(out, ev.Content)
		}
	}
	return out
}

func TestChatStreamsChunksThenDone(t *testing.T) {
	tests := []struct {
		reply string
		want  []string
	}{
		{"AB", []string{"AB"}},
		{"ABC", []string{"AB", "C"}},
		{"您好，我是", []string{"您好", "，我", "是"}},
	}

	env := newTestEnv(t, 5*time.Millisecond, 0, mapResolver{
		"AB": "AB", "ABC": "ABC", "您好，我是": "您好，我是",
	})
	conn := env.dial(t)

	for _, tt := range tests {
		sendChat(t, conn, tt.reply)
		events := readUntilDone(t, conn)
		got := chunkContents(events)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("%q: chunks = %q, want %q", tt.reply, got, tt.want)
		}
		if len(events) != len(tt.want)+1 {
			t.Errorf("%q: got %d events, want %d chunks + done", tt.reply, len(events), len(tt.want))
		}
	}
}

func TestChatUnmappedUsesResolverFallback(t *testing.T) {
	env := newTestEnv(t, 5*time.Millisecond, 0, mapResolver{})
	conn := env.dial(t)

	sendChat(t, conn, "unknown question")
	got := strings.Join(chunkContents(readUntilDone(t, conn)), "")
	if got != testFallback {
		t.Errorf("reply = %q, want %q", got, testFallback)
	}
}

func TestChatEmptyReplySendsOnlyDone(t *testing.T) {
	env := newTestEnv(t, time.Hour, 0, mapResolver{"empty": ""})
	conn := env.dial(t)

	sendChat(t, conn, "empty")
	ev := readEvent(t, conn, time.Second)
	if ev.Type != MsgDone {
		t.Fatalf("got %s, want done", ev.Type)
	}
}

func TestMalformedMessagesGetOneErrorEach(t *testing.T) {
	env := newTestEnv(t, 5*time.Millisecond, 0, mapResolver{"AB": "AB"})
	conn := env.dial(t)

	for _, raw := range []string{`not json`, `{"content":"x"}`, `{"type":"ping"}`, `{"type":"chat"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
			t.Fatalf("write %q: %v", raw, err)
		}
		ev := readEvent(t, conn, time.Second)
		if ev.Type != MsgError || ev.Content != ErrorContent {
			t.Fatalf("%q: got %+v, want error event", raw, ev)
		}
	}
	// The connection is still usable and no extra error was queued.
	sendChat(t, conn, "AB")
	events := readUntilDone(t, conn)
	if len(events) != 2 || events[0].Type != MsgChunk || events[0].Content != "AB" {
		t.Errorf("events after errors = %+v", events)
	}
}

func TestMalformedDuringStreamingLeavesReplyIntact(t *testing.T) {
	reply := strings.Repeat("健康", 10)
	env := newTestEnv(t, 10*time.Millisecond, 0, mapResolver{"q": reply})
	conn := env.dial(t)

	sendChat(t, conn, "q")
	first := readEvent(t, conn, time.Second)
	if first.Type != MsgChunk {
		t.Fatalf("first event = %s, want chunk", first.Type)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatalf("write: %v", err)
	}

	events := append([]Event{first}, readUntilDone(t, conn)...)
	errs := 0
	for _, ev := range events {
		if ev.Type == MsgError {
			errs++
		}
	}
	if errs != 1 {
		t.Errorf("got %d error events, want 1", errs)
	}
	if got := strings.Join(chunkContents(events), ""); got != reply {
		t.Errorf("reply = %q, want %q", got, reply)
	}
}

func TestSecondChatPreemptsFirst(t *testing.T) {
	first := strings.Repeat("a", 40)
	second := strings.Repeat("b", 6)
	env := newTestEnv(t, 15*time.Millisecond, 0, mapResolver{"a": first, "b": second})
	conn := env.dial(t)

	sendChat(t, conn, "a")
	if ev := readEvent(t, conn, time.Second); ev.Type != MsgChunk || ev.Content != "aa" {
		t.Fatalf("first event = %+v", ev)
	}
	sendChat(t, conn, "b")

	events := readUntilDone(t, conn)
	seenB := false
	var b strings.Builder
	for _, ev := range events {
		switch {
		case ev.Type == MsgChunk && ev.Content == "bb":
			seenB = true
			b.WriteString(ev.Content)
		case ev.Type == MsgChunk && seenB:
			t.Fatalf("chunk %q from the first reply after the second started", ev.Content)
		case ev.Type == MsgChunk:
			if ev.Content != "aa" {
				t.Fatalf("unexpected chunk %q", ev.Content)
			}
		}
	}
	if b.String() != second {
		t.Errorf("second reply = %q, want %q", b.String(), second)
	}

	// Exactly one done: the first reply never completes.
	expectSilence(t, conn, 100*time.Millisecond)

	sess := env.waitForSession(t)
	st, ok := env.store.Get(sess.ID())
	if !ok {
		t.Fatal("session missing from store")
	}
	if st.RepliesStarted != 2 || st.RepliesCompleted != 1 || st.RepliesPreempted != 1 {
		t.Errorf("counters started=%d completed=%d preempted=%d, want 2/1/1",
			st.RepliesStarted, st.RepliesCompleted, st.RepliesPreempted)
	}
}

func TestClientCloseStopsDelivery(t *testing.T) {
	env := newTestEnv(t, 10*time.Millisecond, 0, mapResolver{"q": strings.Repeat("x", 100)})
	conn := env.dial(t)
	sess := env.waitForSession(t)

	sendChat(t, conn, "q")
	readEvent(t, conn, time.Second)
	conn.Close()

	select {
	case <-sess.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session not closed after client disconnect")
	}

	if got := sess.State(); got != session.Terminated {
		t.Errorf("state = %s, want terminated", got)
	}
	queued := sess.queued.Load()
	time.Sleep(50 * time.Millisecond)
	if got := sess.queued.Load(); got != queued {
		t.Errorf("%d events queued after close", got-queued)
	}
	if env.store.Count() != 0 {
		t.Errorf("store still has %d sessions", env.store.Count())
	}
	if env.hub.ClientCount() != 0 {
		t.Errorf("hub still has %d clients", env.hub.ClientCount())
	}
}

func TestSessionStateMirroredInStore(t *testing.T) {
	env := newTestEnv(t, 20*time.Millisecond, 0, mapResolver{"q": "一二三四五六"})
	conn := env.dial(t)
	sess := env.waitForSession(t)

	st, ok := env.store.Get(sess.ID())
	if !ok || st.State != session.Idle {
		t.Fatalf("initial state = %+v, ok=%v", st, ok)
	}

	sendChat(t, conn, "q")
	readEvent(t, conn, time.Second)
	if st, _ := env.store.Get(sess.ID()); st.State != session.Streaming {
		t.Errorf("state while streaming = %s", st.State)
	}
	readUntilDone(t, conn)
	waitFor(t, func() bool {
		st, _ := env.store.Get(sess.ID())
		return st.State == session.Idle
	}, "state to return to idle")
	st, _ = env.store.Get(sess.ID())
	if st.MessageCount != 1 || st.LastMessageAt == nil {
		t.Errorf("message count = %d, last = %v", st.MessageCount, st.LastMessageAt)
	}
}

func TestCloseAllSendsGoingAway(t *testing.T) {
	env := newTestEnv(t, 5*time.Millisecond, 0, mapResolver{})
	conn := env.dial(t)
	env.waitForSession(t)

	env.hub.CloseAll()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if !env.hub.Full() {
		t.Error("closed hub should reject new sessions")
	}
}

func TestUpgradeOnRootPath(t *testing.T) {
	env := newTestEnv(t, 5*time.Millisecond, 0, mapResolver{"AB": "AB"})
	conn, _, err := websocket.DefaultDialer.Dial(strings.TrimSuffix(env.url, "/ws")+"/", nil)
	if err != nil {
		t.Fatalf("dial /: %v", err)
	}
	defer conn.Close()

	sendChat(t, conn, "AB")
	if got := chunkContents(readUntilDone(t, conn)); len(got) != 1 || got[0] != "AB" {
		t.Errorf("chunks = %q", got)
	}

	resp, err := http.Get(env.srv.URL + "/")
	if err != nil {
		t.Fatalf("plain GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("plain GET / = %d, want 404", resp.StatusCode)
	}
}

// waitClosed waits for the server side of sess to finish tearing down.
func waitClosed(t *testing.T, sess *Session, timeout time.Duration) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(timeout):
		t.Fatalf("session not closed after %v (state %v)", timeout, sess.State())
	}
}

// drain reads frames in the background until the connection fails, so
// control frames such as pings are processed.
func drain(conn *websocket.Conn) {
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func TestSlowClientIsDisconnected(t *testing.T) {
	const chunkRunes = 50000
	long := strings.Repeat("健", chunkRunes*120)
	env := newTestEnvWith(t, typewriter.New(time.Millisecond, chunkRunes),
		Options{SendBuffer: 4}, 0, mapResolver{"long": long})

	conn := env.dial(t)
	sess := env.waitForSession(t)

	// The client never reads, so socket buffers fill, the writer blocks
	// and the outbound queue overflows.
	sendChat(t, conn, "long")
	waitClosed(t, sess, 10*time.Second)

	if st := sess.State(); st != session.Terminated {
		t.Errorf("state = %v, want terminated", st)
	}
	if sess.queued.Load() < 4 {
		t.Errorf("queued = %d, want the buffer filled first", sess.queued.Load())
	}
	if env.store.Count() != 0 || env.hub.ClientCount() != 0 {
		t.Errorf("store=%d hub=%d after slow-client close, want 0/0", env.store.Count(), env.hub.ClientCount())
	}
}

func TestKeepaliveDropsUnresponsiveClient(t *testing.T) {
	env := newTestEnvWith(t, typewriter.New(10*time.Millisecond, 2),
		Options{SendBuffer: 16, PingInterval: 20 * time.Millisecond, PongWait: 60 * time.Millisecond}, 0, mapResolver{})

	conn := env.dial(t)
	conn.SetPingHandler(func(string) error { return nil })
	drain(conn)
	sess := env.waitForSession(t)

	waitClosed(t, sess, 2*time.Second)
	if st := sess.State(); st != session.Terminated {
		t.Errorf("state = %v, want terminated", st)
	}
	if env.hub.ClientCount() != 0 {
		t.Errorf("hub still has %d clients", env.hub.ClientCount())
	}
}

func TestKeepaliveKeepsResponsiveClient(t *testing.T) {
	// PongWait is left unset and defaults to twice the ping interval.
	env := newTestEnvWith(t, typewriter.New(10*time.Millisecond, 2),
		Options{SendBuffer: 16, PingInterval: 20 * time.Millisecond}, 0, mapResolver{})

	conn := env.dial(t)
	drain(conn) // the default ping handler answers with a pong
	sess := env.waitForSession(t)

	select {
	case <-sess.Done():
		t.Fatal("session closed although the client answers pings")
	case <-time.After(300 * time.Millisecond):
	}
	if st := sess.State(); st != session.Idle {
		t.Errorf("state = %v, want idle", st)
	}
}
