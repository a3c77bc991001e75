package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"MeetChat/module/chat/model"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// fakeTimer records what the session scheduled; tests fire it by hand.
type fakeTimer struct {
	d       time.Duration
	f       func()
	mu      sync.Mutex
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	t.fired = true
	t.mu.Unlock()
	t.f()
}

func (t *fakeTimer) active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.stopped && !t.fired
}

type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// pending is the one timer still armed, or nil.
func (c *fakeTimers) pending() *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out *fakeTimer
	for _, t := range c.timers {
		if t.active() {
			out = t
		}
	}
	return out
}

func (c *fakeTimers) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.active() {
			n++
		}
	}
	return n
}

type failingDialer struct {
	calls atomic.Int32
}

func (d *failingDialer) DialContext(context.Context, string, http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	return nil, nil, errors.New("connection refused")
}

func staticToken(tok string) func() (string, error) {
	return func() (string, error) { return tok, nil }
}

// chatServer is a minimal gateway plus room API: it answers ping with pong, echoes
// sendMessage as a message push and rejects a few magic contents.
type chatServer struct {
	ts       *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   []*websocket.Conn
	history []model.Message
	sends   []map[string]any

	pings   atomic.Int32
	accepts atomic.Int32
}

const testToken = "tok"

func newChatServer(t *testing.T) *chatServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := &chatServer{}
	r := gin.New()
	r.GET("/chat/ws", s.ws)
	r.GET("/chat/rooms/:roomId", s.room)
	r.POST("/chat/rooms/:roomId/read", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	s.ts = httptest.NewServer(r)
	t.Cleanup(func() {
		s.dropAll()
		s.ts.Close()
	})
	return s
}

func (s *chatServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/chat/ws"
}

func (s *chatServer) setHistory(msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = msgs
}

func (s *chatServer) sent() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.sends...)
}

// dropAll closes every accepted socket from the server side.
func (s *chatServer) dropAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (s *chatServer) room(c *gin.Context) {
	if c.GetHeader("Authorization") != "Bearer "+testToken {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": "not authenticated"}})
		return
	}
	s.mu.Lock()
	msgs := append([]model.Message(nil), s.history...)
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": model.RoomDetail{
		Room:     model.Room{RoomID: c.Param("roomId"), ParticipantIDs: []string{"alice", "bob"}, Type: model.RoomDirect},
		Messages: msgs,
	}})
}

func (s *chatServer) ws(c *gin.Context) {
	if c.Query("token") != testToken {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.accepts.Add(1)
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	go s.serve(conn)
}

func (s *chatServer) serve(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f map[string]any
		if json.Unmarshal(raw, &f) != nil {
			continue
		}
		switch f["action"] {
		case "ping":
			s.pings.Add(1)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`))
		case "sendMessage":
			s.mu.Lock()
			s.sends = append(s.sends, f)
			s.mu.Unlock()
			_ = conn.WriteJSON(s.reply(f))
		default:
			_ = conn.WriteJSON(map[string]any{"type": "diagnostic", "message": "Default route", "route": f["action"]})
		}
	}
}

func (s *chatServer) reply(f map[string]any) any {
	id, _ := f["clientMessageId"].(string)
	content, _ := f["content"].(string)
	switch content {
	case "verify":
		return map[string]any{"type": "VERIFICATION_REQUIRED", "message": "verify first", "clientMessageId": id}
	case "forbidden":
		return map[string]any{"type": "error", "code": "NOT_PARTICIPANT", "message": "no", "clientMessageId": id}
	}
	now := time.Now()
	return map[string]any{"type": "message", "data": map[string]any{
		"messageId":   id,
		"chatRoomId":  f["roomId"],
		"senderId":    "alice",
		"content":     content,
		"messageType": "user",
		"createdAt":   now.UTC().Format(time.RFC3339Nano),
		"timestamp":   now.UnixMilli(),
	}}
}

func newTestSession(url string, timers *fakeTimers, clock func() time.Time) *Session {
	return NewSession(SessionOptions{
		URL:       url,
		Token:     staticToken(testToken),
		AfterFunc: timers.AfterFunc,
		Clock:     clock,
	})
}

func connectOpen(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Connect(ctx))
	require.Equal(t, StateOpen, s.State())
}
