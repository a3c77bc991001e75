package chat

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"MeetChat/logger"
	"MeetChat/tools/errs"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ===== 配置 =====

type ManagerConf struct {
	SendQueue    int           // 每个连接的发送队列长度，默认 256
	WriteWait    time.Duration // 单次写超时，默认 10s
	PongWait     time.Duration // 读超时，每个 pong 续期，默认 60s
	PingInterval time.Duration // 必须小于 PongWait，默认 25s
	MaxFrameSize int64         // 单帧上限，默认 64KiB
	Clock        func() time.Time
}

func (c *ManagerConf) norm() {
	if c.SendQueue <= 0 {
		c.SendQueue = 256
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongWait {
		c.PingInterval = c.PongWait * 5 / 12
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = 64 << 10
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// ===== 数据结构 =====

// ErrSendQueueFull is a transient push failure: the connection is alive but not draining.
var ErrSendQueueFull = errors.New("send queue full")

type ConnState int32

const (
	StateConnecting    ConnState = iota // 已升级，未鉴权
	StateAuthenticated                  // 已鉴权，未写入注册表
	StateActive                         // 注册表可查，可收发
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// WsConn is one socket held by this gateway. Only the writer goroutine writes to Conn.
type WsConn struct {
	ID     string
	UserID string

	Conn      *websocket.Conn
	Remote    net.Addr
	CreatedAt time.Time

	state     atomic.Int32
	send      chan []byte   // 写协程独占消费
	done      chan struct{} // 关闭信号
	closeOnce sync.Once
	closeCode int
	closeText string
}

func NewWsConn(id, userID string, conn *websocket.Conn, queue int, now time.Time) *WsConn {
	c := &WsConn{
		ID:        id,
		UserID:    userID,
		Conn:      conn,
		CreatedAt: now,
		send:      make(chan []byte, queue),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
	if conn != nil {
		c.Remote = conn.RemoteAddr()
	}
	return c
}

func (c *WsConn) State() ConnState     { return ConnState(c.state.Load()) }
func (c *WsConn) SetState(s ConnState) { c.state.Store(int32(s)) }

// Done is closed once the connection starts shutting down.
func (c *WsConn) Done() <-chan struct{} { return c.done }

// Push queues a frame without blocking. A closed connection yields errs.ErrGone.
func (c *WsConn) Push(payload []byte) error {
	select {
	case <-c.done:
		return errs.ErrGone
	default:
	}
	select {
	case <-c.done:
		return errs.ErrGone
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// PushFrame encodes v and queues it.
func (c *WsConn) PushFrame(v any) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	return c.Push(b)
}

// CloseWith stops the writer, which sends a close frame with code and closes the socket.
func (c *WsConn) CloseWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		c.SetState(StateClosed)
		close(c.done)
	})
}

// ===== 连接管理 =====

// ConnManager indexes the sockets of this gateway by connection id and by user.
type ConnManager struct {
	mu     sync.RWMutex
	bySnow map[string]*WsConn
	byUser map[string]map[string]*WsConn

	conf ManagerConf
	gwID string
	log  *zap.Logger
}

func NewConnManager(gwID string, conf ManagerConf) *ConnManager {
	conf.norm()
	return &ConnManager{
		bySnow: make(map[string]*WsConn),
		byUser: make(map[string]map[string]*WsConn),
		conf:   conf,
		gwID:   gwID,
		log:    logger.L("conn"),
	}
}

func (m *ConnManager) GatewayID() string { return m.gwID }

func (m *ConnManager) Conf() ManagerConf { return m.conf }

// NewConn builds a connection sized by the manager's configuration.
func (m *ConnManager) NewConn(id, userID string, ws *websocket.Conn) *WsConn {
	return NewWsConn(id, userID, ws, m.conf.SendQueue, m.conf.Clock())
}

func (m *ConnManager) Add(c *WsConn) error {
	if c == nil || c.ID == "" || c.UserID == "" {
		return errors.New("conn id/user empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySnow[c.ID]; exists {
		return errors.Errorf("conn %s exists", c.ID)
	}
	m.bySnow[c.ID] = c
	if m.byUser[c.UserID] == nil {
		m.byUser[c.UserID] = make(map[string]*WsConn)
	}
	m.byUser[c.UserID][c.ID] = c
	return nil
}

func (m *ConnManager) Get(id string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.bySnow[id]
	return c, ok
}

// Remove drops the connection from both indexes and starts its shutdown.
func (m *ConnManager) Remove(id string) {
	m.mu.Lock()
	c, ok := m.bySnow[id]
	if ok {
		delete(m.bySnow, id)
		if mm := m.byUser[c.UserID]; mm != nil {
			delete(mm, id)
			if len(mm) == 0 {
				delete(m.byUser, c.UserID)
			}
		}
	}
	m.mu.Unlock()

	if ok {
		c.CloseWith(websocket.CloseNormalClosure, "")
	}
}

// Push delivers to a local connection. Unknown or closed connections yield errs.ErrGone.
func (m *ConnManager) Push(id string, payload []byte) error {
	c, ok := m.Get(id)
	if !ok {
		return errs.ErrGone
	}
	return c.Push(payload)
}

func (m *ConnManager) ListUserConns(user string) []*WsConn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*WsConn, 0, len(m.byUser[user]))
	for _, c := range m.byUser[user] {
		out = append(out, c)
	}
	return out
}

func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.bySnow)
}

// Close shuts every connection down with 1001 going away.
func (m *ConnManager) Close() {
	m.mu.Lock()
	all := make([]*WsConn, 0, len(m.bySnow))
	for _, c := range m.bySnow {
		all = append(all, c)
	}
	m.bySnow = map[string]*WsConn{}
	m.byUser = map[string]map[string]*WsConn{}
	m.mu.Unlock()

	for _, c := range all {
		c.CloseWith(websocket.CloseGoingAway, "server shutdown")
	}
}

// ===== 写协程 =====

// writeLoop is the only writer of c.Conn: queued frames, periodic pings, then the close frame.
func (m *ConnManager) writeLoop(c *WsConn) {
	ticker := time.NewTicker(m.conf.PingInterval)
	defer func() {
		ticker.Stop()
		deadline := time.Now().Add(m.conf.WriteWait)
		_ = c.Conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(c.closeCode, c.closeText), deadline)
		_ = c.Conn.Close()
		m.log.Debug("writer closed", zap.String("connId", c.ID), zap.String("userId", c.UserID))
	}()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(m.conf.WriteWait))
			if err := c.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				m.log.Info("write frame", zap.String("connId", c.ID), zap.Error(err))
				c.CloseWith(websocket.CloseGoingAway, "")
				return
			}
		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(m.conf.WriteWait)); err != nil {
				m.log.Info("write ping", zap.String("connId", c.ID), zap.Error(err))
				c.CloseWith(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}
