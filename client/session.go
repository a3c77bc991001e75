package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"MeetChat/logger"
	"MeetChat/tools/safe"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	ErrNoCredential = errors.New("no access token available")
	ErrNotConnected = errors.New("websocket is not connected")
	ErrClosed       = errors.New("session closed")
)

// Dialer opens the websocket; *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Timer interface {
	Stop() bool
}

type SessionOptions struct {
	// URL of the gateway endpoint; the token is added as ?token=.
	URL   string
	Token func() (string, error)

	BaseDelay        time.Duration // first reconnect delay, default 1s
	MaxAttempts      int           // reconnects before giving up, default 5
	Heartbeat        time.Duration // ping interval while open, default 30s
	HiddenThreshold  time.Duration // hidden longer than this forces a reconnect, default 30s
	HandshakeTimeout time.Duration // for reconnects, default 10s
	WriteWait        time.Duration // default 10s

	Dialer Dialer
	// AfterFunc schedules f on another goroutine, like time.AfterFunc. It must not call f
	// before returning.
	AfterFunc func(d time.Duration, f func()) Timer
	Clock     func() time.Time
	Logger    *zap.Logger
}

func (o *SessionOptions) norm() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.MaxAttempts > maxAttemptsLimit {
		o.MaxAttempts = maxAttemptsLimit
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 30 * time.Second
	}
	if o.HiddenThreshold <= 0 {
		o.HiddenThreshold = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.AfterFunc == nil {
		o.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = logger.L("session")
	}
}

type pending struct {
	done chan struct{}
	err  error
}

func (p *pending) finish(err error) {
	p.err = err
	close(p.done)
}

func (p *pending) wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Session owns one websocket to the gateway. It reconnects with exponential backoff after an
// unexpected close and keeps the connection alive with pings. A single timer drives both:
// the heartbeat while open, the backoff while reconnecting.
type Session struct {
	opts SessionOptions
	log  *zap.Logger

	mu       sync.Mutex
	state    State
	conn     *websocket.Conn
	gen      uint64 // bumped whenever the current socket is abandoned
	timer    Timer
	timerSeq uint64
	bo       backoff.BackOff
	attempts int
	inflight *pending
	hidden   bool
	hiddenAt time.Time

	writeMu sync.Mutex

	subMu     sync.RWMutex
	nextSub   uint64
	msgSubs   []subscriber[Event]
	stateSubs []subscriber[State]
}

func NewSession(opts SessionOptions) *Session {
	safe.MustNotNil(opts.Token, "token source")
	opts.norm()
	return &Session{
		opts:  opts,
		log:   opts.Logger,
		state: StateIdle,
		bo:    newBackOff(opts.BaseDelay, opts.MaxAttempts),
	}
}

const (
	// MaxReconnectDelay caps a single backoff delay.
	MaxReconnectDelay = 5 * time.Minute
	maxAttemptsLimit  = 50
)

// newBackOff yields base, 2*base, 4*base... up to MaxReconnectDelay, without jitter,
// then backoff.Stop after attempts delays.
func newBackOff(base time.Duration, attempts int) backoff.BackOff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max(base, MaxReconnectDelay),
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b := backoff.WithMaxRetries(eb, uint64(attempts))
	b.Reset()
	return b
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts is the number of reconnects scheduled since the last successful open.
func (s *Session) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Connect opens the socket. It returns nil at once when already open and waits for the
// in-flight handshake when one is running. A failed handshake is returned and starts the
// reconnect loop; a missing token fails without dialing.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return nil
	case StateConnecting:
		p := s.inflight
		s.mu.Unlock()
		return p.wait(ctx)
	}
	if s.state != StateReconnecting {
		s.bo.Reset()
		s.attempts = 0
	}
	prev := s.state
	p, gen := s.beginLocked()
	s.mu.Unlock()

	s.emitState(StateConnecting)
	return s.dial(ctx, p, gen, prev)
}

func (s *Session) beginLocked() (*pending, uint64) {
	s.stopTimerLocked()
	s.gen++
	s.state = StateConnecting
	s.inflight = &pending{done: make(chan struct{})}
	return s.inflight, s.gen
}

// dial runs one handshake. prev is the state before it started, restored when there is no
// token on a manual connect.
func (s *Session) dial(ctx context.Context, p *pending, gen uint64, prev State) error {
	token, err := s.opts.Token()
	if err == nil && token == "" {
		err = ErrNoCredential
	} else if err != nil {
		err = errors.Wrapf(ErrNoCredential, "%v", err)
	}
	if err != nil {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			p.finish(ErrClosed)
			return ErrClosed
		}
		next := StateFailed
		if prev == StateIdle || prev == StateClosed {
			next = prev
		}
		s.state = next
		s.inflight = nil
		s.mu.Unlock()
		s.emitState(next)
		p.finish(err)
		return err
	}

	target, err := s.tokenURL(token)
	var conn *websocket.Conn
	if err == nil {
		conn, _, err = s.opts.Dialer.DialContext(ctx, target, nil)
	}

	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		p.finish(ErrClosed)
		return ErrClosed
	}
	s.inflight = nil
	if err != nil {
		err = errors.Wrap(err, "websocket handshake")
		next := s.scheduleLocked()
		s.mu.Unlock()
		s.log.Warn("connect failed", zap.Error(err), zap.Stringer("next", next))
		s.emitState(next)
		p.finish(err)
		return err
	}
	s.conn = conn
	s.state = StateOpen
	s.bo.Reset()
	s.attempts = 0
	s.armLocked(s.opts.Heartbeat, func() { s.beat(gen) })
	s.mu.Unlock()

	safe.Go("session-read", func() { s.readLoop(conn, gen) })
	s.log.Info("connected")
	s.emitState(StateOpen)
	p.finish(nil)
	return nil
}

func (s *Session) tokenURL(token string) (string, error) {
	u, err := url.Parse(s.opts.URL)
	if err != nil {
		return "", errors.Wrapf(err, "gateway url %q", s.opts.URL)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// scheduleLocked arms the next reconnect, or gives up once the attempts are spent.
func (s *Session) scheduleLocked() State {
	d := s.bo.NextBackOff()
	if d == backoff.Stop {
		s.state = StateFailed
		s.log.Warn("max reconnect attempts reached", zap.Int("attempts", s.attempts))
		return StateFailed
	}
	s.attempts++
	s.state = StateReconnecting
	gen := s.gen
	s.armLocked(d, func() { s.reconnect(gen) })
	s.log.Info("reconnect scheduled", zap.Int("attempt", s.attempts), zap.Duration("delay", d))
	return StateReconnecting
}

func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	p, g := s.beginLocked()
	s.mu.Unlock()

	s.emitState(StateConnecting)
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.HandshakeTimeout)
	defer cancel()
	_ = s.dial(ctx, p, g, StateReconnecting)
}

func (s *Session) beat(gen uint64) {
	s.mu.Lock()
	if s.gen != gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.armLocked(s.opts.Heartbeat, func() { s.beat(gen) })
	s.mu.Unlock()

	if err := s.write(conn, map[string]any{"action": "ping"}); err != nil {
		s.log.Debug("heartbeat write failed", zap.Error(err))
	}
}

// armLocked replaces the single timer. A callback of a replaced timer that already fired
// is dropped by the sequence check.
func (s *Session) armLocked(d time.Duration, f func()) {
	s.stopTimerLocked()
	seq := s.timerSeq
	s.timer = s.opts.AfterFunc(d, func() {
		s.mu.Lock()
		if s.timerSeq != seq {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		s.mu.Unlock()
		f()
	})
}

func (s *Session) stopTimerLocked() {
	s.timerSeq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.dropped(conn, gen, err)
			return
		}
		ev, err := DecodeEvent(raw)
		if err != nil {
			s.log.Warn("bad frame", zap.Error(err))
			continue
		}
		s.deliver(ev)
	}
}

// dropped handles the socket closing without Disconnect.
func (s *Session) dropped(conn *websocket.Conn, gen uint64, cause error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.stopTimerLocked()
	next := s.scheduleLocked()
	s.mu.Unlock()

	_ = conn.Close()
	s.log.Info("connection lost", zap.Error(cause), zap.Stringer("next", next))
	s.emitState(next)
}

// SetVisible reports the hosting tab's visibility. Becoming visible after being hidden longer
// than HiddenThreshold, or while not open, reconnects immediately whatever backoff is pending.
func (s *Session) SetVisible(visible bool) {
	s.mu.Lock()
	now := s.opts.Clock()
	if !visible {
		if !s.hidden {
			s.hidden, s.hiddenAt = true, now
		}
		s.mu.Unlock()
		return
	}
	if !s.hidden {
		s.mu.Unlock()
		return
	}
	s.hidden = false
	stale := now.Sub(s.hiddenAt) > s.opts.HiddenThreshold

	switch s.state {
	case StateOpen:
		if !stale {
			s.mu.Unlock()
			return
		}
	case StateReconnecting, StateFailed:
	case StateIdle, StateConnecting, StateClosed:
		s.mu.Unlock()
		return
	}

	old := s.conn
	s.conn = nil
	s.gen++
	s.bo.Reset()
	s.attempts = 0
	s.state = StateReconnecting
	gen := s.gen
	s.armLocked(0, func() { s.reconnect(gen) })
	s.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	s.log.Info("visible again, reconnecting")
	s.emitState(StateReconnecting)
}

// Send writes {"action": action, ...data}. It never queues: without an open socket it fails
// with ErrNotConnected.
func (s *Session) Send(action string, data map[string]any) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen && conn != nil
	s.mu.Unlock()
	if !open {
		return ErrNotConnected
	}
	return s.write(conn, lo.Assign(data, map[string]any{"action": action}))
}

func (s *Session) write(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encode frame")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
	return errors.Wrap(conn.WriteMessage(websocket.TextMessage, b), "write frame")
}

// Disconnect closes the socket and cancels the heartbeat or pending reconnect. Nothing from
// the old socket is delivered afterwards. Subscribers stay registered.
func (s *Session) Disconnect() {
	s.mu.Lock()
	s.stopTimerLocked()
	s.gen++
	conn := s.conn
	s.conn = nil
	s.inflight = nil
	changed := s.state != StateClosed
	s.state = StateClosed
	s.mu.Unlock()

	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
	if changed {
		s.emitState(StateClosed)
	}
}

// OnMessage subscribes h to every inbound event, in subscription order. A panicking handler
// is logged and the rest still run.
func (s *Session) OnMessage(h func(Event)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.msgSubs = append(s.msgSubs, subscriber[Event]{id: id, fn: h})
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.msgSubs = lo.Reject(s.msgSubs, func(x subscriber[Event], _ int) bool { return x.id == id })
	}
}

// OnStateChange subscribes h to state transitions, e.g. for a reconnecting banner.
func (s *Session) OnStateChange(h func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.nextSub++
	id := s.nextSub
	s.stateSubs = append(s.stateSubs, subscriber[State]{id: id, fn: h})
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		s.stateSubs = lo.Reject(s.stateSubs, func(x subscriber[State], _ int) bool { return x.id == id })
	}
}

func (s *Session) deliver(ev Event) {
	s.subMu.RLock()
	subs := append([]subscriber[Event](nil), s.msgSubs...)
	s.subMu.RUnlock()
	notify(s.log, subs, ev)
}

func (s *Session) emitState(st State) {
	s.subMu.RLock()
	subs := append([]subscriber[State](nil), s.stateSubs...)
	s.subMu.RUnlock()
	notify(s.log, subs, st)
}

func notify[T any](log *zap.Logger, subs []subscriber[T], v T) {
	for _, sub := range subs {
		if err := safe.Call(func() { sub.fn(v) }); err != nil {
			log.Error("subscriber panicked", zap.Error(err))
		}
	}
}
