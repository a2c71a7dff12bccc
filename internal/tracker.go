package internal

import (
	"log/slog"
	"time"

	"github.com/Arceliar/phony"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	DefaultHeartbeatTimeout = 45 * time.Second
	DefaultCleanupInterval  = 30 * time.Second

	heartbeatTimeoutReason = "Heartbeat timeout"
	shutdownReason         = "Server shutting down"
)

// TrackerOptions are shared by every tracker a hub creates.
type TrackerOptions struct {
	HeartbeatTimeout time.Duration
	CleanupInterval  time.Duration
	Clock            clockwork.Clock
	Logger           *slog.Logger
	Metrics          *Metrics
	Events           *EventPublisher
}

func (o TrackerOptions) withDefaults() TrackerOptions {
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = DefaultCleanupInterval
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}
	return o
}

// PresenceTracker owns every session of one page. All state is touched only from inside the
// inbox, so handlers run one at a time in arrival order and need no locks.
type PresenceTracker struct {
	phony.Inbox
	key      uuid.UUID
	page     string
	opts     TrackerOptions
	logger   *slog.Logger
	sessions map[SessionConn]*Session
	sweeper  *sweeper
	onIdle   func(*PresenceTracker)
}

// TrackerSnapshot is a point-in-time view used by the stats endpoint and tests.
type TrackerSnapshot struct {
	Page     string `json:"page"`
	Visitors int    `json:"visitors"`
	Sessions int    `json:"sessions"`
}

func NewPresenceTracker(page string, opts TrackerOptions) *PresenceTracker {
	opts = opts.withDefaults()
	return &PresenceTracker{
		key:      PageKey(page),
		page:     page,
		opts:     opts,
		logger:   opts.Logger.With("page", page),
		sessions: make(map[SessionConn]*Session),
	}
}

// Join registers a freshly upgraded connection and tells every tab on the page.
func (t *PresenceTracker) Join(conn SessionConn, userID string) {
	t.Act(nil, func() {
		t.guard("join", func() { t.join(conn, userID) })
	})
}

// HandleMessage processes one inbound frame from conn.
func (t *PresenceTracker) HandleMessage(conn SessionConn, payload []byte) {
	t.Act(nil, func() {
		t.guard("message", func() { t.handleMessage(conn, payload) })
	})
}

// Leave handles both socket close and socket error. Leaving twice is a no-op.
func (t *PresenceTracker) Leave(conn SessionConn, cause error) {
	t.Act(nil, func() {
		t.guard("leave", func() { t.leave(conn, cause) })
	})
}

// Count blocks until the tracker computes its current visitor count.
func (t *PresenceTracker) Count() int {
	var count int
	phony.Block(t, func() {
		count = t.countAt(t.opts.Clock.Now())
	})
	return count
}

// SessionCount returns the number of registered sessions, counted or not.
func (t *PresenceTracker) SessionCount() int {
	var n int
	phony.Block(t, func() {
		n = len(t.sessions)
	})
	return n
}

func (t *PresenceTracker) Snapshot() TrackerSnapshot {
	var snapshot TrackerSnapshot
	phony.Block(t, func() {
		snapshot = TrackerSnapshot{
			Page:     t.page,
			Visitors: t.countAt(t.opts.Clock.Now()),
			Sessions: len(t.sessions),
		}
	})
	return snapshot
}

func (t *PresenceTracker) join(conn SessionConn, userID string) {
	if _, exists := t.sessions[conn]; exists {
		return
	}
	session := newSession(conn, userID, t.page, t.opts.Clock.Now())
	t.sessions[conn] = session
	t.opts.Metrics.IncConn()
	if t.sweeper == nil {
		t.startSweeper()
	}
	t.logger.Debug("session joined", "session", session.ID, "user", userID, "state", session.State(), "sessions", len(t.sessions))
	t.broadcast()
}

func (t *PresenceTracker) handleMessage(conn SessionConn, payload []byte) {
	message, err := DecodeClientMessage(payload)
	if err != nil {
		t.opts.Metrics.IncMalformed()
		t.logger.Warn("dropping malformed frame", "error", err, "size", len(payload))
		return
	}
	session, ok := t.sessions[conn]
	if !ok {
		return
	}
	t.opts.Metrics.IncMessage(message.Type)
	now := t.opts.Clock.Now()

	switch message.Type {
	case TypeHeartbeat:
		session.touch(now)
		// only the sender learns the refreshed count; other tabs are not woken up
		t.sendCount(session, now)
	case TypeActive:
		session.touch(now)
		t.broadcast()
	case TypeInactive:
		session.IsActive = false
		t.broadcast()
	case TypePing:
		t.send(session, NewPongMessage(now))
	default:
		t.logger.Debug("ignoring unknown message type", "session", session.ID, "type", message.Type)
		return
	}
	t.logger.Debug("session message", "session", session.ID, "type", message.Type, "state", session.State())
}

func (t *PresenceTracker) leave(conn SessionConn, cause error) {
	session, ok := t.sessions[conn]
	if !ok {
		return
	}
	t.remove(session)
	if cause != nil {
		t.logger.Warn("session socket error", "session", session.ID, "state", session.State(), "error", cause)
	} else {
		t.logger.Debug("session left", "session", session.ID, "state", session.State(), "sessions", len(t.sessions))
	}
	t.broadcast()
	t.stopIfIdle()
}

func (t *PresenceTracker) sweep() {
	now := t.opts.Clock.Now()
	evicted := 0
	for _, session := range t.sessions {
		if !session.Stale(now, t.opts.HeartbeatTimeout) {
			continue
		}
		t.closeQuietly(session, websocket.CloseNormalClosure, heartbeatTimeoutReason)
		t.remove(session)
		evicted++
	}
	if evicted == 0 {
		return
	}
	t.opts.Metrics.AddEvictions(evicted)
	t.logger.Info("evicted stale sessions", "evicted", evicted, "remaining", len(t.sessions))
	t.broadcast()
	t.stopIfIdle()
}

func (t *PresenceTracker) remove(session *Session) {
	session.closed = true
	delete(t.sessions, session.Conn)
	t.opts.Metrics.DecConn()
}

func (t *PresenceTracker) stopIfIdle() {
	if len(t.sessions) > 0 {
		return
	}
	if t.sweeper != nil {
		t.sweeper.stop()
		t.sweeper = nil
	}
	if t.onIdle != nil {
		go t.onIdle(t)
	}
}

func (t *PresenceTracker) countAt(now time.Time) int {
	count := 0
	for _, session := range t.sessions {
		if session.Counts(now, t.opts.HeartbeatTimeout) {
			count++
		}
	}
	return count
}

func (t *PresenceTracker) broadcast() {
	now := t.opts.Clock.Now()
	count := t.countAt(now)
	payload, err := NewCountMessage(count, now).encode()
	if err != nil {
		t.logger.Error("encode count", "error", err)
		return
	}
	for _, session := range t.sessions {
		t.deliver(session, payload)
	}
	t.opts.Metrics.IncBroadcast()
	t.opts.Events.Publish(PresenceEvent{
		Page:     t.page,
		Count:    count,
		Sessions: len(t.sessions),
		At:       now,
	})
}

func (t *PresenceTracker) sendCount(session *Session, now time.Time) {
	t.send(session, NewCountMessage(t.countAt(now), now))
}

func (t *PresenceTracker) send(session *Session, message ServerMessage) {
	payload, err := message.encode()
	if err != nil {
		t.logger.Error("encode message", "type", message.Type, "error", err)
		return
	}
	t.deliver(session, payload)
}

func (t *PresenceTracker) deliver(session *Session, payload []byte) {
	if err := session.Conn.Send(payload); err != nil {
		t.opts.Metrics.IncSendFailure()
		t.logger.Warn("send failed", "session", session.ID, "error", err)
	}
}

func (t *PresenceTracker) closeQuietly(session *Session, code int, reason string) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("closing session", "session", session.ID, "panic", r)
		}
	}()
	session.Conn.Close(code, reason)
	t.logger.Debug("session closed", "session", session.ID, "state", session.State(), "reason", reason)
}

// closeAll drops every session without a farewell broadcast; used on server shutdown.
func (t *PresenceTracker) closeAll() int {
	closed := len(t.sessions)
	for _, session := range t.sessions {
		t.closeQuietly(session, websocket.CloseGoingAway, shutdownReason)
		t.remove(session)
	}
	if t.sweeper != nil {
		t.sweeper.stop()
		t.sweeper = nil
	}
	return closed
}

// guard keeps a failing handler from taking the inbox down with it.
func (t *PresenceTracker) guard(op string, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("presence handler panic", "op", op, "panic", r)
		}
	}()
	handler()
}

// sweeper is the one timer a tracker owns while it has sessions.
type sweeper struct {
	ticker clockwork.Ticker
	done   chan struct{}
}

func (t *PresenceTracker) startSweeper() {
	s := &sweeper{
		ticker: t.opts.Clock.NewTicker(t.opts.CleanupInterval),
		done:   make(chan struct{}),
	}
	t.sweeper = s
	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.ticker.Chan():
				t.Act(nil, func() {
					t.guard("sweep", t.sweep)
				})
			}
		}
	}()
}

func (s *sweeper) stop() {
	s.ticker.Stop()
	close(s.done)
}
