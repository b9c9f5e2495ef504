// Package engine implements the matchmaking and session-lifecycle core: the
// connection registry, per-key FIFO waiting queues, 1:1 rooms with bounded
// history, and the moderation hooks around them. All state lives behind one
// mutex; outbound traffic goes through a non-blocking Notifier so no socket
// I/O ever happens under the lock.
package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sayra/lingomatch/internal/audit"
	"github.com/sayra/lingomatch/internal/icebreaker"
	"github.com/sayra/lingomatch/internal/metrics"
	"github.com/sayra/lingomatch/internal/moderation"
	"github.com/sayra/lingomatch/internal/protocol"
	"github.com/sayra/lingomatch/internal/ratelimit"
)

// Notifier delivers outbound messages. Send must never block; implementations
// queue into a per-connection buffer drained by a write pump. Drop closes the
// underlying transport and must also be non-blocking: it can be called from
// inside an engine operation, and the transport's disconnect callback will
// re-enter the engine.
type Notifier interface {
	Send(connID string, msgType string, payload interface{})
	Drop(connID string)
}

// Config holds the engine tunables.
type Config struct {
	RateLimitMax     int
	RateLimitWindow  time.Duration
	JoinCooldown     time.Duration
	TypingThrottle   time.Duration
	HistoryLimit     int
	ReportsToMute    int
	AutoMuteDuration time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitMax:     9,
		RateLimitWindow:  5 * time.Second,
		JoinCooldown:     1200 * time.Millisecond,
		TypingThrottle:   250 * time.Millisecond,
		HistoryLimit:     80,
		ReportsToMute:    3,
		AutoMuteDuration: 5 * time.Minute,
	}
}

// conn is one live connection's registry entry, owned by the engine mutex.
type conn struct {
	id     string
	origin string

	clientID string
	name     string
	level    string
	gender   string

	roomID  string
	waiting bool

	lastFind    time.Time
	lastTyping  time.Time
	connectedAt time.Time
}

func (c *conn) profile() protocol.PublicProfile {
	return protocol.PublicProfile{Name: c.name, Level: c.level, Gender: c.gender}
}

// ReportMessage is one entry of the conversation snapshot attached to a
// report event. From is "reporter" or "reported".
type ReportMessage struct {
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// ReportEvent is emitted to the report sink (NATS) when a report is filed.
// Field names line up with the archive schema.
type ReportEvent struct {
	ReporterClientID string          `json:"reporter_client_id"`
	ReportedClientID string          `json:"reported_client_id"`
	RoomID           string          `json:"room_id"`
	ReportCount      int             `json:"report_count"`
	Messages         []ReportMessage `json:"messages"`
	FiledAt          time.Time       `json:"filed_at"`
}

// Engine is the single-process coordinator.
type Engine struct {
	cfg      Config
	notifier Notifier
	log      zerolog.Logger

	mod     *moderation.Store
	limiter *ratelimit.Limiter
	bank    *icebreaker.Bank
	audit   *audit.Log

	reportSink func(ReportEvent) // optional, called outside the lock

	mu       sync.Mutex
	conns    map[string]*conn
	byClient map[string]string // clientID -> connID
	queues   *waitlists
	rooms    map[string]*room

	now   func() time.Time // overridable for tests
	newID func() string
}

// New creates an Engine wired to the given notifier.
func New(cfg Config, notifier Notifier, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:      cfg,
		notifier: notifier,
		log:      logger.With().Str("component", "engine").Logger(),
		mod:      moderation.NewStore(),
		limiter:  ratelimit.NewLimiter(ratelimit.Rule{Limit: cfg.RateLimitMax, Window: cfg.RateLimitWindow}),
		bank:     icebreaker.Default(),
		audit:    audit.NewLog(audit.DefaultLimit),
		conns:    make(map[string]*conn),
		byClient: make(map[string]string),
		queues:   newWaitlists(),
		rooms:    make(map[string]*room),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	return e
}

// Moderation exposes the ban/mute store so a persistence collaborator can be
// attached at startup.
func (e *Engine) Moderation() *moderation.Store { return e.mod }

// SetReportSink registers the optional report-archive publisher. The sink is
// invoked after the engine lock is released.
func (e *Engine) SetReportSink(fn func(ReportEvent)) { e.reportSink = fn }

func (e *Engine) lock()   { e.mu.Lock() }
func (e *Engine) unlock() { e.mu.Unlock() }

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect registers a fresh transport connection. Connections from a banned
// origin are refused and dropped immediately.
func (e *Engine) Connect(connID, origin string) {
	e.lock()

	if banned, kind, until := e.mod.IsBanned("", origin); banned {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeBanned, "you are banned", int(time.Until(until).Seconds()))
		e.notifier.Drop(connID)
		e.log.Info().Str("conn", connID).Str("origin", origin).Str("kind", kind).Msg("refused banned origin")
		return
	}

	e.conns[connID] = &conn{id: connID, origin: origin, connectedAt: e.now()}
	metrics.ConnectionsTotal.WithLabelValues("connect").Inc()
	e.audit.Add("connect", map[string]interface{}{"conn": connID, "origin": origin})
	e.broadcastStatsLocked()
	e.unlock()

	e.sendStatus(connID, "connected", "", "", 0)
}

// Disconnect tears down all state for a gone connection. It is idempotent.
func (e *Engine) Disconnect(connID string) {
	e.lock()
	c, ok := e.conns[connID]
	if !ok {
		e.unlock()
		return
	}

	e.queues.remove(connID)
	if c.roomID != "" {
		if r, ok := e.rooms[c.roomID]; ok {
			e.teardownRoomLocked(r, connID, protocol.ReasonDisconnect)
		}
	}

	if c.clientID != "" && e.byClient[c.clientID] == connID {
		delete(e.byClient, c.clientID)
	}
	delete(e.conns, connID)

	e.mod.ClearConn(connID)
	e.limiter.Forget(connID)

	metrics.ConnectionsTotal.WithLabelValues("disconnect").Inc()
	e.audit.Add("disconnect", map[string]interface{}{"conn": connID})
	e.broadcastStatsLocked()
	e.unlock()
}

// Hello binds a durable client identity to the connection. A second live
// connection presenting the same identity evicts the first.
func (e *Engine) Hello(connID, clientID string) {
	e.lock()
	c, ok := e.conns[connID]
	if !ok {
		e.unlock()
		return
	}

	id := SanitizeClientID(clientID)

	if banned, _, until := e.mod.IsBanned(id, c.origin); banned {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeBanned, "you are banned", int(time.Until(until).Seconds()))
		e.notifier.Drop(connID)
		return
	}

	e.bindIdentityLocked(c, id)
	e.unlock()

	e.notifier.Send(connID, protocol.TypeHelloOK, protocol.HelloOKMsg{
		ClientID: id,
		Ts:       e.now().UnixMilli(),
	})
}

// bindIdentityLocked points clientID at c, evicting any previous live
// connection holding the same identity (last writer wins).
func (e *Engine) bindIdentityLocked(c *conn, clientID string) {
	if prev, ok := e.byClient[clientID]; ok && prev != c.id {
		if old, ok := e.conns[prev]; ok {
			e.evictLocked(old)
		}
	}
	c.clientID = clientID
	e.byClient[clientID] = c.id
}

// evictLocked removes a connection superseded by a reconnect: its room is
// torn down as a disconnect, then the transport is dropped.
func (e *Engine) evictLocked(old *conn) {
	e.queues.remove(old.id)
	if old.roomID != "" {
		if r, ok := e.rooms[old.roomID]; ok {
			e.teardownRoomLocked(r, old.id, protocol.ReasonDisconnect)
		}
	}
	if old.clientID != "" && e.byClient[old.clientID] == old.id {
		delete(e.byClient, old.clientID)
	}
	delete(e.conns, old.id)
	e.mod.ClearConn(old.id)
	e.limiter.Forget(old.id)

	e.sendStatus(old.id, "error", "", "signed in from another connection", 0)
	e.notifier.Drop(old.id)
	e.audit.Add("evict", map[string]interface{}{"conn": old.id})
}

// ---------------------------------------------------------------------------
// Matchmaking
// ---------------------------------------------------------------------------

// FindPartner validates the attributes and either pairs the connection with
// the oldest compatible waiter or enqueues it.
func (e *Engine) FindPartner(connID, clientID, name, level, gender string) {
	e.lock()
	c, ok := e.conns[connID]
	if !ok {
		e.unlock()
		return
	}

	if c.roomID != "" {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeAlreadyInSession, "leave your current chat first", 0)
		return
	}

	now := e.now()
	if !c.lastFind.IsZero() && now.Sub(c.lastFind) < e.cfg.JoinCooldown {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeTooFast, "searching too fast, slow down", 0)
		return
	}

	lvl, okL := NormalizeLevel(level)
	gen, okG := NormalizeGender(gender)
	if !okL || !okG {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeInvalidAttribute, "invalid level or gender", 0)
		return
	}

	id := c.clientID
	if id == "" {
		id = SanitizeClientID(clientID)
	}

	if banned, _, until := e.mod.IsBanned(id, c.origin); banned {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeBanned, "you are banned", int(time.Until(until).Seconds()))
		e.notifier.Drop(connID)
		return
	}

	e.bindIdentityLocked(c, id)
	c.lastFind = now
	c.name = SanitizeName(name)
	c.level = lvl
	c.gender = gen

	// A repeated search replaces any previous queue position.
	e.queues.remove(connID)
	c.waiting = false

	key := CompatKey(lvl, gen)
	partnerID, found := e.queues.pop(key, func(id string) bool {
		w, ok := e.conns[id]
		return ok && w.waiting && w.roomID == "" && id != connID
	})

	if !found {
		e.queues.push(key, connID, now)
		c.waiting = true
		e.broadcastStatsLocked()
		e.unlock()
		e.sendStatusKey(connID, "waiting", "", "waiting for a partner", key)
		return
	}

	partner := e.conns[partnerID]
	partner.waiting = false
	e.createRoomLocked(c, partner)
	e.broadcastStatsLocked()
	e.unlock()
}

// createRoomLocked pairs two connections into a fresh room and notifies both
// sides, including the room's icebreaker prompts.
func (e *Engine) createRoomLocked(a, b *conn) {
	roomID := e.newID()
	prompts := e.bank.Pick(icebreaker.PerRoom)
	r := newRoom(roomID, a.id, b.id, prompts, e.cfg.HistoryLimit, e.now())
	e.rooms[roomID] = r
	a.roomID = roomID
	b.roomID = roomID

	metrics.MatchesTotal.Inc()
	e.audit.Add("match", map[string]interface{}{
		"room": roomID,
		"key":  CompatKey(a.level, a.gender),
	})
	e.log.Info().Str("room", roomID).Str("key", CompatKey(a.level, a.gender)).Msg("matched")

	ts := e.now().UnixMilli()
	e.notifier.Send(a.id, protocol.TypeMatched, protocol.MatchedMsg{
		RoomID: roomID, You: a.profile(), Partner: b.profile(), Ts: ts,
	})
	e.notifier.Send(b.id, protocol.TypeMatched, protocol.MatchedMsg{
		RoomID: roomID, You: b.profile(), Partner: a.profile(), Ts: ts,
	})

	ice := protocol.IcebreakerMsg{
		RoomID: roomID, Questions: prompts, Index: 0, Total: len(prompts), Ts: ts,
	}
	e.notifier.Send(a.id, protocol.TypeIcebreaker, ice)
	e.notifier.Send(b.id, protocol.TypeIcebreaker, ice)
}

// LeaveChat removes the connection from its room or from the waiting queue.
func (e *Engine) LeaveChat(connID string) {
	e.lock()
	c, ok := e.conns[connID]
	if !ok {
		e.unlock()
		return
	}

	if c.roomID != "" {
		if r, ok := e.rooms[c.roomID]; ok {
			e.teardownRoomLocked(r, connID, protocol.ReasonUserLeft)
		}
		e.broadcastStatsLocked()
		e.unlock()
		return
	}

	if c.waiting {
		e.queues.remove(connID)
		c.waiting = false
		e.broadcastStatsLocked()
		e.unlock()
		e.sendStatus(connID, "info", "", "left the queue", 0)
		return
	}

	e.unlock()
	e.sendStatus(connID, "error", protocol.CodeNotInSession, "not in a chat or queue", 0)
}

// teardownRoomLocked closes a room. The leaver (when still registered) gets
// left, the partner gets partner_left, and both get the terminal room_closed.
func (e *Engine) teardownRoomLocked(r *room, leaverID, reason string) {
	delete(e.rooms, r.id)
	ts := e.now().UnixMilli()

	for _, occupantID := range []string{r.a, r.b} {
		occupant, ok := e.conns[occupantID]
		if ok {
			occupant.roomID = ""
		}
		if occupantID == leaverID {
			if ok {
				e.notifier.Send(occupantID, protocol.TypeLeft, protocol.LeftMsg{RoomID: r.id, Ts: ts})
			}
		} else if ok {
			e.notifier.Send(occupantID, protocol.TypePartnerLeft, protocol.PartnerLeftMsg{
				RoomID: r.id, Reason: reason, Ts: ts,
			})
		}
		if ok {
			e.notifier.Send(occupantID, protocol.TypeRoomClosed, protocol.RoomClosedMsg{
				RoomID: r.id, Reason: reason, Ts: ts,
			})
		}
	}

	e.audit.Add("room_closed", map[string]interface{}{"room": r.id, "reason": reason})
}

// ---------------------------------------------------------------------------
// Stats
// ---------------------------------------------------------------------------

// StatsSnapshot is the global population picture.
type StatsSnapshot struct {
	OnlineUsers int            `json:"onlineUsers"`
	Rooms       int            `json:"rooms"`
	Queue       map[string]int `json:"queue"`
}

// Stats recomputes the global counters.
func (e *Engine) Stats() StatsSnapshot {
	e.lock()
	defer e.unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() StatsSnapshot {
	return StatsSnapshot{
		OnlineUsers: len(e.conns),
		Rooms:       len(e.rooms),
		Queue: e.queues.depths(func(id string) bool {
			w, ok := e.conns[id]
			return ok && w.waiting && w.roomID == ""
		}),
	}
}

// broadcastStatsLocked pushes the current global picture to every connection
// and refreshes the gauges.
func (e *Engine) broadcastStatsLocked() {
	stats := e.statsLocked()

	metrics.OnlineUsers.Set(float64(stats.OnlineUsers))
	metrics.ActiveRooms.Set(float64(stats.Rooms))
	metrics.QueueDepth.Reset()
	for key, n := range stats.Queue {
		metrics.QueueDepth.WithLabelValues(key).Set(float64(n))
	}

	msg := protocol.GlobalStatsMsg{
		OnlineUsers: stats.OnlineUsers,
		Rooms:       stats.Rooms,
		Queue:       stats.Queue,
		Ts:          e.now().UnixMilli(),
	}
	for id := range e.conns {
		e.notifier.Send(id, protocol.TypeGlobalStats, msg)
	}
}

// ---------------------------------------------------------------------------
// Status helpers
// ---------------------------------------------------------------------------

func (e *Engine) sendStatus(connID, status, code, message string, seconds int) {
	e.notifier.Send(connID, protocol.TypeStatus, protocol.StatusMsg{
		Status:  status,
		Code:    code,
		Message: message,
		Seconds: seconds,
		Ts:      e.now().UnixMilli(),
	})
}

func (e *Engine) sendStatusKey(connID, status, code, message, key string) {
	e.notifier.Send(connID, protocol.TypeStatus, protocol.StatusMsg{
		Status:  status,
		Code:    code,
		Message: message,
		Key:     key,
		Ts:      e.now().UnixMilli(),
	})
}
