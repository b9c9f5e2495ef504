package engine

import (
	"fmt"
	"time"

	"github.com/sayra/lingomatch/internal/audit"
	"github.com/sayra/lingomatch/internal/metrics"
	"github.com/sayra/lingomatch/internal/moderation"
	"github.com/sayra/lingomatch/internal/protocol"
)

// Admin action duration bounds.
const (
	DefaultPenalty = 5 * time.Minute
	MinPenalty     = time.Minute
)

// clampPenalty applies the default and minimum to an admin-supplied duration.
func clampPenalty(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultPenalty
	}
	if d < MinPenalty {
		return MinPenalty
	}
	return d
}

// ConnInfo is one registry entry in the admin snapshot.
type ConnInfo struct {
	ConnID      string    `json:"connId"`
	ClientID    string    `json:"clientId,omitempty"`
	Name        string    `json:"name,omitempty"`
	Level       string    `json:"level,omitempty"`
	Gender      string    `json:"gender,omitempty"`
	Origin      string    `json:"origin"`
	RoomID      string    `json:"roomId,omitempty"`
	Waiting     bool      `json:"waiting,omitempty"`
	Reports     int       `json:"reports,omitempty"`
	MutedUntil  time.Time `json:"mutedUntil,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// RoomInfo is one active room in the admin snapshot.
type RoomInfo struct {
	RoomID    string    `json:"roomId"`
	Occupants []string  `json:"occupants"`
	Messages  int       `json:"messages"`
	IceIndex  int       `json:"iceIndex"`
	CreatedAt time.Time `json:"createdAt"`
}

// Snapshot is the full admin view of the engine.
type Snapshot struct {
	Stats       StatsSnapshot          `json:"stats"`
	Conns       []ConnInfo             `json:"conns"`
	Rooms       []RoomInfo             `json:"rooms"`
	Bans        []moderation.BanRecord `json:"bans"`
	Audit       []audit.Entry          `json:"audit"`
	GeneratedAt time.Time              `json:"generatedAt"`
}

// AdminSnapshot returns the full state for the admin surface.
func (e *Engine) AdminSnapshot() Snapshot {
	e.lock()
	defer e.unlock()

	snap := Snapshot{
		Stats:       e.statsLocked(),
		Conns:       make([]ConnInfo, 0, len(e.conns)),
		Rooms:       make([]RoomInfo, 0, len(e.rooms)),
		Bans:        e.mod.ActiveBans(),
		Audit:       e.audit.Recent(),
		GeneratedAt: e.now(),
	}

	for _, c := range e.conns {
		snap.Conns = append(snap.Conns, ConnInfo{
			ConnID:      c.id,
			ClientID:    c.clientID,
			Name:        c.name,
			Level:       c.level,
			Gender:      c.gender,
			Origin:      c.origin,
			RoomID:      c.roomID,
			Waiting:     c.waiting,
			Reports:     e.mod.Reports(c.id),
			MutedUntil:  e.mod.MutedUntil(c.id),
			ConnectedAt: c.connectedAt,
		})
	}

	for _, r := range e.rooms {
		snap.Rooms = append(snap.Rooms, RoomInfo{
			RoomID:    r.id,
			Occupants: []string{r.a, r.b},
			Messages:  len(r.history),
			IceIndex:  r.cursor,
			CreatedAt: r.createdAt,
		})
	}

	return snap
}

// AdminKick tears down the target's room (reason kicked) and drops its
// transport.
func (e *Engine) AdminKick(connID string) error {
	e.lock()
	c, ok := e.conns[connID]
	if !ok {
		e.unlock()
		return fmt.Errorf("kick %s: %w", connID, ErrUnknownConn)
	}

	e.queues.remove(connID)
	c.waiting = false
	if c.roomID != "" {
		if r, ok := e.rooms[c.roomID]; ok {
			e.teardownRoomLocked(r, connID, protocol.ReasonKicked)
		}
	}
	e.audit.Add("admin_kick", map[string]interface{}{"conn": connID})
	e.broadcastStatsLocked()
	e.unlock()

	e.sendStatus(connID, "error", "", "removed by a moderator", 0)
	e.notifier.Drop(connID)
	return nil
}

// AdminMute mutes a live connection for the given duration.
func (e *Engine) AdminMute(connID string, d time.Duration) error {
	d = clampPenalty(d)

	e.lock()
	if _, ok := e.conns[connID]; !ok {
		e.unlock()
		return fmt.Errorf("mute %s: %w", connID, ErrUnknownConn)
	}
	e.mod.Mute(connID, d)
	metrics.MutesTotal.WithLabelValues("admin").Inc()
	e.audit.Add("admin_mute", map[string]interface{}{"conn": connID, "seconds": int(d.Seconds())})
	e.unlock()

	e.sendStatus(connID, "error", protocol.CodeMuted, "you were muted by a moderator", int(d.Seconds()))
	return nil
}

// AdminBanClient bans a client identity and drops its live connection, if any.
func (e *Engine) AdminBanClient(clientID string, d time.Duration) {
	d = clampPenalty(d)
	e.mod.BanClient(clientID, d)
	metrics.BansTotal.WithLabelValues(moderation.KindClient).Inc()

	e.lock()
	e.audit.Add("admin_ban_client", map[string]interface{}{"client": clientID, "seconds": int(d.Seconds())})
	victim, ok := e.byClient[clientID]
	e.unlock()

	if ok {
		e.sendStatus(victim, "error", protocol.CodeBanned, "you are banned", int(d.Seconds()))
		e.Disconnect(victim)
		e.notifier.Drop(victim)
	}
}

// AdminBanOrigin bans a network origin and drops every live connection from
// it.
func (e *Engine) AdminBanOrigin(origin string, d time.Duration) {
	d = clampPenalty(d)
	e.mod.BanOrigin(origin, d)
	metrics.BansTotal.WithLabelValues(moderation.KindOrigin).Inc()

	e.lock()
	e.audit.Add("admin_ban_origin", map[string]interface{}{"origin": origin, "seconds": int(d.Seconds())})
	var victims []string
	for id, c := range e.conns {
		if c.origin == origin {
			victims = append(victims, id)
		}
	}
	e.unlock()

	for _, id := range victims {
		e.sendStatus(id, "error", protocol.CodeBanned, "you are banned", int(d.Seconds()))
		e.Disconnect(id)
		e.notifier.Drop(id)
	}
}
