package engine

import (
	"encoding/json"
	"time"

	"github.com/sayra/lingomatch/internal/metrics"
	"github.com/sayra/lingomatch/internal/protocol"
)

// SendMessage validates, buffers and relays one chat message to both
// occupants of the sender's room.
func (e *Engine) SendMessage(connID, text string) {
	e.lock()
	c, r, ok := e.roomOfLocked(connID)
	if !ok {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeNotInSession, "you are not in a chat", 0)
		return
	}

	if remaining := e.mod.MuteRemaining(connID); remaining > 0 {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeMuted, "you are muted", int(remaining.Seconds())+1)
		return
	}

	if !e.limiter.Allow(connID) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeRateLimited, "sending too fast", 0)
		return
	}

	clean := SanitizeMessage(text)
	if clean == "" {
		e.unlock()
		return
	}

	msg := protocol.ChatMessageMsg{
		ID:   e.newID(),
		From: c.name,
		Text: clean,
		At:   e.now().UnixMilli(),
	}
	r.append(connID, msg)

	metrics.MessagesTotal.WithLabelValues("relayed").Inc()
	e.notifier.Send(r.a, protocol.TypeMessage, msg)
	e.notifier.Send(r.b, protocol.TypeMessage, msg)
	e.unlock()
}

// Typing relays the sender's typing indicator to the partner, throttled to
// one relay per sender per throttle interval.
func (e *Engine) Typing(connID string, on bool) {
	e.lock()
	c, r, ok := e.roomOfLocked(connID)
	if !ok {
		e.unlock()
		return
	}

	now := e.now()
	if !c.lastTyping.IsZero() && now.Sub(c.lastTyping) < e.cfg.TypingThrottle {
		e.unlock()
		return
	}
	c.lastTyping = now

	partner := r.other(connID)
	e.notifier.Send(partner, protocol.TypeTyping, protocol.ServerTypingMsg{
		From: c.name,
		On:   on,
		Ts:   now.UnixMilli(),
	})
	e.unlock()
}

// ReadUpTo relays the sender's read receipt to the partner.
func (e *Engine) ReadUpTo(connID, msgID string) {
	e.lock()
	c, r, ok := e.roomOfLocked(connID)
	if !ok {
		e.unlock()
		return
	}

	partner := r.other(connID)
	e.notifier.Send(partner, protocol.TypeReadUpTo, protocol.ServerReadUpToMsg{
		Reader: c.name,
		MsgID:  msgID,
		Ts:     e.now().UnixMilli(),
	})
	e.unlock()
}

// VoiceRelay forwards an opaque signaling payload to the partner. The payload
// is never inspected. kind is one of the voice_* message types.
func (e *Engine) VoiceRelay(connID, kind string, payload json.RawMessage) {
	e.lock()
	_, r, ok := e.roomOfLocked(connID)
	if !ok {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeNotInSession, "you are not in a chat", 0)
		return
	}

	switch kind {
	case protocol.TypeVoiceOffer:
		metrics.VoiceRelaysTotal.WithLabelValues("offer").Inc()
	case protocol.TypeVoiceAnswer:
		metrics.VoiceRelaysTotal.WithLabelValues("answer").Inc()
	case protocol.TypeVoiceIce:
		metrics.VoiceRelaysTotal.WithLabelValues("ice").Inc()
	default:
		e.unlock()
		return
	}

	partner := r.other(connID)
	e.notifier.Send(partner, kind, protocol.VoiceRelayMsg{
		Payload: payload,
		Ts:      e.now().UnixMilli(),
	})
	e.unlock()
}

// IceNav moves the room's shared icebreaker cursor by delta and rebroadcasts
// the prompt state to both occupants. Moves past either end are ignored.
func (e *Engine) IceNav(connID string, delta int) {
	e.lock()
	_, r, ok := e.roomOfLocked(connID)
	if !ok {
		e.unlock()
		return
	}

	if !r.moveCursor(delta) {
		e.unlock()
		return
	}

	metrics.IcebreakerNavsTotal.Inc()
	msg := protocol.IcebreakerMsg{
		RoomID:    r.id,
		Questions: r.prompts,
		Index:     r.cursor,
		Total:     len(r.prompts),
		Ts:        e.now().UnixMilli(),
	}
	e.notifier.Send(r.a, protocol.TypeIcebreaker, msg)
	e.notifier.Send(r.b, protocol.TypeIcebreaker, msg)
	e.unlock()
}

// History replays the room's buffered messages to the requester.
func (e *Engine) History(connID string) {
	e.lock()
	_, r, ok := e.roomOfLocked(connID)
	if !ok {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeNotInSession, "you are not in a chat", 0)
		return
	}

	msg := protocol.HistoryMsg{
		RoomID: r.id,
		Items:  r.snapshot(),
		Ts:     e.now().UnixMilli(),
	}
	e.notifier.Send(connID, protocol.TypeHistory, msg)
	e.unlock()
}

// Report files a report against the partner. Crossing the report threshold
// auto-mutes the partner unless a mute is already active; an active mute is
// neither reset nor extended.
func (e *Engine) Report(connID string) {
	e.lock()
	c, r, ok := e.roomOfLocked(connID)
	if !ok {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeNotInSession, "you are not in a chat", 0)
		return
	}

	partnerID := r.other(connID)
	partner, ok := e.conns[partnerID]
	if !ok {
		e.unlock()
		e.sendStatus(connID, "error", protocol.CodeNotInSession, "partner is gone", 0)
		return
	}

	count := e.mod.Report(partnerID)
	metrics.ReportsTotal.Inc()
	e.audit.Add("report", map[string]interface{}{
		"room": r.id, "reporter": connID, "reported": partnerID, "count": count,
	})

	muted := false
	if count >= e.cfg.ReportsToMute && e.mod.MuteRemaining(partnerID) == 0 {
		e.mod.Mute(partnerID, e.cfg.AutoMuteDuration)
		metrics.MutesTotal.WithLabelValues("auto").Inc()
		muted = true
	}

	event := ReportEvent{
		ReporterClientID: c.clientID,
		ReportedClientID: partner.clientID,
		RoomID:           r.id,
		ReportCount:      count,
		Messages:         e.reportSnapshotLocked(r, connID),
		FiledAt:          e.now(),
	}
	sink := e.reportSink
	e.unlock()

	e.sendStatus(connID, "info", "", "report received", 0)
	if muted {
		e.sendStatus(partnerID, "error", protocol.CodeMuted, "you were muted after reports", int(e.cfg.AutoMuteDuration/time.Second))
	}

	if sink != nil {
		sink(event)
	}
}

// reportSnapshotLocked maps the room history into reporter/reported roles.
func (e *Engine) reportSnapshotLocked(r *room, reporterID string) []ReportMessage {
	out := make([]ReportMessage, 0, len(r.history))
	for i, msg := range r.history {
		role := "reported"
		if r.senders[i] == reporterID {
			role = "reporter"
		}
		out = append(out, ReportMessage{From: role, Text: msg.Text, Ts: msg.At})
	}
	return out
}

// roomOfLocked resolves the caller's registry entry and room. Callers hold
// the engine lock.
func (e *Engine) roomOfLocked(connID string) (*conn, *room, bool) {
	c, ok := e.conns[connID]
	if !ok || c.roomID == "" {
		return nil, nil, false
	}
	r, ok := e.rooms[c.roomID]
	if !ok {
		return nil, nil, false
	}
	return c, r, true
}
