package engine

import (
	"time"

	"github.com/sayra/lingomatch/internal/protocol"
)

// room is a 1:1 session between two connections. It is owned by the engine
// and only touched under the engine mutex.
type room struct {
	id        string
	a, b      string // connection IDs, fixed at creation
	history   []protocol.ChatMessageMsg
	senders   []string // connection ID per history entry, for report snapshots
	histLimit int
	prompts   []string
	cursor    int
	createdAt time.Time
}

func newRoom(id, connA, connB string, prompts []string, histLimit int, at time.Time) *room {
	return &room{
		id:        id,
		a:         connA,
		b:         connB,
		histLimit: histLimit,
		prompts:   prompts,
		createdAt: at,
	}
}

// other returns the partner of connID, or "" if connID is not an occupant.
func (r *room) other(connID string) string {
	switch connID {
	case r.a:
		return r.b
	case r.b:
		return r.a
	}
	return ""
}

func (r *room) has(connID string) bool {
	return connID == r.a || connID == r.b
}

// append adds one message, evicting the oldest when the buffer is full.
func (r *room) append(senderID string, msg protocol.ChatMessageMsg) {
	r.history = append(r.history, msg)
	r.senders = append(r.senders, senderID)
	if len(r.history) > r.histLimit {
		r.history = r.history[len(r.history)-r.histLimit:]
		r.senders = r.senders[len(r.senders)-r.histLimit:]
	}
}

// snapshot returns a copy of the buffered messages, oldest first.
func (r *room) snapshot() []protocol.ChatMessageMsg {
	out := make([]protocol.ChatMessageMsg, len(r.history))
	copy(out, r.history)
	return out
}

// moveCursor shifts the shared icebreaker cursor by delta, clamped to the
// prompt range. It reports whether the cursor actually moved.
func (r *room) moveCursor(delta int) bool {
	if len(r.prompts) == 0 {
		return false
	}
	next := r.cursor + delta
	if next < 0 {
		next = 0
	}
	if next > len(r.prompts)-1 {
		next = len(r.prompts) - 1
	}
	if next == r.cursor {
		return false
	}
	r.cursor = next
	return true
}
