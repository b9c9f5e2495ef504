// Package audit keeps a bounded in-memory log of notable engine events for
// the admin snapshot. It is a diagnostics ring, not durable storage.
package audit

import (
	"sync"
	"time"
)

// DefaultLimit is how many entries the log retains before evicting the oldest.
const DefaultLimit = 300

// Entry is one recorded event.
type Entry struct {
	At   time.Time              `json:"at"`
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Log is a goroutine-safe bounded event log.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

// NewLog creates a Log retaining at most limit entries. A non-positive limit
// uses DefaultLimit.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Log{limit: limit}
}

// Add appends an event, evicting the oldest entry when full.
func (l *Log) Add(eventType string, data map[string]interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, Entry{At: time.Now(), Type: eventType, Data: data})
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
}

// Recent returns a copy of all retained entries, oldest first.
func (l *Log) Recent() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}
