package engine

import "time"

// waitEntry is one queued connection awaiting a partner. Entries are not
// removed eagerly on disconnect; pop skips anything that is no longer a live,
// still-waiting connection.
type waitEntry struct {
	connID   string
	joinedAt time.Time
}

// waitlists keeps one FIFO slice per compatibility key.
type waitlists struct {
	byKey map[string][]waitEntry
}

func newWaitlists() *waitlists {
	return &waitlists{byKey: make(map[string][]waitEntry)}
}

func (w *waitlists) push(key, connID string, at time.Time) {
	w.byKey[key] = append(w.byKey[key], waitEntry{connID: connID, joinedAt: at})
}

// pop removes and returns the oldest entry under key for which alive returns
// true. Stale entries encountered on the way are discarded.
func (w *waitlists) pop(key string, alive func(connID string) bool) (string, bool) {
	queue := w.byKey[key]
	for len(queue) > 0 {
		head := queue[0]
		queue = queue[1:]
		if alive(head.connID) {
			w.setOrDelete(key, queue)
			return head.connID, true
		}
	}
	w.setOrDelete(key, queue)
	return "", false
}

// remove deletes connID from every key's queue.
func (w *waitlists) remove(connID string) {
	for key, queue := range w.byKey {
		kept := queue[:0]
		for _, e := range queue {
			if e.connID != connID {
				kept = append(kept, e)
			}
		}
		w.setOrDelete(key, kept)
	}
}

// depths returns the entry count per key, counting only entries alive accepts.
// Empty keys are omitted.
func (w *waitlists) depths(alive func(connID string) bool) map[string]int {
	out := make(map[string]int, len(w.byKey))
	for key, queue := range w.byKey {
		n := 0
		for _, e := range queue {
			if alive(e.connID) {
				n++
			}
		}
		if n > 0 {
			out[key] = n
		}
	}
	return out
}

func (w *waitlists) setOrDelete(key string, queue []waitEntry) {
	if len(queue) == 0 {
		delete(w.byKey, key)
		return
	}
	w.byKey[key] = queue
}
