// Package moderation tracks bans, mutes and report counters for the engine.
// All records are absolute-expiry timestamps checked lazily at the point of
// use; nothing sweeps them in the background. Bans are keyed by durable
// client identity or by network origin, mutes and report counters by live
// connection.
package moderation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ban subject kinds.
const (
	KindClient = "client"
	KindOrigin = "origin"
)

// BanRecord is one active ban, as stored and as exposed in admin snapshots.
type BanRecord struct {
	Kind    string    `json:"kind"`
	Subject string    `json:"subject"`
	Until   time.Time `json:"until"`
}

// Persister is an optional collaborator that makes bans survive a process
// restart. Saves are performed asynchronously so callers never block on I/O.
type Persister interface {
	Save(ctx context.Context, rec BanRecord) error
	Load(ctx context.Context) ([]BanRecord, error)
}

// Store holds all moderation state. Reads take the read lock; every mutation
// goes through a method holding the write lock.
type Store struct {
	mu         sync.RWMutex
	clientBans map[string]time.Time
	originBans map[string]time.Time
	mutes      map[string]time.Time
	reports    map[string]int

	persistCh chan BanRecord

	now func() time.Time // overridable for tests
}

// NewStore creates an empty moderation store.
func NewStore() *Store {
	return &Store{
		clientBans: make(map[string]time.Time),
		originBans: make(map[string]time.Time),
		mutes:      make(map[string]time.Time),
		reports:    make(map[string]int),
		now:        time.Now,
	}
}

// AttachPersister loads previously persisted bans into the store and starts a
// background writer that mirrors new bans to the persister. It returns the
// number of bans restored.
func (s *Store) AttachPersister(ctx context.Context, p Persister, logger zerolog.Logger) (int, error) {
	records, err := p.Load(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	now := s.now()
	s.mu.Lock()
	for _, rec := range records {
		if !rec.Until.After(now) {
			continue
		}
		switch rec.Kind {
		case KindClient:
			s.clientBans[rec.Subject] = rec.Until
		case KindOrigin:
			s.originBans[rec.Subject] = rec.Until
		default:
			continue
		}
		restored++
	}
	s.persistCh = make(chan BanRecord, 64)
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case rec := <-s.persistCh:
				saveCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				if err := p.Save(saveCtx, rec); err != nil {
					logger.Warn().Err(err).Str("kind", rec.Kind).Msg("ban persist failed")
				}
				cancel()
			}
		}
	}()

	return restored, nil
}

// IsBanned reports whether the identity or its network origin is currently
// banned. The identity ban is checked first. Expired records are treated as
// absent (and left for the next write to overwrite).
func (s *Store) IsBanned(clientID, origin string) (bool, string, time.Time) {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if until, ok := s.clientBans[clientID]; ok && now.Before(until) {
		return true, KindClient, until
	}
	if until, ok := s.originBans[origin]; ok && now.Before(until) {
		return true, KindOrigin, until
	}
	return false, "", time.Time{}
}

// BanClient bans a client identity for the given duration.
func (s *Store) BanClient(clientID string, d time.Duration) {
	until := s.now().Add(d)
	s.mu.Lock()
	s.clientBans[clientID] = until
	s.mu.Unlock()
	s.enqueuePersist(BanRecord{Kind: KindClient, Subject: clientID, Until: until})
}

// BanOrigin bans a network origin for the given duration.
func (s *Store) BanOrigin(origin string, d time.Duration) {
	until := s.now().Add(d)
	s.mu.Lock()
	s.originBans[origin] = until
	s.mu.Unlock()
	s.enqueuePersist(BanRecord{Kind: KindOrigin, Subject: origin, Until: until})
}

func (s *Store) enqueuePersist(rec BanRecord) {
	s.mu.RLock()
	ch := s.persistCh
	s.mu.RUnlock()
	if ch == nil {
		return
	}
	// Never block the caller; a full queue just loses durability for this
	// record, not the in-memory ban itself.
	select {
	case ch <- rec:
	default:
	}
}

// Mute suppresses a connection's messages for the given duration.
func (s *Store) Mute(connID string, d time.Duration) {
	s.mu.Lock()
	s.mutes[connID] = s.now().Add(d)
	s.mu.Unlock()
}

// MuteRemaining returns how long the connection stays muted, or zero if it is
// not muted (or the mute has expired).
func (s *Store) MuteRemaining(connID string) time.Duration {
	s.mu.RLock()
	until, ok := s.mutes[connID]
	s.mu.RUnlock()

	if !ok {
		return 0
	}
	remaining := until.Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// MutedUntil returns the raw mute expiry for admin snapshots (zero time if
// none recorded).
func (s *Store) MutedUntil(connID string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mutes[connID]
}

// Report increments the report counter for a connection and returns the new
// count.
func (s *Store) Report(connID string) int {
	s.mu.Lock()
	s.reports[connID]++
	count := s.reports[connID]
	s.mu.Unlock()
	return count
}

// Reports returns the current report count for a connection.
func (s *Store) Reports(connID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reports[connID]
}

// ClearConn drops mute and report state for a connection that went away.
// Bans are keyed by identity/origin and deliberately survive.
func (s *Store) ClearConn(connID string) {
	s.mu.Lock()
	delete(s.mutes, connID)
	delete(s.reports, connID)
	s.mu.Unlock()
}

// ActiveBans returns all unexpired bans, for the admin snapshot.
func (s *Store) ActiveBans() []BanRecord {
	now := s.now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BanRecord, 0, len(s.clientBans)+len(s.originBans))
	for subject, until := range s.clientBans {
		if now.Before(until) {
			out = append(out, BanRecord{Kind: KindClient, Subject: subject, Until: until})
		}
	}
	for subject, until := range s.originBans {
		if now.Before(until) {
			out = append(out, BanRecord{Kind: KindOrigin, Subject: subject, Until: until})
		}
	}
	return out
}
