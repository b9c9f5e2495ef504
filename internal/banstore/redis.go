// Package banstore persists ban records in Redis so they survive a process
// restart. Records are simple keys with a TTL equal to the remaining ban
// duration:
//
//	Key: ban:client:<client_id>  or  ban:origin:<ip>
//	TTL: remaining ban duration
//
// Redis is purely a mirror of the in-memory moderation store; expiry is
// enforced by the TTL on the Redis side and lazily in memory.
package banstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sayra/lingomatch/internal/moderation"
)

const (
	clientPrefix = "ban:client:"
	originPrefix = "ban:origin:"
)

// Store mirrors ban records into Redis.
type Store struct {
	client *redis.Client
}

// New connects to Redis at addr and verifies the connection.
func New(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("banstore: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// Save writes one ban record with a TTL covering its remaining duration.
// Already-expired records are ignored.
func (s *Store) Save(ctx context.Context, rec moderation.BanRecord) error {
	ttl := time.Until(rec.Until)
	if ttl <= 0 {
		return nil
	}

	key, err := keyFor(rec)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("banstore: set %s: %w", key, err)
	}
	return nil
}

// Load scans all persisted ban keys and reconstructs records from their TTLs.
func (s *Store) Load(ctx context.Context) ([]moderation.BanRecord, error) {
	var records []moderation.BanRecord

	iter := s.client.Scan(ctx, 0, "ban:*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		rec, ok := recordFor(key)
		if !ok {
			continue
		}

		ttl, err := s.client.TTL(ctx, key).Result()
		if err != nil || ttl <= 0 {
			continue // expired or unreadable between scan and TTL
		}
		rec.Until = time.Now().Add(ttl)
		records = append(records, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("banstore: scan: %w", err)
	}

	return records, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func keyFor(rec moderation.BanRecord) (string, error) {
	switch rec.Kind {
	case moderation.KindClient:
		return clientPrefix + rec.Subject, nil
	case moderation.KindOrigin:
		return originPrefix + rec.Subject, nil
	default:
		return "", fmt.Errorf("banstore: unknown ban kind %q", rec.Kind)
	}
}

func recordFor(key string) (moderation.BanRecord, bool) {
	switch {
	case strings.HasPrefix(key, clientPrefix):
		return moderation.BanRecord{Kind: moderation.KindClient, Subject: key[len(clientPrefix):]}, true
	case strings.HasPrefix(key, originPrefix):
		return moderation.BanRecord{Kind: moderation.KindOrigin, Subject: key[len(originPrefix):]}, true
	default:
		return moderation.BanRecord{}, false
	}
}
