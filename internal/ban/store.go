// Package ban stores moderator-issued bans in Redis. Ban records are simple
// key-value pairs:
//
//	Key:   modbot:ban:<user id>
//	Value: <reason>
//	TTL:   ban duration, none for a permanent ban
//
// A per-user offense counter records how many bans a user has received.
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// BanPrefix is the Redis key prefix for ban records.
	BanPrefix = "modbot:ban:"

	// OffensesPrefix is the Redis key prefix for offense counters.
	OffensesPrefix = "modbot:offenses:"

	// OffensesTTL is how long the offense counter lives after its first
	// increment.
	OffensesTTL = 90 * 24 * time.Hour
)

// Status describes a user's current ban.
type Status struct {
	Banned    bool
	Permanent bool
	Remaining time.Duration
	Reason    string
}

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Check returns the user's ban status. Redis errors are returned so callers
// can decide how to handle them; the dispatcher fails open.
func (s *Store) Check(ctx context.Context, userID string) (Status, error) {
	key := BanPrefix + userID

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Status{}, nil
	}
	if err != nil {
		return Status{}, fmt.Errorf("ban: check: %w", err)
	}

	st := Status{Banned: true, Reason: reason}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists but its TTL is unreadable. Report it banned rather
		// than swallowing the ban.
		return st, nil
	}
	// TTL is -1 for keys without expiry.
	if ttl < 0 {
		st.Permanent = true
	} else {
		st.Remaining = ttl
	}
	return st, nil
}

// IsBanned reports whether the user is currently banned.
func (s *Store) IsBanned(ctx context.Context, userID string) (bool, error) {
	st, err := s.Check(ctx, userID)
	return st.Banned, err
}

// Ban bans a user for duration; zero means permanent. The user's offense
// counter is incremented in the same round trip.
func (s *Store) Ban(ctx context.Context, userID string, duration time.Duration, reason string) error {
	offKey := OffensesPrefix + userID

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, BanPrefix+userID, reason, duration)
	incr := pipe.Incr(ctx, offKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ban: ban: %w", err)
	}

	// Set TTL only on first increment so the window doesn't slide.
	if incr.Val() == 1 {
		if err := s.client.Expire(ctx, offKey, OffensesTTL).Err(); err != nil {
			return fmt.Errorf("ban: offense expire: %w", err)
		}
	}
	return nil
}

// Offenses returns how many bans the user received within OffensesTTL.
func (s *Store) Offenses(ctx context.Context, userID string) (int, error) {
	n, err := s.client.Get(ctx, OffensesPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ban: offenses: %w", err)
	}
	return n, nil
}
