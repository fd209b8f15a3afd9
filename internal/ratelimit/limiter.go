// Package ratelimit throttles inbound traffic with Redis INCR + EXPIRE fixed
// windows. The dispatcher limits messages per actor; the console limits
// connection attempts per address.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix, e.g. "modbot:rl:msg:"
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RuleMessage allows 10 messages per 10 seconds per actor.
	RuleMessage = Rule{Key: "modbot:rl:msg:", Limit: 10, Window: 10 * time.Second}

	// RuleConnect allows 5 console connections per minute per address.
	RuleConnect = Rule{Key: "modbot:rl:conn:", Limit: 5, Window: time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	logger *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{client: client, logger: logger.Named("ratelimit")}
}

// Allow increments the identifier's counter for rule and reports whether it
// is still within the limit. The expiry is set on first access.
//
// On Redis errors Allow fails open (returns true) so an outage does not block
// legitimate traffic; the error is still returned for the caller to log.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("incr failed, failing open", zap.String("key", key), zap.Error(err))
		return true, fmt.Errorf("ratelimit: incr: %w", err)
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("expire failed, failing open", zap.String("key", key), zap.Error(err))
			// Without a TTL the key would persist and block the identifier
			// forever.
			l.client.Del(ctx, key)
			return true, fmt.Errorf("ratelimit: expire: %w", err)
		}
	}

	return int(count) <= rule.Limit, nil
}
