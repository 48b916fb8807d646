// Package ratelimit throttles client actions with Redis fixed-window counters
// (INCR + EXPIRE). Every check fails open: a Redis outage never blocks a
// stranger from chatting.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is a throttling policy for one action.
type Rule struct {
	Name   string        // action label used in metrics and logs
	Key    string        // Redis key prefix
	Limit  int           // max count in the window
	Window time.Duration // window length
}

var (
	// RuleMessage allows 5 send_message frames per 10 seconds per connection.
	RuleMessage = Rule{Name: "send_message", Key: "rl:msg:", Limit: 5, Window: 10 * time.Second}

	// RuleMatch allows 10 find_partner frames per minute per connection.
	RuleMatch = Rule{Name: "find_partner", Key: "rl:match:", Limit: 10, Window: time.Minute}

	// RuleConnect allows 5 WebSocket upgrades per minute per remote IP.
	RuleConnect = Rule{Name: "connect", Key: "rl:conn:", Limit: 5, Window: time.Minute}
)

// Decision is the outcome of a single check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration // zero when allowed
}

// Limiter checks rules against Redis. A nil *Limiter allows everything.
type Limiter struct {
	client *redis.Client
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow counts one hit for identifier under rule and reports whether it is
// within the limit. On Redis errors it returns an allowing decision together
// with the error.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (Decision, error) {
	if l == nil || l.client == nil {
		return Decision{Allowed: true}, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Printf("[ratelimit] redis INCR error key=%s: %v (failing open)", key, err)
		return Decision{Allowed: true}, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			log.Printf("[ratelimit] redis EXPIRE error key=%s: %v (failing open)", key, err)
			// A key without TTL would throttle the identifier forever.
			l.client.Del(ctx, key)
			return Decision{Allowed: true}, err
		}
	}

	if int(count) <= rule.Limit {
		return Decision{Allowed: true}, nil
	}

	ttl, err := l.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		ttl = rule.Window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

// Remaining returns how many hits identifier has left in the current window.
// Unknown identifiers and Redis errors report the full limit.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	if l == nil || l.client == nil {
		return rule.Limit, nil
	}
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears identifier's counter for rule.
func (l *Limiter) Reset(ctx context.Context, identifier string, rule Rule) error {
	if l == nil || l.client == nil {
		return nil
	}
	return l.client.Del(ctx, rule.Key+identifier).Err()
}
