// Package ratelimit throttles per-session actions (votes, room creation,
// join attempts, connections) with Redis fixed-window counters.
package ratelimit

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule is one throttling policy: key prefix, allowance, window.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	// RuleVote allows 10 votes per 10 seconds per session. Faster than any
	// human swipes, slow enough to stop scripted deck draining.
	RuleVote = Rule{Key: "rl:vote:", Limit: 10, Window: 10 * time.Second}

	// RuleCreateRoom allows 5 room creations per minute per session.
	RuleCreateRoom = Rule{Key: "rl:create:", Limit: 5, Window: 1 * time.Minute}

	// RuleJoin allows 10 join attempts per minute per session, which also
	// bounds room-code guessing.
	RuleJoin = Rule{Key: "rl:join:", Limit: 10, Window: 1 * time.Minute}

	// RuleConnect allows 5 WebSocket connections per minute per IP.
	RuleConnect = Rule{Key: "rl:conn:", Limit: 5, Window: 1 * time.Minute}
)

// Limiter counts actions in Redis and answers allow/deny.
type Limiter struct {
	client *redis.Client
}

func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow increments the window counter for identifier under rule and reports
// whether the action is within the allowance. INCR and a first-write EXPIRE
// go out in one pipeline; ExpireNX makes the window start exactly once even
// when concurrent callers race on a fresh key.
//
// Redis errors fail open: an outage must not block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	pipe := l.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, rule.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[ratelimit] pipeline error key=%s: %v (failing open)", key, err)
		return true, err
	}

	return int(incr.Val()) <= rule.Limit, nil
}

// Remaining reports how many actions identifier has left in the current
// window, the full limit for an unseen key, and the full limit on Redis
// errors (fail open again).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return rule.Limit, nil
	}
	if err != nil {
		log.Printf("[ratelimit] redis GET error key=%s: %v (failing open)", key, err)
		return rule.Limit, err
	}

	if remaining := rule.Limit - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}
