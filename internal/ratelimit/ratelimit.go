// Package ratelimit implements fixed-window request limiting keyed by
// (rule, identity). Identity is the bearer token when one is present and the
// peer address otherwise, so authenticated clients are limited per account
// rather than per NAT.
package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/mango-chat/mango-server/internal/auth"
	"github.com/mango-chat/mango-server/internal/httputil"
)

// Rule is one route class with its own limit and window.
type Rule struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Route-class rules.
var (
	RuleAuth     = Rule{Name: "auth", Limit: 15, Window: 60 * time.Second}
	RuleMessages = Rule{Name: "messages.create", Limit: 30, Window: 10 * time.Second}
	RuleTyping   = Rule{Name: "typing", Limit: 60, Window: 10 * time.Second}
	RuleReaction = Rule{Name: "reactions", Limit: 40, Window: 10 * time.Second}
	RuleDefault  = Rule{Name: "default", Limit: 300, Window: 60 * time.Second}
)

// pruneThreshold is the bucket-map size past which expired buckets are swept.
const pruneThreshold = 10000

type bucket struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

// Limiter is the process-wide fixed-window counter table.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter creates an empty limiter.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow counts one request against (rule, identity). When the bucket is over
// its limit it returns false and the seconds (rounded up) until the window
// resets.
func (l *Limiter) Allow(rule Rule, identity string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	key := rule.Name + "|" + identity
	b := l.buckets[key]
	if b == nil || now.Sub(b.windowStart) >= rule.Window {
		if len(l.buckets) > pruneThreshold {
			l.pruneLocked(now)
		}
		l.buckets[key] = &bucket{count: 1, windowStart: now, window: rule.Window}
		return true, 0
	}

	b.count++
	if b.count > rule.Limit {
		remaining := rule.Window - now.Sub(b.windowStart)
		return false, int(math.Ceil(remaining.Seconds()))
	}
	return true, 0
}

// pruneLocked drops buckets whose window has passed.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.windowStart) >= b.window {
			delete(l.buckets, key)
		}
	}
}

// Middleware returns a Fiber handler enforcing the rule. Overflow responds
// 429 with a Retry-After header.
func (l *Limiter) Middleware(rule Rule) fiber.Handler {
	return func(c fiber.Ctx) error {
		identity := "ip:" + c.IP()
		if token := auth.TokenFromRequest(c); token != "" {
			identity = "token:" + token
		}

		ok, retryAfter := l.Allow(rule, identity)
		if !ok {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return httputil.Fail(c, fiber.StatusTooManyRequests, "Rate limit exceeded")
		}
		return c.Next()
	}
}
