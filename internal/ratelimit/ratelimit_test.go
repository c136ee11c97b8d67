package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
)

func TestAllow_FixedWindow(t *testing.T) {
	t.Parallel()
	l := NewLimiter()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	rule := Rule{Name: "test", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow(rule, "token:a"); !ok {
			t.Fatalf("request %d unexpectedly limited", i)
		}
	}

	ok, retryAfter := l.Allow(rule, "token:a")
	if ok {
		t.Fatal("fourth request allowed")
	}
	if retryAfter != 10 {
		t.Errorf("retryAfter = %d, want 10", retryAfter)
	}

	// Mid-window the remaining time rounds up.
	now = now.Add(3500 * time.Millisecond)
	if _, retryAfter = l.Allow(rule, "token:a"); retryAfter != 7 {
		t.Errorf("mid-window retryAfter = %d, want 7", retryAfter)
	}

	// A fresh window admits again.
	now = now.Add(10 * time.Second)
	if ok, _ := l.Allow(rule, "token:a"); !ok {
		t.Error("request after window rollover limited")
	}
}

func TestAllow_IdentitiesIsolated(t *testing.T) {
	t.Parallel()
	l := NewLimiter()
	rule := Rule{Name: "test", Limit: 1, Window: time.Minute}

	if ok, _ := l.Allow(rule, "token:a"); !ok {
		t.Fatal("first identity limited")
	}
	if ok, _ := l.Allow(rule, "token:b"); !ok {
		t.Error("second identity shares the first's bucket")
	}
	if ok, _ := l.Allow(Rule{Name: "other", Limit: 1, Window: time.Minute}, "token:a"); !ok {
		t.Error("second rule shares the first rule's bucket")
	}
}

func TestAllow_PrunesExpiredBuckets(t *testing.T) {
	t.Parallel()
	l := NewLimiter()
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	rule := Rule{Name: "test", Limit: 5, Window: time.Second}

	for i := 0; i < pruneThreshold+1; i++ {
		l.Allow(rule, "ip:"+time.Unix(int64(i), 0).String())
	}
	now = now.Add(2 * time.Second)
	l.Allow(rule, "ip:fresh")

	l.mu.Lock()
	size := len(l.buckets)
	l.mu.Unlock()
	if size > 2 {
		t.Errorf("bucket map size after prune = %d, want <= 2", size)
	}
}

func TestMiddleware_RespondsWith429(t *testing.T) {
	t.Parallel()
	l := NewLimiter()
	rule := Rule{Name: "test", Limit: 1, Window: time.Minute}

	app := fiber.New()
	app.Get("/", l.Middleware(rule), func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp1, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp1.StatusCode != fiber.StatusOK {
		t.Fatalf("first status = %d, want 200", resp1.StatusCode)
	}

	resp2, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp2.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", resp2.StatusCode)
	}
	if resp2.Header.Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After header")
	}
}

func TestMiddleware_TokenIdentityWins(t *testing.T) {
	t.Parallel()
	l := NewLimiter()
	rule := Rule{Name: "test", Limit: 1, Window: time.Minute}

	app := fiber.New()
	app.Get("/", l.Middleware(rule), func(c fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	// Two different bearer tokens from the same peer get separate buckets.
	req1 := httptest.NewRequest(http.MethodGet, "/", nil)
	req1.Header.Set("Authorization", "Bearer tok_one")
	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.Header.Set("Authorization", "Bearer tok_two")

	resp1, _ := app.Test(req1)
	resp2, _ := app.Test(req2)
	if resp1.StatusCode != fiber.StatusOK || resp2.StatusCode != fiber.StatusOK {
		t.Errorf("statuses = %d, %d; want 200, 200", resp1.StatusCode, resp2.StatusCode)
	}
}
