package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestLimiter(rpm, burst int) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l := New(Config{RequestsPerMinute: rpm, BurstSize: burst, CleanupInterval: time.Minute})
	l.now = clock.Now
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	limiter, clock := newTestLimiter(60, 5)
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("ip") {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow("ip") {
		t.Error("Request after burst should be denied")
	}

	// 60/min refills one token per second
	clock.Advance(time.Second)
	if !limiter.Allow("ip") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter, _ := newTestLimiter(60, 3)
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	if limiter.Allow("client-a") {
		t.Error("Client A should be rate limited")
	}
	if !limiter.Allow("client-b") {
		t.Error("Client B should not be affected by client A")
	}
}

func TestLimiterRefillCapsAtBurst(t *testing.T) {
	limiter, clock := newTestLimiter(60, 2)
	defer limiter.Stop()

	limiter.Allow("ip")
	limiter.Allow("ip")
	clock.Advance(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if limiter.Allow("ip") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("Expected refill capped at burst 2, got %d", allowed)
	}
}

func TestLimiterDisabled(t *testing.T) {
	limiter, _ := newTestLimiter(0, 1)
	defer limiter.Stop()

	for i := 0; i < 100; i++ {
		if !limiter.Allow("ip") {
			t.Fatal("Zero rate should disable limiting")
		}
	}
	if limiter.Len() != 0 {
		t.Errorf("Disabled limiter should not track clients, got %d", limiter.Len())
	}
}

func TestLimiterEvictIdle(t *testing.T) {
	limiter, clock := newTestLimiter(60, 2)
	defer limiter.Stop()

	limiter.Allow("a")
	clock.Advance(3 * time.Minute)
	limiter.Allow("b")
	limiter.evictIdle()

	if limiter.Len() != 1 {
		t.Errorf("Expected only the recent client to survive, got %d", limiter.Len())
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(60, 1)
	defer limiter.Stop()

	r := gin.New()
	r.Use(limiter.Middleware())
	r.POST("/score", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/score", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		r.ServeHTTP(w, req)
		return w
	}

	if w := do(); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := do()
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Expected Retry-After 1, got %q", w.Header().Get("Retry-After"))
	}
}

func TestStopIdempotent(t *testing.T) {
	limiter := New(DefaultConfig())
	limiter.Stop()
	limiter.Stop()
}
