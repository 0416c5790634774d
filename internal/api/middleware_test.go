package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTimingMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	TimingMiddleware(next).ServeHTTP(rec, req)

	if rec.Header().Get("X-Process-Time") == "" {
		t.Fatal("X-Process-Time header missing")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mw := RateLimitMiddleware(3, time.Minute)(next)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		mw.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit request: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("429 must carry Retry-After")
	}

	// A different client gets its own bucket.
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	mw.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh client: status = %d, want 200", rec.Code)
	}
}

func TestIPLimiterPrunesIdleClients(t *testing.T) {
	l := newIPLimiter(10, time.Minute)
	l.clients["stale"] = &clientBucket{
		limiter:  nil,
		lastSeen: time.Now().Add(-time.Hour),
	}
	l.clients["fresh"] = &clientBucket{
		limiter:  nil,
		lastSeen: time.Now(),
	}

	l.pruneLocked(time.Now())

	if _, ok := l.clients["stale"]; ok {
		t.Fatal("idle client must be pruned")
	}
	if _, ok := l.clients["fresh"]; !ok {
		t.Fatal("active client must survive the prune")
	}
}
