package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func limitedRequest(h http.Handler, tenant string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executions", http.NoBody)
	if tenant != "" {
		req = req.WithContext(WithTenantID(req.Context(), tenant))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	handler := rl.Handler(okHandler())

	for i := range 10 {
		if rec := limitedRequest(handler, ""); rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimiterRejectsOverLimit(t *testing.T) {
	rl := NewRateLimiter(10, 5)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }
	handler := rl.Handler(okHandler())

	for range 5 {
		limitedRequest(handler, "")
	}
	rec := limitedRequest(handler, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestRateLimiterRefills(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }
	handler := rl.Handler(okHandler())

	if rec := limitedRequest(handler, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := limitedRequest(handler, ""); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	now = now.Add(time.Second)
	if rec := limitedRequest(handler, ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 after refill, got %d", rec.Code)
	}
}

func TestRateLimiterPerTenant(t *testing.T) {
	rl := NewRateLimiter(10, 2)
	frozen := time.Now()
	rl.now = func() time.Time { return frozen }
	handler := rl.Handler(okHandler())

	a := "11111111-1111-1111-1111-111111111111"
	b := "22222222-2222-2222-2222-222222222222"
	for range 2 {
		limitedRequest(handler, a)
	}
	if rec := limitedRequest(handler, a); rec.Code != http.StatusTooManyRequests {
		t.Errorf("tenant a: expected 429, got %d", rec.Code)
	}
	if rec := limitedRequest(handler, b); rec.Code != http.StatusOK {
		t.Errorf("tenant b: expected 200, got %d", rec.Code)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(10, 2)
	now := time.Now()
	rl.now = func() time.Time { return now }
	limitedRequest(rl.Handler(okHandler()), "")

	if rl.Len() != 1 {
		t.Fatalf("expected 1 bucket, got %d", rl.Len())
	}
	now = now.Add(time.Hour)
	rl.cleanup(time.Minute)
	if rl.Len() != 0 {
		t.Fatalf("expected idle bucket removed, got %d", rl.Len())
	}

	ctx, cancel := context.WithCancel(context.Background())
	rl.StartCleanup(ctx, time.Millisecond, time.Minute)
	cancel()
}
