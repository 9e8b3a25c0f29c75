package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cleanquest/cleanquest-web/internal/session"
	"golang.org/x/time/rate"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     rate.Limit(1),
		GeneralBurst:    3,
		ReportRate:      rate.Limit(0.1),
		ReportBurst:     1,
		CleanupInterval: time.Hour,
	}
}

func requestWithSession(store *session.Store, id string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/reports", nil)
	return req.WithContext(session.WithContext(req.Context(), session.NewContext(store, id)))
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_General_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())
	store := newTestStore()

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestWithSession(store, "session-a"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithSession(store, "session-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if ra, err := strconv.Atoi(w.Header().Get("Retry-After")); err != nil || ra < 1 {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_PerSessionIsolation(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.ReportCreationMiddleware()(okHandler())
	store := newTestStore()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithSession(store, "session-a"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithSession(store, "session-a"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("2回目の報告作成: status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestWithSession(store, "session-b"))
	if w.Code != http.StatusOK {
		t.Errorf("別セッション: status = %d, want 200", w.Code)
	}
	if rl.ReportLimiterCount() != 2 {
		t.Errorf("ReportLimiterCount = %d, want 2", rl.ReportLimiterCount())
	}
}

func TestRateLimiter_ReportLimiterIndependentOfGeneral(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(rl.ReportCreationMiddleware()(okHandler()))
	store := newTestStore()

	handler.ServeHTTP(httptest.NewRecorder(), requestWithSession(store, "s"))
	if rl.GeneralLimiterCount() != 1 || rl.ReportLimiterCount() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", rl.GeneralLimiterCount(), rl.ReportLimiterCount())
	}
}

func TestRateLimiter_FallsBackToClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.ReportCreationMiddleware()(okHandler())

	req := func(addr string) *http.Request {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		r.RemoteAddr = addr
		return r
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req("203.0.113.5:1111"))
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req("203.0.113.5:2222"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("同じIPの別ポート: status = %d, want 429", w.Code)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()
	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), requestWithSession(newTestStore(), "idle"))

	rl.cleanup(time.Now().Add(3 * time.Hour))
	if rl.GeneralLimiterCount() != 0 {
		t.Errorf("GeneralLimiterCount = %d, want 0", rl.GeneralLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestRateLimitKey(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.1:4321"
	if got := rateLimitKey(r); got != "ip:198.51.100.1" {
		t.Errorf("key = %q", got)
	}

	ctx := session.WithContext(context.Background(), session.NewContext(newTestStore(), "abc"))
	if got := rateLimitKey(r.WithContext(ctx)); got != "s:abc" {
		t.Errorf("key = %q", got)
	}
}
