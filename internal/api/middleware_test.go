package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/wishwell/wishwell/internal/redis"
)

func setupLimiter(t *testing.T, limit int) *redis.RateLimiter {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := redis.NewFromAddr(context.Background(), mr.Addr(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return redis.NewRateLimiter(client, zap.NewNop(), redis.RateLimitConfig{
		Limit:  limit,
		Window: time.Minute,
	})
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Blocks(t *testing.T) {
	limiter := setupLimiter(t, 2)
	handler := RateLimitMiddleware(limiter, zap.NewNop(), CredentialKeyFunc)(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/v1/send", nil)
		req.Header.Set("Authorization", "Bearer token-a")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}

	req := httptest.NewRequest("POST", "/v1/send", nil)
	req.Header.Set("Authorization", "Bearer token-a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("429 responses should carry Retry-After")
	}
}

func TestRateLimitMiddleware_SeparateCredentials(t *testing.T) {
	limiter := setupLimiter(t, 1)
	handler := RateLimitMiddleware(limiter, zap.NewNop(), CredentialKeyFunc)(okHandler())

	req := httptest.NewRequest("POST", "/v1/send", nil)
	req.Header.Set("Authorization", "Bearer token-a")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	req = httptest.NewRequest("POST", "/v1/send", nil)
	req.Header.Set("Authorization", "Bearer token-b")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, each credential gets its own budget", rec.Code)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	handler := RateLimitMiddleware(nil, zap.NewNop(), CredentialKeyFunc)(okHandler())

	req := httptest.NewRequest("POST", "/v1/send", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestCredentialKeyFunc(t *testing.T) {
	req := httptest.NewRequest("POST", "/v1/send", nil)
	req.Header.Set("Authorization", "Bearer abc")
	keyA := CredentialKeyFunc(req)

	req.Header.Set("Authorization", "Bearer xyz")
	keyB := CredentialKeyFunc(req)

	if keyA == keyB {
		t.Error("different credentials must map to different keys")
	}

	req.Header.Del("Authorization")
	req.RemoteAddr = "192.0.2.1:1234"
	if key := CredentialKeyFunc(req); key != "ip:192.0.2.1:1234" {
		t.Errorf("unauthenticated key = %q, want ip fallback", key)
	}
}
