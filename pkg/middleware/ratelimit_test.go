package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, "user:u1"); ok {
			allowedCount++
		}
	}
	assert.Equal(t, config.RequestsPerWindow+config.BurstSize, allowedCount)

	remaining, err := limiter.Remaining(ctx, "user:u1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	// a full window refills the bucket
	now = now.Add(time.Second)
	ok, err := limiter.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	// keys are independent
	ok, _ = limiter.Allow(ctx, "user:u2")
	assert.True(t, ok)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.Allow(context.Background(), "ip:10.0.0.1")
	now = now.Add(3 * time.Minute)
	limiter.Cleanup()

	limiter.mu.RLock()
	defer limiter.mu.RUnlock()
	assert.Empty(t, limiter.buckets)
}

func TestRateLimitMiddleware_KeysByUser(t *testing.T) {
	user := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	anon := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	handler := NewRateLimitMiddleware(user, anon, quietLogger()).Handler(echoUser())

	send := func(r *http.Request) *httptest.ResponseRecorder {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, r)
		return rr
	}

	rr := send(withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1", "F"))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("X-RateLimit-Limit"))

	rr = send(withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1", "F"))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "3600", rr.Header().Get("Retry-After"))

	rr = send(withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u2", "F"))
	assert.Equal(t, http.StatusOK, rr.Code)

	anonReq := httptest.NewRequest(http.MethodGet, "/", nil)
	anonReq.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, http.StatusOK, send(anonReq).Code)
	assert.Equal(t, http.StatusTooManyRequests, send(anonReq).Code)
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:54321"
	assert.Equal(t, "192.0.2.10", getClientIP(req))

	req.Header.Set("X-Real-IP", "198.51.100.2")
	assert.Equal(t, "198.51.100.2", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", getClientIP(req))
}

func newRedisLimiter(t *testing.T, limit int) (*DistributedRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: limit, WindowDuration: time.Minute}, "test"), mr
}

func TestDistributedRateLimiter_FixedWindow(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "user:u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := limiter.Remaining(ctx, "user:u1")
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	ttl, err := limiter.TTL(ctx, "user:u1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "user:u1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, limiter.Reset(ctx, "user:u1"))
	remaining, err = limiter.Remaining(ctx, "user:u1")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestDistributedRateLimiter_FailsOpen(t *testing.T) {
	limiter, mr := newRedisLimiter(t, 1)
	mr.Close()

	ok, err := limiter.Allow(context.Background(), "user:u1")
	assert.Error(t, err)
	assert.True(t, ok)

	handler := NewRateLimitMiddleware(limiter, limiter, quietLogger()).Handler(echoUser())
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1", "F"))
		assert.Equal(t, http.StatusOK, rr.Code)
	}
}

func TestDistributedRateLimitMiddleware(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	handler := NewDistributedRateLimitMiddleware(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, quietLogger()).
		Handler(echoUser())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/", nil), "u1", "F"))
		codes = append(codes, rr.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.True(t, mr.Exists("ratelimit:user:user:u1"))
}
