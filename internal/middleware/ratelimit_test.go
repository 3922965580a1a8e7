package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRateLimitRejectsExcess(t *testing.T) {
	h := NewLimiter(2, time.Minute, nil).Handler(okHandler())

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = "198.51.100.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.JSONEq(t, `{"status":429,"message":"Rate limit exceeded"}`, rec.Body.String())
		}
	}

	assert.Equal(t, []int{200, 200, 429, 429}, codes)
}

func TestRateLimitIsPerClient(t *testing.T) {
	h := NewLimiter(1, time.Minute, nil).Handler(okHandler())

	for _, addr := range []string{"198.51.100.7:1", "198.51.100.8:1"} {
		req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, addr)
	}
}

func TestLimiterAllowSharesCounts(t *testing.T) {
	l := NewLimiter(2, time.Minute, nil)
	h := l.Handler(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/chat/ws", nil)
	req.RemoteAddr = "198.51.100.9:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	assert.True(t, l.Allow(req))
	assert.False(t, l.Allow(req))
}

func TestRateLimitCounterUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	l := NewLimiter(5, time.Minute, NewRedisCounter(rdb))
	h := l.Handler(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.True(t, l.Allow(req))
}
