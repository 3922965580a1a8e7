package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
	"github.com/rs/zerolog/hlog"

	"github.com/zhouzirui/care-relay/backend/pkg/utils"
)

// Limiter allows limit requests per window per client IP. The same limiter
// charges plain HTTP requests and individual WebSocket frames.
type Limiter struct {
	rl *httprate.RateLimiter
}

type counterFailureKey struct{}

// NewLimiter creates a per-IP limiter. counter may be nil, in which case
// httprate keeps counts in process memory.
func NewLimiter(limit int, window time.Duration, counter httprate.LimitCounter) *Limiter {
	opts := []httprate.Option{
		httprate.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			// 计数器不可用时放行，只记录日志，不把底层错误返回给调用方
			hlog.FromRequest(r).Warn().Err(err).Msg("rate limit counter unavailable, allowing request")
			if failed, ok := r.Context().Value(counterFailureKey{}).(*bool); ok {
				*failed = true
			}
		}),
	}
	if counter != nil {
		opts = append(opts, httprate.WithLimitCounter(counter))
	}
	return &Limiter{rl: httprate.NewRateLimiter(limit, window, opts...)}
}

// Handler rejects requests over the limit with a 429 JSON body.
func (l *Limiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(w, r) {
			utils.RespondError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow charges one request for r's client outside of an HTTP response,
// e.g. per frame on an upgraded connection.
func (l *Limiter) Allow(r *http.Request) bool {
	return l.allow(headerSink{}, r)
}

func (l *Limiter) allow(w http.ResponseWriter, r *http.Request) bool {
	key, err := httprate.KeyByIP(r)
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("rate limit key unavailable, allowing request")
		return true
	}

	var counterFailed bool
	r = r.WithContext(context.WithValue(r.Context(), counterFailureKey{}, &counterFailed))
	if !l.rl.OnLimit(w, r, key) {
		return true
	}
	// OnLimit 在计数器出错时同样返回 true
	return counterFailed
}

// headerSink absorbs the X-RateLimit headers when there is no response to set them on.
type headerSink struct{}

func (headerSink) Header() http.Header         { return http.Header{} }
func (headerSink) Write(b []byte) (int, error) { return len(b), nil }
func (headerSink) WriteHeader(int)             {}
