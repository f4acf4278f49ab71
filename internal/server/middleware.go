package server

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"gymledger/internal/httpx"
)

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			}
			if ww.Status() >= http.StatusInternalServerError {
				logger.Error("request failed", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

var errRateLimited = errors.New("too many write requests, retry later")

// writeLimiter throttles mutating requests per client address. Clients idle for longer than
// idleTTL are dropped; by then their bucket has refilled, so forgetting them changes nothing.
type writeLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	now       func() time.Time
	lastSweep time.Time
	clients   map[string]*clientLimiter
}

type clientLimiter struct {
	lim  *rate.Limiter
	seen time.Time
}

const minLimiterIdle = 10 * time.Minute

func newWriteLimiter(perMinute, burst int) *writeLimiter {
	if burst <= 0 {
		burst = 1
	}
	refill := time.Duration(burst) * time.Minute / time.Duration(perMinute)
	return &writeLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   burst,
		idleTTL: max(minLimiterIdle, refill),
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func (l *writeLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{lim: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.seen = now
	return c.lim
}

// sweep expects l.mu to be held.
func (l *writeLimiter) sweep(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.seen) >= l.idleTTL {
			delete(l.clients, key)
		}
	}
	l.lastSweep = now
}

func (l *writeLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		key := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			key = host
		}
		if !l.get(key).Allow() {
			w.Header().Set("Retry-After", "60")
			httpx.Error(w, http.StatusTooManyRequests, "rate_limited", errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}
